package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-anpr/internal/events"
)

func newTestOutbox(t *testing.T) *Outbox {
	t.Helper()
	o, err := NewOutbox(t.TempDir(), 64, zerolog.Nop())
	require.NoError(t, err)
	return o
}

func writeTempImage(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.jpg")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestOutbox_SpoolCopiesImage(t *testing.T) {
	o := newTestOutbox(t)
	img := writeTempImage(t, "jpeg-bytes")

	require.NoError(t, o.Spool(testEvent(), img))

	// The original stays with the caller; the outbox holds its own copy.
	_, err := os.Stat(img)
	assert.NoError(t, err)

	entries, err := os.ReadDir(o.dir)
	require.NoError(t, err)
	var imgs, logs int
	for _, e := range entries {
		if e.Name() == spoolFile {
			logs++
		} else {
			imgs++
		}
	}
	assert.Equal(t, 1, logs)
	assert.Equal(t, 1, imgs)
}

func TestOutbox_DrainDeliversAndClears(t *testing.T) {
	o := newTestOutbox(t)
	require.NoError(t, o.Spool(testEvent(), writeTempImage(t, "one")))

	second := testEvent()
	second.PlateNumber = "MH12CD5678"
	require.NoError(t, o.Spool(second, writeTempImage(t, "two")))

	var sent []events.NormalizedEvent
	o.Drain(context.Background(), func(_ context.Context, ev events.NormalizedEvent, imagePath string) error {
		data, err := os.ReadFile(imagePath)
		require.NoError(t, err)
		require.NotEmpty(t, data)
		sent = append(sent, ev)
		return nil
	})

	require.Len(t, sent, 2)
	plates := map[string]bool{}
	for _, ev := range sent {
		plates[ev.PlateNumber] = true
	}
	assert.True(t, plates["KA01AB1234"])
	assert.True(t, plates["MH12CD5678"])

	// Delivered entries leave nothing behind.
	entries, err := os.ReadDir(o.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOutbox_DrainRespoolsTransientFailures(t *testing.T) {
	o := newTestOutbox(t)
	require.NoError(t, o.Spool(testEvent(), writeTempImage(t, "jpeg-bytes")))

	down := errors.New("connection refused")
	o.Drain(context.Background(), func(context.Context, events.NormalizedEvent, string) error {
		return down
	})

	assert.Equal(t, 1, spoolLineCount(t, o), "transient failure must keep the entry queued")

	var delivered int
	o.Drain(context.Background(), func(context.Context, events.NormalizedEvent, string) error {
		delivered++
		return nil
	})
	assert.Equal(t, 1, delivered, "respooled entry must be retried on the next pass")
	assert.Equal(t, 0, spoolLineCount(t, o))
}

func TestOutbox_DrainDiscardsRejectedEntries(t *testing.T) {
	o := newTestOutbox(t)
	require.NoError(t, o.Spool(testEvent(), writeTempImage(t, "jpeg-bytes")))

	o.Drain(context.Background(), func(context.Context, events.NormalizedEvent, string) error {
		return errRejected
	})

	assert.Equal(t, 0, spoolLineCount(t, o), "rejected entries must not be retried")

	entries, err := os.ReadDir(o.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected entry's image copy must be removed")
}

func TestOutbox_DrainSkipsCorruptLines(t *testing.T) {
	o := newTestOutbox(t)
	require.NoError(t, o.Spool(testEvent(), writeTempImage(t, "jpeg-bytes")))

	f, err := os.OpenFile(filepath.Join(o.dir, spoolFile), os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var delivered int
	o.Drain(context.Background(), func(context.Context, events.NormalizedEvent, string) error {
		delivered++
		return nil
	})

	assert.Equal(t, 1, delivered, "valid entries around a corrupt line still deliver")
	assert.Equal(t, 0, spoolLineCount(t, o))
}

func TestOutbox_CancelledDrainKeepsUndeliveredEntries(t *testing.T) {
	o := newTestOutbox(t)
	require.NoError(t, o.Spool(testEvent(), writeTempImage(t, "one")))

	second := testEvent()
	second.PlateNumber = "MH12CD5678"
	require.NoError(t, o.Spool(second, writeTempImage(t, "two")))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	o.Drain(cancelled, func(context.Context, events.NormalizedEvent, string) error {
		t.Fatal("send must not run after the context is cancelled")
		return nil
	})

	assert.Equal(t, 2, spoolLineCount(t, o), "interrupted drain must requeue everything unsent")

	var delivered int
	o.Drain(context.Background(), func(context.Context, events.NormalizedEvent, string) error {
		delivered++
		return nil
	})
	assert.Equal(t, 2, delivered, "requeued entries must deliver on the next pass")
	assert.Equal(t, 0, spoolLineCount(t, o))
}

func TestOutbox_DrainOnEmptySpoolIsNoop(t *testing.T) {
	o := newTestOutbox(t)

	o.Drain(context.Background(), func(context.Context, events.NormalizedEvent, string) error {
		t.Fatal("send must not be called with nothing spooled")
		return nil
	})
}

func TestOutbox_RotatesOldestImagesWhenFull(t *testing.T) {
	// 0 MB rounds up to the default; use a 1 MB cap and oversize images.
	o, err := NewOutbox(t.TempDir(), 1, zerolog.Nop())
	require.NoError(t, err)

	big := make([]byte, 600*1024)
	img := filepath.Join(t.TempDir(), "big.jpg")
	require.NoError(t, os.WriteFile(img, big, 0600))

	require.NoError(t, o.Spool(testEvent(), img))
	require.NoError(t, o.Spool(testEvent(), img))

	// Third spool crosses the cap; the oldest image is rotated out to
	// make room rather than failing outright.
	err = o.Spool(testEvent(), img)
	assert.NoError(t, err)

	var onDisk int64
	entries, rerr := os.ReadDir(o.dir)
	require.NoError(t, rerr)
	for _, e := range entries {
		info, ierr := e.Info()
		require.NoError(t, ierr)
		onDisk += info.Size()
	}
	assert.LessOrEqual(t, onDisk, int64(2*1024*1024), "spool must stay near its cap")
}

func TestOutbox_StartDrainStopsOnCancel(t *testing.T) {
	o := newTestOutbox(t)
	require.NoError(t, o.Spool(testEvent(), writeTempImage(t, "jpeg-bytes")))

	ctx, cancel := context.WithCancel(context.Background())
	drained := make(chan struct{}, 1)
	o.StartDrain(ctx, 20*time.Millisecond, func(context.Context, events.NormalizedEvent, string) error {
		select {
		case drained <- struct{}{}:
		default:
		}
		return nil
	})

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("drain loop never ran")
	}
	cancel()
}
