package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/technosupport/ts-anpr/internal/events"
	"github.com/technosupport/ts-anpr/internal/metrics"
)

const spoolFile = "outbox.log"

// outboxEntry is one JSON line in the spool: event metadata plus the
// name of the spooled image copy beside it.
type outboxEntry struct {
	ID        string                 `json:"id"`
	Event     events.NormalizedEvent `json:"event"`
	Image     string                 `json:"image"`
	SpooledAt time.Time              `json:"spooled_at"`
}

// Outbox is the durable retry queue between the dispatcher and the
// gateway: entries are written before the task gives up and cleared
// only after the gateway acknowledges redelivery, giving at-least-once
// delivery across gateway downtime.
type Outbox struct {
	dir     string
	maxSize int64
	log     zerolog.Logger

	mu sync.Mutex
}

func NewOutbox(dir string, maxMB int64, log zerolog.Logger) (*Outbox, error) {
	if dir == "" {
		return nil, errors.New("outbox dir required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create outbox dir: %w", err)
	}
	if maxMB <= 0 {
		maxMB = 512
	}
	return &Outbox{
		dir:     dir,
		maxSize: maxMB * 1024 * 1024,
		log:     log.With().Str("component", "outbox").Logger(),
	}, nil
}

// Spool copies the task's image into the outbox and appends the event
// metadata as one JSON line. The caller still owns (and removes) the
// original temp file.
func (o *Outbox) Spool(ev events.NormalizedEvent, imagePath string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.size() >= o.maxSize {
		// Drop oldest spooled images to stay bounded; their metadata
		// lines will fail on drain and be discarded.
		o.dropOldestImages()
		if o.size() >= o.maxSize {
			return errors.New("outbox full")
		}
	}

	id := uuid.New().String()
	imgName := fmt.Sprintf("img_%s.jpg", id)
	if err := copyFile(imagePath, filepath.Join(o.dir, imgName)); err != nil {
		return fmt.Errorf("spool image: %w", err)
	}

	entry := outboxEntry{ID: id, Event: ev, Image: imgName, SpooledAt: time.Now().UTC()}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(o.dir, spoolFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}

	metrics.OutboxDepth.Set(float64(o.size()))
	return nil
}

// SendFunc delivers one spooled event; the outbox retries entries whose
// send keeps failing transiently and discards permanent rejects.
type SendFunc func(ctx context.Context, ev events.NormalizedEvent, imagePath string) error

// Drain redelivers spooled entries. The spool file is renamed before
// replay so entries are never sent twice from the same pass; entries
// that still fail transiently are re-spooled for the next tick.
func (o *Outbox) Drain(ctx context.Context, send SendFunc) {
	o.mu.Lock()

	spoolPath := filepath.Join(o.dir, spoolFile)
	info, err := os.Stat(spoolPath)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		o.mu.Unlock()
		return
	}

	replayPath := filepath.Join(o.dir, fmt.Sprintf("replay_%d.log", time.Now().UnixNano()))
	if err := os.Rename(spoolPath, replayPath); err != nil {
		o.mu.Unlock()
		o.log.Error().Err(err).Msg("failed to rotate spool for replay")
		return
	}
	o.mu.Unlock()

	f, err := os.Open(replayPath)
	if err != nil {
		return
	}
	defer f.Close()
	defer os.Remove(replayPath)

	var delivered, respooled, discarded int

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			// Shutdown mid-pass: everything not yet sent goes back on
			// the spool before the replay file is removed.
			respooled += o.respoolRemaining(scanner)
			break
		}

		var entry outboxEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			discarded++
			continue
		}

		imgPath := filepath.Join(o.dir, entry.Image)
		if _, err := os.Stat(imgPath); err != nil {
			discarded++ // image rotated away while spooled
			continue
		}

		err := send(ctx, entry.Event, imgPath)
		switch {
		case err == nil:
			os.Remove(imgPath)
			delivered++
			metrics.OutboxReplayedTotal.Inc()

		case errors.Is(err, errRejected):
			os.Remove(imgPath)
			discarded++
			o.log.Error().
				Str("camera_id", entry.Event.CameraID).
				Str("plate", entry.Event.PlateNumber).
				Msg("gateway rejected spooled event, discarding")

		default:
			// Still down. Re-spool; the image copy stays in place.
			if serr := o.respool(entry); serr != nil {
				os.Remove(imgPath)
				discarded++
			} else {
				respooled++
			}
		}
	}

	o.mu.Lock()
	metrics.OutboxDepth.Set(float64(o.size()))
	o.mu.Unlock()

	if delivered > 0 || discarded > 0 {
		o.log.Info().
			Int("delivered", delivered).
			Int("respooled", respooled).
			Int("discarded", discarded).
			Msg("outbox drain pass complete")
	}
}

// StartDrain runs Drain on a ticker until ctx is cancelled.
func (o *Outbox) StartDrain(ctx context.Context, interval time.Duration, send SendFunc) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.Drain(ctx, send)
			}
		}
	}()
}

// respoolRemaining writes the scanner's current line and every unread
// line back to the spool, so a drain pass interrupted by shutdown
// loses nothing. Returns the number of lines requeued.
func (o *Outbox) respoolRemaining(scanner *bufio.Scanner) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(o.dir, spoolFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		o.log.Error().Err(err).Msg("failed to requeue entries after interrupted drain")
		return 0
	}
	defer f.Close()

	n := 0
	for {
		line := scanner.Bytes()
		if len(line) > 0 {
			if _, err := f.Write(line); err != nil {
				return n
			}
			if _, err := f.Write([]byte("\n")); err != nil {
				return n
			}
			n++
		}
		if !scanner.Scan() {
			return n
		}
	}
}

func (o *Outbox) respool(entry outboxEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(o.dir, spoolFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

func (o *Outbox) size() int64 {
	var size int64
	filepath.Walk(o.dir, func(_ string, info fs.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

func (o *Outbox) dropOldestImages() {
	entries, err := os.ReadDir(o.dir)
	if err != nil {
		return
	}

	type imgFile struct {
		name string
		mod  time.Time
		size int64
	}
	var imgs []imgFile
	for _, e := range entries {
		if e.IsDir() || e.Name() == spoolFile {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		imgs = append(imgs, imgFile{name: e.Name(), mod: info.ModTime(), size: info.Size()})
	}
	sort.Slice(imgs, func(i, j int) bool { return imgs[i].mod.Before(imgs[j].mod) })

	freed := int64(0)
	target := o.maxSize / 4 // free a quarter per rotation
	for _, img := range imgs {
		if freed >= target {
			break
		}
		if err := os.Remove(filepath.Join(o.dir, img.name)); err == nil {
			freed += img.size
		}
	}
	if freed > 0 {
		o.log.Warn().Int64("freed_bytes", freed).Msg("outbox full, dropped oldest spooled images")
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
