package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/technosupport/ts-anpr/internal/events"
	"github.com/technosupport/ts-anpr/internal/metrics"
)

// errRejected marks a 4xx gateway response: the payload is bad and
// redelivery can never succeed, so it is dropped rather than spooled.
var errRejected = errors.New("gateway rejected event")

type Config struct {
	GatewayURL  string
	SendTimeout time.Duration
	MaxInflight int
	TempDir     string
}

// Dispatcher delivers normalized events to the ingestion gateway
// without ever blocking the camera callback that produced them. Each
// task owns its temp image file exclusively; the file is removed
// exactly once when the task finishes, on every exit path.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	outbox *Outbox
	pub    *Publisher // optional fan-out, may be nil
	log    zerolog.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

func New(cfg Config, outbox *Outbox, pub *Publisher, log zerolog.Logger) *Dispatcher {
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 32
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.SendTimeout},
		outbox: outbox,
		pub:    pub,
		log:    log.With().Str("component", "dispatcher").Logger(),
		sem:    make(chan struct{}, cfg.MaxInflight),
	}
}

// Dispatch accepts ownership of the event and its image bytes and
// returns immediately; the send happens on its own goroutine. The
// vendor stream expects callbacks to return promptly or the device
// tears the connection down.
func (d *Dispatcher) Dispatch(ev events.NormalizedEvent, image []byte) {
	tmpPath := filepath.Join(d.cfg.TempDir, fmt.Sprintf("anpr_%s.jpg", uuid.New().String()))
	if err := os.WriteFile(tmpPath, image, 0600); err != nil {
		d.log.Error().Err(err).
			Str("camera_id", ev.CameraID).
			Str("plate", ev.PlateNumber).
			Msg("failed to write temp image, event dropped")
		metrics.DispatchTotal.WithLabelValues("spool_failed").Inc()
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		d.run(ev, tmpPath)
	}()
}

// run owns the temp file for the life of the task.
func (d *Dispatcher) run(ev events.NormalizedEvent, tmpPath string) {
	defer os.Remove(tmpPath) // the one hard cleanup invariant

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	err := d.Send(ctx, ev, tmpPath)
	metrics.DispatchLatency.Observe(float64(time.Since(start).Milliseconds()))

	switch {
	case err == nil:
		metrics.DispatchTotal.WithLabelValues("success").Inc()
		if d.pub != nil {
			if perr := d.pub.Publish(ev); perr != nil {
				d.log.Warn().Err(perr).Str("camera_id", ev.CameraID).Msg("fan-out publish failed")
			}
		}

	case errors.Is(err, errRejected):
		// Bad payload per the gateway; redelivery is pointless.
		d.log.Error().Err(err).
			Str("camera_id", ev.CameraID).
			Time("event_time", ev.Timestamp).
			Str("plate", ev.PlateNumber).
			Msg("gateway rejected event, dropping")
		metrics.DispatchTotal.WithLabelValues("rejected").Inc()

	default:
		// Gateway unreachable or faulting: hand the task to the durable
		// outbox so the drain loop can redeliver once it recovers.
		d.log.Warn().Err(err).
			Str("camera_id", ev.CameraID).
			Time("event_time", ev.Timestamp).
			Str("plate", ev.PlateNumber).
			Msg("gateway send failed, spooling to outbox")

		if d.outbox == nil {
			metrics.DispatchTotal.WithLabelValues("spool_failed").Inc()
			return
		}
		if serr := d.outbox.Spool(ev, tmpPath); serr != nil {
			d.log.Error().Err(serr).
				Str("camera_id", ev.CameraID).
				Str("plate", ev.PlateNumber).
				Msg("outbox spool failed, event lost")
			metrics.DispatchTotal.WithLabelValues("spool_failed").Inc()
			return
		}
		metrics.DispatchTotal.WithLabelValues("spooled").Inc()
	}
}

// Send performs one multipart POST of the event metadata and image to
// the gateway. Returns nil on 2xx, errRejected on 4xx, and a transient
// error otherwise. Also used by the outbox drain.
func (d *Dispatcher) Send(ctx context.Context, ev events.NormalizedEvent, imagePath string) error {
	img, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer img.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	meta, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := mw.WriteField("event_data", string(meta)); err != nil {
		return err
	}

	part, err := mw.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, img); err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.GatewayURL+"/event", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway send: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d", errRejected, resp.StatusCode)
	default:
		return fmt.Errorf("gateway status %d", resp.StatusCode)
	}
}

// Close waits for in-flight sends to finish.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}
