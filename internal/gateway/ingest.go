package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-anpr/internal/data"
	"github.com/technosupport/ts-anpr/internal/events"
	"github.com/technosupport/ts-anpr/internal/metrics"
)

// Ingest accepts one recognition from a listener: an "event_data" JSON
// part and an "image" file part. The image is written before the row is
// inserted; an orphan image on a failed insert is harmless, the reverse
// would be a dangling filename.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.IngestLatency.Observe(float64(time.Since(start).Milliseconds()))
	}()

	// MaxBytesReader enforces the cap on the wire; ParseMultipartForm's
	// argument only bounds in-memory buffering.
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadMB<<20)
	if err := r.ParseMultipartForm(h.cfg.MaxUploadMB << 20); err != nil {
		metrics.IngestTotal.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, "malformed multipart request")
		return
	}

	raw := r.FormValue("event_data")
	if raw == "" {
		metrics.IngestTotal.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, "missing event_data")
		return
	}

	var ev events.NormalizedEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		metrics.IngestTotal.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, "invalid event_data JSON")
		return
	}
	if ev.PlateNumber == "" || ev.CameraID == "" || ev.Timestamp.IsZero() {
		metrics.IngestTotal.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, "event_data missing plate, camera or timestamp")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		metrics.IngestTotal.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, "missing image")
		return
	}
	defer file.Close()

	filename := imageFilename(ev)
	if err := h.saveImage(file, filename); err != nil {
		h.log.Error().Err(err).Str("filename", filename).Msg("image write failed")
		metrics.IngestTotal.WithLabelValues("storage_error").Inc()
		writeError(w, http.StatusInternalServerError, "failed to store image")
		return
	}

	row := &data.PlateEvent{
		Timestamp:        ev.Timestamp,
		PlateNumber:      ev.PlateNumber,
		EventType:        ev.EventType,
		CameraID:         ev.CameraID,
		VehicleType:      ev.VehicleType,
		VehicleColor:     ev.VehicleColor,
		PlateColor:       ev.PlateColor,
		ImageFilename:    filename,
		DrivingDirection: ev.DrivingDirection,
		VehicleSpeed:     ev.VehicleSpeed,
		Lane:             ev.Lane,
		ReceivedAt:       time.Now().UTC(),
	}

	if err := h.store.Insert(r.Context(), row); err != nil {
		// The image is already on disk; remove it so retries do not
		// accumulate orphans.
		os.Remove(filepath.Join(h.cfg.ImageDir, filename))

		if h.store.Ping(r.Context()) != nil {
			metrics.IngestTotal.WithLabelValues("db_down").Inc()
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		h.log.Error().Err(err).Str("plate", ev.PlateNumber).Msg("event insert failed")
		metrics.IngestTotal.WithLabelValues("storage_error").Inc()
		writeError(w, http.StatusInternalServerError, "failed to store event")
		return
	}

	h.log.Info().
		Str("camera_id", row.CameraID).
		Str("plate", row.PlateNumber).
		Int64("id", row.ID).
		Msg("event ingested")
	metrics.IngestTotal.WithLabelValues("created").Inc()

	if h.hub != nil {
		h.hub.Broadcast(row)
	}

	writeJSON(w, http.StatusCreated, apiResponse{
		Status:  "success",
		Message: "Event and image processed",
	})
}

func (h *Handler) saveImage(src io.Reader, filename string) error {
	if err := os.MkdirAll(h.cfg.ImageDir, 0750); err != nil {
		return err
	}
	dst, err := os.OpenFile(filepath.Join(h.cfg.ImageDir, filename), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}

// imageFilename builds a collision-free name tied to the capture:
// 20260314093000_cam-entrance_ab12cdef.jpg
func imageFilename(ev events.NormalizedEvent) string {
	camera := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, ev.CameraID)

	return fmt.Sprintf("%s_%s_%s.jpg",
		ev.Timestamp.UTC().Format("20060102150405"),
		camera,
		uuid.New().String()[:8],
	)
}

// Health reports connectivity and schema readiness separately so an
// operator can tell a dead database from a missing migration.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	type healthResponse struct {
		Status            string `json:"status"`
		DatabaseConnected bool   `json:"database_connected"`
		EventsTableExists bool   `json:"events_table_exists"`
	}

	resp := healthResponse{Status: "healthy"}

	if err := h.store.Ping(r.Context()); err == nil {
		resp.DatabaseConnected = true
		if ok, err := h.store.SchemaReady(r.Context()); err == nil && ok {
			resp.EventsTableExists = true
		}
	}

	status := http.StatusOK
	if !resp.DatabaseConnected || !resp.EventsTableExists {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
