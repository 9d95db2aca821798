package gateway

import (
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-anpr/internal/data"
	"github.com/technosupport/ts-anpr/internal/metrics"
)

// Stored images are always <digits>_<camera>_<hex>.jpg; anything else
// in the path is a traversal attempt.
var imageFileRegex = regexp.MustCompile(`^[0-9]{14}_[a-zA-Z0-9_\-]+_[a-f0-9]{8}\.jpg$`)

type listResponse struct {
	Events []*data.PlateEvent `json:"events"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	metrics.QueryTotal.WithLabelValues("list").Inc()

	q := r.URL.Query()

	filter := data.EventFilter{
		Plate:       q.Get("plate"),
		CameraID:    q.Get("camera_id"),
		Direction:   q.Get("direction"),
		VehicleType: q.Get("vehicle_type"),
	}

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from timestamp, want RFC3339")
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to timestamp, want RFC3339")
			return
		}
		filter.To = t
	}

	limit := h.cfg.DefaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	if limit > h.cfg.MaxLimit {
		limit = h.cfg.MaxLimit
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = n
	}

	list, total, err := h.store.List(r.Context(), filter, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("event list query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if list == nil {
		list = []*data.PlateEvent{}
	}

	writeJSON(w, http.StatusOK, listResponse{Events: list, Total: total, Limit: limit, Offset: offset})
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	metrics.QueryTotal.WithLabelValues("get").Inc()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	ev, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Int64("id", id).Msg("event lookup failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if ev == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

func (h *Handler) ServeImage(w http.ResponseWriter, r *http.Request) {
	metrics.QueryTotal.WithLabelValues("image").Inc()

	filename := chi.URLParam(r, "filename")
	if !imageFileRegex.MatchString(filename) {
		writeError(w, http.StatusBadRequest, "invalid image filename")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, filepath.Join(h.cfg.ImageDir, filename))
}
