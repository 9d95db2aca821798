package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/technosupport/ts-anpr/internal/data"
	"github.com/technosupport/ts-anpr/internal/middleware"
)

// EventStore is the persistence surface the gateway needs.
type EventStore interface {
	Insert(ctx context.Context, e *data.PlateEvent) error
	GetByID(ctx context.Context, id int64) (*data.PlateEvent, error)
	List(ctx context.Context, f data.EventFilter, limit, offset int) ([]*data.PlateEvent, int, error)
	SchemaReady(ctx context.Context) (bool, error)
	Ping(ctx context.Context) error
}

type Config struct {
	ImageDir     string
	MaxUploadMB  int64
	DefaultLimit int
	MaxLimit     int
}

type Handler struct {
	cfg   Config
	store EventStore
	hub   *Hub
	log   zerolog.Logger
}

func NewHandler(cfg Config, store EventStore, hub *Hub, log zerolog.Logger) *Handler {
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 16
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 50
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 500
	}
	return &Handler{
		cfg:   cfg,
		store: store,
		hub:   hub,
		log:   log.With().Str("component", "gateway").Logger(),
	}
}

// Routes assembles the full router. The ingest and health endpoints
// stay open: cameras on the capture network carry no JWT, and the
// health probe must work when everything else is broken. The query
// surface is authenticated and rate limited.
func (h *Handler) Routes(auth *middleware.JWTAuth, rl *middleware.RateLimitMiddleware, log zerolog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(log))

	r.Post("/event", h.Ingest)
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		if rl != nil {
			r.Use(rl.Limit)
		}
		if auth != nil {
			r.Use(auth.Middleware)
		}
		r.Get("/api/v1/events", h.ListEvents)
		r.Get("/api/v1/events/{id}", h.GetEvent)
		r.Get("/images/{filename}", h.ServeImage)
		r.Get("/api/v1/events/live", h.Live)
	})

	return r
}

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiResponse{Status: "error", Message: msg})
}
