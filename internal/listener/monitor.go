package listener

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/ts-anpr/internal/metrics"
)

// Monitor supervises one goroutine per camera session. Each loop owns
// its own ticker so a camera that hangs mid-login can never stall the
// checks of any other camera.
type Monitor struct {
	interval time.Duration
	sessions []*CameraSession
	log      zerolog.Logger

	wg sync.WaitGroup
}

func NewMonitor(interval time.Duration, sessions []*CameraSession, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Monitor{
		interval: interval,
		sessions: sessions,
		log:      log.With().Str("component", "monitor").Logger(),
	}
}

// Start launches the per-camera supervision loops. It returns
// immediately; call Wait after cancelling ctx to drain them.
func (m *Monitor) Start(ctx context.Context) {
	for _, s := range m.sessions {
		m.wg.Add(1)
		go m.supervise(ctx, s)
	}
}

// Wait blocks until every supervision loop has exited and its session
// is torn down.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) supervise(ctx context.Context, s *CameraSession) {
	defer m.wg.Done()
	defer func() {
		if s.State() == StateSubscribed {
			metrics.SessionsUp.Dec()
		}
		s.Teardown()
	}()

	// Jitter the first attempt so a fleet restart does not slam every
	// device at the same instant.
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(rand.Intn(1000)) * time.Millisecond):
	}

	m.connect(ctx, s)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx, s)
		}
	}
}

// check runs one health pass: a live session gets a keepalive probe, a
// dead or disconnected one gets a fresh connect attempt.
func (m *Monitor) check(ctx context.Context, s *CameraSession) {
	if s.State() != StateSubscribed {
		m.connect(ctx, s)
		return
	}

	if s.IsAlive(ctx) {
		metrics.HealthChecksTotal.WithLabelValues("alive").Inc()
		return
	}

	metrics.HealthChecksTotal.WithLabelValues("dead").Inc()
	m.log.Warn().Str("camera_id", s.cfg.ID).Msg("keepalive failed, recycling session")
	metrics.SessionsUp.Dec()
	s.Teardown()
	m.connect(ctx, s)
}

func (m *Monitor) connect(ctx context.Context, s *CameraSession) {
	if err := s.Connect(ctx); err != nil {
		m.log.Warn().Err(err).Str("camera_id", s.cfg.ID).Msg("connect failed, will retry next tick")
		metrics.HealthChecksTotal.WithLabelValues("connect_failed").Inc()
		return
	}
	metrics.SessionsUp.Inc()
}
