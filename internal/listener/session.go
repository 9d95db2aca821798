package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/ts-anpr/internal/camera"
	"github.com/technosupport/ts-anpr/internal/config"
	"github.com/technosupport/ts-anpr/internal/events"
	"github.com/technosupport/ts-anpr/internal/metrics"
)

// Session state machine. Transitions:
// Disconnected -> LoggingIn -> Subscribed -> Disconnected
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateLoggingIn
	StateSubscribed
)

func (s SessionState) String() string {
	switch s {
	case StateLoggingIn:
		return "logging_in"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// EventSink receives normalized events with their image bytes. The
// dispatcher implements it; tests substitute their own.
type EventSink interface {
	Dispatch(ev events.NormalizedEvent, image []byte)
}

// CameraSession owns the login and subscription handles for one
// device. The two handles live and die together: a subscription is
// never kept past its login, and a login with no subscription is
// useless and gets torn down.
type CameraSession struct {
	cfg     config.CameraConfig
	conn    camera.DeviceConn
	timeout time.Duration

	normalizer *events.Normalizer
	dedup      *events.Dedup
	sink       EventSink
	log        zerolog.Logger

	mu    sync.Mutex
	state SessionState
	login camera.LoginHandle
	sub   camera.SubHandle
}

func NewCameraSession(cfg config.CameraConfig, conn camera.DeviceConn, timeout time.Duration,
	normalizer *events.Normalizer, dedup *events.Dedup, sink EventSink, log zerolog.Logger) *CameraSession {

	return &CameraSession{
		cfg:        cfg,
		conn:       conn,
		timeout:    timeout,
		normalizer: normalizer,
		dedup:      dedup,
		sink:       sink,
		log:        log.With().Str("camera_id", cfg.ID).Str("camera_name", cfg.Name).Logger(),
	}
}

func (s *CameraSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect logs in and subscribes as one unit. If the subscribe step
// fails the fresh login is released immediately so the device does not
// accumulate half-open sessions.
func (s *CameraSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateSubscribed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateLoggingIn
	s.mu.Unlock()

	loginCtx, cancel := context.WithTimeout(ctx, s.timeout)
	login, err := s.conn.Login(loginCtx, camera.Credential{
		Username: s.cfg.Username,
		Password: s.cfg.Password,
	})
	cancel()
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return fmt.Errorf("login %s:%d: %w", s.cfg.Address, s.cfg.Port, err)
	}

	subCtx, cancel := context.WithTimeout(ctx, s.timeout)
	sub, err := s.conn.Subscribe(subCtx, login, s.cfg.Channel, s.handleEvent)
	cancel()
	if err != nil {
		// Release the login we just acquired; best-effort.
		s.conn.Logout(login)
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return fmt.Errorf("subscribe channel %d: %w", s.cfg.Channel, err)
	}

	s.mu.Lock()
	s.login = login
	s.sub = sub
	s.state = StateSubscribed
	s.mu.Unlock()

	s.log.Info().Str("address", s.cfg.Address).Msg("camera session established")
	return nil
}

// IsAlive probes the device with its own deadline, always shorter than
// the check interval so probes never pile up.
func (s *CameraSession) IsAlive(ctx context.Context) bool {
	s.mu.Lock()
	if s.state != StateSubscribed {
		s.mu.Unlock()
		return false
	}
	login := s.login
	s.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.conn.KeepAlive(probeCtx, login) == nil
}

// Teardown releases both handles, subscription first. Safe to call in
// any state and safe to call twice; a dead device is tolerated since
// the handles are worthless either way.
func (s *CameraSession) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != "" {
		s.conn.Unsubscribe(s.sub)
		s.sub = ""
	}
	if s.login != "" {
		s.conn.Logout(s.login)
		s.login = ""
	}
	if s.state != StateDisconnected {
		s.state = StateDisconnected
		s.log.Info().Msg("camera session torn down")
	}
}

// handleEvent is the device callback. It normalizes, deduplicates and
// hands off; it never blocks on the gateway and a delivery failure
// never disturbs the device session that produced the event.
func (s *CameraSession) handleEvent(raw camera.RawEvent) {
	ev, err := s.normalizer.Normalize(s.cfg.ID, raw)
	if err != nil {
		s.log.Warn().Err(err).
			Interface("fields", camera.RedactFields(raw.Fields)).
			Msg("discarding malformed event")
		metrics.EventsCapturedTotal.WithLabelValues("malformed").Inc()
		return
	}

	if s.dedup != nil && s.dedup.IsDuplicate(ev) {
		metrics.EventsCapturedTotal.WithLabelValues("duplicate").Inc()
		return
	}

	metrics.EventsCapturedTotal.WithLabelValues("accepted").Inc()
	s.sink.Dispatch(ev, raw.Image)
}
