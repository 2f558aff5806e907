package rdp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/avaropoint/mcc/internal/protocol"
)

// ErrNoSession is returned by Stop when nothing is running. Callers
// treat it as success.
var ErrNoSession = errors.New("no active remote desktop session")

// Supervisor owns at most one Session.
type Supervisor struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	session *Session
}

// NewSupervisor creates an idle supervisor.
func NewSupervisor(cfg Config) *Supervisor {
	cfg = cfg.withDefaults()
	return &Supervisor{cfg: cfg, log: cfg.Logger.With("component", "rdp")}
}

// Start tears down any running session and opens a new frame listener.
// The session outlives ctx; only Stop ends it. The returned endpoint's IP
// is the listener's own address, which is unspecified for wildcard binds.
func (s *Supervisor) Start(ctx context.Context) (protocol.RDPEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		s.log.Info("stopping previous session", "session", s.session.ID)
		s.session.close(s.cfg.StopTimeout)
		s.session = nil
	}

	sess, err := newSession(ctx, s.cfg)
	if err != nil {
		return protocol.RDPEndpoint{}, err
	}
	s.session = sess
	s.log.Info("session started", "session", sess.ID, "addr", sess.Addr().String(), "tls", sess.TLS())

	ep := protocol.RDPEndpoint{Port: sess.Port(), TLS: sess.TLS(), Codec: s.cfg.Codec.Name()}
	if a, ok := sess.Addr().(*net.TCPAddr); ok {
		ep.IP = a.IP.String()
	}
	return ep, nil
}

// Stop ends the running session. Without one it returns ErrNoSession.
// Either way the supervisor is idle afterwards.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return ErrNoSession
	}
	sess := s.session
	s.session = nil
	clean := sess.close(s.cfg.StopTimeout)
	st := sess.Stats()
	s.log.Info("session stopped", "session", sess.ID, "clean", clean,
		"viewers", st.Viewers, "frames", st.Frames, "bytes", st.Bytes)
	return nil
}

// Active reports whether a session is running.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

// Current returns the running session, or nil.
func (s *Supervisor) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}
