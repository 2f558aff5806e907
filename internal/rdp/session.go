// Package rdp runs the host side of a remote-desktop session: a frame
// listener, one viewer connection at a time, and per-viewer capture and
// input workers.
package rdp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/avaropoint/mcc/internal/capture"
	"github.com/avaropoint/mcc/internal/input"
	"github.com/avaropoint/mcc/internal/protocol"
)

const (
	// DefaultStopTimeout bounds how long teardown waits for workers.
	DefaultStopTimeout = 3 * time.Second

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 5 * time.Second

	// platformTimeout bounds the wait for the viewer's platform id.
	platformTimeout = 10 * time.Second
)

// Config configures sessions started by a Supervisor.
type Config struct {
	// Addr is the frame listener address. The port is normally 0 so the
	// system picks a free one.
	Addr string
	// TLS wraps the frame listener when set.
	TLS *tls.Config

	Grabber capture.Grabber
	// Codec encodes frame payloads. Lossless codecs get XOR diffs.
	Codec    capture.Codec
	Interval time.Duration

	// NewInjector builds the injector for each viewer connection.
	NewInjector func() input.Injector

	StopTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":0"
	}
	if c.Grabber == nil {
		c.Grabber = &capture.PatternGrabber{}
	}
	if c.Codec == nil {
		c.Codec = capture.PNGCodec{}
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.NewInjector == nil {
		logger := c.Logger
		c.NewInjector = func() input.Injector { return input.NewInjector(logger) }
	}
	return c
}

// Stats summarises what a session delivered to its viewers.
type Stats struct {
	Viewers int
	Frames  int
	Bytes   int64
}

// Session is one listening remote-desktop endpoint.
type Session struct {
	ID        string
	StartedAt time.Time

	cfg    Config
	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc
	g      errgroup.Group
	log    *slog.Logger

	mu     sync.Mutex
	viewer net.Conn
	stats  Stats
}

func newSession(ctx context.Context, cfg Config) (*Session, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen for frames on %s: %w", cfg.Addr, err)
	}
	if cfg.TLS != nil {
		ln = tls.NewListener(ln, cfg.TLS)
	}

	id := uuid.NewString()
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		ID:        id,
		StartedAt: time.Now(),
		cfg:       cfg,
		ln:        ln,
		ctx:       sctx,
		cancel:    cancel,
		log:       cfg.Logger.With("component", "rdp", "session", id),
	}
	s.g.Go(s.acceptLoop)
	return s, nil
}

// Port returns the frame listener's port.
func (s *Session) Port() int {
	if a, ok := s.ln.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

// Addr returns the frame listener address.
func (s *Session) Addr() net.Addr { return s.ln.Addr() }

// TLS reports whether the frame channel is wrapped in TLS.
func (s *Session) TLS() bool { return s.cfg.TLS != nil }

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Session) acceptLoop() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("frame accept failed", "error", err)
			return err
		}

		// Single viewer: a newcomer replaces whoever is connected.
		s.mu.Lock()
		if s.viewer != nil {
			s.log.Info("replacing viewer", "old", s.viewer.RemoteAddr(), "new", conn.RemoteAddr())
			s.viewer.Close()
		}
		s.viewer = conn
		s.stats.Viewers++
		s.mu.Unlock()

		s.g.Go(func() error {
			s.serve(conn)
			return nil
		})
	}
}

// serve runs the display and input workers for one viewer connection
// until either of them stops or the session is torn down.
func (s *Session) serve(conn net.Conn) {
	log := s.log.With("viewer", conn.RemoteAddr().String())
	defer func() {
		conn.Close()
		s.mu.Lock()
		if s.viewer == conn {
			s.viewer = nil
		}
		s.mu.Unlock()
	}()

	conn.SetReadDeadline(time.Now().Add(platformTimeout))
	platform, err := protocol.ReadPlatform(conn)
	if err != nil {
		log.Warn("viewer handshake failed", "error", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	relay, err := input.NewRelay(platform, s.injector(), s.cfg.Logger)
	if err != nil {
		log.Warn("viewer platform rejected", "platform", platform, "error", err)
		return
	}
	engine := capture.NewEngine(capture.Config{
		Grabber:  s.cfg.Grabber,
		Strategy: capture.NewStrategy(s.cfg.Codec),
		Interval: s.cfg.Interval,
		Logger:   s.cfg.Logger,
	})
	log.Info("viewer connected", "platform", platform)

	g, gctx := errgroup.WithContext(s.ctx)
	stop := context.AfterFunc(gctx, func() { conn.Close() })
	defer stop()

	g.Go(func() error {
		return engine.Run(gctx, func(f protocol.Frame) error {
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			return protocol.WriteFrame(conn, f)
		})
	})
	g.Go(func() error {
		return relay.Run(gctx, conn)
	})
	err = g.Wait()

	st := engine.Stats()
	s.mu.Lock()
	s.stats.Frames += st.Full + st.Diff
	s.stats.Bytes += st.Bytes
	s.mu.Unlock()

	if s.ctx.Err() != nil || errors.Is(err, protocol.ErrConnectionLost) || errors.Is(err, context.Canceled) {
		log.Info("viewer disconnected", "full", st.Full, "diff", st.Diff, "skipped", st.Skipped, "bytes", st.Bytes)
		return
	}
	log.Warn("viewer ended with error", "error", err, "full", st.Full, "diff", st.Diff)
}

// injector builds the viewer's injector. Grabbers that downscale or
// capture a display away from the desktop origin get pointer positions
// projected back onto the screen.
func (s *Session) injector() input.Injector {
	inj := s.cfg.NewInjector()
	p, ok := s.cfg.Grabber.(capture.Projector)
	if !ok {
		return inj
	}
	return input.WithPointMapping(inj, func(x, y int) (int, int) {
		return p.Projection().ScreenPoint(x, y)
	})
}

// close tears the session down: stop accepting, cancel the workers,
// close the viewer socket and wait up to timeout for everything to exit.
// It reports whether the workers finished in time.
func (s *Session) close(timeout time.Duration) bool {
	s.cancel()
	s.ln.Close()
	s.mu.Lock()
	if s.viewer != nil {
		s.viewer.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.g.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		s.log.Warn("session workers did not stop in time", "timeout", timeout)
		return false
	}
}
