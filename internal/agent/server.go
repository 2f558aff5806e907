// Package agent serves the host side of the command channel: it accepts
// console connections, runs the key handshake and answers commands
// through a dispatcher.
package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avaropoint/mcc/internal/dispatch"
	"github.com/avaropoint/mcc/internal/protocol"
	"github.com/avaropoint/mcc/internal/security"
)

const (
	// DefaultHandshakeTimeout bounds key delivery on a new connection.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultIdleTimeout drops a console that sends nothing for this long.
	// Consoles heartbeat every few seconds.
	DefaultIdleTimeout = 2 * time.Minute

	// DefaultWriteTimeout bounds writing one response.
	DefaultWriteTimeout = 30 * time.Second
)

// Config configures a Server.
type Config struct {
	Addr       string
	TLS        *tls.Config
	Identity   *security.Identity
	Dispatcher *dispatch.Dispatcher

	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	WriteTimeout     time.Duration
	Logger           *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":5000"
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Connection is a snapshot of one live console connection.
type Connection struct {
	ID          string    `json:"id"`
	Addr        string    `json:"addr"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
	Requests    int       `json:"requests"`
}

// Server accepts command-channel connections.
type Server struct {
	cfg Config
	log *slog.Logger

	mu    sync.Mutex
	conns map[string]*Connection
	wg    sync.WaitGroup
}

// NewServer validates cfg and creates a server.
func NewServer(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	if cfg.Identity == nil {
		return nil, errors.New("agent server requires an identity")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("agent server requires a dispatcher")
	}
	return &Server{
		cfg:   cfg,
		log:   cfg.Logger.With("component", "agent"),
		conns: make(map[string]*Connection),
	}, nil
}

// Listen binds the configured address, wrapping it in TLS when set.
// A bind failure is fatal to the agent.
func (s *Server) Listen(ctx context.Context) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	if s.cfg.TLS != nil {
		ln = tls.NewListener(ln, s.cfg.TLS)
	}
	return ln, nil
}

// ListenAndServe binds the configured address and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen(ctx)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. Cancellation
// also closes every live connection; Serve waits for them to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("command channel listening", "addr", ln.Addr().String(), "tls", s.cfg.TLS != nil)
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var err error
	for {
		var conn net.Conn
		conn, err = ln.Accept()
		if err != nil {
			break
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}

	s.wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("accept: %w", err)
}

// Connections returns a snapshot of live connections, oldest first.
func (s *Server) Connections() []Connection {
	s.mu.Lock()
	out := make([]Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, *c)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	log := s.log.With("remote", conn.RemoteAddr().String())
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	ch, err := security.Accept(conn, s.cfg.Identity)
	if err != nil {
		log.Warn("handshake failed", "error", err)
		conn.Close()
		return
	}
	conn.SetDeadline(time.Time{})

	now := time.Now()
	lc := &Connection{ID: uuid.NewString(), Addr: conn.RemoteAddr().String(), ConnectedAt: now, LastSeen: now}
	s.mu.Lock()
	s.conns[lc.ID] = lc
	s.mu.Unlock()
	log = log.With("conn", lc.ID)
	log.Info("console connected")

	defer func() {
		ch.Close()
		s.mu.Lock()
		delete(s.conns, lc.ID)
		s.mu.Unlock()
	}()

	reqCtx := withLocalAddr(ctx, ch.LocalAddr())
	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		cmd, err := ch.ReceiveCommand()
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case errors.Is(err, protocol.ErrAuthentication):
				log.Warn("dropping connection: authentication failure", "error", err)
			case errors.Is(err, protocol.ErrProtocol):
				log.Warn("dropping connection: protocol error", "error", err)
			default:
				log.Info("console disconnected", "error", err)
			}
			return
		}

		s.mu.Lock()
		lc.LastSeen = time.Now()
		lc.Requests++
		s.mu.Unlock()

		resp := s.cfg.Dispatcher.Dispatch(reqCtx, cmd)

		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := ch.SendResponse(resp); err != nil {
			log.Info("console disconnected", "error", err)
			return
		}
	}
}

type localAddrKey struct{}

func withLocalAddr(ctx context.Context, addr net.Addr) context.Context {
	return context.WithValue(ctx, localAddrKey{}, addr)
}

// LocalAddr returns the agent-side address of the command connection a
// request arrived on, or nil outside a request.
func LocalAddr(ctx context.Context) net.Addr {
	addr, _ := ctx.Value(localAddrKey{}).(net.Addr)
	return addr
}
