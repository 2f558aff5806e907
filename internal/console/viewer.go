package console

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/avaropoint/mcc/internal/capture"
	"github.com/avaropoint/mcc/internal/input"
	"github.com/avaropoint/mcc/internal/protocol"
	"github.com/avaropoint/mcc/internal/store"
)

// ErrViewerIdle is returned when no remote-desktop session is running.
var ErrViewerIdle = errors.New("no remote desktop session")

// FrameSink receives every reconstructed screen image. The image is
// owned by the viewer; copy it to keep it past the call.
type FrameSink interface {
	ShowFrame(img *image.NRGBA) error
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(img *image.NRGBA) error

func (f FrameSinkFunc) ShowFrame(img *image.NRGBA) error { return f(img) }

// ViewerConfig configures a Viewer.
type ViewerConfig struct {
	// Platform is the key table the Sender encodes with.
	Platform string
	// TLS is used for frame channels the agent reports as TLS.
	TLS         *tls.Config
	Store       store.Store // optional session audit
	StopTimeout time.Duration
	Logger      *slog.Logger
}

func (c ViewerConfig) withDefaults() ViewerConfig {
	if c.Platform == "" {
		c.Platform = LocalPlatform()
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 3 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// LocalPlatform returns the platform identifier for this machine.
func LocalPlatform() string {
	switch runtime.GOOS {
	case "windows":
		return protocol.PlatformWindows
	case "darwin":
		return protocol.PlatformMac
	default:
		return protocol.PlatformX11
	}
}

// SessionStats counts what a viewer session received.
type SessionStats struct {
	Frames int64
	Bytes  int64
}

type viewSession struct {
	id      string
	hostID  string
	started time.Time
	conn    net.Conn
	sender  *input.Sender
	done    chan struct{}
	err     error
	frames  atomic.Int64
	bytes   atomic.Int64
}

// Viewer runs at most one remote-desktop session at a time against a
// host of the fleet.
type Viewer struct {
	fleet *Fleet
	cfg   ViewerConfig
	log   *slog.Logger

	start   sync.Mutex // serialises StartRemoteDesktop
	mu      sync.Mutex
	session *viewSession
}

// NewViewer creates an idle viewer.
func NewViewer(fleet *Fleet, cfg ViewerConfig) *Viewer {
	cfg = cfg.withDefaults()
	return &Viewer{fleet: fleet, cfg: cfg, log: cfg.Logger.With("component", "viewer")}
}

// StartRemoteDesktop asks hostID to open a frame endpoint, connects to
// it and streams reconstructed frames into sink. Any running session is
// stopped first. The returned Sender forwards input to the host.
func (v *Viewer) StartRemoteDesktop(ctx context.Context, hostID string, sink FrameSink) (*input.Sender, error) {
	v.start.Lock()
	defer v.start.Unlock()

	if v.Active() {
		v.Stop(ctx)
	}

	resp, err := v.fleet.Send(ctx, hostID, protocol.Command{Type: protocol.CmdStartRDP})
	if err != nil {
		return nil, err
	}
	var ep protocol.RDPEndpoint
	if err := resp.Bind(&ep); err != nil {
		return nil, fmt.Errorf("start_rdp: %w", err)
	}
	codec, err := capture.NewCodec(ep.Codec, 0)
	if err != nil {
		v.abandon(ctx, hostID)
		return nil, fmt.Errorf("%w: %v", protocol.ErrProtocol, err)
	}

	addr := v.frameAddr(hostID, ep)
	conn, err := v.dialFrames(ctx, addr, ep.TLS)
	if err != nil {
		v.abandon(ctx, hostID)
		return nil, err
	}
	if err := protocol.WritePlatform(conn, v.cfg.Platform); err != nil {
		conn.Close()
		v.abandon(ctx, hostID)
		return nil, err
	}
	sender, err := input.NewSender(conn, v.cfg.Platform)
	if err != nil {
		conn.Close()
		v.abandon(ctx, hostID)
		return nil, err
	}

	s := &viewSession{
		id:      uuid.NewString(),
		hostID:  hostID,
		started: time.Now(),
		conn:    conn,
		sender:  sender,
		done:    make(chan struct{}),
	}
	if v.cfg.Store != nil {
		if err := v.cfg.Store.RecordSessionStart(ctx, &store.SessionRecord{ID: s.id, HostID: hostID, StartedAt: s.started}); err != nil {
			v.log.Warn("record session start failed", "error", err)
		}
	}

	v.mu.Lock()
	v.session = s
	v.mu.Unlock()

	go v.receive(s, capture.NewReconstructor(capture.NewStrategy(codec)), sink)
	v.log.Info("remote desktop started", "host", hostID, "frames", addr, "codec", codec.Name(), "session", s.id)
	return sender, nil
}

// abandon stops the host session of a start that failed half way.
func (v *Viewer) abandon(ctx context.Context, hostID string) {
	resp, err := v.fleet.Send(ctx, hostID, protocol.Command{Type: protocol.CmdStopRDP})
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		v.log.Warn("could not stop abandoned session", "host", hostID, "error", err)
	}
}

// frameAddr resolves where to dial the frame channel. An unspecified IP
// falls back to the host's own address.
func (v *Viewer) frameAddr(hostID string, ep protocol.RDPEndpoint) string {
	ip := net.ParseIP(ep.IP)
	host := ep.IP
	if ip == nil || ip.IsUnspecified() {
		host, _, _ = net.SplitHostPort(hostID)
	}
	return net.JoinHostPort(host, strconv.Itoa(ep.Port))
}

func (v *Viewer) dialFrames(ctx context.Context, addr string, useTLS bool) (net.Conn, error) {
	dialer := net.Dialer{Timeout: DefaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial frames %s: %v", protocol.ErrConnectionLost, addr, err)
	}
	if !useTLS {
		return conn, nil
	}
	base := v.cfg.TLS
	if base == nil {
		base = &tls.Config{MinVersion: tls.VersionTLS13}
	}
	tc := tls.Client(conn, tlsConfigFor(base, addr))
	if err := tc.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: frames tls %s: %v", protocol.ErrAuthentication, addr, err)
	}
	return tc, nil
}

// receive reads frames until the socket closes or a frame cannot be
// applied, which desynchronises the stream and ends the session.
func (v *Viewer) receive(s *viewSession, rec *capture.Reconstructor, sink FrameSink) {
	defer close(s.done)
	log := v.log.With("session", s.id)
	for {
		f, err := protocol.ReadFrame(s.conn)
		if err != nil {
			s.err = err
			return
		}
		img, err := rec.Apply(f)
		if err != nil {
			log.Warn("dropping frame stream", "kind", f.Kind, "error", err)
			s.err = err
			s.conn.Close()
			return
		}
		s.frames.Add(1)
		s.bytes.Add(int64(len(f.Payload)))
		if sink != nil {
			if err := sink.ShowFrame(img); err != nil {
				log.Warn("frame sink failed", "error", err)
				s.err = err
				s.conn.Close()
				return
			}
		}
	}
}

// Active reports whether a session is running.
func (v *Viewer) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.session != nil
}

// Stats returns the counters of the running session.
func (v *Viewer) Stats() (SessionStats, error) {
	v.mu.Lock()
	s := v.session
	v.mu.Unlock()
	if s == nil {
		return SessionStats{}, ErrViewerIdle
	}
	return SessionStats{Frames: s.frames.Load(), Bytes: s.bytes.Load()}, nil
}

// Done is closed when the running session's frame stream ends. It is
// nil when the viewer is idle.
func (v *Viewer) Done() <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == nil {
		return nil
	}
	return v.session.done
}

// Stop closes the frame socket and tells the host to stop. The viewer
// is idle afterwards whatever the host answers; a stop_rdp failure is
// returned for information only.
func (v *Viewer) Stop(ctx context.Context) (SessionStats, error) {
	v.mu.Lock()
	s := v.session
	v.session = nil
	v.mu.Unlock()
	if s == nil {
		return SessionStats{}, ErrViewerIdle
	}

	s.conn.Close()
	select {
	case <-s.done:
		v.log.Debug("frame stream closed", "session", s.id, "error", s.err)
	case <-time.After(v.cfg.StopTimeout):
		v.log.Warn("frame reader did not stop in time", "session", s.id)
	}
	stats := SessionStats{Frames: s.frames.Load(), Bytes: s.bytes.Load()}

	if v.cfg.Store != nil {
		if err := v.cfg.Store.RecordSessionEnd(ctx, s.id, time.Now(), stats.Frames, stats.Bytes); err != nil {
			v.log.Warn("record session end failed", "error", err)
		}
	}

	var stopErr error
	resp, err := v.fleet.Send(ctx, s.hostID, protocol.Command{Type: protocol.CmdStopRDP})
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		stopErr = fmt.Errorf("stop_rdp: %w", err)
		v.log.Warn("host did not confirm stop", "host", s.hostID, "error", err)
	}
	v.log.Info("remote desktop stopped", "host", s.hostID, "frames", stats.Frames, "bytes", stats.Bytes)
	return stats, stopErr
}
