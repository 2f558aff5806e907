package console

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaropoint/mcc/internal/agent"
	"github.com/avaropoint/mcc/internal/capture"
	"github.com/avaropoint/mcc/internal/dispatch"
	"github.com/avaropoint/mcc/internal/hostinfo"
	"github.com/avaropoint/mcc/internal/input"
	"github.com/avaropoint/mcc/internal/rdp"
	"github.com/avaropoint/mcc/internal/security"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubInfo struct{ hostname string }

func (s stubInfo) SystemInfo(context.Context) hostinfo.SystemInfo {
	return hostinfo.SystemInfo{Hostname: s.hostname, OS: "linux"}
}

func (stubInfo) Hardware(context.Context) (hostinfo.HardwareStats, error) {
	return hostinfo.HardwareStats{}, nil
}

func (stubInfo) Network(context.Context) (hostinfo.NetworkStats, error) {
	return hostinfo.NetworkStats{}, nil
}

type denyPower struct{}

func (denyPower) Power(context.Context, hostinfo.PowerRequest) error {
	return hostinfo.ErrPowerDisabled
}

// keyLog records injected key presses.
type keyLog struct {
	mu   sync.Mutex
	keys []string
}

func (k *keyLog) MoveMouse(int, int) error             { return nil }
func (k *keyLog) MouseButton(input.Button, bool) error { return nil }
func (k *keyLog) Scroll(int) error                     { return nil }
func (k *keyLog) KeyUp(string) error                   { return nil }
func (k *keyLog) KeyDown(name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = append(k.keys, name)
	return nil
}

func (k *keyLog) pressed() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.keys...)
}

type testAgent struct {
	addr string
	id   *security.Identity
	sup  *rdp.Supervisor
	keys *keyLog
	stop func()
}

// startAgent runs a full agent stack on addr ("127.0.0.1:0" for any port).
func startAgent(t *testing.T, addr string, id *security.Identity) *testAgent {
	t.Helper()
	logger := quietLogger()
	if id == nil {
		var err error
		id, err = security.NewIdentity()
		require.NoError(t, err)
	}

	keys := &keyLog{}
	sup := rdp.NewSupervisor(rdp.Config{
		Addr:        "127.0.0.1:0",
		Grabber:     &capture.PatternGrabber{Width: 80, Height: 60},
		Interval:    10 * time.Millisecond,
		NewInjector: func() input.Injector { return keys },
		Logger:      logger,
	})
	d := dispatch.New(logger)
	(&agent.Handlers{Info: stubInfo{hostname: "lab-01"}, Power: denyPower{}, RDP: sup, Log: logger}).Register(d)

	srv, err := agent.NewServer(agent.Config{Addr: addr, Identity: id, Dispatcher: d, Logger: logger})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ln, err := srv.Listen(ctx)
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, ln)
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
			sup.Stop()
		})
	}
	t.Cleanup(stop)
	return &testAgent{addr: ln.Addr().String(), id: id, sup: sup, keys: keys, stop: stop}
}

func (a *testAgent) hostPort(t *testing.T) (string, int) {
	t.Helper()
	host, port, err := ParseHostAddr(a.addr)
	require.NoError(t, err)
	return host, port
}

// closedAddr returns a loopback address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	assert.Eventually(t, cond, 5*time.Second, 10*time.Millisecond, msg)
}
