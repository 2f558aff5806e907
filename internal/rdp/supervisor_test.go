package rdp

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaropoint/mcc/internal/capture"
	"github.com/avaropoint/mcc/internal/input"
	"github.com/avaropoint/mcc/internal/protocol"
)

type recordingInjector struct {
	events chan string
}

func newRecordingInjector() *recordingInjector {
	return &recordingInjector{events: make(chan string, 64)}
}

func (r *recordingInjector) record(s string) error {
	r.events <- s
	return nil
}

func (r *recordingInjector) MoveMouse(x, y int) error {
	return r.record(fmt.Sprintf("move %d,%d", x, y))
}
func (r *recordingInjector) MouseButton(b input.Button, down bool) error {
	return r.record(fmt.Sprintf("%s %v", b, down))
}
func (r *recordingInjector) Scroll(amount int) error {
	return r.record(fmt.Sprintf("scroll %d", amount))
}
func (r *recordingInjector) KeyDown(name string) error { return r.record("down " + name) }
func (r *recordingInjector) KeyUp(name string) error   { return r.record("up " + name) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSupervisor(t *testing.T, inj input.Injector) *Supervisor {
	t.Helper()
	sup := NewSupervisor(Config{
		Addr:        "127.0.0.1:0",
		Grabber:     &capture.PatternGrabber{Width: 64, Height: 48},
		Interval:    10 * time.Millisecond,
		NewInjector: func() input.Injector { return inj },
		StopTimeout: time.Second,
		Logger:      quietLogger(),
	})
	t.Cleanup(func() { sup.Stop() })
	return sup
}

func dialViewer(t *testing.T, ep protocol.RDPEndpoint, platform string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", fmt.Sprint(ep.Port)), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, protocol.WritePlatform(conn, platform))
	return conn
}

func TestStartServesFullFirstFrame(t *testing.T) {
	sup := testSupervisor(t, newRecordingInjector())
	ep, err := sup.Start(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, ep.Port)
	assert.False(t, ep.TLS)
	assert.Equal(t, "png", ep.Codec)
	assert.True(t, sup.Active())

	conn := dialViewer(t, ep, protocol.PlatformWindows)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	f, err := protocol.ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.FrameFull, f.Kind)

	img, err := capture.PNGCodec{}.Decode(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())

	// The moving dot keeps producing frames; rebuild a few of them.
	rec := capture.NewReconstructor(capture.NewStrategy(capture.PNGCodec{}))
	_, err = rec.Apply(f)
	require.NoError(t, err)
	for range 3 {
		next, err := protocol.ReadFrame(conn)
		require.NoError(t, err)
		_, err = rec.Apply(next)
		require.NoError(t, err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	sup := testSupervisor(t, newRecordingInjector())
	assert.ErrorIs(t, sup.Stop(), ErrNoSession)
	assert.False(t, sup.Active())

	ep, err := sup.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, sup.Stop())
	assert.False(t, sup.Active())
	assert.ErrorIs(t, sup.Stop(), ErrNoSession)

	_, err = net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", fmt.Sprint(ep.Port)), time.Second)
	assert.Error(t, err, "listener should be closed after Stop")
}

func TestStartReplacesSession(t *testing.T) {
	sup := testSupervisor(t, newRecordingInjector())

	first, err := sup.Start(context.Background())
	require.NoError(t, err)
	firstID := sup.Current().ID
	viewer := dialViewer(t, first, protocol.PlatformX11)

	second, err := sup.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, sup.Active())
	assert.NotEqual(t, firstID, sup.Current().ID)
	assert.NotEqual(t, first.Port, second.Port)

	_, err = net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", fmt.Sprint(first.Port)), time.Second)
	assert.Error(t, err, "first listener should be closed")

	// The old viewer's socket was closed by teardown.
	viewer.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, err := protocol.ReadFrame(viewer); err != nil {
			assert.ErrorIs(t, err, protocol.ErrConnectionLost)
			break
		}
	}
}

func TestStartContextDoesNotBoundSession(t *testing.T) {
	sup := testSupervisor(t, newRecordingInjector())
	ctx, cancel := context.WithCancel(context.Background())
	ep, err := sup.Start(ctx)
	require.NoError(t, err)
	cancel()

	conn := dialViewer(t, ep, protocol.PlatformMac)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = protocol.ReadFrame(conn)
	require.NoError(t, err)
}

func TestInputReachesInjector(t *testing.T) {
	inj := newRecordingInjector()
	sup := testSupervisor(t, inj)
	ep, err := sup.Start(context.Background())
	require.NoError(t, err)

	conn := dialViewer(t, ep, protocol.PlatformWindows)
	require.NoError(t, protocol.WriteInputEvent(conn, protocol.InputEvent{
		Code: protocol.MouseMove, Action: protocol.ActionDown, X: 12, Y: 34,
	}))

	select {
	case got := <-inj.events:
		assert.Equal(t, "move 12,34", got)
	case <-time.After(5 * time.Second):
		t.Fatal("no input injected")
	}
}

// offsetGrabber serves a pattern while reporting the projection of a
// 3840x2160 display to the right of a 1920 wide primary, halved on capture.
type offsetGrabber struct {
	*capture.PatternGrabber
}

func (offsetGrabber) Projection() capture.Projection {
	return capture.Projection{Origin: image.Pt(1920, 0), ScaleX: 2, ScaleY: 2}
}

func TestPointerProjectedOntoScreen(t *testing.T) {
	inj := newRecordingInjector()
	sup := NewSupervisor(Config{
		Addr:        "127.0.0.1:0",
		Grabber:     offsetGrabber{&capture.PatternGrabber{Width: 64, Height: 48}},
		Interval:    10 * time.Millisecond,
		NewInjector: func() input.Injector { return inj },
		StopTimeout: time.Second,
		Logger:      quietLogger(),
	})
	t.Cleanup(func() { sup.Stop() })
	ep, err := sup.Start(context.Background())
	require.NoError(t, err)

	conn := dialViewer(t, ep, protocol.PlatformWindows)
	require.NoError(t, protocol.WriteInputEvent(conn, protocol.InputEvent{
		Code: protocol.MouseMove, X: 1000, Y: 500,
	}))
	require.NoError(t, protocol.WriteInputEvent(conn, protocol.InputEvent{
		Code: protocol.MouseLeft, Action: protocol.ActionDown, X: 10, Y: 20,
	}))

	var got []string
	for len(got) < 3 {
		select {
		case ev := <-inj.events:
			got = append(got, ev)
		case <-time.After(5 * time.Second):
			t.Fatalf("injected %v", got)
		}
	}
	assert.Equal(t, []string{"move 3920,1000", "move 1940,40", "left true"}, got)
}

func TestNewViewerReplacesOld(t *testing.T) {
	sup := testSupervisor(t, newRecordingInjector())
	ep, err := sup.Start(context.Background())
	require.NoError(t, err)

	old := dialViewer(t, ep, protocol.PlatformWindows)
	old.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = protocol.ReadFrame(old)
	require.NoError(t, err)

	fresh := dialViewer(t, ep, protocol.PlatformWindows)
	fresh.SetReadDeadline(time.Now().Add(5 * time.Second))
	f, err := protocol.ReadFrame(fresh)
	require.NoError(t, err)
	assert.Equal(t, protocol.FrameFull, f.Kind, "each viewer starts from a full frame")

	for {
		if _, err := protocol.ReadFrame(old); err != nil {
			break
		}
	}
	assert.Equal(t, 2, sup.Current().Stats().Viewers)
}

func TestUnknownPlatformClosesViewer(t *testing.T) {
	sup := testSupervisor(t, newRecordingInjector())
	ep, err := sup.Start(context.Background())
	require.NoError(t, err)

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", fmt.Sprint(ep.Port)))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("bsd"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = protocol.ReadFrame(conn)
	assert.ErrorIs(t, err, protocol.ErrConnectionLost)
	assert.True(t, sup.Active(), "a bad viewer does not end the session")
}
