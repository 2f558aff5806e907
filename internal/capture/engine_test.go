package capture

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaropoint/mcc/internal/protocol"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedGrabber replays a fixed list of results, then repeats the last.
type scriptedGrabber struct {
	mu    sync.Mutex
	steps []func() (*image.NRGBA, error)
	n     int
}

func (g *scriptedGrabber) Grab() (*image.NRGBA, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := min(g.n, len(g.steps)-1)
	g.n++
	return g.steps[i]()
}

func imageStep(img *image.NRGBA) func() (*image.NRGBA, error) {
	return func() (*image.NRGBA, error) { return cloneNRGBA(img), nil }
}

func errStep() (*image.NRGBA, error) {
	return nil, errors.New("display unavailable")
}

type frameSink struct {
	mu     sync.Mutex
	frames []protocol.Frame
	err    error
}

func (s *frameSink) send(f protocol.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *frameSink) snapshot() []protocol.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Frame(nil), s.frames...)
}

func TestEngineSequence(t *testing.T) {
	g := &PatternGrabber{Width: 160, Height: 120}
	a := g.mustGrab(t)
	b := g.mustGrab(t)
	c := g.mustGrab(t)

	grabber := &scriptedGrabber{steps: []func() (*image.NRGBA, error){
		imageStep(a),
		imageStep(a), // unchanged: skipped
		errStep,      // failed grab: skipped
		imageStep(b),
		imageStep(c),
	}}

	e := NewEngine(Config{Grabber: grabber, Interval: time.Millisecond, Logger: quietLogger()})
	sink := &frameSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, sink.send) }()

	require.Eventually(t, func() bool { return len(sink.snapshot()) >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, StateIdle, e.State())

	frames := sink.snapshot()
	require.Len(t, frames, 3)
	assert.Equal(t, protocol.FrameFull, frames[0].Kind)
	assert.NotEmpty(t, frames[0].Payload)

	// The viewer reconstruction matches each transmitted image.
	rec := NewReconstructor(NewStrategy(PNGCodec{}))
	for i, want := range []*image.NRGBA{a, b, c} {
		got, err := rec.Apply(frames[i])
		require.NoError(t, err)
		assert.True(t, samePixels(want, got), "frame %d", i)
	}
	assert.True(t, samePixels(c, e.Reference()))

	st := e.Stats()
	assert.Equal(t, 3, st.Full+st.Diff)
	assert.GreaterOrEqual(t, st.Skipped, 1)
	assert.Equal(t, 1, st.Errors)
}

func TestEngineSkipsInitialFailures(t *testing.T) {
	img := (&PatternGrabber{Width: 40, Height: 30}).mustGrab(t)
	grabber := &scriptedGrabber{steps: []func() (*image.NRGBA, error){errStep, errStep, imageStep(img)}}

	e := NewEngine(Config{Grabber: grabber, Interval: time.Millisecond, Logger: quietLogger()})
	sink := &frameSink{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx, sink.send) }()

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, protocol.FrameFull, sink.snapshot()[0].Kind)
}

func TestEngineStopsOnSendError(t *testing.T) {
	e := NewEngine(Config{Grabber: &PatternGrabber{Width: 20, Height: 20}, Interval: time.Millisecond, Logger: quietLogger()})
	sink := &frameSink{err: protocol.ErrConnectionLost}

	err := e.Run(context.Background(), sink.send)
	assert.ErrorIs(t, err, protocol.ErrConnectionLost)
	assert.Nil(t, e.Reference())
	assert.Equal(t, StateIdle, e.State())
}

func TestEngineStateWhileRunning(t *testing.T) {
	e := NewEngine(Config{Grabber: &PatternGrabber{Width: 20, Height: 20, Still: true}, Interval: time.Millisecond, Logger: quietLogger()})
	assert.Equal(t, StateIdle, e.State())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx, func(protocol.Frame) error { return nil })
		close(done)
	}()

	require.Eventually(t, func() bool { return e.State() == StateCapturing }, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, 1, e.Stats().Full)
}

func TestReconstructorReset(t *testing.T) {
	rec := NewReconstructor(NewStrategy(PNGCodec{}))
	img := (&PatternGrabber{Width: 10, Height: 10}).mustGrab(t)
	payload, err := PNGCodec{}.Encode(img)
	require.NoError(t, err)

	_, err = rec.Apply(protocol.Frame{Kind: protocol.FrameFull, Payload: payload})
	require.NoError(t, err)
	assert.NotNil(t, rec.Current())

	rec.Reset()
	assert.Nil(t, rec.Current())
	_, err = rec.Apply(protocol.Frame{Kind: protocol.FrameDiff, Payload: payload})
	assert.ErrorIs(t, err, protocol.ErrProtocol)
}
