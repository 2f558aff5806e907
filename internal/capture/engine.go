package capture

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/avaropoint/mcc/internal/protocol"
)

// DefaultInterval is the capture period.
const DefaultInterval = 50 * time.Millisecond

// State is the engine lifecycle state.
type State int

const (
	StateIdle State = iota
	StateCapturing
)

func (s State) String() string {
	if s == StateCapturing {
		return "capturing"
	}
	return "idle"
}

// Config configures an Engine.
type Config struct {
	Grabber  Grabber
	Strategy Strategy // defaults to XOR diffs over PNG
	Interval time.Duration
	Logger   *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Strategy == nil {
		c.Strategy = NewStrategy(PNGCodec{})
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Stats counts what an engine has sent.
type Stats struct {
	Full    int
	Diff    int
	Skipped int
	Errors  int
	Bytes   int64
}

// Engine runs the capture loop for one frame connection.
type Engine struct {
	cfg Config
	log *slog.Logger

	mu    sync.Mutex
	state State
	ref   *image.NRGBA
	stats Stats
}

// NewEngine creates an idle engine.
func NewEngine(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{cfg: cfg, log: cfg.Logger.With("component", "capture")}
}

// Run captures until ctx is cancelled or send fails. The first successful
// grab is sent full and becomes the reference. After that, each tick
// grabs again, skips unchanged images and sends the new image through the
// strategy. Grab and encode failures skip the tick. A send failure ends
// the loop and is returned.
func (e *Engine) Run(ctx context.Context, send func(protocol.Frame) error) error {
	e.mu.Lock()
	e.state = StateCapturing
	e.ref = nil
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.state = StateIdle
		e.mu.Unlock()
	}()

	if err := e.tick(send); err != nil {
		return err
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.tick(send); err != nil {
				return err
			}
		}
	}
}

// tick performs one capture step. Only transport errors are returned.
func (e *Engine) tick(send func(protocol.Frame) error) error {
	cur, err := e.cfg.Grabber.Grab()
	if err != nil {
		e.recordError(err)
		return nil
	}

	e.mu.Lock()
	ref := e.ref
	e.mu.Unlock()

	if ref != nil && samePixels(ref, cur) {
		e.mu.Lock()
		e.stats.Skipped++
		e.mu.Unlock()
		return nil
	}

	frame, err := e.cfg.Strategy.Encode(ref, cur)
	if err != nil {
		e.recordError(err)
		return nil
	}

	if err := send(frame); err != nil {
		return err
	}

	e.mu.Lock()
	e.ref = cur
	if frame.Kind == protocol.FrameDiff {
		e.stats.Diff++
	} else {
		e.stats.Full++
	}
	e.stats.Bytes += int64(len(frame.Payload))
	e.mu.Unlock()
	return nil
}

func (e *Engine) recordError(err error) {
	e.mu.Lock()
	e.stats.Errors++
	n := e.stats.Errors
	e.mu.Unlock()
	// Persistent failures (no display, missing permission) repeat every
	// tick; log the first and then every 100th.
	if n == 1 || n%100 == 0 {
		if !errors.Is(err, ErrCapture) {
			err = errors.Join(ErrCapture, err)
		}
		e.log.Warn("capture tick skipped", "error", err, "failures", n)
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Reference returns a copy of the last transmitted image, or nil.
func (e *Engine) Reference() *image.NRGBA {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneNRGBA(e.ref)
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
