package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/avaropoint/mcc/internal/protocol"
)

// DefaultScrollSensitivity is the wheel steps per scroll event.
const DefaultScrollSensitivity = 5

// Relay reads input events from a viewer and replays them through an
// Injector. It is owned by a single goroutine.
type Relay struct {
	keymap   *Keymap
	injector Injector
	log      *slog.Logger

	// ScrollSensitivity is the wheel steps per scroll event.
	ScrollSensitivity int

	shift bool
}

// NewRelay creates a relay for events coming from a viewer on platform.
func NewRelay(platform string, injector Injector, logger *slog.Logger) (*Relay, error) {
	km, err := ForPlatform(platform)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		keymap:            km,
		injector:          injector,
		log:               logger.With("component", "input", "platform", platform),
		ScrollSensitivity: DefaultScrollSensitivity,
	}, nil
}

// Run processes events from r until ctx is done or r fails. Unmapped
// codes and injection failures are logged and the loop continues. The
// read error that ended the loop is returned.
func (r *Relay) Run(ctx context.Context, src io.Reader) error {
	for {
		ev, err := protocol.ReadInputEvent(src)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := r.Process(ev); err != nil {
			if errors.Is(err, ErrUnmappedKey) {
				r.log.Warn("dropping input event", "code", ev.Code, "action", ev.Action, "error", err)
			} else {
				r.log.Debug("input injection failed", "code", ev.Code, "error", err)
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Process replays a single event.
func (r *Relay) Process(ev protocol.InputEvent) error {
	if ev.IsMouse() {
		return r.mouse(ev)
	}
	return r.key(int(ev.Code), ev.Action)
}

func (r *Relay) mouse(ev protocol.InputEvent) error {
	x, y := int(ev.X), int(ev.Y)
	switch ev.Code {
	case protocol.MouseMove:
		return r.injector.MoveMouse(x, y)
	case protocol.MouseLeft, protocol.MouseRight:
		b := ButtonLeft
		if ev.Code == protocol.MouseRight {
			b = ButtonRight
		}
		if err := r.injector.MoveMouse(x, y); err != nil {
			return err
		}
		return r.injector.MouseButton(b, ev.Action == protocol.ActionDown)
	case protocol.MouseScroll:
		amount := r.ScrollSensitivity
		if ev.Action == protocol.ScrollDown {
			amount = -amount
		}
		if err := r.injector.MoveMouse(x, y); err != nil {
			return err
		}
		return r.injector.Scroll(amount)
	}
	return fmt.Errorf("%w: mouse code %d", ErrUnmappedKey, ev.Code)
}

func (r *Relay) key(code int, action uint8) error {
	key, err := r.keymap.Lookup(code)
	if err != nil {
		return err
	}
	down := action == protocol.ActionDown

	if IsShift(key.Name) {
		r.shift = down
		return nil
	}

	name := key.Name
	if r.shift && key.Shifted != "" {
		name = key.Shifted
	}
	if down {
		return r.injector.KeyDown(name)
	}
	return r.injector.KeyUp(name)
}

// Shift reports the relay's current shift state.
func (r *Relay) Shift() bool { return r.shift }
