package input

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/avaropoint/mcc/internal/protocol"
)

// DefaultMoveInterval rate-limits pointer motion to the capture period.
const DefaultMoveInterval = 50 * time.Millisecond

// Sender writes viewer input events to the frame channel. Keys are
// encoded with the viewer's own platform table; the host decodes them
// with the same table after the platform handshake.
type Sender struct {
	w      io.Writer
	keymap *Keymap

	// MoveInterval is the minimum gap between motion events.
	MoveInterval time.Duration

	mu       sync.Mutex
	lastMove time.Time
	now      func() time.Time
}

// NewSender creates a sender for a viewer on platform.
func NewSender(w io.Writer, platform string) (*Sender, error) {
	km, err := ForPlatform(platform)
	if err != nil {
		return nil, err
	}
	return &Sender{w: w, keymap: km, MoveInterval: DefaultMoveInterval, now: time.Now}, nil
}

func (s *Sender) write(ev protocol.InputEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return protocol.WriteInputEvent(s.w, ev)
}

// Move sends a pointer motion event unless one was sent less than
// MoveInterval ago. It reports whether the event was written.
func (s *Sender) Move(x, y int) (bool, error) {
	s.mu.Lock()
	now := s.now()
	if !s.lastMove.IsZero() && now.Sub(s.lastMove) < s.MoveInterval {
		s.mu.Unlock()
		return false, nil
	}
	s.lastMove = now
	s.mu.Unlock()

	return true, s.write(protocol.InputEvent{Code: protocol.MouseMove, X: clampCoord(x), Y: clampCoord(y)})
}

// Button sends a press or release of b at (x, y).
func (s *Sender) Button(b Button, down bool, x, y int) error {
	code := protocol.MouseLeft
	if b == ButtonRight {
		code = protocol.MouseRight
	}
	return s.write(protocol.InputEvent{Code: code, Action: action(down), X: clampCoord(x), Y: clampCoord(y)})
}

// Scroll sends one wheel event at (x, y).
func (s *Sender) Scroll(up bool, x, y int) error {
	dir := protocol.ScrollDown
	if up {
		dir = protocol.ScrollUp
	}
	return s.write(protocol.InputEvent{Code: protocol.MouseScroll, Action: dir, X: clampCoord(x), Y: clampCoord(y)})
}

// Key sends a press or release of the logical key name.
func (s *Sender) Key(name string, down bool) error {
	code, ok := s.keymap.Code(name)
	if !ok {
		return fmt.Errorf("%w: key %q on %s", ErrUnmappedKey, name, s.keymap.Platform())
	}
	return s.KeyCode(code, down)
}

// KeyCode sends a raw platform scan code.
func (s *Sender) KeyCode(code uint8, down bool) error {
	if code >= protocol.MouseThreshold {
		return fmt.Errorf("%w: key code %d is in the mouse range", ErrUnmappedKey, code)
	}
	return s.write(protocol.InputEvent{Code: code, Action: action(down)})
}

func action(down bool) uint8 {
	if down {
		return protocol.ActionDown
	}
	return protocol.ActionUp
}

func clampCoord(v int) uint16 {
	return uint16(min(max(v, 0), 0xffff))
}
