package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// InputEventSize is the fixed wire size of an input event:
// [1B code][1B action][2B x big-endian][2B y big-endian]
const InputEventSize = 6

// Key and button actions.
const (
	ActionDown uint8 = 100
	ActionUp   uint8 = 117
)

// Scroll direction, carried in the action byte of a MouseScroll event.
const (
	ScrollDown uint8 = 0
	ScrollUp   uint8 = 1
)

// Codes at or above MouseThreshold are pointer events; everything below
// is a keyboard scan code.
const (
	MouseThreshold uint8 = 200
	MouseLeft      uint8 = 201
	MouseScroll    uint8 = 202
	MouseRight     uint8 = 203
	MouseMove      uint8 = 204
)

// InputEvent is one pointer or keyboard event sent from viewer to host.
type InputEvent struct {
	Code   uint8
	Action uint8
	X      uint16
	Y      uint16
}

// IsMouse reports whether the event is a pointer event.
func (e InputEvent) IsMouse() bool { return e.Code >= MouseThreshold }

// MarshalBinary encodes the event into its 6-byte wire form.
func (e InputEvent) MarshalBinary() ([]byte, error) {
	b := make([]byte, InputEventSize)
	b[0] = e.Code
	b[1] = e.Action
	binary.BigEndian.PutUint16(b[2:4], e.X)
	binary.BigEndian.PutUint16(b[4:6], e.Y)
	return b, nil
}

// UnmarshalBinary decodes a 6-byte wire event.
func (e *InputEvent) UnmarshalBinary(b []byte) error {
	if len(b) != InputEventSize {
		return fmt.Errorf("%w: input event is %d bytes", ErrProtocol, len(b))
	}
	e.Code = b[0]
	e.Action = b[1]
	e.X = binary.BigEndian.Uint16(b[2:4])
	e.Y = binary.BigEndian.Uint16(b[4:6])
	return nil
}

// WriteInputEvent writes one event.
func WriteInputEvent(w io.Writer, e InputEvent) error {
	b, _ := e.MarshalBinary()
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("%w: write input event: %v", ErrConnectionLost, err)
	}
	return nil
}

// ReadInputEvent reads exactly one event.
func ReadInputEvent(r io.Reader) (InputEvent, error) {
	var b [InputEventSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return InputEvent{}, fmt.Errorf("%w: read input event: %v", ErrConnectionLost, err)
	}
	var e InputEvent
	_ = e.UnmarshalBinary(b[:])
	return e, nil
}
