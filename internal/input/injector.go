package input

// Button identifies a mouse button.
type Button int

const (
	ButtonLeft Button = iota
	ButtonRight
)

func (b Button) String() string {
	if b == ButtonRight {
		return "right"
	}
	return "left"
}

// Injector replays input on the host. Key names are the logical names of
// the key table, or the shifted character for shifted keys.
type Injector interface {
	MoveMouse(x, y int) error
	MouseButton(b Button, down bool) error
	// Scroll scrolls by amount wheel steps; positive is up.
	Scroll(amount int) error
	KeyDown(name string) error
	KeyUp(name string) error
}
