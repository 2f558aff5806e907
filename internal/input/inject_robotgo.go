//go:build robotgo

package input

import (
	"log/slog"

	"github.com/go-vgo/robotgo"
)

// NewInjector returns the injector compiled into this build.
func NewInjector(logger *slog.Logger) Injector {
	return &RobotInjector{}
}

// RobotInjector replays input through robotgo's native bindings.
// It needs cgo and is selected with -tags robotgo.
type RobotInjector struct{}

func (RobotInjector) MoveMouse(x, y int) error {
	robotgo.Move(x, y)
	return nil
}

func (RobotInjector) MouseButton(b Button, down bool) error {
	state := "up"
	if down {
		state = "down"
	}
	return robotgo.Toggle(b.String(), state)
}

func (RobotInjector) Scroll(amount int) error {
	robotgo.Scroll(0, amount)
	return nil
}

func (RobotInjector) KeyDown(name string) error {
	return robotgo.KeyToggle(robotgoKey(name), "down")
}

func (RobotInjector) KeyUp(name string) error {
	return robotgo.KeyToggle(robotgoKey(name), "up")
}

var robotgoKeys = map[string]string{
	"cmd": "cmd", "rcmd": "rcmd", "ralt": "ralt", "rctrl": "rctrl",
	"capslock": "capslock", "numlock": "num_lock", "scrolllock": "scroll_lock",
	"kpmultiply": "num*", "kpminus": "num-", "kpplus": "num+",
}

func robotgoKey(name string) string {
	if k, ok := robotgoKeys[name]; ok {
		return k
	}
	return name
}
