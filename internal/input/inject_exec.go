package input

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// errUnsupported reports an action the platform tool cannot perform.
var errUnsupported = errors.New("not supported by input tool")

// ExecInjector replays input through the platform's command-line tools:
// xdotool on Linux, cliclick and osascript on macOS, PowerShell on
// Windows.
type ExecInjector struct {
	goos  string
	scale int // screen pixels per cursor point (Retina captures are 2x)
	run   func(name string, args ...string) error
	log   *slog.Logger

	mu      sync.Mutex
	x, y    int
	checked map[string]bool
	osx     *Keymap
	held    map[string]bool // Windows modifiers currently down
}

// NewExecInjector creates an injector for the running OS.
func NewExecInjector(logger *slog.Logger) *ExecInjector {
	return newExecInjector(runtime.GOOS, runCommand, logger)
}

func newExecInjector(goos string, run func(string, ...string) error, logger *slog.Logger) *ExecInjector {
	if logger == nil {
		logger = slog.Default()
	}
	scale := 1
	if goos == "darwin" {
		scale = 2
	}
	osx, _ := ForPlatform("osx")
	return &ExecInjector{
		goos:    goos,
		scale:   scale,
		run:     run,
		log:     logger.With("component", "inject"),
		checked: make(map[string]bool),
		osx:     osx,
		held:    make(map[string]bool),
	}
}

func runCommand(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// tool runs a command-line tool, warning once when it is missing.
func (e *ExecInjector) tool(name string, args ...string) error {
	e.mu.Lock()
	_, seen := e.checked[name]
	if !seen {
		e.checked[name] = true
	}
	e.mu.Unlock()

	err := e.run(name, args...)
	if err != nil && !seen && errors.Is(err, exec.ErrNotFound) {
		e.log.Warn("input tool not found; install it to enable remote control", "tool", name, "hint", installHint(name))
	}
	return err
}

func installHint(tool string) string {
	switch tool {
	case "xdotool":
		return "sudo apt install xdotool"
	case "cliclick":
		return "brew install cliclick, then grant Accessibility permissions"
	}
	return ""
}

func (e *ExecInjector) MoveMouse(x, y int) error {
	e.mu.Lock()
	e.x, e.y = x, y
	e.mu.Unlock()

	switch e.goos {
	case "linux":
		return e.tool("xdotool", "mousemove", strconv.Itoa(x), strconv.Itoa(y))
	case "darwin":
		return e.tool("cliclick", "m:"+e.point(x, y))
	case "windows":
		return e.tool("powershell", "-NoProfile", "-Command", windowsMouseScript(x, y, "", 0))
	}
	return fmt.Errorf("mouse move on %s: %w", e.goos, errUnsupported)
}

func (e *ExecInjector) MouseButton(b Button, down bool) error {
	e.mu.Lock()
	x, y := e.x, e.y
	e.mu.Unlock()

	switch e.goos {
	case "linux":
		verb := "mouseup"
		if down {
			verb = "mousedown"
		}
		btn := "1"
		if b == ButtonRight {
			btn = "3"
		}
		return e.tool("xdotool", verb, btn)
	case "darwin":
		if b == ButtonRight {
			// cliclick has no right-button down/up; click on release.
			if down {
				return nil
			}
			return e.tool("cliclick", "rc:"+e.point(x, y))
		}
		verb := "du:"
		if down {
			verb = "dd:"
		}
		return e.tool("cliclick", verb+e.point(x, y))
	case "windows":
		flag := map[[2]bool]string{
			{false, true}:  "0x0002",
			{false, false}: "0x0004",
			{true, true}:   "0x0008",
			{true, false}:  "0x0010",
		}[[2]bool{b == ButtonRight, down}]
		return e.tool("powershell", "-NoProfile", "-Command", windowsMouseScript(x, y, flag, 0))
	}
	return fmt.Errorf("mouse button on %s: %w", e.goos, errUnsupported)
}

func (e *ExecInjector) Scroll(amount int) error {
	if amount == 0 {
		return nil
	}
	e.mu.Lock()
	x, y := e.x, e.y
	e.mu.Unlock()

	switch e.goos {
	case "linux":
		btn := "4"
		if amount < 0 {
			btn = "5"
		}
		n := amount
		if n < 0 {
			n = -n
		}
		return e.tool("xdotool", "click", "--repeat", strconv.Itoa(n), btn)
	case "windows":
		return e.tool("powershell", "-NoProfile", "-Command", windowsMouseScript(x, y, "0x0800", amount*120))
	}
	return fmt.Errorf("scroll on %s: %w", e.goos, errUnsupported)
}

func (e *ExecInjector) KeyDown(name string) error {
	switch e.goos {
	case "linux":
		return e.tool("xdotool", "keydown", xdotoolKey(name))
	case "darwin":
		if mod, ok := cliclickModifiers[name]; ok {
			return e.tool("cliclick", "kd:"+mod)
		}
		return e.tool("osascript", "-e", e.appleScriptKey(name))
	case "windows":
		if _, ok := sendKeysModifiers[name]; ok {
			e.hold(name, true)
			return nil
		}
		if vk, ok := windowsVirtualKeys[name]; ok {
			return e.tool("powershell", "-NoProfile", "-Command", windowsKeybdScript(vk, true))
		}
		return e.tool("powershell", "-NoProfile", "-Command", windowsSendKeysScript(e.sendKeysPrefix(name), name))
	}
	return fmt.Errorf("key down on %s: %w", e.goos, errUnsupported)
}

// KeyUp releases a key. macOS and Windows type on key down, so only
// modifiers and the Windows logo and menu keys have anything to release
// there.
func (e *ExecInjector) KeyUp(name string) error {
	switch e.goos {
	case "linux":
		return e.tool("xdotool", "keyup", xdotoolKey(name))
	case "darwin":
		if mod, ok := cliclickModifiers[name]; ok {
			return e.tool("cliclick", "ku:"+mod)
		}
		return nil
	case "windows":
		if _, ok := sendKeysModifiers[name]; ok {
			e.hold(name, false)
			return nil
		}
		if vk, ok := windowsVirtualKeys[name]; ok {
			return e.tool("powershell", "-NoProfile", "-Command", windowsKeybdScript(vk, false))
		}
		return nil
	}
	return fmt.Errorf("key up on %s: %w", e.goos, errUnsupported)
}

func (e *ExecInjector) hold(name string, down bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if down {
		e.held[name] = true
	} else {
		delete(e.held, name)
	}
}

// sendKeysPrefix returns the SendKeys modifier prefix for the keys held
// down. Single characters already arrive shifted, so shift only applies
// to named keys such as tab or the arrows.
func (e *ExecInjector) sendKeysPrefix(name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var prefix string
	for _, mod := range []string{"^", "%", "+"} {
		if mod == "+" && len([]rune(name)) == 1 {
			continue
		}
		for held := range e.held {
			if sendKeysModifiers[held] == mod {
				prefix += mod
				break
			}
		}
	}
	return prefix
}

func (e *ExecInjector) point(x, y int) string {
	return fmt.Sprintf("%d,%d", x/e.scale, y/e.scale)
}

// ---------------------------------------------------------------------------
// Linux: xdotool keysyms
// ---------------------------------------------------------------------------

var xdotoolKeysyms = map[string]string{
	"esc": "Escape", "backspace": "BackSpace", "tab": "Tab", "enter": "Return",
	"ctrl": "Control_L", "rctrl": "Control_R", "shift": "Shift_L", "rshift": "Shift_R",
	"alt": "Alt_L", "ralt": "Alt_R", "cmd": "Super_L", "rcmd": "Super_R", "menu": "Menu",
	"space": "space", "capslock": "Caps_Lock", "numlock": "Num_Lock", "scrolllock": "Scroll_Lock",
	"home": "Home", "end": "End", "pageup": "Prior", "pagedown": "Next",
	"up": "Up", "down": "Down", "left": "Left", "right": "Right",
	"insert": "Insert", "delete": "Delete",
	"-": "minus", "=": "equal", "[": "bracketleft", "]": "bracketright", "\\": "backslash",
	";": "semicolon", "'": "apostrophe", "`": "grave", ",": "comma", ".": "period", "/": "slash",
	"!": "exclam", "@": "at", "#": "numbersign", "$": "dollar", "%": "percent", "^": "asciicircum",
	"&": "ampersand", "*": "asterisk", "(": "parenleft", ")": "parenright", "_": "underscore",
	"+": "plus", "{": "braceleft", "}": "braceright", "|": "bar", ":": "colon", "\"": "quotedbl",
	"~": "asciitilde", "<": "less", ">": "greater", "?": "question",
	"kpmultiply": "KP_Multiply", "kpminus": "KP_Subtract", "kpplus": "KP_Add",
}

func xdotoolKey(name string) string {
	if sym, ok := xdotoolKeysyms[name]; ok {
		return sym
	}
	if len(name) > 1 && name[0] == 'f' {
		return "F" + name[1:]
	}
	return name
}

// ---------------------------------------------------------------------------
// macOS: cliclick modifiers and AppleScript key codes
// ---------------------------------------------------------------------------

var cliclickModifiers = map[string]string{
	"shift": "shift", "rshift": "shift",
	"ctrl": "ctrl", "rctrl": "ctrl",
	"alt": "alt", "ralt": "alt",
	"cmd": "cmd", "rcmd": "cmd",
}

func (e *ExecInjector) appleScriptKey(name string) string {
	if code, ok := e.osx.Code(name); ok {
		return fmt.Sprintf(`tell application "System Events" to key code %d`, code)
	}
	return fmt.Sprintf(`tell application "System Events" to keystroke "%s"`, strings.ReplaceAll(name, `"`, `\"`))
}

// ---------------------------------------------------------------------------
// Windows: PowerShell
// ---------------------------------------------------------------------------

// windowsMouseScript builds a PowerShell script that moves the cursor to (x, y)
// and optionally fires a mouse_event with the given flags and wheel data.
func windowsMouseScript(x, y int, mouseEventFlag string, data int) string {
	base := fmt.Sprintf(`
Add-Type -AssemblyName System.Windows.Forms
[System.Windows.Forms.Cursor]::Position = New-Object System.Drawing.Point(%d, %d)
`, x, y)
	if mouseEventFlag == "" {
		return base
	}
	return base + fmt.Sprintf(`$signature = @"
[DllImport("user32.dll")]
public static extern void mouse_event(int dwFlags, int dx, int dy, int dwData, int dwExtraInfo);
"@
$mouse = Add-Type -MemberDefinition $signature -Name "MouseEvent" -Namespace "Win32" -PassThru
$mouse::mouse_event(%s, 0, 0, %d, 0)
`, mouseEventFlag, data)
}

// SendKeys cannot press a modifier on its own; held modifiers prefix the
// next key instead.
var sendKeysModifiers = map[string]string{
	"ctrl": "^", "rctrl": "^",
	"alt": "%", "ralt": "%",
	"shift": "+", "rshift": "+",
}

// Keys SendKeys has no syntax for, sent as virtual key codes.
var windowsVirtualKeys = map[string]int{
	"cmd": 0x5B, "rcmd": 0x5C, "menu": 0x5D,
}

// windowsKeybdScript presses or releases a virtual key via keybd_event.
func windowsKeybdScript(vk int, down bool) string {
	flags := 0
	if !down {
		flags = 0x0002 // KEYEVENTF_KEYUP
	}
	return fmt.Sprintf(`$signature = @"
[DllImport("user32.dll")]
public static extern void keybd_event(byte bVk, byte bScan, int dwFlags, int dwExtraInfo);
"@
$kb = Add-Type -MemberDefinition $signature -Name "KeybdEvent" -Namespace "Win32" -PassThru
$kb::keybd_event(0x%02X, 0, %d, 0)
`, vk, flags)
}

var sendKeysNames = map[string]string{
	"enter": "{ENTER}", "tab": "{TAB}", "backspace": "{BACKSPACE}", "esc": "{ESC}",
	"up": "{UP}", "down": "{DOWN}", "left": "{LEFT}", "right": "{RIGHT}",
	"home": "{HOME}", "end": "{END}", "pageup": "{PGUP}", "pagedown": "{PGDN}",
	"insert": "{INSERT}", "delete": "{DELETE}", "capslock": "{CAPSLOCK}",
	"numlock": "{NUMLOCK}", "scrolllock": "{SCROLLLOCK}", "space": " ",
	"kpmultiply": "{MULTIPLY}", "kpminus": "{SUBTRACT}", "kpplus": "{ADD}",
	"+": "{+}", "^": "{^}", "%": "{%}", "~": "{~}", "(": "{(}", ")": "{)}",
	"{": "{{}", "}": "{}}", "[": "{[}", "]": "{]}",
}

func windowsSendKeysScript(prefix, name string) string {
	key, ok := sendKeysNames[name]
	switch {
	case ok:
	case len(name) > 1 && name[0] == 'f':
		key = "{" + strings.ToUpper(name) + "}"
	default:
		key = name
	}
	return fmt.Sprintf(`
Add-Type -AssemblyName System.Windows.Forms
[System.Windows.Forms.SendKeys]::SendWait("%s")
`, strings.ReplaceAll(prefix+key, `"`, "`\""))
}
