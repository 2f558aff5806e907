// Package input translates frame-channel input events into host input
// and back. Keyboard codes are platform scan codes; they are mapped to
// logical key names through one shared table with a column per platform.
package input

import (
	"errors"
	"fmt"

	"github.com/avaropoint/mcc/internal/protocol"
)

// ErrUnmappedKey reports a scan code with no entry in the platform table.
// The event is dropped; the relay keeps going.
var ErrUnmappedKey = errors.New("unmapped key code")

// Key is a logical key. Shifted is the character produced with shift
// held, empty when shift does not change the key.
type Key struct {
	Name    string
	Shifted string
}

// keyRow ties a logical key to its code on each platform. -1 marks a key
// the platform has no code for.
type keyRow struct {
	name    string
	shifted string
	win     int // PC/AT set-1 scan code
	osx     int // macOS virtual key code
	x11     int // X11 keycode (evdev + 8)
}

// Adding a platform means adding a column here and a case in column().
var keyTable = []keyRow{
	{"esc", "", 1, 53, 9},
	{"1", "!", 2, 18, 10},
	{"2", "@", 3, 19, 11},
	{"3", "#", 4, 20, 12},
	{"4", "$", 5, 21, 13},
	{"5", "%", 6, 23, 14},
	{"6", "^", 7, 22, 15},
	{"7", "&", 8, 26, 16},
	{"8", "*", 9, 28, 17},
	{"9", "(", 10, 25, 18},
	{"0", ")", 11, 29, 19},
	{"-", "_", 12, 27, 20},
	{"=", "+", 13, 24, 21},
	{"backspace", "", 14, 51, 22},
	{"tab", "", 15, 48, 23},
	{"q", "Q", 16, 12, 24},
	{"w", "W", 17, 13, 25},
	{"e", "E", 18, 14, 26},
	{"r", "R", 19, 15, 27},
	{"t", "T", 20, 17, 28},
	{"y", "Y", 21, 16, 29},
	{"u", "U", 22, 32, 30},
	{"i", "I", 23, 34, 31},
	{"o", "O", 24, 31, 32},
	{"p", "P", 25, 35, 33},
	{"[", "{", 26, 33, 34},
	{"]", "}", 27, 30, 35},
	{"enter", "", 28, 36, 36},
	{"ctrl", "", 29, 59, 37},
	{"a", "A", 30, 0, 38},
	{"s", "S", 31, 1, 39},
	{"d", "D", 32, 2, 40},
	{"f", "F", 33, 3, 41},
	{"g", "G", 34, 5, 42},
	{"h", "H", 35, 4, 43},
	{"j", "J", 36, 38, 44},
	{"k", "K", 37, 40, 45},
	{"l", "L", 38, 37, 46},
	{";", ":", 39, 41, 47},
	{"'", "\"", 40, 39, 48},
	{"`", "~", 41, 50, 49},
	{"shift", "", 42, 56, 50},
	{"\\", "|", 43, 42, 51},
	{"z", "Z", 44, 6, 52},
	{"x", "X", 45, 7, 53},
	{"c", "C", 46, 8, 54},
	{"v", "V", 47, 9, 55},
	{"b", "B", 48, 11, 56},
	{"n", "N", 49, 45, 57},
	{"m", "M", 50, 46, 58},
	{",", "<", 51, 43, 59},
	{".", ">", 52, 47, 60},
	{"/", "?", 53, 44, 61},
	{"rshift", "", 54, 60, 62},
	{"kpmultiply", "", 55, 67, 63},
	{"alt", "", 56, 58, 64},
	{"space", "", 57, 49, 65},
	{"capslock", "", 58, 57, 66},
	{"f1", "", 59, 122, 67},
	{"f2", "", 60, 120, 68},
	{"f3", "", 61, 99, 69},
	{"f4", "", 62, 118, 70},
	{"f5", "", 63, 96, 71},
	{"f6", "", 64, 97, 72},
	{"f7", "", 65, 98, 73},
	{"f8", "", 66, 100, 74},
	{"f9", "", 67, 101, 75},
	{"f10", "", 68, 109, 76},
	{"numlock", "", 69, 71, 77},
	{"scrolllock", "", 70, -1, 78},
	{"home", "", 71, 115, 110},
	{"up", "", 72, 126, 111},
	{"pageup", "", 73, 116, 112},
	{"kpminus", "", 74, 78, 82},
	{"left", "", 75, 123, 113},
	{"right", "", 77, 124, 114},
	{"kpplus", "", 78, 69, 86},
	{"end", "", 79, 119, 115},
	{"down", "", 80, 125, 116},
	{"pagedown", "", 81, 121, 117},
	{"insert", "", 82, 114, 118},
	{"delete", "", 83, 117, 119},
	{"f11", "", 87, 103, 95},
	{"f12", "", 88, 111, 96},
	{"rctrl", "", -1, 62, 105},
	{"ralt", "", -1, 61, 108},
	{"cmd", "", 91, 55, 133},
	{"rcmd", "", 92, 54, 134},
	{"menu", "", 93, -1, 135},
}

func (r keyRow) column(platform string) int {
	switch platform {
	case protocol.PlatformWindows:
		return r.win
	case protocol.PlatformMac:
		return r.osx
	case protocol.PlatformX11:
		return r.x11
	}
	return -1
}

// Keymap is the code table of one platform.
type Keymap struct {
	platform string
	byCode   map[int]Key
	byName   map[string]int
}

// ForPlatform builds the keymap for a platform identifier.
func ForPlatform(platform string) (*Keymap, error) {
	if !protocol.ValidPlatform(platform) {
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
	km := &Keymap{
		platform: platform,
		byCode:   make(map[int]Key, len(keyTable)),
		byName:   make(map[string]int, len(keyTable)),
	}
	for _, row := range keyTable {
		code := row.column(platform)
		if code < 0 {
			continue
		}
		km.byCode[code] = Key{Name: row.name, Shifted: row.shifted}
		km.byName[row.name] = code
	}
	return km, nil
}

// Platform returns the platform identifier the map was built for.
func (k *Keymap) Platform() string { return k.platform }

// Lookup translates a scan code into a key.
func (k *Keymap) Lookup(code int) (Key, error) {
	key, ok := k.byCode[code]
	if !ok {
		return Key{}, fmt.Errorf("%w: %d on %s", ErrUnmappedKey, code, k.platform)
	}
	return key, nil
}

// Code returns the scan code of a logical key name.
func (k *Keymap) Code(name string) (uint8, bool) {
	code, ok := k.byName[name]
	if !ok || code >= int(protocol.MouseThreshold) {
		return 0, false
	}
	return uint8(code), true
}

// IsShift reports whether name is one of the shift keys.
func IsShift(name string) bool {
	return name == "shift" || name == "rshift"
}
