package shell

import "github.com/deskhand/deskhand/pkg/fault"

// SpecialKey names a key or control code that can be injected into the PTY.
type SpecialKey string

const (
	KeyEnter     SpecialKey = "Enter"
	KeyTab       SpecialKey = "Tab"
	KeyBackspace SpecialKey = "Backspace"
	KeyEscape    SpecialKey = "Escape"
	KeyUp        SpecialKey = "Up"
	KeyDown      SpecialKey = "Down"
	KeyRight     SpecialKey = "Right"
	KeyLeft      SpecialKey = "Left"
	KeyHome      SpecialKey = "Home"
	KeyEnd       SpecialKey = "End"
	KeyPageUp    SpecialKey = "PageUp"
	KeyPageDown  SpecialKey = "PageDown"
	KeyDelete    SpecialKey = "Delete"
	KeyInsert    SpecialKey = "Insert"
	KeyCtrlC     SpecialKey = "CtrlC"
	KeyCtrlD     SpecialKey = "CtrlD"
	KeyCtrlZ     SpecialKey = "CtrlZ"
	KeyCtrlL     SpecialKey = "CtrlL"
)

var keyBytes = map[SpecialKey][]byte{
	KeyEnter:     []byte("\r"),
	KeyTab:       []byte("\t"),
	KeyBackspace: {0x7F},
	KeyEscape:    {0x1B},
	KeyUp:        []byte("\x1b[A"),
	KeyDown:      []byte("\x1b[B"),
	KeyRight:     []byte("\x1b[C"),
	KeyLeft:      []byte("\x1b[D"),
	KeyHome:      []byte("\x1b[H"),
	KeyEnd:       []byte("\x1b[F"),
	KeyPageUp:    []byte("\x1b[5~"),
	KeyPageDown:  []byte("\x1b[6~"),
	KeyDelete:    []byte("\x1b[3~"),
	KeyInsert:    []byte("\x1b[2~"),
	KeyCtrlC:     {0x03},
	KeyCtrlD:     {0x04},
	KeyCtrlZ:     {0x1A},
	KeyCtrlL:     {0x0C},
}

// Bytes returns the canonical byte sequence for a special key.
func (k SpecialKey) Bytes() ([]byte, error) {
	// Accept the dashed aliases too (Ctrl-C etc.).
	switch k {
	case "Ctrl-C":
		k = KeyCtrlC
	case "Ctrl-D":
		k = KeyCtrlD
	case "Ctrl-Z":
		k = KeyCtrlZ
	case "Ctrl-L":
		k = KeyCtrlL
	case "KeyUp":
		k = KeyUp
	case "KeyDown":
		k = KeyDown
	case "KeyLeft":
		k = KeyLeft
	case "KeyRight":
		k = KeyRight
	}
	b, ok := keyBytes[k]
	if !ok {
		return nil, fault.New(fault.ConfigError, "unknown special key: %s", string(k))
	}
	return b, nil
}
