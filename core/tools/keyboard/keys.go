package keyboard

import (
	"fmt"
	"strings"

	"github.com/micmonay/keybd_event"
)

// Combo is a single key press with optional modifiers, e.g. ctrl+home.
type Combo struct {
	Key   string
	Ctrl  bool
	Alt   bool
	Shift bool
}

func (c Combo) String() string {
	parts := []string{}
	if c.Ctrl {
		parts = append(parts, "ctrl")
	}
	if c.Alt {
		parts = append(parts, "alt")
	}
	if c.Shift {
		parts = append(parts, "shift")
	}
	return strings.Join(append(parts, c.Key), "+")
}

var keyCodes = map[string]int{
	"enter":     keybd_event.VK_ENTER,
	"tab":       keybd_event.VK_TAB,
	"esc":       keybd_event.VK_ESC,
	"space":     keybd_event.VK_SPACE,
	"backspace": keybd_event.VK_BACKSPACE,
	"delete":    keybd_event.VK_DELETE,
	"up":        keybd_event.VK_UP,
	"down":      keybd_event.VK_DOWN,
	"left":      keybd_event.VK_LEFT,
	"right":     keybd_event.VK_RIGHT,
	"home":      keybd_event.VK_HOME,
	"end":       keybd_event.VK_END,
	"a":         keybd_event.VK_A,
	"c":         keybd_event.VK_C,
	"v":         keybd_event.VK_V,
	"x":         keybd_event.VK_X,
	"y":         keybd_event.VK_Y,
	"z":         keybd_event.VK_Z,
}

var keyAliases = map[string]string{
	"return":    "enter",
	"escape":    "esc",
	"del":       "delete",
	"control":   "ctrl",
	"spacebar":  "space",
	"space bar": "space",
}

// ParseCombo parses strings like "ctrl+c", "shift+tab" or "enter".
func ParseCombo(s string) (Combo, error) {
	combo := Combo{}
	for _, part := range strings.Split(strings.ToLower(strings.TrimSpace(s)), "+") {
		part = strings.TrimSpace(part)
		if alias, ok := keyAliases[part]; ok {
			part = alias
		}
		switch part {
		case "ctrl":
			combo.Ctrl = true
		case "alt":
			combo.Alt = true
		case "shift":
			combo.Shift = true
		case "":
			return Combo{}, fmt.Errorf("empty key in %q", s)
		default:
			if combo.Key != "" {
				return Combo{}, fmt.Errorf("more than one key in %q", s)
			}
			if _, ok := keyCodes[part]; !ok {
				return Combo{}, fmt.Errorf("unsupported key %q", part)
			}
			combo.Key = part
		}
	}
	if combo.Key == "" {
		return Combo{}, fmt.Errorf("no key in %q", s)
	}
	return combo, nil
}
