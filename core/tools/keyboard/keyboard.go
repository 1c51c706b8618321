package keyboard

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
)

// Injector sends key presses and text to whatever window has focus.
type Injector interface {
	Press(combo Combo) error
	Type(text string) error
}

// Keyboard injects keys through the OS virtual keyboard and types text by
// pasting it from the clipboard, restoring the previous clipboard content
// afterwards.
type Keyboard struct {
	kb keybd_event.KeyBonding
	mu sync.Mutex
}

func New() (*Keyboard, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, fmt.Errorf("failed to create virtual keyboard: %w", err)
	}
	if runtime.GOOS == "linux" {
		// uinput needs a moment before the new device accepts events
		time.Sleep(2 * time.Second)
	}
	return &Keyboard{kb: kb}, nil
}

func (k *Keyboard) Press(combo Combo) error {
	code, ok := keyCodes[combo.Key]
	if !ok {
		return fmt.Errorf("unsupported key %q", combo.Key)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	return k.launch(combo.Ctrl, combo.Alt, combo.Shift, code)
}

func (k *Keyboard) Type(text string) error {
	if text == "" {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	original, _ := clipboard.ReadAll()
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	// small sleep to allow clipboard to be ready
	time.Sleep(80 * time.Millisecond)

	if err := k.launch(true, false, false, keybd_event.VK_V); err != nil {
		return fmt.Errorf("failed to paste text: %w", err)
	}

	time.Sleep(120 * time.Millisecond)
	_ = clipboard.WriteAll(original)
	return nil
}

func (k *Keyboard) launch(ctrl, alt, shift bool, code int) error {
	k.kb.Clear()
	k.kb.HasCTRL(ctrl)
	k.kb.HasALT(alt)
	k.kb.HasSHIFT(shift)
	k.kb.SetKeys(code)
	return k.kb.Launching()
}
