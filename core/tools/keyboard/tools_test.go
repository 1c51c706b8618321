package keyboard

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/koscakluka/ema-desk/core/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInjector struct {
	pressed []Combo
	typed   []string
}

func (r *recordingInjector) Press(combo Combo) error {
	r.pressed = append(r.pressed, combo)
	return nil
}

func (r *recordingInjector) Type(text string) error {
	r.typed = append(r.typed, text)
	return nil
}

func TestParseCombo(t *testing.T) {
	combo, err := ParseCombo("Ctrl+Home")
	require.NoError(t, err)
	assert.Equal(t, Combo{Key: "home", Ctrl: true}, combo)
	assert.Equal(t, "ctrl+home", combo.String())

	combo, err = ParseCombo("shift+tab")
	require.NoError(t, err)
	assert.Equal(t, Combo{Key: "tab", Shift: true}, combo)

	combo, err = ParseCombo("escape")
	require.NoError(t, err)
	assert.Equal(t, "esc", combo.Key)

	_, err = ParseCombo("ctrl+")
	assert.Error(t, err)
	_, err = ParseCombo("ctrl+c+v")
	assert.Error(t, err)
	_, err = ParseCombo("f13")
	assert.Error(t, err)
}

func TestKeyboardToolsDispatchToInjector(t *testing.T) {
	injector := &recordingInjector{}
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(Tools(injector)...))

	result, err := registry.Call(context.Background(), PressKeysTool, json.RawMessage(`{"keys":"alt+tab"}`))
	require.NoError(t, err)
	assert.Equal(t, []Combo{{Key: "tab", Alt: true}}, injector.pressed)
	assert.Equal(t, true, result.Data.(map[string]any)["success"])

	_, err = registry.Call(context.Background(), TypeTextTool, json.RawMessage(`{"text":" hello world "}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"hello world"}, injector.typed)

	_, err = registry.Call(context.Background(), PressKeysTool, json.RawMessage(`{"keys":"hyper+q"}`))
	assert.Error(t, err)
}
