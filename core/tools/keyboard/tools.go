package keyboard

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/koscakluka/ema-desk/core/tools"
)

const (
	PressKeysTool = "press_keys"
	TypeTextTool  = "type_text"
)

type PressKeysArgs struct {
	Keys string `json:"keys" jsonschema:"required,description=Key combination such as enter or ctrl+c"`
}

type TypeTextArgs struct {
	Text string `json:"text" jsonschema:"required,description=Literal text to type into the focused window"`
}

// Tools exposes the injector as press_keys and type_text.
func Tools(injector Injector) []tools.Tool {
	return []tools.Tool{
		tools.NewTool(PressKeysTool, "Press a key or key combination in the focused window",
			func(_ context.Context, args PressKeysArgs) (tools.Result, error) {
				combo, err := ParseCombo(args.Keys)
				if err != nil {
					return tools.Result{}, err
				}
				if err := injector.Press(combo); err != nil {
					return tools.Result{}, err
				}
				return tools.Result{
					Summary: fmt.Sprintf("Pressed %s.", combo),
					Data: map[string]any{
						"success":  true,
						"metadata": map[string]any{"keys": combo.String()},
					},
				}, nil
			}),
		tools.NewTool(TypeTextTool, "Type literal text into the focused window",
			func(_ context.Context, args TypeTextArgs) (tools.Result, error) {
				text := strings.TrimSpace(args.Text)
				if err := injector.Type(text); err != nil {
					return tools.Result{}, err
				}
				return tools.Result{
					Summary: "Typed it.",
					Data: map[string]any{
						"success":  true,
						"metadata": map[string]any{"characters": utf8.RuneCountInString(text)},
					},
				}, nil
			}),
	}
}
