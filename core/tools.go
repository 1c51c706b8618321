package orchestration

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/koscakluka/ema-desk/core/tools"
	"github.com/koscakluka/ema-desk/core/tools/keyboard"
)

const (
	ControlVoiceTypingTool = "control_voice_typing"
	SpeakingControlTool    = "speaking_control"

	ackDictationAlreadyOff = "Voice typing was already off."
)

type voiceTypingArgs struct {
	Action string `json:"action" jsonschema:"required,enum=enable,enum=disable,enum=toggle,enum=status,enum=type"`
	Text   string `json:"text,omitempty" jsonschema:"description=Text to type when action is type"`
}

type speakingControlArgs struct {
	IsSpeaking bool `json:"is_speaking" jsonschema:"required,description=Whether replies should be spoken aloud"`
}

// orchestrationTools lets the model drive the same dictation state and
// speech output the user controls by voice.
func orchestrationTools(o *Orchestrator) []tools.Tool {
	return []tools.Tool{
		tools.NewTool(ControlVoiceTypingTool,
			"Manage voice typing (dictation into the focused window): enable, disable, toggle, status, or type the given text",
			func(ctx context.Context, args voiceTypingArgs) (tools.Result, error) {
				return o.controlVoiceTyping(ctx, args)
			}),
		tools.NewTool(SpeakingControlTool,
			"Turn the assistant's spoken replies on or off. Might be referred to as 'muting'",
			func(_ context.Context, args speakingControlArgs) (tools.Result, error) {
				o.synthesis.SetEnabled(args.IsSpeaking)
				summary := "Okay, I'll stay quiet."
				if args.IsSpeaking {
					summary = "Okay, I'll speak my replies."
				}
				return tools.Result{
					Summary: summary,
					Data:    map[string]any{"success": true, "is_speaking": args.IsSpeaking},
				}, nil
			}),
	}
}

func (o *Orchestrator) controlVoiceTyping(ctx context.Context, args voiceTypingArgs) (tools.Result, error) {
	action := strings.ToLower(strings.TrimSpace(args.Action))
	data := map[string]any{"action": action}

	switch action {
	case "enable":
		changed, err := o.router.Enable()
		if err != nil {
			return tools.Result{}, err
		}
		data["typing_enabled"] = true
		data["success"] = true
		summary := ackDictationEnabled
		if !changed {
			summary = "Voice typing is already on."
		}
		return tools.Result{Summary: summary, Data: data}, nil

	case "disable":
		changed := o.router.Disable()
		data["typing_enabled"] = false
		data["success"] = changed
		summary := ackDictationDisabled
		if !changed {
			summary = ackDictationAlreadyOff
		}
		return tools.Result{Summary: summary, Data: data}, nil

	case "toggle":
		if o.router.Mode() == DictationDictating {
			o.router.Disable()
			data["typing_enabled"] = false
			return tools.Result{Summary: ackDictationDisabled, Data: data}, nil
		}
		if _, err := o.router.Enable(); err != nil {
			return tools.Result{}, err
		}
		data["typing_enabled"] = true
		return tools.Result{Summary: ackDictationEnabled, Data: data}, nil

	case "status":
		enabled := o.router.Mode() == DictationDictating
		_, backendReady := o.registry.Get(keyboard.TypeTextTool)
		data["typing_enabled"] = enabled
		data["backend_ready"] = backendReady && o.config.DictationEnabled
		summary := "Voice typing is off."
		if enabled {
			summary = "Voice typing is on."
		}
		return tools.Result{Summary: summary, Data: data}, nil

	case "type":
		text := strings.TrimSpace(args.Text)
		if text == "" {
			return tools.Result{}, &tools.SchemaError{Tool: ControlVoiceTypingTool, Detail: "text is required when action is type"}
		}
		if _, err := o.router.Enable(); err != nil {
			return tools.Result{}, err
		}
		if _, err := o.registry.Call(ctx, keyboard.TypeTextTool, mustJSON(keyboard.TypeTextArgs{Text: text})); err != nil {
			return tools.Result{}, fmt.Errorf("failed to type text: %w", err)
		}
		data["typing_enabled"] = true
		data["typed_chars"] = utf8.RuneCountInString(text)
		return tools.Result{Summary: "Typed it.", Data: data}, nil
	}

	return tools.Result{}, &tools.SchemaError{Tool: ControlVoiceTypingTool, Detail: fmt.Sprintf("unsupported action %q", args.Action)}
}
