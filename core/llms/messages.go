package llms

// Turn is one completed (or in-progress) exchange as the model sees it.
type Turn struct {
	// Prompt is what the user said or typed.
	Prompt string
	// Steps are the intermediate assistant messages that requested tools,
	// in the order they were generated.
	Steps []TurnStep
	// Response is the final assistant text, empty while the turn is still
	// being generated.
	Response string
}

// TurnStep is an assistant message that ended with tool calls. Content holds
// any text the model produced before asking for the tools.
type TurnStep struct {
	Content   string
	ToolCalls []ToolCall
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments string
	// Response is the payload fed back to the model, success or error.
	Response string
}

type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)
