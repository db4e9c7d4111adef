package llm

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`
}

// UserMessage is shorthand for a user-role Message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage is shorthand for an assistant-role Message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
