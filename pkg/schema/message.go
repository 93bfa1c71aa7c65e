package schema

// Role identifies the author class of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a session transcript.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"` // authoring component, e.g. "dice_roller"
	Content string `json:"content" yaml:"content"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message attributed to name.
func AssistantMessage(name, content string) Message {
	return Message{Role: RoleAssistant, Name: name, Content: content}
}
