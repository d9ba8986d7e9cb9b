package exam

import "fmt"

// Role tags one side of the exam conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry in the conversation history passed to the
// evaluation adapter.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ValidateHistory rejects histories containing unknown roles. Adapters call
// this at their boundary before building prompts.
func ValidateHistory(history []Message) error {
	for i, msg := range history {
		switch msg.Role {
		case RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("history entry %d has unknown role %q", i, msg.Role)
		}
	}
	return nil
}
