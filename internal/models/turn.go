package models

// Role tags a dialogue turn with its speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the dialogue history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Window returns the most recent n turns of history as a copy.
func Window(history []Turn, n int) []Turn {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	start := 0
	if len(history) > n {
		start = len(history) - n
	}
	out := make([]Turn, len(history)-start)
	copy(out, history[start:])
	return out
}
