package api

import (
	"fmt"
	"strings"

	"github.com/RichardoC/padi-code/internal/models"
)

// BuildPrompt renders a conversation for the agent. Every message but the
// last becomes a "<role>: <content>" turn, separated by blank lines; the last
// message is the user's new input. Images are not sent to the agent, only
// their count.
func BuildPrompt(messages []models.Message) string {
	if len(messages) == 0 {
		return ""
	}
	current := messages[len(messages)-1]

	turns := make([]string, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		turn := fmt.Sprintf("%s: %s", m.Role, m.Content)
		if n := len(m.Images); n > 0 {
			turn += fmt.Sprintf(" [%d image(s) attached]", n)
		}
		turns = append(turns, turn)
	}

	prompt := current.Content
	if len(turns) > 0 {
		prompt = strings.Join(turns, "\n\n") + "\n\nuser: " + current.Content
	}
	if n := len(current.Images); n > 0 {
		prompt += fmt.Sprintf("\n\n[The user attached %d image(s).]", n)
	}
	return prompt
}
