package db

import (
	"context"
	"fmt"

	"github.com/RichardoC/padi-code/internal/models"
)

type seedTurn struct {
	user      string
	assistant string
}

var sampleConversations = [][]seedTurn{
	{{
		user:      "Hi! Can you tell me about Go interfaces?",
		assistant: "Sure. An interface in Go is a set of method signatures. Any type that has those methods satisfies the interface implicitly, with no `implements` keyword.",
	}},
	{{
		user: "Write a Go function that returns the nth Fibonacci number.",
		assistant: "Here is an iterative version:\n\n```go\nfunc fibonacci(n int) int {\n\ta, b := 0, 1\n\tfor i := 0; i < n; i++ {\n\t\ta, b = b, a+b\n\t}\n\treturn a\n}\n```\n\n" +
			"It runs in O(n) time and constant space, unlike the naive recursive version which is exponential.",
	}},
	{{
		user: "What should I watch out for when porting a Python script to Go?",
		assistant: "A few things change:\n\n1. **Static types**: every variable has a type fixed at compile time.\n" +
			"2. **Errors are values**: check `err` after each call instead of relying on exceptions.\n" +
			"3. **No implicit conversions**: convert between `int` and `float64` explicitly.\n\n" +
			"```python\ndef greet(name):\n    print(\"Hello, \" + name)\n```\n\n```go\nfunc greet(name string) {\n\tfmt.Printf(\"Hello, %s!\\n\", name)\n}\n```",
	}},
	{{
		user: "Show me the basic Markdown syntax.",
		assistant: "# Headings\n\nUse `#` for levels.\n\n## Emphasis\n\n**bold**, *italic*, ~~strikethrough~~ and `inline code`.\n\n" +
			"## Lists\n\n- item one\n- item two\n  - nested\n\n1. first\n2. second\n\n" +
			"## Tables\n\n| Language | Typing |\n|---|---|\n| Go | static |\n| Python | dynamic |\n\n> Quotes start with `>`.",
	}},
}

// Seed inserts the sample conversations and returns them.
func Seed(ctx context.Context, store Store) ([]*models.Conversation, error) {
	out := make([]*models.Conversation, 0, len(sampleConversations))
	for _, turns := range sampleConversations {
		conv, err := store.CreateConversation(ctx, turns[0].user, nil)
		if err != nil {
			return out, fmt.Errorf("seeding conversation: %w", err)
		}
		for i, turn := range turns {
			if i > 0 {
				if _, err := store.AppendMessage(ctx, conv.ID, models.RoleUser, turn.user, nil); err != nil {
					return out, fmt.Errorf("seeding message: %w", err)
				}
			}
			if _, err := store.AppendMessage(ctx, conv.ID, models.RoleAssistant, turn.assistant, nil); err != nil {
				return out, fmt.Errorf("seeding message: %w", err)
			}
		}
		out = append(out, conv)
	}
	return out, nil
}
