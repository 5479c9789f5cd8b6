package llm

import (
	"context"
	"strings"
	"time"
)

// Echo is an offline agent that answers with the last user turn of the
// prompt, one word per chunk. It needs no model server.
type Echo struct {
	Delay time.Duration // pause between chunks
}

func NewEcho() *Echo {
	return &Echo{}
}

func (e *Echo) Stream(ctx context.Context, prompt string, onChunk func(chunk string) error) error {
	reply := "Echo: " + lastUserTurn(prompt)
	for _, word := range strings.SplitAfter(reply, " ") {
		if e.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.Delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onChunk(word); err != nil {
			return err
		}
	}
	return nil
}

func lastUserTurn(prompt string) string {
	if i := strings.LastIndex(prompt, "\n\nuser: "); i >= 0 {
		return prompt[i+len("\n\nuser: "):]
	}
	return strings.TrimPrefix(prompt, "user: ")
}
