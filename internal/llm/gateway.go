// Package llm is the agent gateway: given a prompt, it produces the ordered
// fragments of a completion. The chat handler only depends on Gateway.
package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/RichardoC/padi-code/internal/config"
)

// Gateway streams a completion for prompt. onChunk is called once per
// fragment, in order; the fragments concatenate to the full response.
// An error returned by onChunk aborts generation.
type Gateway interface {
	Stream(ctx context.Context, prompt string, onChunk func(chunk string) error) error
}

// GatewayFunc adapts a plain function to Gateway.
type GatewayFunc func(ctx context.Context, prompt string, onChunk func(chunk string) error) error

func (f GatewayFunc) Stream(ctx context.Context, prompt string, onChunk func(chunk string) error) error {
	return f(ctx, prompt, onChunk)
}

// New builds the gateway selected by cfg.Provider.
func New(cfg config.AgentConfig, logger *zap.Logger) (Gateway, error) {
	logger = logger.With(zap.String("component", "llm"), zap.String("provider", cfg.Provider))

	if cfg.Provider == config.ProviderEcho {
		logger.Info("Using echo agent")
		return NewEcho(), nil
	}

	model, err := newModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s: %w", cfg.Provider, err)
	}
	logger.Info("Agent initialized", zap.String("model", cfg.Model))
	return NewLangChain(model, cfg.Model, systemPrompt(cfg), logger), nil
}
