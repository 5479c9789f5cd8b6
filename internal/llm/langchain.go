package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"

	"github.com/RichardoC/padi-code/internal/config"
)

const defaultOpenAIBaseURL = "http://localhost:11434/v1/"

const defaultSystemPrompt = `You are a helpful coding assistant.
Answer concisely. Put code in fenced code blocks tagged with their language.`

func systemPrompt(cfg config.AgentConfig) string {
	if cfg.SystemPrompt != "" {
		return cfg.SystemPrompt
	}
	return defaultSystemPrompt
}

func newModel(cfg config.AgentConfig) (llms.Model, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultOpenAIBaseURL
		}
		// Local OpenAI-compatible servers ignore the token but the client requires one.
		token := cfg.APIKey
		if token == "" {
			token = "fake"
		}
		return openai.New(
			openai.WithToken(token),
			openai.WithBaseURL(baseURL),
			openai.WithModel(cfg.Model),
		)
	case config.ProviderAnthropic:
		opts := []anthropic.Option{
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(opts...)
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// LangChain streams completions from any langchaingo model.
type LangChain struct {
	llm          llms.Model
	model        string
	systemPrompt string
	logger       *zap.Logger
}

func NewLangChain(llm llms.Model, model, systemPrompt string, logger *zap.Logger) *LangChain {
	return &LangChain{llm: llm, model: model, systemPrompt: systemPrompt, logger: logger}
}

func (s *LangChain) Stream(ctx context.Context, prompt string, onChunk func(chunk string) error) error {
	messages := make([]llms.MessageContent, 0, 2)
	if s.systemPrompt != "" {
		messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, s.systemPrompt))
	}
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, prompt))

	if s.logger.Core().Enabled(zap.DebugLevel) {
		s.logger.Debug("Generating completion",
			zap.String("model", s.model),
			zap.Int("prompt_tokens", CountTokens(s.model, prompt)))
	}

	start := time.Now()
	streamed := 0
	resp, err := s.llm.GenerateContent(ctx, messages,
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed++
			return onChunk(string(chunk))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to generate completion: %w", err)
	}

	// Some providers ignore the streaming callback and only return the full text.
	if streamed == 0 && resp != nil && len(resp.Choices) > 0 && resp.Choices[0].Content != "" {
		streamed = 1
		if err := onChunk(resp.Choices[0].Content); err != nil {
			return err
		}
	}

	s.logger.Debug("Completion finished",
		zap.Int("chunks", streamed),
		zap.Duration("latency", time.Since(start)))
	return nil
}
