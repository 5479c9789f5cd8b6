package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"

	"github.com/RichardoC/padi-code/internal/config"
)

// fakeModel replays chunks through the streaming callback.
type fakeModel struct {
	chunks   []string
	final    string
	err      error
	messages []llms.MessageContent
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	for _, c := range m.chunks {
		if opts.StreamingFunc != nil {
			if err := opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	content := m.final
	if content == "" {
		content = strings.Join(m.chunks, "")
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func collect(t *testing.T, g Gateway, prompt string) ([]string, error) {
	t.Helper()
	var chunks []string
	err := g.Stream(context.Background(), prompt, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	return chunks, err
}

func TestLangChain_StreamsInOrder(t *testing.T) {
	model := &fakeModel{chunks: []string{"Hi", "", " there"}}
	g := NewLangChain(model, "gpt-4", "be brief", zap.NewNop())

	chunks, err := collect(t, g, "user: hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", " there"}, chunks)

	require.Len(t, model.messages, 2)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, llms.TextContent{Text: "user: hello"}, model.messages[1].Parts[0])
}

func TestLangChain_NoSystemPrompt(t *testing.T) {
	model := &fakeModel{chunks: []string{"ok"}}
	g := NewLangChain(model, "gpt-4", "", zap.NewNop())

	_, err := collect(t, g, "q")
	require.NoError(t, err)
	require.Len(t, model.messages, 1)
	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[0].Role)
}

func TestLangChain_NonStreamingProvider(t *testing.T) {
	model := &fakeModel{final: "whole answer"}
	g := NewLangChain(model, "gpt-4", "", zap.NewNop())

	chunks, err := collect(t, g, "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"whole answer"}, chunks)
}

func TestLangChain_Error(t *testing.T) {
	boom := errors.New("connection refused")
	model := &fakeModel{chunks: []string{"partial"}, err: boom}
	g := NewLangChain(model, "gpt-4", "", zap.NewNop())

	chunks, err := collect(t, g, "q")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"partial"}, chunks)
}

func TestLangChain_CallbackErrorAborts(t *testing.T) {
	model := &fakeModel{chunks: []string{"a", "b", "c"}}
	g := NewLangChain(model, "gpt-4", "", zap.NewNop())

	stop := errors.New("client gone")
	var got []string
	err := g.Stream(context.Background(), "q", func(chunk string) error {
		got = append(got, chunk)
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []string{"a"}, got)
}

func TestEcho(t *testing.T) {
	chunks, err := collect(t, NewEcho(), "user: first\n\nassistant: reply\n\nuser: what now")
	require.NoError(t, err)
	assert.Equal(t, "Echo: what now", strings.Join(chunks, ""))
	assert.Greater(t, len(chunks), 1)

	chunks, err = collect(t, NewEcho(), "single prompt")
	require.NoError(t, err)
	assert.Equal(t, "Echo: single prompt", strings.Join(chunks, ""))
}

func TestEcho_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := (&Echo{Delay: time.Millisecond}).Stream(ctx, "hi", func(string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGatewayFunc(t *testing.T) {
	g := GatewayFunc(func(ctx context.Context, prompt string, onChunk func(string) error) error {
		return onChunk(strings.ToUpper(prompt))
	})
	chunks, err := collect(t, g, "loud")
	require.NoError(t, err)
	assert.Equal(t, []string{"LOUD"}, chunks)
}

func TestNew(t *testing.T) {
	g, err := New(config.AgentConfig{Provider: config.ProviderEcho}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &Echo{}, g)

	g, err = New(config.AgentConfig{Provider: config.ProviderOpenAI, Model: "llama3.1:8b"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &LangChain{}, g)

	_, err = New(config.AgentConfig{Provider: "bard"}, zap.NewNop())
	assert.Error(t, err)
}

func TestSystemPrompt(t *testing.T) {
	assert.Equal(t, defaultSystemPrompt, systemPrompt(config.AgentConfig{}))
	assert.Equal(t, "custom", systemPrompt(config.AgentConfig{SystemPrompt: "custom"}))
}

func TestCountTokens_RemembersMissingEncoding(t *testing.T) {
	origModel, origEncoding := encodingForModel, getEncoding
	t.Cleanup(func() { encodingForModel, getEncoding = origModel, origEncoding })

	var lookups int
	encodingForModel = func(string) (*tiktoken.Tiktoken, error) {
		lookups++
		return nil, errors.New("unknown model")
	}
	getEncoding = func(string) (*tiktoken.Tiktoken, error) {
		lookups++
		return nil, errors.New("offline")
	}

	model := "no-such-model-" + t.Name()
	assert.Equal(t, 3, CountTokens(model, "twelve chars"))
	assert.Equal(t, 1, CountTokens(model, "abcd"))
	assert.Equal(t, 2, lookups)
}
