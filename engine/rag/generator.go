package rag

import (
	"context"

	"github.com/PartsIQ/partsiq-mvp/engine/domain"
	"github.com/PartsIQ/partsiq-mvp/pkg/ollama"
)

// OllamaGenerator adapts pkg/ollama's chat client to the Generator
// interface.
type OllamaGenerator struct {
	chat *ollama.ChatClient
}

// NewOllamaGenerator wraps a chat client.
func NewOllamaGenerator(chat *ollama.ChatClient) *OllamaGenerator {
	return &OllamaGenerator{chat: chat}
}

var _ Generator = (*OllamaGenerator)(nil)

func messages(system string, history []domain.Turn, user string) []ollama.Message {
	msgs := make([]ollama.Message, 0, len(history)+2)
	msgs = append(msgs, ollama.Message{Role: "system", Content: system})
	for _, t := range history {
		msgs = append(msgs, ollama.Message{Role: string(t.Role), Content: t.Content})
	}
	msgs = append(msgs, ollama.Message{Role: "user", Content: user})
	return msgs
}

// Generate returns the complete response text.
func (g *OllamaGenerator) Generate(ctx context.Context, system string, history []domain.Turn, user string) (string, error) {
	return g.chat.Chat(ctx, messages(system, history, user))
}

// GenerateStream delivers fragments in order via emit. When emit reports
// the consumer has stopped, the upstream request is cancelled and the
// accumulated text is returned without error.
func (g *OllamaGenerator) GenerateStream(ctx context.Context, system string, history []domain.Turn, user string, emit func(string) error) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stopped bool
	full, err := g.chat.ChatStream(ctx, messages(system, history, user), func(tok string) {
		if stopped {
			return
		}
		if emitErr := emit(tok); emitErr != nil {
			stopped = true
			cancel()
		}
	})
	if stopped {
		return full, nil
	}
	return full, err
}
