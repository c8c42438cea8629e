// Package llm talks to chat models: one-shot, streamed and schema-constrained.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fabfab/fullstack-gpt/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Function describes a tool the model is forced to call. Parameters is a JSON schema.
type Function struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Stream yields answer tokens. Recv returns io.EOF after the last token.
// Close drops the subscription; it is the only way to cancel generation
// besides cancelling the context passed to Client.Stream.
type Stream interface {
	Recv() (string, error)
	Close() error
}

type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
	Stream(ctx context.Context, messages []Message) (Stream, error)
	GenerateStructured(ctx context.Context, messages []Message, fn Function) (json.RawMessage, error)
}

type Options struct {
	Provider    string
	Model       string
	Temperature float32

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func NewClient(cfg config.Config) (Client, error) {
	opts := Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}

// Collect drains s and returns the concatenated tokens.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var out []byte
	for {
		token, err := s.Recv()
		if err != nil {
			if isEOF(err) {
				return string(out), nil
			}
			return string(out), err
		}
		out = append(out, token...)
	}
}
