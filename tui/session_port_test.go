package tui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fabfab/fullstack-gpt/chat"
	"github.com/fabfab/fullstack-gpt/ingestion"
	"github.com/fabfab/fullstack-gpt/llm"
)

type flatEmbedder struct{}

func (flatEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type tokenStream struct {
	tokens []string
	closed bool
}

func (s *tokenStream) Recv() (string, error) {
	if s.closed || len(s.tokens) == 0 {
		return "", io.EOF
	}
	t := s.tokens[0]
	s.tokens = s.tokens[1:]
	return t, nil
}

func (s *tokenStream) Close() error {
	s.closed = true
	return nil
}

type echoLLM struct{}

func (echoLLM) Generate(context.Context, []llm.Message) (string, error) { return "summary", nil }

func (echoLLM) Stream(context.Context, []llm.Message) (llm.Stream, error) {
	return &tokenStream{tokens: []string{"At the ", "Ministry."}}, nil
}

func (echoLLM) GenerateStructured(context.Context, []llm.Message, llm.Function) (json.RawMessage, error) {
	return nil, errors.New("not used")
}

func TestSessionStaysUsableAfterCancelAndRetry(t *testing.T) {
	svc := chat.NewService(chat.Options{
		CacheDir:         t.TempDir(),
		Splitter:         ingestion.Splitter{Separator: "\n", ChunkSize: 100},
		MemoryTokenLimit: 120,
		EmbeddingModel:   "test",
	}, flatEmbedder{}, echoLLM{}, log.New(io.Discard, "", 0))
	sess := svc.NewSession()
	if _, err := svc.Embed(context.Background(), sess, "story.txt", []byte("Winston works at the Ministry of Truth.")); err != nil {
		t.Fatalf("embed: %v", err)
	}

	m := sized(New(SessionPort{Service: svc, Session: sess}, "DocumentGPT", chat.Greeting))

	m.input.SetValue("first")
	next, waitFirst := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)

	m.input.SetValue("second")
	next, waitSecond := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	if m.stream == nil {
		t.Fatalf("second question rejected: %q", m.status)
	}

	next, _ = m.Update(waitFirst())
	m = next.(Model)
	if m.stream == nil {
		t.Fatal("late message from the dropped answer ended the active one")
	}

	cmd := waitSecond
	for cmd != nil {
		next, cmd = m.Update(cmd())
		m = next.(Model)
	}
	if strings.HasPrefix(m.status, "Error") {
		t.Fatalf("unexpected status %q", m.status)
	}

	stream, err := svc.Ask(context.Background(), sess, "third")
	if err != nil {
		t.Fatalf("session should accept another question, got %v", err)
	}
	stream.Close()

	history := sess.Messages()
	if len(history) != 4 || history[1].Message != "second" || history[2].Message != "At the Ministry." {
		t.Fatalf("unexpected history %+v", history)
	}
}
