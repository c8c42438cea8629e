package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fabfab/fullstack-gpt/ingestion"
	"github.com/fabfab/fullstack-gpt/llm"
	"github.com/fabfab/fullstack-gpt/memory"
)

type stubEmbedder struct {
	calls int
}

var topics = []string{"ministry", "party", "gin", "chocolate", "work"}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		vec := make([]float32, len(topics))
		for j, topic := range topics {
			vec[j] = float32(strings.Count(lower, topic))
		}
		out[i] = vec
	}
	return out, nil
}

type sliceStream struct {
	tokens []string
	pos    int
	closed bool
}

func (s *sliceStream) Recv() (string, error) {
	if s.closed || s.pos >= len(s.tokens) {
		return "", io.EOF
	}
	token := s.tokens[s.pos]
	s.pos++
	return token, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

// stubLLM answers from whatever context the system prompt carries.
// blockingStream holds Recv until Close is called.
type blockingStream struct {
	closed    chan struct{}
	closeOnce sync.Once
}

func newBlockingStream() *blockingStream {
	return &blockingStream{closed: make(chan struct{})}
}

func (s *blockingStream) Recv() (string, error) {
	<-s.closed
	return "", errors.New("stream closed")
}

func (s *blockingStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type stubLLM struct {
	prompts   [][]llm.Message
	streams   []*sliceStream
	streamErr error
	blocking  *blockingStream
}

func (s *stubLLM) Generate(_ context.Context, messages []llm.Message) (string, error) {
	return "summary", nil
}

func (s *stubLLM) Stream(_ context.Context, messages []llm.Message) (llm.Stream, error) {
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	s.prompts = append(s.prompts, messages)
	if s.blocking != nil {
		stream := s.blocking
		s.blocking = nil
		return stream, nil
	}
	answer := "I don't know."
	if strings.Contains(messages[0].Content, "Ministry of Truth") {
		answer = "Winston works at the Ministry of Truth."
	}
	stream := &sliceStream{tokens: strings.SplitAfter(answer, " ")}
	s.streams = append(s.streams, stream)
	return stream, nil
}

func (s *stubLLM) GenerateStructured(context.Context, []llm.Message, llm.Function) (json.RawMessage, error) {
	return nil, errors.New("not used")
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestService(t *testing.T) (*Service, *stubEmbedder, *stubLLM) {
	t.Helper()
	emb := &stubEmbedder{}
	model := &stubLLM{}
	svc := NewService(Options{
		CacheDir:         t.TempDir(),
		Splitter:         ingestion.Splitter{Separator: "\n", ChunkSize: 60, ChunkOverlap: 0},
		RetrievalK:       1,
		MemoryTokenLimit: 120,
		EmbeddingModel:   "test-model",
	}, emb, model, discardLogger())
	return svc, emb, model
}

const story = "The Party slogans cover every wall of the city.\nWinston does his work at the Ministry of Truth."

func drain(t *testing.T, stream *AnswerStream) []string {
	t.Helper()
	tokens := make([]string, 0)
	for {
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return tokens
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		tokens = append(tokens, token)
	}
}

func TestAskAnswersFromUploadedFile(t *testing.T) {
	svc, _, model := newTestService(t)
	sess := svc.NewSession()
	ctx := context.Background()

	result, err := svc.Embed(ctx, sess, "story.txt", []byte(story))
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if result.Chunks != 2 {
		t.Fatalf("expected 2 chunks, got %d", result.Chunks)
	}
	if result.Greeting != Greeting {
		t.Fatalf("unexpected greeting %q", result.Greeting)
	}
	if len(sess.Messages()) != 0 {
		t.Fatal("greeting must not be stored in history")
	}

	stream, err := svc.Ask(ctx, sess, "Where does Winston work? Which ministry?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	tokens := drain(t, stream)

	if len(tokens) < 2 {
		t.Fatalf("expected several streamed tokens, got %v", tokens)
	}
	if answer := strings.Join(tokens, ""); answer != "Winston works at the Ministry of Truth." {
		t.Fatalf("unexpected answer %q", answer)
	}

	system := model.prompts[0][0]
	if system.Role != llm.RoleSystem || !strings.HasPrefix(system.Content, "Answer the question using ONLY the following context.") {
		t.Fatalf("unexpected system prompt %+v", system)
	}
	if strings.Contains(system.Content, "slogans") {
		t.Fatal("expected only the most relevant chunk in context")
	}
	last := model.prompts[0][len(model.prompts[0])-1]
	if last.Role != llm.RoleUser || last.Content != "Where does Winston work? Which ministry?" {
		t.Fatalf("question must close the prompt, got %+v", last)
	}

	history := sess.Messages()
	if len(history) != 2 {
		t.Fatalf("expected one human and one ai message, got %d", len(history))
	}
	if history[0].Role != RoleHuman || history[1].Role != RoleAI {
		t.Fatalf("unexpected roles %s, %s", history[0].Role, history[1].Role)
	}
	if history[1].Message != "Winston works at the Ministry of Truth." {
		t.Fatalf("unexpected stored answer %q", history[1].Message)
	}
	if history[0].ID == history[1].ID || history[0].ID == "" {
		t.Fatal("expected distinct message ids")
	}

	saved, err := memory.NewFileStore(MemoryPath(svc.opts.CacheDir), discardLogger()).Load()
	if err != nil {
		t.Fatalf("load memory file: %v", err)
	}
	if len(saved) != 2 || saved[1].Content != "Winston works at the Ministry of Truth." {
		t.Fatalf("unexpected memory file %+v", saved)
	}
}

func TestAskIncludesMemoryInNextPrompt(t *testing.T) {
	svc, _, model := newTestService(t)
	sess := svc.NewSession()
	ctx := context.Background()

	if _, err := svc.Embed(ctx, sess, "story.txt", []byte(story)); err != nil {
		t.Fatalf("embed: %v", err)
	}
	for _, q := range []string{"Where does Winston work?", "And the Party?"} {
		stream, err := svc.Ask(ctx, sess, q)
		if err != nil {
			t.Fatalf("ask: %v", err)
		}
		drain(t, stream)
	}

	second := model.prompts[1]
	if len(second) != 4 {
		t.Fatalf("expected system + 2 history + question, got %d messages", len(second))
	}
	if second[1].Role != llm.RoleUser || second[1].Content != "Where does Winston work?" {
		t.Fatalf("expected prior question in history, got %+v", second[1])
	}
}

func TestAskWithoutDocument(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.Ask(context.Background(), svc.NewSession(), "anything"); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("expected ErrNoDocument, got %v", err)
	}
}

func TestAskRejectsConcurrentGeneration(t *testing.T) {
	svc, _, _ := newTestService(t)
	sess := svc.NewSession()
	ctx := context.Background()
	if _, err := svc.Embed(ctx, sess, "story.txt", []byte(story)); err != nil {
		t.Fatalf("embed: %v", err)
	}

	first, err := svc.Ask(ctx, sess, "Where does Winston work?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if _, err := svc.Ask(ctx, sess, "again?"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	if _, err := first.Recv(); err != nil {
		t.Fatalf("recv: %v", err)
	}
	first.Close()

	if len(sess.Messages()) != 1 {
		t.Fatalf("dropped answer must not be stored, got %d messages", len(sess.Messages()))
	}
	if _, err := svc.Ask(ctx, sess, "again?"); err != nil {
		t.Fatalf("expected ask after close to succeed, got %v", err)
	}
}

func TestEmbedUsesCacheOnSecondUpload(t *testing.T) {
	svc, emb, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Embed(ctx, svc.NewSession(), "story.txt", []byte(story)); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if _, err := svc.Embed(ctx, svc.NewSession(), "story.txt", []byte(story)); err != nil {
		t.Fatalf("embed again: %v", err)
	}
	if emb.calls != 1 {
		t.Fatalf("expected chunk vectors to come from the cache, provider called %d times", emb.calls)
	}
	if _, err := os.Stat(filepath.Join(svc.opts.CacheDir, "embeddings", "story.txt", "vectors.db")); err != nil {
		t.Fatalf("expected cache file: %v", err)
	}
}

func TestNewUploadReplacesRetriever(t *testing.T) {
	svc, _, model := newTestService(t)
	sess := svc.NewSession()
	ctx := context.Background()

	if _, err := svc.Embed(ctx, sess, "story.txt", []byte(story)); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if _, err := svc.Embed(ctx, sess, "menu.txt", []byte("Chocolate cake with gin.")); err != nil {
		t.Fatalf("embed: %v", err)
	}

	stream, err := svc.Ask(ctx, sess, "Which ministry?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer := strings.Join(drain(t, stream), ""); answer != "I don't know." {
		t.Fatalf("expected answer from the new file only, got %q", answer)
	}
	if !strings.Contains(model.prompts[0][0].Content, "Chocolate cake") {
		t.Fatal("expected context from the latest upload")
	}
	if doc, ok := sess.Document(); !ok || doc.Name != "menu.txt" {
		t.Fatalf("expected menu.txt to be current, got %+v", doc)
	}
}

func TestRestoreMemoryLoadsPersistedMessages(t *testing.T) {
	svc, _, _ := newTestService(t)
	store := memory.NewFileStore(MemoryPath(svc.opts.CacheDir), discardLogger())
	saved := []llm.Message{{Role: llm.RoleUser, Content: "hi"}, {Role: llm.RoleAssistant, Content: "hello"}}
	if err := store.Save(saved); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !svc.HasSavedMemory() {
		t.Fatal("expected saved memory to be detected")
	}

	sess := svc.NewSession()
	n, err := svc.RestoreMemory(sess)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != 2 || len(sess.Memory().Messages()) != 2 {
		t.Fatalf("expected 2 restored messages, got %d", n)
	}

	svc.ResetMemory(sess)
	if len(sess.Memory().Messages()) != 0 {
		t.Fatal("expected reset memory to be empty")
	}
}

func TestAskKeepsHistoryCleanWhenStreamFails(t *testing.T) {
	svc, _, model := newTestService(t)
	sess := svc.NewSession()
	ctx := context.Background()
	if _, err := svc.Embed(ctx, sess, "story.txt", []byte(story)); err != nil {
		t.Fatalf("embed: %v", err)
	}

	model.streamErr = errors.New("model unavailable")
	if _, err := svc.Ask(ctx, sess, "Where does Winston work?"); err == nil {
		t.Fatal("expected stream error")
	}
	if n := len(sess.Messages()); n != 0 {
		t.Fatalf("failed question must not enter history, got %d messages", n)
	}

	model.streamErr = nil
	stream, err := svc.Ask(ctx, sess, "Where does Winston work?")
	if err != nil {
		t.Fatalf("expected ask to recover, got %v", err)
	}
	drain(t, stream)
	if n := len(sess.Messages()); n != 2 {
		t.Fatalf("expected question and answer, got %d messages", n)
	}
}

func TestCloseUnblocksPendingRecv(t *testing.T) {
	svc, _, model := newTestService(t)
	sess := svc.NewSession()
	ctx := context.Background()
	if _, err := svc.Embed(ctx, sess, "story.txt", []byte(story)); err != nil {
		t.Fatalf("embed: %v", err)
	}

	model.blocking = newBlockingStream()
	stream, err := svc.Ask(ctx, sess, "Where does Winston work?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}

	recvErr := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		recvErr <- err
	}()

	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-recvErr:
		if !errors.Is(err, io.EOF) {
			t.Fatalf("expected io.EOF after close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("recv still blocked after close")
	}

	if n := len(sess.Messages()); n != 1 {
		t.Fatalf("dropped answer must not be stored, got %d messages", n)
	}
	next, err := svc.Ask(ctx, sess, "Where does Winston work?")
	if err != nil {
		t.Fatalf("expected session to accept a new question, got %v", err)
	}
	drain(t, next)
}
