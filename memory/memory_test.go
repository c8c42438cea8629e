package memory

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/fabfab/fullstack-gpt/llm"
)

type stubSummarizer struct {
	calls   int
	prompts []string
}

func (s *stubSummarizer) Generate(_ context.Context, messages []llm.Message) (string, error) {
	s.calls++
	s.prompts = append(s.prompts, messages[len(messages)-1].Content)
	return "They talked about Winston.", nil
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestSaveContextKeepsShortHistoryVerbatim(t *testing.T) {
	sum := &stubSummarizer{}
	mem := NewSummaryBufferMemory(sum, 120, discardLogger())

	if err := mem.SaveContext(context.Background(), "Where does Winston work?", "At the Ministry of Truth."); err != nil {
		t.Fatalf("save: %v", err)
	}

	want := []llm.Message{
		{Role: llm.RoleUser, Content: "Where does Winston work?"},
		{Role: llm.RoleAssistant, Content: "At the Ministry of Truth."},
	}
	if !reflect.DeepEqual(mem.Variables(), want) {
		t.Fatalf("unexpected variables %+v", mem.Variables())
	}
	if sum.calls != 0 {
		t.Fatalf("expected no summary, got %d calls", sum.calls)
	}
}

func TestSaveContextSummarizesOverflow(t *testing.T) {
	sum := &stubSummarizer{}
	mem := NewSummaryBufferMemory(sum, 20, discardLogger())

	long := strings.Repeat("word ", 12)
	for i := 0; i < 3; i++ {
		if err := mem.SaveContext(context.Background(), long, long); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	if sum.calls == 0 {
		t.Fatal("expected the summarizer to be called")
	}
	if EstimateTokens(mem.Messages()) > 20 {
		t.Fatalf("buffer still over limit: %d tokens", EstimateTokens(mem.Messages()))
	}
	vars := mem.Variables()
	if vars[0].Role != llm.RoleSystem || vars[0].Content != "They talked about Winston." {
		t.Fatalf("expected summary first, got %+v", vars[0])
	}
	if !strings.Contains(sum.prompts[0], "Human: ") {
		t.Fatalf("expected conversation lines in prompt, got %q", sum.prompts[0])
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "chat_memory", "memory.json"), discardLogger())
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
		{Role: llm.RoleUser, Content: "bye"},
	}

	if err := store.Save(messages); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(loaded, messages) {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}

	if err := store.Save(messages[:1]); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	loaded, _ = store.Load()
	if len(loaded) != 1 {
		t.Fatalf("expected overwrite, got %d messages", len(loaded))
	}
}

func TestFileStoreMissingAndMalformedLoadEmpty(t *testing.T) {
	dir := t.TempDir()
	missing := NewFileStore(filepath.Join(dir, "none.json"), discardLogger())
	if msgs, err := missing.Load(); err != nil || len(msgs) != 0 {
		t.Fatalf("expected empty for missing file, got %v (%v)", msgs, err)
	}
	if missing.Exists() {
		t.Fatal("missing file should not exist")
	}

	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	bad := NewFileStore(path, discardLogger())
	if msgs, err := bad.Load(); err != nil || len(msgs) != 0 {
		t.Fatalf("expected empty for malformed file, got %v (%v)", msgs, err)
	}
}
