package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fabfab/fullstack-gpt/config"
)

var quizSchema = json.RawMessage(`{"type":"object","properties":{"questions":{"type":"array"}},"required":["questions"]}`)

func TestNewClientOpenAIMissingKey(t *testing.T) {
	cfg := config.Default()
	cfg.OpenAIAPIKey = ""
	if _, err := NewClient(cfg); err == nil {
		t.Fatal("expected error for missing OPENAI_API_KEY")
	}
}

func TestOllamaStreamYieldsTokensThenEOF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Stream {
			http.Error(w, "expected stream request", http.StatusBadRequest)
			return
		}
		for _, token := range []string{"Winston ", "works ", "", "at the Ministry."} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", token)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	client := NewOllamaClient(Options{OllamaHost: srv.URL, Model: "llama3"})
	stream, err := client.Stream(context.Background(), []Message{{Role: RoleUser, Content: "where?"}})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	tokens := make([]string, 0)
	for {
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		tokens = append(tokens, token)
	}
	stream.Close()

	if len(tokens) != 3 {
		t.Fatalf("expected 3 non-empty tokens, got %v", tokens)
	}
	if strings.Join(tokens, "") != "Winston works at the Ministry." {
		t.Fatalf("unexpected answer %q", strings.Join(tokens, ""))
	}
	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after close, got %v", err)
	}
}

func TestOllamaStructuredSendsFormat(t *testing.T) {
	var gotFormat json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotFormat = req.Format
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaChatMessage{Role: RoleAssistant, Content: ` {"questions":[]} `},
			Done:    true,
		})
	}))
	defer srv.Close()

	client := NewOllamaClient(Options{OllamaHost: srv.URL, Model: "llama3"})
	raw, err := client.GenerateStructured(context.Background(), nil, Function{Name: "create_quiz", Parameters: quizSchema})
	if err != nil {
		t.Fatalf("structured: %v", err)
	}
	if string(raw) != `{"questions":[]}` {
		t.Fatalf("unexpected raw %s", raw)
	}
	if !strings.Contains(string(gotFormat), `"questions"`) {
		t.Fatalf("expected schema in format, got %s", gotFormat)
	}
}

func TestOllamaReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewOllamaClient(Options{OllamaHost: srv.URL, Model: "missing"})
	if _, err := client.Generate(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestOpenAIStreamDecodesDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, token := range []string{"I don't ", "know."} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", token)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewOpenAIClient(Options{OpenAIAPIKey: "test", OpenAIBaseURL: srv.URL + "/v1", Model: "gpt-3.5-turbo-1106"})
	stream, err := client.Stream(context.Background(), []Message{{Role: RoleUser, Content: "?"}})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	answer, err := Collect(stream)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if answer != "I don't know." {
		t.Fatalf("unexpected answer %q", answer)
	}
}

func TestOpenAIStructuredForcesToolCall(t *testing.T) {
	var gotChoice map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotChoice, _ = req["tool_choice"].(map[string]any)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"","tool_calls":[{"id":"c1","type":"function","function":{"name":"create_quiz","arguments":"{\"questions\":[]}"}}]}}]}`)
	}))
	defer srv.Close()

	client := NewOpenAIClient(Options{OpenAIAPIKey: "test", OpenAIBaseURL: srv.URL + "/v1", Model: "gpt-3.5-turbo-1106"})
	raw, err := client.GenerateStructured(context.Background(), nil, Function{Name: "create_quiz", Parameters: quizSchema})
	if err != nil {
		t.Fatalf("structured: %v", err)
	}
	if string(raw) != `{"questions":[]}` {
		t.Fatalf("unexpected arguments %s", raw)
	}
	fn, _ := gotChoice["function"].(map[string]any)
	if fn["name"] != "create_quiz" {
		t.Fatalf("expected forced tool choice, got %v", gotChoice)
	}
}
