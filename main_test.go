package main

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fabfab/fullstack-gpt/config"
)

func TestLogToFileKeepsTerminalClean(t *testing.T) {
	terminal := &bytes.Buffer{}
	logger := log.New(terminal, "", 0)
	path := filepath.Join(t.TempDir(), "cache", chatLogFile)

	restore, err := logToFile(logger, path)
	if err != nil {
		t.Fatalf("log to file: %v", err)
	}
	logger.Printf("memory summarized")
	restore()
	logger.Printf("back on the terminal")

	if strings.Contains(terminal.String(), "memory summarized") {
		t.Fatalf("log line leaked onto the terminal: %q", terminal.String())
	}
	if !strings.Contains(terminal.String(), "back on the terminal") {
		t.Fatal("expected output to be restored")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "memory summarized") {
		t.Fatalf("expected log line in file, got %q", data)
	}
}

func TestClearCacheRemovesChatState(t *testing.T) {
	cfg := config.Default()
	cfg.CacheDir = t.TempDir()
	for _, dir := range []string{"files", "embeddings/story.txt", "chat_memory"} {
		if err := os.MkdirAll(cfg.Path(dir), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(cfg.Path(chatLogFile), []byte("x"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	if err := clearCache(cfg); err != nil {
		t.Fatalf("clear: %v", err)
	}
	entries, err := os.ReadDir(cfg.CacheDir)
	if err != nil {
		t.Fatalf("read cache: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty cache, found %d entries", len(entries))
	}
}
