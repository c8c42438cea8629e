package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fabfab/fullstack-gpt/llm"
)

// FileStore persists the memory buffer as a JSON array of {"role","content"} objects.
type FileStore struct {
	Path   string
	logger *log.Logger
}

func NewFileStore(path string, logger *log.Logger) *FileStore {
	if logger == nil {
		logger = log.Default()
	}
	return &FileStore{Path: path, logger: logger}
}

func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.Path)
	return err == nil
}

// Load returns the stored messages. A missing or malformed file reads as empty.
func (s *FileStore) Load() ([]llm.Message, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []llm.Message{}, nil
		}
		return nil, fmt.Errorf("read memory file: %w", err)
	}

	var messages []llm.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		s.logger.Printf("ignore malformed memory file %s: %v", s.Path, err)
		return []llm.Message{}, nil
	}
	if messages == nil {
		messages = []llm.Message{}
	}
	return messages, nil
}

// Save overwrites the file with messages.
func (s *FileStore) Save(messages []llm.Message) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	if messages == nil {
		messages = []llm.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}
	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		return fmt.Errorf("write memory file: %w", err)
	}
	return nil
}
