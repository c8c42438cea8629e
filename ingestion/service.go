package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	// DocumentDir holds DocumentGPT uploads beneath the cache root.
	DocumentDir = "files"
	// QuizDir holds QuizGPT uploads beneath the cache root.
	QuizDir = "quiz_files"
)

var documentNamespace = uuid.MustParse("3b0d6a52-93e4-4c52-b7a5-0f1f3c2d9e61")

// Document is a loaded upload: the extracted text plus its identity.
type Document struct {
	ID     string
	Name   string
	Path   string
	Title  string
	SHA    string
	Format DocumentFormat
	Text   string
}

// Chunk is one piece of a Document produced by a Splitter.
type Chunk struct {
	ID         string
	DocumentID string
	Source     string
	Index      int
	Text       string
}

// Store writes uploaded files into the cache tree.
type Store struct {
	root   string
	logger *log.Logger
}

func NewStore(root string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{root: root, logger: logger}
}

// SaveUpload writes data to <root>/<dir>/<base name> and returns the path.
func (s *Store) SaveUpload(dir, name string, data []byte) (string, error) {
	base := sanitizeName(name)
	if base == "" {
		return "", fmt.Errorf("invalid file name %q", name)
	}

	target := filepath.Join(s.root, dir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	path := filepath.Join(target, base)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}

	s.logger.Printf("saved upload %s (%d bytes)", path, len(data))
	return path, nil
}

// Load reads and parses the file at path.
func (s *Store) Load(ctx context.Context, path string) (Document, error) {
	format := DetectFormat(path)
	parser, ok := parserFor(format)
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read file: %w", err)
	}

	hash := sha256.Sum256(data)
	hashHex := hex.EncodeToString(hash[:])
	name := filepath.Base(path)

	doc := Document{
		ID:     uuid.NewSHA1(documentNamespace, []byte(name+":"+hashHex)).String(),
		Name:   name,
		Path:   path,
		Title:  baseTitle(path),
		SHA:    hashHex,
		Format: format,
	}

	parsed, err := parser.Parse(ctx, DocumentPayload{Path: path, Data: data})
	if err != nil {
		// Unreadable content yields a document without chunks.
		s.logger.Printf("parse %s: %v", path, err)
		return doc, nil
	}

	doc.Text = parsed.Text
	if parsed.Title != "" {
		doc.Title = parsed.Title
	}
	return doc, nil
}

// SplitDocument tags every piece with the document's identity.
func SplitDocument(doc Document, splitter Splitter) []Chunk {
	texts := splitter.Split(doc.Text)
	chunks := make([]Chunk, 0, len(texts))
	for idx, text := range texts {
		chunks = append(chunks, Chunk{
			ID:         uuid.NewSHA1(uuid.MustParse(doc.ID), []byte(fmt.Sprintf("%d", idx))).String(),
			DocumentID: doc.ID,
			Source:     doc.Path,
			Index:      idx,
			Text:       text,
		})
	}
	return chunks
}

func (s *Store) LoadAndSplit(ctx context.Context, path string, splitter Splitter) (Document, []Chunk, error) {
	doc, err := s.Load(ctx, path)
	if err != nil {
		return Document{}, nil, err
	}
	return doc, SplitDocument(doc, splitter), nil
}

// Texts returns the chunk bodies in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(name)
	if base == "." || base == ".." || base == "/" {
		return ""
	}
	return base
}
