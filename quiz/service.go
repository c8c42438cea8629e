package quiz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/fullstack-gpt/ingestion"
	"github.com/fabfab/fullstack-gpt/knowledge"
	"github.com/fabfab/fullstack-gpt/llm"
	"github.com/fabfab/fullstack-gpt/retrieval"
)

const appName = "QuizGPT"

const systemTemplate = `You are a helpful assistant that is role playing as a teacher.

Based ONLY on the following context make 10 (TEN) questions minimum to test the user's knowledge about the text.

Each question should have 4 answers, three of them must be incorrect and one should be correct.

Context: %s`

// Searcher looks up encyclopedia articles for a term.
type Searcher interface {
	Search(ctx context.Context, term string) ([]retrieval.Document, error)
}

type Service struct {
	llm      llm.Client
	search   Searcher
	uploads  *ingestion.Store
	splitter ingestion.Splitter
	driver   neo4j.DriverWithContext
	logger   *log.Logger

	mu        sync.Mutex
	wikiCache map[string][]retrieval.Document
}

func NewService(llmClient llm.Client, search Searcher, cacheDir string, splitter ingestion.Splitter, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		llm:       llmClient,
		search:    search,
		uploads:   ingestion.NewStore(cacheDir, logger),
		splitter:  splitter,
		logger:    logger,
		wikiCache: make(map[string][]retrieval.Document),
	}
}

// WithGraph mirrors uploaded quiz files into Neo4j.
func (s *Service) WithGraph(driver neo4j.DriverWithContext) *Service {
	s.driver = driver
	return s
}

// Session holds the quiz state of one user.
type Session struct {
	mu    sync.Mutex
	docs  []retrieval.Document
	topic string
	quiz  *Quiz
	cache map[string]Quiz
}

func NewSession() *Session {
	return &Session{cache: make(map[string]Quiz)}
}

// Current returns the last generated quiz.
func (s *Session) Current() (Quiz, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quiz == nil {
		return Quiz{}, false
	}
	return *s.quiz, true
}

func (s *Session) Source() ([]retrieval.Document, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]retrieval.Document(nil), s.docs...), s.topic
}

func (s *Session) setSource(docs []retrieval.Document, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = docs
	s.topic = topic
}

// FromFile saves the upload and splits it into quiz-sized documents.
func (s *Service) FromFile(ctx context.Context, sess *Session, name string, data []byte) ([]retrieval.Document, error) {
	path, err := s.uploads.SaveUpload(ingestion.QuizDir, name, data)
	if err != nil {
		return nil, err
	}

	doc, chunks, err := s.uploads.LoadAndSplit(ctx, path, s.splitter)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}

	if s.driver != nil {
		if err := knowledge.SyncDocument(ctx, s.driver, knowledge.FromIngested(doc, chunks, appName)); err != nil {
			s.logger.Printf("sync knowledge graph for %s: %v", doc.Name, err)
		}
	}

	docs := make([]retrieval.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = retrieval.Document{
			PageContent: c.Text,
			Metadata:    map[string]any{"source": c.Source, "index": c.Index},
		}
	}

	sess.setSource(docs, doc.Name)
	s.logger.Printf("split quiz file %s (%d docs)", doc.Name, len(docs))
	return docs, nil
}

// FromTopic searches Wikipedia for term. Results are cached per term.
func (s *Service) FromTopic(ctx context.Context, sess *Session, term string) ([]retrieval.Document, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	s.mu.Lock()
	docs, ok := s.wikiCache[term]
	s.mu.Unlock()

	if !ok {
		found, err := s.search.Search(ctx, term)
		if err != nil {
			return nil, err
		}
		docs = found
		s.mu.Lock()
		s.wikiCache[term] = docs
		s.mu.Unlock()
	}

	sess.setSource(docs, term)
	return docs, nil
}

// Run generates a quiz for docs. Results are cached per session by the docs'
// content and the topic, so re-running the same input skips the model.
func (s *Service) Run(ctx context.Context, sess *Session, docs []retrieval.Document, topic string) (Quiz, error) {
	if len(docs) == 0 {
		return Quiz{}, fmt.Errorf("no documents to build a quiz from")
	}

	key := cacheKey(docs, topic)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if cached, ok := sess.cache[key]; ok {
		sess.quiz = &cached
		return cached, nil
	}

	messages := []llm.Message{{
		Role:    llm.RoleSystem,
		Content: fmt.Sprintf(systemTemplate, retrieval.FormatDocs(docs)),
	}}

	raw, err := s.llm.GenerateStructured(ctx, messages, CreateQuiz)
	if err != nil {
		return Quiz{}, fmt.Errorf("generate quiz: %w", err)
	}

	q, err := Parse(raw)
	if err != nil {
		return Quiz{}, err
	}

	sess.cache[key] = q
	sess.quiz = &q
	s.logger.Printf("generated quiz %q (%d questions)", topic, len(q.Questions))
	return q, nil
}

func cacheKey(docs []retrieval.Document, topic string) string {
	h := sha256.New()
	for _, d := range docs {
		h.Write([]byte(d.PageContent))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)) + ":" + topic
}
