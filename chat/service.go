// Package chat implements DocumentGPT: questions about an uploaded file answered
// from its most relevant chunks, with summarized memory that survives restarts.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/fullstack-gpt/embeddings"
	"github.com/fabfab/fullstack-gpt/ingestion"
	"github.com/fabfab/fullstack-gpt/knowledge"
	"github.com/fabfab/fullstack-gpt/llm"
	"github.com/fabfab/fullstack-gpt/memory"
	"github.com/fabfab/fullstack-gpt/retrieval"
)

const appName = "DocumentGPT"

var (
	ErrNoDocument = errors.New("no document loaded")
	ErrBusy       = errors.New("an answer is already being generated")
)

type Options struct {
	CacheDir         string
	Splitter         ingestion.Splitter
	RetrievalK       int
	MemoryTokenLimit int
	// EmbeddingModel namespaces cache keys so switching models never reuses vectors.
	EmbeddingModel string
}

type Service struct {
	opts       Options
	uploads    *ingestion.Store
	embedder   embeddings.Embedder
	llm        llm.Client
	memoryFile *memory.FileStore
	graph      GraphStore
	driver     neo4j.DriverWithContext
	logger     *log.Logger
}

func NewService(opts Options, embedder embeddings.Embedder, llmClient llm.Client, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if opts.RetrievalK <= 0 {
		opts.RetrievalK = retrieval.DefaultK
	}

	return &Service{
		opts:       opts,
		uploads:    ingestion.NewStore(opts.CacheDir, logger),
		embedder:   embedder,
		llm:        llmClient,
		memoryFile: memory.NewFileStore(MemoryPath(opts.CacheDir), logger),
		logger:     logger,
	}
}

// MemoryPath is the file the conversation memory is persisted to.
func MemoryPath(cacheDir string) string {
	return filepath.Join(cacheDir, "chat_memory", "memory.json")
}

// WithGraph mirrors embedded files into Neo4j and attaches graph insights to sources.
func (s *Service) WithGraph(driver neo4j.DriverWithContext) *Service {
	s.driver = driver
	if driver != nil {
		s.graph = NewNeo4jGraphStore(driver)
	}
	return s
}

func (s *Service) NewSession() *Session {
	return &Session{
		memory: memory.NewSummaryBufferMemory(s.llm, s.opts.MemoryTokenLimit, s.logger),
	}
}

// Embed stores the upload, splits and embeds it through the per-file cache and
// makes it the session's only source of context.
func (s *Service) Embed(ctx context.Context, sess *Session, name string, data []byte) (EmbedResult, error) {
	path, err := s.uploads.SaveUpload(ingestion.DocumentDir, name, data)
	if err != nil {
		return EmbedResult{}, err
	}

	doc, chunks, err := s.uploads.LoadAndSplit(ctx, path, s.opts.Splitter)
	if err != nil {
		return EmbedResult{}, fmt.Errorf("load %s: %w", name, err)
	}

	store, err := embeddings.OpenBoltStore(embeddings.CacheDir(s.opts.CacheDir, doc.Name))
	if err != nil {
		return EmbedResult{}, err
	}
	defer store.Close()

	cached := embeddings.NewCacheBackedEmbedder(s.embedder, store, s.opts.EmbeddingModel, s.logger)
	index, err := retrieval.Build(ctx, cached, s.embedder, chunks)
	if err != nil {
		return EmbedResult{}, fmt.Errorf("embed %s: %w", doc.Name, err)
	}

	if s.driver != nil {
		if err := knowledge.SyncDocument(ctx, s.driver, knowledge.FromIngested(doc, chunks, appName)); err != nil {
			s.logger.Printf("sync knowledge graph for %s: %v", doc.Name, err)
		}
	}

	sess.useDocument(doc, index.AsRetriever(s.opts.RetrievalK))
	s.logger.Printf("embedded %s (%d chunks)", doc.Name, len(chunks))

	return EmbedResult{
		DocumentID: doc.ID,
		Name:       doc.Name,
		Title:      doc.Title,
		Chunks:     len(chunks),
		Greeting:   Greeting,
	}, nil
}

// Ask records the question and starts streaming the answer. The caller must
// drain or Close the returned stream; only one stream per session runs at a time.
func (s *Service) Ask(ctx context.Context, sess *Session, question string) (*AnswerStream, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question cannot be empty")
	}

	retriever := sess.currentRetriever()
	if retriever == nil {
		return nil, ErrNoDocument
	}

	if !sess.generating.TryLock() {
		return nil, ErrBusy
	}

	stream, sources, err := s.start(ctx, sess, retriever, question)
	if err != nil {
		sess.generating.Unlock()
		return nil, err
	}

	return &AnswerStream{
		ctx:      ctx,
		svc:      s,
		sess:     sess,
		question: question,
		stream:   stream,
		Sources:  sources,
	}, nil
}

// start opens the answer stream. The question joins the history only once the
// model has accepted the prompt.
func (s *Service) start(ctx context.Context, sess *Session, retriever retrieval.Retriever, question string) (llm.Stream, []Source, error) {
	docs, err := retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieve context: %w", err)
	}

	insights := map[string]DocumentInsight{}
	if s.graph != nil && len(docs) > 0 {
		found, insightErr := s.graph.DocumentInsights(ctx, documentIDs(docs))
		if insightErr != nil {
			s.logger.Printf("graph insights error: %v", insightErr)
		} else {
			insights = found
		}
	}

	messages := BuildPrompt(docs, sess.memory.Variables(), question)
	stream, err := s.llm.Stream(ctx, messages)
	if err != nil {
		return nil, nil, fmt.Errorf("llm stream: %w", err)
	}

	sess.appendMessage(RoleHuman, question)
	return stream, mergeSources(docs, insights), nil
}

// finish records a completed answer and persists memory.
func (s *Service) finish(ctx context.Context, sess *Session, question, answer string) error {
	sess.appendMessage(RoleAI, answer)

	if err := sess.memory.SaveContext(ctx, question, answer); err != nil {
		return err
	}

	if messages := sess.memory.Messages(); len(messages) != 0 {
		if err := s.memoryFile.Save(messages); err != nil {
			return err
		}
	}
	return nil
}

// HasSavedMemory reports whether a previous conversation can be restored.
func (s *Service) HasSavedMemory() bool {
	return s.memoryFile.Exists()
}

// RestoreMemory loads the persisted conversation into the session's memory.
func (s *Service) RestoreMemory(sess *Session) (int, error) {
	messages, err := s.memoryFile.Load()
	if err != nil {
		return 0, err
	}
	sess.memory.SetMessages(messages)
	s.logger.Printf("restored %d memory messages", len(messages))
	return len(messages), nil
}

func (s *Service) ResetMemory(sess *Session) {
	sess.memory.Clear()
}
