package chat

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fabfab/fullstack-gpt/ingestion"
	"github.com/fabfab/fullstack-gpt/memory"
	"github.com/fabfab/fullstack-gpt/retrieval"
)

// Session is the DocumentGPT state of one user: the visible conversation, the
// summarized memory and the retriever over the most recently uploaded file.
type Session struct {
	// generating is held for the lifetime of an AnswerStream.
	generating sync.Mutex

	mu        sync.RWMutex
	messages  []DisplayMessage
	memory    *memory.SummaryBufferMemory
	retriever retrieval.Retriever
	document  *ingestion.Document
}

func (s *Session) Messages() []DisplayMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DisplayMessage(nil), s.messages...)
}

// Document returns the file the session currently answers from.
func (s *Session) Document() (ingestion.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.document == nil {
		return ingestion.Document{}, false
	}
	return *s.document, true
}

func (s *Session) Memory() *memory.SummaryBufferMemory {
	return s.memory
}

func (s *Session) appendMessage(role, text string) DisplayMessage {
	msg := DisplayMessage{
		ID:        ulid.Make().String(),
		Role:      role,
		Message:   text,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return msg
}

func (s *Session) currentRetriever() retrieval.Retriever {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retriever
}

// useDocument replaces the retriever; answers never blend files.
func (s *Session) useDocument(doc ingestion.Document, retriever retrieval.Retriever) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.document = &doc
	s.retriever = retriever
}
