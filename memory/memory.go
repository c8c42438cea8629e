// Package memory keeps a rolling conversation buffer whose oldest turns are folded
// into a model-written summary once the buffer outgrows its token budget.
package memory

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/fabfab/fullstack-gpt/llm"
)

const summaryPrompt = `Progressively summarize the lines of conversation provided, adding onto the previous summary returning a new summary.

Current summary:
%s

New lines of conversation:
%s

New summary:`

// Summarizer is the part of llm.Client the memory needs.
type Summarizer interface {
	Generate(ctx context.Context, messages []llm.Message) (string, error)
}

type SummaryBufferMemory struct {
	mu            sync.Mutex
	summarizer    Summarizer
	logger        *log.Logger
	maxTokenLimit int
	messages      []llm.Message
	summary       string
}

func NewSummaryBufferMemory(summarizer Summarizer, maxTokenLimit int, logger *log.Logger) *SummaryBufferMemory {
	if logger == nil {
		logger = log.Default()
	}
	return &SummaryBufferMemory{
		summarizer:    summarizer,
		logger:        logger,
		maxTokenLimit: maxTokenLimit,
	}
}

// SaveContext appends one exchange and prunes the buffer back under the limit.
func (m *SummaryBufferMemory) SaveContext(ctx context.Context, input, output string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages,
		llm.Message{Role: llm.RoleUser, Content: input},
		llm.Message{Role: llm.RoleAssistant, Content: output},
	)
	return m.prune(ctx)
}

func (m *SummaryBufferMemory) prune(ctx context.Context) error {
	if m.maxTokenLimit <= 0 || EstimateTokens(m.messages) <= m.maxTokenLimit {
		return nil
	}

	pruned := make([]llm.Message, 0)
	for len(m.messages) > 0 && EstimateTokens(m.messages) > m.maxTokenLimit {
		pruned = append(pruned, m.messages[0])
		m.messages = m.messages[1:]
	}

	prompt := fmt.Sprintf(summaryPrompt, m.summary, bufferString(pruned))
	summary, err := m.summarizer.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		return fmt.Errorf("summarize memory: %w", err)
	}
	m.summary = strings.TrimSpace(summary)
	m.logger.Printf("memory summarized %d messages", len(pruned))
	return nil
}

// Variables returns the history to place in a prompt: the summary as a system
// message, then the buffered messages.
func (m *SummaryBufferMemory) Variables() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]llm.Message, 0, len(m.messages)+1)
	if m.summary != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: m.summary})
	}
	return append(out, m.messages...)
}

func (m *SummaryBufferMemory) Messages() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Message(nil), m.messages...)
}

// SetMessages replaces the buffer without summarizing.
func (m *SummaryBufferMemory) SetMessages(messages []llm.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append([]llm.Message(nil), messages...)
}

func (m *SummaryBufferMemory) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

func (m *SummaryBufferMemory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	m.summary = ""
}

// EstimateTokens approximates token usage at four characters per token.
func EstimateTokens(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += (len([]rune(msg.Content)) + 3) / 4
	}
	return total
}

func bufferString(messages []llm.Message) string {
	lines := make([]string, len(messages))
	for i, msg := range messages {
		prefix := "Human"
		switch msg.Role {
		case llm.RoleAssistant:
			prefix = "AI"
		case llm.RoleSystem:
			prefix = "System"
		}
		lines[i] = prefix + ": " + msg.Content
	}
	return strings.Join(lines, "\n")
}
