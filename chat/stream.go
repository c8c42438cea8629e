package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/fabfab/fullstack-gpt/llm"
)

// AnswerStream relays answer tokens. When the model finishes, the answer is
// appended to the session history and saved to memory before Recv reports io.EOF.
// Closing early drops the answer. Close may be called while another goroutine
// is blocked in Recv.
type AnswerStream struct {
	ctx      context.Context
	svc      *Service
	sess     *Session
	question string
	stream   llm.Stream

	Sources []Source

	mu      sync.Mutex
	builder strings.Builder
	once    sync.Once
	done    bool
	err     error
}

func (a *AnswerStream) Recv() (string, error) {
	a.mu.Lock()
	if a.done {
		defer a.mu.Unlock()
		return "", a.result()
	}
	a.mu.Unlock()

	token, err := a.stream.Recv()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done {
		return "", a.result()
	}
	if err != nil {
		a.done = true
		if errors.Is(err, io.EOF) {
			a.err = a.svc.finish(a.ctx, a.sess, a.question, strings.TrimSpace(a.builder.String()))
		} else {
			a.err = err
		}
		a.release()
		return "", a.result()
	}

	a.builder.WriteString(token)
	return token, nil
}

// Answer returns the text received so far.
func (a *AnswerStream) Answer() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.builder.String()
}

func (a *AnswerStream) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.done = true
	a.release()
	return nil
}

func (a *AnswerStream) result() error {
	if a.err != nil {
		return a.err
	}
	return io.EOF
}

func (a *AnswerStream) release() {
	a.once.Do(func() {
		a.stream.Close()
		a.sess.generating.Unlock()
	})
}
