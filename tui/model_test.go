package tui

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fabfab/fullstack-gpt/chat"
)

type fakeStream struct {
	tokens []string
	closed bool
}

func (f *fakeStream) Recv() (string, error) {
	if f.closed || len(f.tokens) == 0 {
		return "", io.EOF
	}
	t := f.tokens[0]
	f.tokens = f.tokens[1:]
	return t, nil
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

// fakePort hands out its streams in order, one per question.
type fakePort struct {
	asked   []string
	streams []*fakeStream
	history []chat.DisplayMessage
}

func (p *fakePort) Ask(_ context.Context, question string) (Stream, error) {
	if len(p.streams) == 0 {
		return nil, errors.New("an answer is already being generated")
	}
	stream := p.streams[0]
	p.streams = p.streams[1:]
	p.asked = append(p.asked, question)
	p.history = append(p.history, chat.DisplayMessage{Role: chat.RoleHuman, Message: question})
	return stream, nil
}

func (p *fakePort) History() []chat.DisplayMessage {
	return p.history
}

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return next.(Model)
}

func TestEnterStreamsTokensIncrementally(t *testing.T) {
	port := &fakePort{streams: []*fakeStream{{tokens: []string{"At the ", "Ministry."}}}}
	m := sized(New(port, "DocumentGPT", chat.Greeting))
	if !strings.Contains(m.View(), chat.Greeting) {
		t.Fatal("expected greeting in status line")
	}

	m.input.SetValue("Where does Winston work?")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	if len(port.asked) != 1 || port.asked[0] != "Where does Winston work?" {
		t.Fatalf("unexpected questions %v", port.asked)
	}
	if cmd == nil {
		t.Fatal("expected a command waiting for tokens")
	}

	msg := cmd()
	next, cmd = m.Update(msg)
	m = next.(Model)
	if m.pending != "At the " {
		t.Fatalf("expected first token rendered, got %q", m.pending)
	}

	next, cmd = m.Update(cmd())
	m = next.(Model)
	if m.pending != "At the Ministry." {
		t.Fatalf("expected both tokens, got %q", m.pending)
	}

	if _, ok := cmd().(doneMsg); !ok {
		t.Fatal("expected done after last token")
	}
	next, _ = m.Update(doneMsg{stream: m.stream})
	m = next.(Model)
	if m.stream != nil {
		t.Fatal("expected stream to be released")
	}
}

func TestEscDropsStream(t *testing.T) {
	stream := &fakeStream{tokens: []string{"a", "b"}}
	port := &fakePort{streams: []*fakeStream{stream}}
	m := sized(New(port, "DocumentGPT", ""))

	m.input.SetValue("question")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)
	if !stream.closed {
		t.Fatal("expected stream to be closed")
	}
	if m.stream != nil || m.status != "Answer cancelled." {
		t.Fatalf("unexpected state after esc: %q", m.status)
	}

	next, _ = m.Update(tokenMsg{stream: stream, token: "late"})
	m = next.(Model)
	if m.pending != "" {
		t.Fatal("tokens from a dropped stream must be ignored")
	}
}

func TestEnterIgnoredWhileStreaming(t *testing.T) {
	port := &fakePort{streams: []*fakeStream{{tokens: []string{"a"}}, {tokens: []string{"b"}}}}
	m := sized(New(port, "DocumentGPT", ""))

	m.input.SetValue("first")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	m.input.SetValue("second")
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)

	if len(port.asked) != 1 {
		t.Fatalf("expected one question while streaming, got %v", port.asked)
	}
}

func TestLateMessagesFromDroppedStreamAreIgnored(t *testing.T) {
	first := &fakeStream{tokens: []string{"stale"}}
	second := &fakeStream{tokens: []string{"fresh"}}
	port := &fakePort{streams: []*fakeStream{first, second}}
	m := sized(New(port, "DocumentGPT", ""))

	m.input.SetValue("first question")
	next, waitFirst := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)

	m.input.SetValue("second question")
	next, waitSecond := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	if m.stream != Stream(second) {
		t.Fatal("expected the second stream to be active")
	}

	late := waitFirst()
	if _, ok := late.(doneMsg); !ok {
		t.Fatalf("expected done from the dropped stream, got %T", late)
	}
	next, _ = m.Update(late)
	m = next.(Model)
	next, _ = m.Update(errMsg{stream: first, err: errors.New("closed")})
	m = next.(Model)

	if m.stream != Stream(second) || second.closed {
		t.Fatal("late messages from the dropped stream must not end the active answer")
	}

	next, _ = m.Update(waitSecond())
	m = next.(Model)
	if m.pending != "fresh" {
		t.Fatalf("expected tokens from the active stream, got %q", m.pending)
	}
}
