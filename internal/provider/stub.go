package provider

import (
	"context"
	"strings"
	"sync"
)

// StubProvider replays scripted responses. When the script runs out it
// echoes the first line of the last message, so it also serves as an
// offline backend. A rendered prompt never echoes its own JSON example.
type StubProvider struct {
	mu        sync.Mutex
	responses []StubReply
	calls     []StubCall
}

// StubReply is one scripted outcome: a response or an error.
type StubReply struct {
	Content string
	Err     error
}

// StubCall records what the stub was asked.
type StubCall struct {
	Messages []Message
	Options  Options
}

func NewStubProvider(replies ...StubReply) *StubProvider {
	return &StubProvider{responses: replies}
}

// Push appends replies to the script.
func (m *StubProvider) Push(replies ...StubReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, replies...)
}

func (m *StubProvider) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, StubCall{Messages: append([]Message(nil), messages...), Options: opts})

	if len(m.responses) == 0 {
		var last string
		if len(messages) > 0 {
			last = messages[len(messages)-1].Content
		}
		if i := strings.IndexByte(last, '\n'); i >= 0 {
			last = last[:i]
		}
		return &Response{Content: "You said: " + last}, nil
	}

	reply := m.responses[0]
	m.responses = m.responses[1:]
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &Response{Content: reply.Content}, nil
}

// Calls returns a copy of every recorded call.
func (m *StubProvider) Calls() []StubCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StubCall(nil), m.calls...)
}

func (m *StubProvider) Name() string {
	return "stub"
}
