package core

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"

	"github.com/mohammad-safakhou/advisor/internal/agent/config"
)

var errUnreachable = errors.New("dial tcp: connection refused")

type stubReply struct {
	text  string
	usage TokenUsage
	err   error
}

type stubCall struct {
	model       string
	messages    []Message
	temperature float32
}

// stubLLM returns scripted replies in call order; once exhausted it returns
// empty text.
type stubLLM struct {
	mu      sync.Mutex
	replies []stubReply
	calls   []stubCall
}

func newStubLLM(replies ...stubReply) *stubLLM { return &stubLLM{replies: replies} }

func (s *stubLLM) Complete(_ context.Context, model string, messages []Message, temperature float32) (string, TokenUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, stubCall{model: model, messages: messages, temperature: temperature})
	if len(s.replies) == 0 {
		return "", TokenUsage{}, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.text, r.usage, r.err
}

func (s *stubLLM) lastUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return ""
	}
	msgs := s.calls[len(s.calls)-1].messages
	return msgs[len(msgs)-1].Content
}

type failingLLM struct{ err error }

func (f failingLLM) Complete(context.Context, string, []Message, float32) (string, TokenUsage, error) {
	return "", TokenUsage{}, f.err
}

type stubIndex struct {
	mu      sync.Mutex
	sources []Source
	err     error
	queries []string
	ks      []int
}

func (s *stubIndex) Search(_ context.Context, query string, k int) ([]Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	s.ks = append(s.ks, k)
	if s.err != nil {
		return nil, s.err
	}
	return append([]Source(nil), s.sources...), nil
}

func testConfig() *config.Config {
	return config.Default()
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }
