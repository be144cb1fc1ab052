// Package voicetest provides a scripted voice provider and token issuer for
// tests of code built on package voice.
package voicetest

import (
	"context"
	"errors"
	"sync"

	"lead-crm/internal/voice"
)

// Issuer is a TokenIssuer returning URL or Err.
type Issuer struct {
	URL string
	Err error

	mu    sync.Mutex
	calls []string
}

func (i *Issuer) SignedURL(ctx context.Context, agentID string) (string, error) {
	i.mu.Lock()
	i.calls = append(i.calls, agentID)
	i.mu.Unlock()
	if i.Err != nil {
		return "", i.Err
	}
	return i.URL, nil
}

// Calls returns the agent ids requested so far.
func (i *Issuer) Calls() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.calls...)
}

// Provider records started sessions. Tests drive them with Session.Emit and
// Session.CallTool.
type Provider struct {
	StartErr error

	// EmitOnEnd makes Session.End deliver a disconnected event, the way a
	// real provider reports its own close after a local hang-up.
	EmitOnEnd bool

	mu       sync.Mutex
	sessions []*Session
	started  chan *Session
}

func NewProvider() *Provider {
	return &Provider{started: make(chan *Session, 8)}
}

func (p *Provider) Start(ctx context.Context, signedURL string, sink voice.EventSink, tools voice.ToolHandler) (voice.Session, error) {
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	s := &Session{URL: signedURL, sink: sink, tools: tools, emitOnEnd: p.EmitOnEnd}
	p.mu.Lock()
	p.sessions = append(p.sessions, s)
	p.mu.Unlock()
	select {
	case p.started <- s:
	default:
	}
	return s, nil
}

// Started delivers each session as it is started.
func (p *Provider) Started() <-chan *Session { return p.started }

func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

type Session struct {
	URL string

	sink      voice.EventSink
	tools     voice.ToolHandler
	emitOnEnd bool

	mu    sync.Mutex
	ended int
}

func (s *Session) ID() string { return "fake-" + s.URL }

func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	s.ended++
	first := s.ended == 1
	s.mu.Unlock()
	if first && s.emitOnEnd {
		s.sink(voice.Event{Type: voice.EventDisconnected, Reason: "ended locally"})
	}
	return nil
}

// EndCalls reports how often End was called.
func (s *Session) EndCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Emit delivers ev to the session's sink synchronously.
func (s *Session) Emit(ev voice.Event) { s.sink(ev) }

// CallTool invokes the registered tool handler the way the agent would.
func (s *Session) CallTool(ctx context.Context, call voice.ToolCall) (string, error) {
	if s.tools == nil {
		return "", errors.New("voicetest: no tool handler")
	}
	return s.tools(ctx, call)
}
