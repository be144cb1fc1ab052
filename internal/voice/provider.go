// Package voice is the boundary to the conversational voice provider: a token
// issuer that hands out signed session URLs and a Provider that opens a live
// session, emits typed lifecycle events and relays agent tool calls.
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventMessage      EventType = "message"
	EventError        EventType = "error"
)

// Event is one provider lifecycle notification. For a given session,
// EventConnected (if it happens) is always delivered before EventDisconnected.
type Event struct {
	Type EventType

	// Message is set for EventMessage.
	Message *Message

	// Err is set for EventError.
	Err error

	// Reason is a provider supplied close reason for EventDisconnected.
	Reason string
}

// Message is an inbound session message kept for on-screen display.
type Message struct {
	Source string          `json:"source"`
	Kind   string          `json:"kind"`
	Text   string          `json:"text,omitempty"`
	Raw    json.RawMessage `json:"raw,omitempty"`
	At     time.Time       `json:"at"`
}

// ToolCall is an agent-invoked operation with structured arguments.
type ToolCall struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params"`
}

// EventSink receives events in delivery order. It must not block for long;
// the provider's read loop calls it inline.
type EventSink func(Event)

// ToolHandler answers a tool call with an acknowledgement string. It is
// invoked off the session read loop so a slow handler never stalls audio.
type ToolHandler func(ctx context.Context, call ToolCall) (string, error)

// Provider starts sessions from a signed URL.
type Provider interface {
	Start(ctx context.Context, signedURL string, sink EventSink, tools ToolHandler) (Session, error)
}

// Session is a live voice session handle.
type Session interface {
	// End requests provider-side termination. It is safe to call more than once.
	End(ctx context.Context) error
	ID() string
}

// TokenIssuer requests short-lived signed session URLs keyed by agent id.
type TokenIssuer interface {
	SignedURL(ctx context.Context, agentID string) (string, error)
}

var (
	ErrAgentIDRequired = errors.New("voice: agent id is required")
	ErrNoSignedURL     = errors.New("voice: provider returned no signed url")
	ErrSessionClosed   = errors.New("voice: session closed")
)
