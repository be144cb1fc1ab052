package calls

import (
	"context"
	"errors"
	"time"

	"lead-crm/internal/audit"
	"lead-crm/internal/leads"
	"lead-crm/internal/voice"
)

// State is the lifecycle state of one call attempt.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateEnded        State = "ended"
	StateFailed       State = "failed"
)

func (s State) Terminal() bool { return s == StateEnded || s == StateFailed }

var (
	ErrTokenFetchFailed      = errors.New("calls: token fetch failed")
	ErrSessionNeverConnected = errors.New("calls: session never connected")
	ErrProviderError         = errors.New("calls: provider error")
	ErrUserAborted           = errors.New("calls: user aborted")

	ErrAlreadyStarted = errors.New("calls: lifecycle already started")
	ErrCallActive     = errors.New("calls: a call is already active for this lead")
	ErrNoActiveCall   = errors.New("calls: no active call for this lead")
	ErrUnknownTool    = errors.New("calls: unknown tool")
)

// Outcome is reported exactly once per lifecycle through the completion
// callback.
type Outcome struct {
	LeadID    string
	State     State
	Err       error
	Connected bool
	StartedAt time.Time
	EndedAt   time.Time
	Messages  []voice.Message
}

// Duration is zero unless the call connected.
func (o Outcome) Duration() time.Duration {
	if !o.Connected || o.StartedAt.IsZero() || o.EndedAt.Before(o.StartedAt) {
		return 0
	}
	return o.EndedAt.Sub(o.StartedAt)
}

// Label is a short outcome name used for metrics and audit.
func (o Outcome) Label() string {
	switch {
	case o.Err == nil:
		return "completed"
	case errors.Is(o.Err, ErrTokenFetchFailed):
		return "token_fetch_failed"
	case errors.Is(o.Err, ErrSessionNeverConnected):
		return "never_connected"
	case errors.Is(o.Err, ErrProviderError):
		return "provider_error"
	case errors.Is(o.Err, ErrUserAborted):
		return "user_aborted"
	}
	return "failed"
}

// Snapshot is a point-in-time view of a controller for the live call monitor.
type Snapshot struct {
	LeadID        string          `json:"lead_id"`
	State         State           `json:"state"`
	EverConnected bool            `json:"ever_connected"`
	SessionID     string          `json:"session_id,omitempty"`
	Error         string          `json:"error,omitempty"`
	Messages      []voice.Message `json:"messages"`
}

// LeadWriter is the record store surface the controller needs.
type LeadWriter interface {
	Get(ctx context.Context, id string) (leads.Lead, error)
	Apply(ctx context.Context, id string, p leads.Patch) (leads.Lead, error)
}

// Recorder appends lead events. Failures are logged and otherwise ignored.
type Recorder interface {
	Record(ctx context.Context, leadID string, typ audit.EventType, message string, metadata map[string]any) error
}
