package audit

import "time"

// Event is an immutable, append-only record of something that happened to a
// lead: a call outcome, an agent tool call, a qualification run or an
// operator action.
//
// Invariants:
// - Events are never updated or deleted (lead_events has a trigger for this).
// - lead_id is required.
// - actor and ip capture are best-effort; do not block call flows on audit failures.
type Event struct {
	ID     string    `json:"id" db:"id"`
	LeadID string    `json:"lead_id" db:"lead_id"`
	Type   EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated operator causing the event, if any.
	// Agent-driven events leave it empty.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeLeadCreated   EventType = "lead_created"
	EventTypeCallConnected EventType = "call_connected"
	EventTypeCallEnded     EventType = "call_ended"
	EventTypeCallFailed    EventType = "call_failed"
	EventTypeToolCall      EventType = "tool_call"
	EventTypeTranscript    EventType = "transcript_processed"
	EventTypeSimulation    EventType = "qualification_simulated"
	EventTypeAdminAction   EventType = "admin_action"
)
