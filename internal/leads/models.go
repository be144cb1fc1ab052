package leads

import (
	"errors"
	"time"
)

// Lead is the single persisted entity: one prospect and its qualification
// call outcome.
//
// Contact fields are written once at creation. Status is advanced only by the
// call lifecycle, tool calls and qualification; see CanTransition.
type Lead struct {
	ID string `json:"id" db:"id"`

	Name    string `json:"name" db:"name"`
	Surname string `json:"surname" db:"surname"`
	Email   string `json:"email" db:"email"`
	Phone   string `json:"phone" db:"phone"`
	Website string `json:"website,omitempty" db:"website"`

	Status Status `json:"status" db:"status"`

	CallStartedAt       *time.Time `json:"call_started_at,omitempty" db:"call_started_at"`
	CallEndedAt         *time.Time `json:"call_ended_at,omitempty" db:"call_ended_at"`
	CallDurationSeconds *int       `json:"call_duration_seconds,omitempty" db:"call_duration_seconds"`

	Transcript       *string `json:"transcript,omitempty" db:"transcript"`
	CallSummary      *string `json:"call_summary,omitempty" db:"call_summary"`
	CallRecordingURL *string `json:"call_recording_url,omitempty" db:"call_recording_url"`

	QualificationScore  *int     `json:"qualification_score,omitempty" db:"qualification_score"`
	QualificationResult *string  `json:"qualification_result,omitempty" db:"qualification_result"`
	KeyInsights         []string `json:"key_insights,omitempty" db:"key_insights"`
	Objections          []string `json:"objections,omitempty" db:"objections"`
	NextActions         []string `json:"next_actions,omitempty" db:"next_actions"`
	ImprovementAreas    []string `json:"improvement_areas,omitempty" db:"improvement_areas"`

	MeetingScheduled bool       `json:"meeting_scheduled" db:"meeting_scheduled"`
	MeetingDatetime  *time.Time `json:"meeting_datetime,omitempty" db:"meeting_datetime"`

	CurrentPlatform        *string `json:"current_platform,omitempty" db:"current_platform"`
	MonthlyTraffic         *int    `json:"monthly_traffic,omitempty" db:"monthly_traffic"`
	MonthlyOrders          *int    `json:"monthly_orders,omitempty" db:"monthly_orders"`
	ImplementationTimeline *string `json:"implementation_timeline,omitempty" db:"implementation_timeline"`
	ToneSignals            *string `json:"tone_signals,omitempty" db:"tone_signals"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusNew           Status = "new"
	StatusCalling       Status = "calling"
	StatusCallCompleted Status = "call_completed"
	StatusQualified     Status = "qualified"
	StatusNotQualified  Status = "not_qualified"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusCalling, StatusCallCompleted, StatusQualified, StatusNotQualified:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic transition occurs.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCallCompleted, StatusQualified, StatusNotQualified:
		return true
	}
	return false
}

func (s Status) rank() int {
	switch s {
	case StatusNew:
		return 0
	case StatusCalling:
		return 1
	default:
		return 2
	}
}

// CanTransition enforces new -> calling -> terminal. Moving between terminal
// statuses is allowed (a completed call may later be qualified); nothing
// returns to new.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if to == StatusNew {
		return from == StatusNew
	}
	return to.rank() >= from.rank()
}

// Score thresholds: >= QualifiedScore is qualified, < NotQualifiedScore is not.
const (
	QualifiedScore    = 70
	NotQualifiedScore = 40
)

// StatusForScore derives the terminal status from a qualification score.
func StatusForScore(score int) Status {
	switch {
	case score >= QualifiedScore:
		return StatusQualified
	case score < NotQualifiedScore:
		return StatusNotQualified
	default:
		return StatusCallCompleted
	}
}

// ResultLabel is the human readable qualification_result for a score.
func ResultLabel(score int) string {
	switch StatusForScore(score) {
	case StatusQualified:
		return "Qualified"
	case StatusNotQualified:
		return "Not Qualified"
	default:
		return "Potential"
	}
}

// NewLead is the creation input. Website is optional.
type NewLead struct {
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Website string `json:"website,omitempty"`
}

var (
	ErrNotFound          = errors.New("leads: not found")
	ErrInvalidArgument   = errors.New("leads: invalid argument")
	ErrInvalidTransition = errors.New("leads: invalid status transition")
	ErrEmptyPatch        = errors.New("leads: empty patch")
)
