package leads

import (
	"encoding/json"
	"time"
)

// Patch is a field-level update. Nil fields are left untouched; a non-nil
// empty slice overwrites a list with an empty list.
type Patch struct {
	Status *Status `json:"status,omitempty"`

	CallStartedAt       *time.Time `json:"call_started_at,omitempty"`
	CallEndedAt         *time.Time `json:"call_ended_at,omitempty"`
	CallDurationSeconds *int       `json:"call_duration_seconds,omitempty"`

	Transcript       *string `json:"transcript,omitempty"`
	CallSummary      *string `json:"call_summary,omitempty"`
	CallRecordingURL *string `json:"call_recording_url,omitempty"`

	QualificationScore  *int     `json:"qualification_score,omitempty"`
	QualificationResult *string  `json:"qualification_result,omitempty"`
	KeyInsights         []string `json:"key_insights,omitempty"`
	Objections          []string `json:"objections,omitempty"`
	NextActions         []string `json:"next_actions,omitempty"`
	ImprovementAreas    []string `json:"improvement_areas,omitempty"`

	MeetingScheduled *bool      `json:"meeting_scheduled,omitempty"`
	MeetingDatetime  *time.Time `json:"meeting_datetime,omitempty"`

	CurrentPlatform        *string `json:"current_platform,omitempty"`
	MonthlyTraffic         *int    `json:"monthly_traffic,omitempty"`
	MonthlyOrders          *int    `json:"monthly_orders,omitempty"`
	ImplementationTimeline *string `json:"implementation_timeline,omitempty"`
	ToneSignals            *string `json:"tone_signals,omitempty"`
}

// Column is one SET clause entry of a patch.
type Column struct {
	Name  string
	Value any
}

// Columns lists the set fields in a stable order. List fields are encoded as
// JSON for jsonb columns.
func (p Patch) Columns() []Column {
	var out []Column
	add := func(name string, v any) { out = append(out, Column{Name: name, Value: v}) }

	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.CallStartedAt != nil {
		add("call_started_at", *p.CallStartedAt)
	}
	if p.CallEndedAt != nil {
		add("call_ended_at", *p.CallEndedAt)
	}
	if p.CallDurationSeconds != nil {
		add("call_duration_seconds", *p.CallDurationSeconds)
	}
	if p.Transcript != nil {
		add("transcript", *p.Transcript)
	}
	if p.CallSummary != nil {
		add("call_summary", *p.CallSummary)
	}
	if p.CallRecordingURL != nil {
		add("call_recording_url", *p.CallRecordingURL)
	}
	if p.QualificationScore != nil {
		add("qualification_score", *p.QualificationScore)
	}
	if p.QualificationResult != nil {
		add("qualification_result", *p.QualificationResult)
	}
	if p.KeyInsights != nil {
		add("key_insights", jsonList(p.KeyInsights))
	}
	if p.Objections != nil {
		add("objections", jsonList(p.Objections))
	}
	if p.NextActions != nil {
		add("next_actions", jsonList(p.NextActions))
	}
	if p.ImprovementAreas != nil {
		add("improvement_areas", jsonList(p.ImprovementAreas))
	}
	if p.MeetingScheduled != nil {
		add("meeting_scheduled", *p.MeetingScheduled)
	}
	if p.MeetingDatetime != nil {
		add("meeting_datetime", *p.MeetingDatetime)
	}
	if p.CurrentPlatform != nil {
		add("current_platform", *p.CurrentPlatform)
	}
	if p.MonthlyTraffic != nil {
		add("monthly_traffic", *p.MonthlyTraffic)
	}
	if p.MonthlyOrders != nil {
		add("monthly_orders", *p.MonthlyOrders)
	}
	if p.ImplementationTimeline != nil {
		add("implementation_timeline", *p.ImplementationTimeline)
	}
	if p.ToneSignals != nil {
		add("tone_signals", *p.ToneSignals)
	}
	return out
}

func (p Patch) IsEmpty() bool { return len(p.Columns()) == 0 }

// Apply writes the set fields onto l.
func (p Patch) Apply(l *Lead) {
	if p.Status != nil {
		l.Status = *p.Status
	}
	if p.CallStartedAt != nil {
		l.CallStartedAt = Time(*p.CallStartedAt)
	}
	if p.CallEndedAt != nil {
		l.CallEndedAt = Time(*p.CallEndedAt)
	}
	if p.CallDurationSeconds != nil {
		l.CallDurationSeconds = Int(*p.CallDurationSeconds)
	}
	if p.Transcript != nil {
		l.Transcript = String(*p.Transcript)
	}
	if p.CallSummary != nil {
		l.CallSummary = String(*p.CallSummary)
	}
	if p.CallRecordingURL != nil {
		l.CallRecordingURL = String(*p.CallRecordingURL)
	}
	if p.QualificationScore != nil {
		l.QualificationScore = Int(*p.QualificationScore)
	}
	if p.QualificationResult != nil {
		l.QualificationResult = String(*p.QualificationResult)
	}
	if p.KeyInsights != nil {
		l.KeyInsights = cloneList(p.KeyInsights)
	}
	if p.Objections != nil {
		l.Objections = cloneList(p.Objections)
	}
	if p.NextActions != nil {
		l.NextActions = cloneList(p.NextActions)
	}
	if p.ImprovementAreas != nil {
		l.ImprovementAreas = cloneList(p.ImprovementAreas)
	}
	if p.MeetingScheduled != nil {
		l.MeetingScheduled = *p.MeetingScheduled
	}
	if p.MeetingDatetime != nil {
		l.MeetingDatetime = Time(*p.MeetingDatetime)
	}
	if p.CurrentPlatform != nil {
		l.CurrentPlatform = String(*p.CurrentPlatform)
	}
	if p.MonthlyTraffic != nil {
		l.MonthlyTraffic = Int(*p.MonthlyTraffic)
	}
	if p.MonthlyOrders != nil {
		l.MonthlyOrders = Int(*p.MonthlyOrders)
	}
	if p.ImplementationTimeline != nil {
		l.ImplementationTimeline = String(*p.ImplementationTimeline)
	}
	if p.ToneSignals != nil {
		l.ToneSignals = String(*p.ToneSignals)
	}
}

func jsonList(v []string) []byte {
	b, _ := json.Marshal(v)
	return b
}

func cloneList(v []string) []string {
	out := make([]string, len(v))
	copy(out, v)
	return out
}

// Pointer helpers for building patches.

func StatusPtr(s Status) *Status { return &s }

func String(s string) *string { return &s }

func Int(n int) *int { return &n }

func Bool(b bool) *bool { return &b }

func Time(t time.Time) *time.Time { return &t }
