package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// LeadsSummaryRequest requests dashboard totals. A zero range covers every lead.
type LeadsSummaryRequest struct {
	Range TimeRange `json:"range"`
}

type LeadsSummary struct {
	TotalLeads    int `json:"total_leads"`
	NewLeads      int `json:"new_leads"`
	CallingLeads  int `json:"calling_leads"`
	CallCompleted int `json:"call_completed_leads"`
	Qualified     int `json:"qualified_leads"`
	NotQualified  int `json:"not_qualified_leads"`

	ScoredLeads  int     `json:"scored_leads"`
	AverageScore float64 `json:"average_score"`

	MeetingsScheduled int `json:"meetings_scheduled"`

	CalledLeads            int `json:"called_leads"`
	TotalDurationSeconds   int `json:"total_call_duration_seconds"`
	AverageDurationSeconds int `json:"average_call_duration_seconds"`

	// QualificationRate is qualified over leads with a terminal status.
	QualificationRate float64 `json:"qualification_rate"`
}
