package qualification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lead-crm/internal/audit"
	"lead-crm/internal/leads"
	"lead-crm/internal/metrics"
)

// LeadWriter is the record store surface used here.
type LeadWriter interface {
	Get(ctx context.Context, id string) (leads.Lead, error)
	Apply(ctx context.Context, id string, p leads.Patch) (leads.Lead, error)
}

// Recorder appends lead events.
type Recorder interface {
	Record(ctx context.Context, leadID string, typ audit.EventType, message string, metadata map[string]any) error
}

// Processor extracts qualification fields from a finished call's transcript
// and writes them back to the lead.
type Processor struct {
	model    Model
	leads    LeadWriter
	recorder Recorder
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewProcessor(model Model, lw LeadWriter, rec Recorder, m *metrics.Metrics, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{model: model, leads: lw, recorder: rec, metrics: m, log: log}
}

// Process fails with ErrEmptyTranscript without touching the record when the
// transcript is blank. When extraction fails only the raw transcript is
// kept and ErrExtractionFailed is returned; no extracted field is written.
func (p *Processor) Process(ctx context.Context, leadID, transcript string) (leads.Lead, error) {
	if strings.TrimSpace(transcript) == "" {
		return leads.Lead{}, ErrEmptyTranscript
	}
	if _, err := p.leads.Get(ctx, leadID); err != nil {
		return leads.Lead{}, err
	}

	ex, err := p.model.Extract(ctx, transcript)
	if err != nil {
		p.metrics.QualificationRun("extract", "failed")
		p.log.Warn("transcript extraction failed", "lead_id", leadID, "err", err)
		if _, werr := p.leads.Apply(ctx, leadID, leads.Patch{Transcript: leads.String(transcript)}); werr != nil {
			p.log.Error("raw transcript not saved", "lead_id", leadID, "err", werr)
		}
		return leads.Lead{}, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	patch := ExtractionPatch(transcript, ex)
	l, err := p.leads.Apply(ctx, leadID, patch)
	if err != nil {
		p.metrics.QualificationRun("extract", "write_failed")
		return leads.Lead{}, err
	}
	p.metrics.QualificationRun("extract", "ok")
	record(ctx, p.recorder, p.log, leadID, audit.EventTypeTranscript, "transcript processed", map[string]any{
		"qualification_score": ex.QualificationScore,
		"status":              string(l.Status),
	})
	return l, nil
}

// ExtractionPatch maps an extraction onto the lead fields. The demo
// personalization note becomes the single next action; meeting fields are
// only written when a datetime was extracted.
func ExtractionPatch(transcript string, ex Extraction) leads.Patch {
	p := leads.Patch{
		Status:              leads.StatusPtr(leads.StatusForScore(ex.QualificationScore)),
		Transcript:          leads.String(transcript),
		CallSummary:         leads.String(ex.CallSummary),
		QualificationScore:  leads.Int(ex.QualificationScore),
		QualificationResult: leads.String(leads.ResultLabel(ex.QualificationScore)),
		KeyInsights:         nonNil(ex.KeyInsights),
	}
	if ex.DemoPersonalization != "" {
		p.NextActions = []string{ex.DemoPersonalization}
	}
	if ex.MeetingDatetime != nil {
		p.MeetingScheduled = leads.Bool(true)
		p.MeetingDatetime = leads.Time(*ex.MeetingDatetime)
	}
	return p
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func record(ctx context.Context, rec Recorder, log *slog.Logger, leadID string, typ audit.EventType, msg string, meta map[string]any) {
	if rec == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := rec.Record(ctx, leadID, typ, msg, meta); err != nil {
		log.Warn("lead event not recorded", "lead_id", leadID, "type", typ, "err", err)
	}
}
