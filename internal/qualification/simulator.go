package qualification

import (
	"context"
	"log/slog"
	"time"

	"lead-crm/internal/audit"
	"lead-crm/internal/leads"
	"lead-crm/internal/metrics"
)

const (
	SimulatedCallSeconds = 180
	followUpDelay        = 7 * 24 * time.Hour
)

// FallbackSimulation is the canned result used when the gateway is
// unavailable or returns something unusable, so a simulated lead always
// reaches a terminal status.
func FallbackSimulation() Simulation {
	return Simulation{
		CurrentPlatform:        "Shopify",
		MonthlyTraffic:         15000,
		MonthlyOrders:          650,
		ImprovementAreas:       []string{"Conversion optimization", "Analytics insights", "Personalization"},
		ImplementationTimeline: "Within 2 months",
		CallSummary:            "Productive call with strong interest in analytics and conversion optimization. Currently using basic analytics and looking to upgrade.",
		KeyInsights: []string{
			"High traffic but lower conversion rate indicates optimization opportunity",
			"Currently using basic Shopify analytics, needs more depth",
			"Budget approved for Q1 implementation",
		},
		Objections:          []string{"Concerned about implementation timeline"},
		QualificationResult: "Qualified",
		QualificationScore:  85,
		NextActions: []string{
			"Send detailed product demo",
			"Schedule follow-up with technical team",
			"Provide case studies from similar retailers",
		},
		MeetingScheduled: true,
	}
}

// SimulationResult reports how a simulation run produced its data.
type SimulationResult struct {
	Lead     leads.Lead `json:"lead"`
	Fallback bool       `json:"fallback"`
}

// Simulator qualifies a lead without a real call.
type Simulator struct {
	model    Model
	leads    LeadWriter
	recorder Recorder
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

func NewSimulator(model Model, lw LeadWriter, rec Recorder, m *metrics.Metrics, log *slog.Logger) *Simulator {
	if log == nil {
		log = slog.Default()
	}
	return &Simulator{model: model, leads: lw, recorder: rec, metrics: m, log: log, now: time.Now}
}

// WithClock overrides the clock; used in tests.
func (s *Simulator) WithClock(now func() time.Time) *Simulator {
	s.now = now
	return s
}

// Run marks the lead as calling, asks the model for a simulated call and
// writes the terminal result. Any model failure falls back to
// FallbackSimulation.
func (s *Simulator) Run(ctx context.Context, leadID string) (SimulationResult, error) {
	l, err := s.leads.Get(ctx, leadID)
	if err != nil {
		return SimulationResult{}, err
	}

	started := s.now().UTC()
	if _, err := s.leads.Apply(ctx, leadID, leads.Patch{
		Status:        leads.StatusPtr(leads.StatusCalling),
		CallStartedAt: leads.Time(started),
	}); err != nil {
		return SimulationResult{}, err
	}

	sim, err := s.model.Simulate(ctx, l)
	fallback := false
	if err != nil {
		s.log.Warn("simulation failed, using fallback payload", "lead_id", leadID, "err", err)
		sim = FallbackSimulation()
		fallback = true
	}

	ended := s.now().UTC()
	if ended.Before(started) {
		ended = started
	}
	out, err := s.leads.Apply(ctx, leadID, SimulationPatch(sim, ended))
	if err != nil {
		s.metrics.QualificationRun("simulate", "write_failed")
		return SimulationResult{}, err
	}

	res := "ok"
	if fallback {
		res = "fallback"
	}
	s.metrics.QualificationRun("simulate", res)
	record(ctx, s.recorder, s.log, leadID, audit.EventTypeSimulation, "qualification simulated", map[string]any{
		"fallback":            fallback,
		"qualification_score": sim.QualificationScore,
		"status":              string(out.Status),
	})
	return SimulationResult{Lead: out, Fallback: fallback}, nil
}

// SimulationPatch maps a simulation onto the terminal lead fields.
func SimulationPatch(sim Simulation, ended time.Time) leads.Patch {
	p := leads.Patch{
		Status:                 leads.StatusPtr(leads.StatusForScore(sim.QualificationScore)),
		CallEndedAt:            leads.Time(ended),
		CallDurationSeconds:    leads.Int(SimulatedCallSeconds),
		CurrentPlatform:        leads.String(sim.CurrentPlatform),
		MonthlyTraffic:         leads.Int(sim.MonthlyTraffic),
		MonthlyOrders:          leads.Int(sim.MonthlyOrders),
		ImprovementAreas:       nonNil(sim.ImprovementAreas),
		ImplementationTimeline: leads.String(sim.ImplementationTimeline),
		CallSummary:            leads.String(sim.CallSummary),
		KeyInsights:            nonNil(sim.KeyInsights),
		Objections:             nonNil(sim.Objections),
		QualificationScore:     leads.Int(sim.QualificationScore),
		QualificationResult:    leads.String(leads.ResultLabel(sim.QualificationScore)),
		NextActions:            nonNil(sim.NextActions),
		MeetingScheduled:       leads.Bool(sim.MeetingScheduled),
	}
	if sim.MeetingScheduled {
		p.MeetingDatetime = leads.Time(ended.Add(followUpDelay))
	}
	return p
}
