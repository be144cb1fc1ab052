package reporting

import (
	"context"
	"errors"

	"lead-crm/internal/leads"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting. leads.Service and the
// leads repositories satisfy it.
type Repository interface {
	List(ctx context.Context, f leads.ListFilter) ([]leads.Lead, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) LeadsSummary(ctx context.Context, req LeadsSummaryRequest) (LeadsSummary, error) {
	r := req.Range
	if !r.From.IsZero() && !r.To.IsZero() && !r.To.After(r.From) {
		return LeadsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return LeadsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.List(ctx, leads.ListFilter{From: r.From, To: r.To})
	if err != nil {
		return LeadsSummary{}, err
	}

	var out LeadsSummary
	scoreSum := 0
	for _, l := range rows {
		out.TotalLeads++
		switch l.Status {
		case leads.StatusNew:
			out.NewLeads++
		case leads.StatusCalling:
			out.CallingLeads++
		case leads.StatusCallCompleted:
			out.CallCompleted++
		case leads.StatusQualified:
			out.Qualified++
		case leads.StatusNotQualified:
			out.NotQualified++
		}
		if l.QualificationScore != nil {
			out.ScoredLeads++
			scoreSum += *l.QualificationScore
		}
		if l.MeetingScheduled {
			out.MeetingsScheduled++
		}
		if l.CallDurationSeconds != nil {
			out.CalledLeads++
			out.TotalDurationSeconds += *l.CallDurationSeconds
		}
	}
	if out.ScoredLeads > 0 {
		out.AverageScore = float64(scoreSum) / float64(out.ScoredLeads)
	}
	if out.CalledLeads > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.CalledLeads
	}
	if done := out.CallCompleted + out.Qualified + out.NotQualified; done > 0 {
		out.QualificationRate = float64(out.Qualified) / float64(done)
	}
	return out, nil
}
