package leads

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Service enforces the lead record invariants on top of a Store:
//   - contact fields are required at creation
//   - status only moves forward (CanTransition)
//   - call_ended_at is only set once call_started_at is set
//
// Writers own disjoint field subsets; Apply does not lock across writers
// and last write wins per field.
type Service struct {
	store Store
	clock func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// WithClock overrides the clock used for bookkeeping timestamps.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) Now() time.Time { return s.clock().UTC() }

func (s *Service) Create(ctx context.Context, in NewLead) (Lead, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Surname = strings.TrimSpace(in.Surname)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Website = strings.TrimSpace(in.Website)

	if in.Name == "" || in.Surname == "" || in.Email == "" || in.Phone == "" {
		return Lead{}, fmt.Errorf("%w: name, surname, email, phone required", ErrInvalidArgument)
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return Lead{}, fmt.Errorf("%w: email %q", ErrInvalidArgument, in.Email)
	}
	return s.store.Insert(ctx, in, s.Now())
}

func (s *Service) Get(ctx context.Context, id string) (Lead, error) {
	if strings.TrimSpace(id) == "" {
		return Lead{}, ErrInvalidArgument
	}
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Lead, error) {
	return s.store.List(ctx, f)
}

func (s *Service) Subscribe(ctx context.Context, f SubscribeFilter) (<-chan Change, error) {
	return s.store.Subscribe(ctx, f)
}

// Apply validates p against the current record and writes it.
func (s *Service) Apply(ctx context.Context, id string, p Patch) (Lead, error) {
	if strings.TrimSpace(id) == "" {
		return Lead{}, ErrInvalidArgument
	}
	if p.IsEmpty() {
		return Lead{}, ErrEmptyPatch
	}
	if p.QualificationScore != nil && (*p.QualificationScore < 0 || *p.QualificationScore > 100) {
		return Lead{}, fmt.Errorf("%w: qualification_score %d out of range", ErrInvalidArgument, *p.QualificationScore)
	}
	if p.Status != nil && !p.Status.Valid() {
		return Lead{}, fmt.Errorf("%w: status %q", ErrInvalidArgument, *p.Status)
	}

	needsCurrent := p.Status != nil || (p.CallEndedAt != nil && p.CallStartedAt == nil)
	if needsCurrent {
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return Lead{}, err
		}
		if p.Status != nil && !CanTransition(cur.Status, *p.Status) {
			return Lead{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, *p.Status)
		}
		if p.CallEndedAt != nil && p.CallStartedAt == nil && cur.CallStartedAt == nil {
			return Lead{}, fmt.Errorf("%w: call_ended_at before call_started_at", ErrInvalidArgument)
		}
	}
	return s.store.Update(ctx, id, p, s.Now())
}

// IsClientError reports whether err stems from caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrEmptyPatch)
}
