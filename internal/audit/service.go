package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for lead events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByLead(ctx context.Context, leadID string, limit int) ([]Event, error)
}

// Service records lead events. Callers should treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.LeadID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// Record appends an event with metadata marshalled to JSON. It satisfies the
// recorder interfaces of the calls and qualification packages.
func (s *Service) Record(ctx context.Context, leadID string, typ EventType, message string, metadata map[string]any) error {
	e := Event{LeadID: leadID, Type: typ, Message: message}
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		e.Metadata = string(b)
	}
	return s.Append(ctx, e)
}

// LogAdminAction records an operator action against a lead.
func (s *Service) LogAdminAction(ctx context.Context, leadID, actorUserID, actorRole, ip, message, metadata string) error {
	return s.Append(ctx, Event{
		LeadID:      leadID,
		Type:        EventTypeAdminAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Message:     message,
		Metadata:    metadata,
	})
}

// History returns the events for a lead, oldest first.
func (s *Service) History(ctx context.Context, leadID string, limit int) ([]Event, error) {
	if leadID == "" {
		return nil, ErrInvalidEvent
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListByLead(ctx, leadID, limit)
}
