package leads

import (
	"context"
	"time"
)

// Store is the record store boundary: point reads, inserts, field-level
// updates and change subscriptions over the leads collection.
//
// Update returns the full post-mutation record.
type Store interface {
	Get(ctx context.Context, id string) (Lead, error)
	List(ctx context.Context, f ListFilter) ([]Lead, error)
	Insert(ctx context.Context, in NewLead, now time.Time) (Lead, error)
	Update(ctx context.Context, id string, p Patch, now time.Time) (Lead, error)
	Subscribe(ctx context.Context, f SubscribeFilter) (<-chan Change, error)
}

// ListFilter narrows List. Zero values mean no filter.
type ListFilter struct {
	Status Status
	From   time.Time
	To     time.Time
	Limit  int
}

func (f ListFilter) match(l Lead) bool {
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && l.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !l.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	// ChangeAny is only valid as a subscription filter.
	ChangeAny ChangeType = "any"
)

// Change is delivered to subscribers with the full post-mutation record.
type Change struct {
	Type ChangeType `json:"type"`
	Lead Lead       `json:"lead"`
}

// SubscribeFilter scopes a subscription to one record id (or the whole table
// when LeadID is empty) and an event type.
type SubscribeFilter struct {
	LeadID string
	Type   ChangeType
}

func (f SubscribeFilter) Match(c Change) bool {
	if f.LeadID != "" && c.Lead.ID != f.LeadID {
		return false
	}
	if f.Type != "" && f.Type != ChangeAny && f.Type != c.Type {
		return false
	}
	return true
}

// ParseChangeType parses a subscription event filter; empty means any.
func ParseChangeType(s string) (ChangeType, error) {
	switch ChangeType(s) {
	case "", ChangeAny:
		return ChangeAny, nil
	case ChangeInsert, ChangeUpdate:
		return ChangeType(s), nil
	}
	return "", ErrInvalidArgument
}
