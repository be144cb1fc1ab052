package leads

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService() (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return NewService(repo).WithClock(func() time.Time { return now }), repo
}

func validLead() NewLead {
	return NewLead{Name: "Ada", Surname: "Lovelace", Email: "ada@example.com", Phone: "+15550100"}
}

func TestService_CreateRequiresContactFields(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	for _, in := range []NewLead{
		{Surname: "L", Email: "a@b.co", Phone: "1"},
		{Name: "A", Email: "a@b.co", Phone: "1"},
		{Name: "A", Surname: "L", Phone: "1"},
		{Name: "A", Surname: "L", Email: "a@b.co"},
		{Name: "A", Surname: "L", Email: "not-an-email", Phone: "1"},
	} {
		if _, err := svc.Create(ctx, in); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected invalid argument for %+v, got %v", in, err)
		}
	}
}

func TestService_CreateStartsAsNew(t *testing.T) {
	svc, _ := newTestService()
	in := validLead()
	in.Website = "  https://shop.example  "
	l, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if l.ID == "" || l.Status != StatusNew {
		t.Fatalf("expected id and status new, got %+v", l)
	}
	if l.Website != "https://shop.example" {
		t.Fatalf("expected trimmed website, got %q", l.Website)
	}
	if l.CallStartedAt != nil || l.QualificationScore != nil {
		t.Fatalf("expected empty call fields")
	}
}

func TestService_ApplyRejectsScoreOutOfRange(t *testing.T) {
	svc, _ := newTestService()
	l, _ := svc.Create(context.Background(), validLead())
	if _, err := svc.Apply(context.Background(), l.ID, Patch{QualificationScore: Int(101)}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := svc.Apply(context.Background(), l.ID, Patch{QualificationScore: Int(-1)}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestService_ApplyRejectsBackwardTransition(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	l, _ := svc.Create(ctx, validLead())

	if _, err := svc.Apply(ctx, l.ID, Patch{Status: StatusPtr(StatusCallCompleted)}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := svc.Apply(ctx, l.ID, Patch{Status: StatusPtr(StatusCalling)}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestService_ApplyEndedRequiresStarted(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	l, _ := svc.Create(ctx, validLead())
	now := svc.Now()

	if _, err := svc.Apply(ctx, l.ID, Patch{CallEndedAt: Time(now)}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	got, err := svc.Apply(ctx, l.ID, Patch{CallStartedAt: Time(now), CallEndedAt: Time(now.Add(time.Minute))})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.CallEndedAt == nil || got.CallEndedAt.Before(*got.CallStartedAt) {
		t.Fatalf("expected ended after started")
	}
	if !got.UpdatedAt.Equal(now) {
		t.Fatalf("expected updated_at from clock")
	}
}

func TestService_ApplyEmptyPatch(t *testing.T) {
	svc, _ := newTestService()
	l, _ := svc.Create(context.Background(), validLead())
	if _, err := svc.Apply(context.Background(), l.ID, Patch{}); !errors.Is(err, ErrEmptyPatch) {
		t.Fatalf("expected empty patch, got %v", err)
	}
	if !IsClientError(ErrEmptyPatch) || IsClientError(ErrNotFound) {
		t.Fatalf("unexpected client error classification")
	}
}

func TestService_ApplyUnknownLead(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Apply(context.Background(), "missing", Patch{Status: StatusPtr(StatusCalling)}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
