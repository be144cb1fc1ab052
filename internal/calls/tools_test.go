package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"lead-crm/internal/leads"
	"lead-crm/internal/voice"
)

func TestTools_ScheduleDemoIndependentOfLifecycle(t *testing.T) {
	h := newHarness(t)
	c := h.controller()

	// no session has started; tool calls do not depend on lifecycle state
	ack, err := c.HandleTool(context.Background(), voice.ToolCall{
		Name:   ToolScheduleDemo,
		Params: []byte(`{"datetime":"2025-06-01T10:00:00Z"}`),
	})
	if err != nil || ack != AckDemoScheduled {
		t.Fatalf("unexpected result %q %v", ack, err)
	}
	l := h.current(t)
	want := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if !l.MeetingScheduled || l.MeetingDatetime == nil || !l.MeetingDatetime.Equal(want) {
		t.Fatalf("expected meeting at %s, got %+v", want, l.MeetingDatetime)
	}
	if l.Status != leads.StatusNew {
		t.Fatalf("expected status untouched, got %s", l.Status)
	}
}

func TestTools_SaveCallSummaryOverwritesLists(t *testing.T) {
	h := newHarness(t)
	c := h.controller()
	ctx := context.Background()

	_, err := c.HandleTool(ctx, voice.ToolCall{Name: ToolSaveCallSummary, Params: []byte(`{"summary":"first","insights":["a","b"]}`)})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	ack, err := c.HandleTool(ctx, voice.ToolCall{Name: ToolSaveCallSummary, Params: []byte(`{"summary":"second","insights":["c"],"objections":["price"],"next_actions":["send demo"]}`)})
	if err != nil || ack != AckSummarySaved {
		t.Fatalf("unexpected result %q %v", ack, err)
	}
	l := h.current(t)
	if *l.CallSummary != "second" {
		t.Fatalf("expected summary overwritten")
	}
	if len(l.KeyInsights) != 1 || l.KeyInsights[0] != "c" {
		t.Fatalf("expected insights overwritten, got %v", l.KeyInsights)
	}
	if len(l.Objections) != 1 || len(l.NextActions) != 1 {
		t.Fatalf("expected objections and next actions, got %+v", l)
	}
}

func TestTools_UpdateLeadStatusMergesData(t *testing.T) {
	h := newHarness(t)
	c := h.controller()

	ack, err := c.HandleTool(context.Background(), voice.ToolCall{
		Name:   ToolUpdateLeadStatus,
		Params: []byte(`{"status":"calling","data":{"current_platform":"Shopify","monthly_traffic":15000,"improvement_areas":["Analytics"]}}`),
	})
	if err != nil || ack != AckStatusUpdated {
		t.Fatalf("unexpected result %q %v", ack, err)
	}
	l := h.current(t)
	if l.Status != leads.StatusCalling || *l.CurrentPlatform != "Shopify" || *l.MonthlyTraffic != 15000 || l.ImprovementAreas[0] != "Analytics" {
		t.Fatalf("unexpected lead %+v", l)
	}
}

func TestTools_UpdateLeadStatusRejectsOwnedFields(t *testing.T) {
	h := newHarness(t)
	c := h.controller()
	ctx := context.Background()

	for _, params := range []string{
		`{"status":"qualified","data":{"email":"x@y.z"}}`,
		`{"status":"qualified","data":{"call_started_at":"2025-01-01T00:00:00Z"}}`,
		`{"status":"new"}`,
		`{"status":"bogus"}`,
		`not json`,
	} {
		if _, err := c.HandleTool(ctx, voice.ToolCall{Name: ToolUpdateLeadStatus, Params: []byte(params)}); !errors.Is(err, leads.ErrInvalidArgument) {
			t.Fatalf("expected invalid argument for %s, got %v", params, err)
		}
	}
	if h.repo.Updates != 0 {
		t.Fatalf("expected no mutation")
	}
}

func TestTools_FailuresDoNotAbortSession(t *testing.T) {
	h := newHarness(t)
	c := h.controller()
	sess := startSession(t, h, c)
	sess.Emit(voice.Event{Type: voice.EventConnected})

	if _, err := sess.CallTool(context.Background(), voice.ToolCall{Name: "transferCall"}); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
	if _, err := sess.CallTool(context.Background(), voice.ToolCall{Name: ToolScheduleDemo, Params: []byte(`{"datetime":"next tuesday"}`)}); err == nil {
		t.Fatalf("expected parse error")
	}
	if c.Snapshot().State != StateConnected {
		t.Fatalf("expected session still connected, got %s", c.Snapshot().State)
	}
	if h.outcomeCount() != 0 {
		t.Fatalf("expected no completion")
	}
}

func TestParseDatetimeLayouts(t *testing.T) {
	for _, s := range []string{"2025-06-01T10:00:00Z", "2025-06-01T12:00:00+02:00", "2025-06-01T10:00", "2025-06-01 10:00"} {
		got, err := parseDatetime(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if !got.Equal(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)) {
			t.Fatalf("parse %q: got %s", s, got)
		}
	}
}
