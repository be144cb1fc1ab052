package calls

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"lead-crm/internal/audit"
	"lead-crm/internal/leads"
	"lead-crm/internal/voice"
)

// Client tool names registered with the agent.
const (
	ToolUpdateLeadStatus = "updateLeadStatus"
	ToolScheduleDemo     = "scheduleDemo"
	ToolSaveCallSummary  = "saveCallSummary"
)

// Tool acknowledgements relayed to the agent.
const (
	AckStatusUpdated = "Status updated successfully"
	AckDemoScheduled = "Demo scheduled successfully"
	AckSummarySaved  = "Call summary saved successfully"
)

type updateLeadStatusArgs struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// toolFields is what the agent may write through updateLeadStatus data.
// Contact fields and call timing are owned elsewhere and are rejected.
type toolFields struct {
	CallSummary            *string  `json:"call_summary"`
	QualificationScore     *int     `json:"qualification_score"`
	QualificationResult    *string  `json:"qualification_result"`
	KeyInsights            []string `json:"key_insights"`
	Objections             []string `json:"objections"`
	NextActions            []string `json:"next_actions"`
	ImprovementAreas       []string `json:"improvement_areas"`
	CurrentPlatform        *string  `json:"current_platform"`
	MonthlyTraffic         *int     `json:"monthly_traffic"`
	MonthlyOrders          *int     `json:"monthly_orders"`
	ImplementationTimeline *string  `json:"implementation_timeline"`
	ToneSignals            *string  `json:"tone_signals"`
}

type scheduleDemoArgs struct {
	Datetime string `json:"datetime"`
}

type saveCallSummaryArgs struct {
	Summary     string   `json:"summary"`
	Insights    []string `json:"insights,omitempty"`
	Objections  []string `json:"objections,omitempty"`
	NextActions []string `json:"next_actions,omitempty"`
}

// HandleTool answers an agent tool call with an acknowledgement. Tool calls
// do not depend on lifecycle state and do not take the state lock.
func (c *Controller) HandleTool(ctx context.Context, call voice.ToolCall) (string, error) {
	var (
		ack   string
		patch leads.Patch
		err   error
	)
	switch call.Name {
	case ToolUpdateLeadStatus:
		ack = AckStatusUpdated
		patch, err = parseUpdateLeadStatus(call.Params)
	case ToolScheduleDemo:
		ack = AckDemoScheduled
		patch, err = parseScheduleDemo(call.Params)
	case ToolSaveCallSummary:
		ack = AckSummarySaved
		patch, err = parseSaveCallSummary(call.Params)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
	if err == nil {
		err = c.applyToolPatch(ctx, patch)
	}

	c.deps.Metrics.ToolCall(call.Name, err == nil)
	meta := map[string]any{"tool": call.Name, "tool_call_id": call.ID}
	if err != nil {
		meta["error"] = err.Error()
		c.log.Warn("tool call failed", "tool", call.Name, "err", err)
	}
	c.record(audit.EventTypeToolCall, call.Name, meta)
	if err != nil {
		return "", err
	}
	return ack, nil
}

func (c *Controller) applyToolPatch(ctx context.Context, p leads.Patch) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	_, err := c.deps.Leads.Apply(ctx, c.leadID, p)
	return err
}

func parseUpdateLeadStatus(raw json.RawMessage) (leads.Patch, error) {
	var args updateLeadStatusArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return leads.Patch{}, fmt.Errorf("%w: %v", leads.ErrInvalidArgument, err)
	}
	st := leads.Status(strings.TrimSpace(args.Status))
	if !st.Valid() || st == leads.StatusNew {
		return leads.Patch{}, fmt.Errorf("%w: status %q", leads.ErrInvalidArgument, args.Status)
	}
	p := leads.Patch{Status: leads.StatusPtr(st)}

	if len(args.Data) > 0 && !bytes.Equal(bytes.TrimSpace(args.Data), []byte("null")) {
		var f toolFields
		dec := json.NewDecoder(bytes.NewReader(args.Data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return leads.Patch{}, fmt.Errorf("%w: data: %v", leads.ErrInvalidArgument, err)
		}
		p.CallSummary = f.CallSummary
		p.QualificationScore = f.QualificationScore
		p.QualificationResult = f.QualificationResult
		p.KeyInsights = f.KeyInsights
		p.Objections = f.Objections
		p.NextActions = f.NextActions
		p.ImprovementAreas = f.ImprovementAreas
		p.CurrentPlatform = f.CurrentPlatform
		p.MonthlyTraffic = f.MonthlyTraffic
		p.MonthlyOrders = f.MonthlyOrders
		p.ImplementationTimeline = f.ImplementationTimeline
		p.ToneSignals = f.ToneSignals
	}
	return p, nil
}

func parseScheduleDemo(raw json.RawMessage) (leads.Patch, error) {
	var args scheduleDemoArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return leads.Patch{}, fmt.Errorf("%w: %v", leads.ErrInvalidArgument, err)
	}
	at, err := parseDatetime(args.Datetime)
	if err != nil {
		return leads.Patch{}, err
	}
	return leads.Patch{MeetingScheduled: leads.Bool(true), MeetingDatetime: leads.Time(at)}, nil
}

func parseSaveCallSummary(raw json.RawMessage) (leads.Patch, error) {
	var args saveCallSummaryArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return leads.Patch{}, fmt.Errorf("%w: %v", leads.ErrInvalidArgument, err)
	}
	if strings.TrimSpace(args.Summary) == "" {
		return leads.Patch{}, fmt.Errorf("%w: summary required", leads.ErrInvalidArgument)
	}
	return leads.Patch{
		CallSummary: leads.String(args.Summary),
		KeyInsights: args.Insights,
		Objections:  args.Objections,
		NextActions: args.NextActions,
	}, nil
}

var datetimeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04"}

func parseDatetime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: datetime required", leads.ErrInvalidArgument)
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: datetime %q is not ISO-8601", leads.ErrInvalidArgument, s)
}
