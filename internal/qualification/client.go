// Package qualification turns call transcripts (or, without a call, contact
// metadata) into qualification fields using an OpenAI-compatible LLM gateway.
package qualification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"lead-crm/internal/leads"
)

const (
	DefaultBaseURL = "https://ai.gateway.lovable.dev/v1"
	DefaultModel   = "google/gemini-2.5-flash"

	extractToolName = "extract_call_data"
)

var (
	ErrEmptyTranscript     = errors.New("qualification: empty transcript")
	ErrExtractionFailed    = errors.New("qualification: extraction failed")
	ErrUpstreamUnavailable = errors.New("qualification: upstream unavailable")
)

// Extraction is the structured result of a transcript.
type Extraction struct {
	CallSummary         string
	QualificationScore  int
	KeyInsights         []string
	DemoPersonalization string
	MeetingDatetime     *time.Time
}

// Simulation is a plausible completed-call result generated from contact
// metadata alone.
type Simulation struct {
	CurrentPlatform        string   `json:"current_platform"`
	MonthlyTraffic         int      `json:"monthly_traffic"`
	MonthlyOrders          int      `json:"monthly_orders"`
	ImprovementAreas       []string `json:"improvement_areas"`
	ImplementationTimeline string   `json:"implementation_timeline"`
	CallSummary            string   `json:"call_summary"`
	KeyInsights            []string `json:"key_insights"`
	Objections             []string `json:"objections"`
	QualificationResult    string   `json:"qualification_result"`
	QualificationScore     int      `json:"qualification_score"`
	NextActions            []string `json:"next_actions"`
	MeetingScheduled       bool     `json:"meeting_scheduled"`
}

// Model is the LLM boundary used by the Processor and the Simulator.
type Model interface {
	Extract(ctx context.Context, transcript string) (Extraction, error)
	Simulate(ctx context.Context, lead leads.Lead) (Simulation, error)
}

// Client talks to the gateway through the go-openai chat completions API.
type Client struct {
	api   *openai.Client
	model string
}

func NewClient(apiKey, baseURL, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &Client{api: openai.NewClientWithConfig(cfg), model: model}
}

var extractSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "call_summary": {"type": "string", "description": "Two or three sentence summary of the call"},
    "qualification_score": {"type": "integer", "minimum": 0, "maximum": 100, "description": "How qualified the lead is"},
    "key_insights": {"type": "array", "items": {"type": "string"}},
    "demo_personalization": {"type": "string", "description": "How to tailor the product demo for this prospect"},
    "meeting_datetime": {"type": ["string", "null"], "description": "ISO-8601 datetime of an agreed meeting, or null"}
  },
  "required": ["call_summary", "qualification_score", "key_insights", "demo_personalization", "meeting_datetime"]
}`)

const extractSystemPrompt = `You analyse sales qualification calls for an e-commerce analytics product. ` +
	`Read the transcript and call the extract_call_data function with a concise summary, a qualification score from 0 to 100, ` +
	`the key insights, a note on how to personalise the demo, and the meeting datetime if one was agreed.`

type extractArgs struct {
	CallSummary         string   `json:"call_summary"`
	QualificationScore  *int     `json:"qualification_score"`
	KeyInsights         []string `json:"key_insights"`
	DemoPersonalization string   `json:"demo_personalization"`
	MeetingDatetime     *string  `json:"meeting_datetime"`
}

// Extract forces a single function call and decodes its arguments.
func (c *Client) Extract(ctx context.Context, transcript string) (Extraction, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
		Tools: []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        extractToolName,
				Description: "Record structured qualification data extracted from a call transcript",
				Parameters:  extractSchema,
			},
		}},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: extractToolName},
		},
	})
	if err != nil {
		return Extraction{}, wrapUpstream(err)
	}
	if len(resp.Choices) == 0 {
		return Extraction{}, fmt.Errorf("%w: no choices", ErrExtractionFailed)
	}

	var raw string
	for _, tc := range resp.Choices[0].Message.ToolCalls {
		if tc.Function.Name == extractToolName {
			raw = tc.Function.Arguments
			break
		}
	}
	if raw == "" {
		return Extraction{}, fmt.Errorf("%w: model did not call %s", ErrExtractionFailed, extractToolName)
	}
	return parseExtraction(raw)
}

func parseExtraction(raw string) (Extraction, error) {
	var args extractArgs
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if args.QualificationScore == nil || *args.QualificationScore < 0 || *args.QualificationScore > 100 {
		return Extraction{}, fmt.Errorf("%w: qualification_score missing or out of range", ErrExtractionFailed)
	}
	if strings.TrimSpace(args.CallSummary) == "" {
		return Extraction{}, fmt.Errorf("%w: empty call_summary", ErrExtractionFailed)
	}
	out := Extraction{
		CallSummary:         args.CallSummary,
		QualificationScore:  *args.QualificationScore,
		KeyInsights:         args.KeyInsights,
		DemoPersonalization: strings.TrimSpace(args.DemoPersonalization),
	}
	if args.MeetingDatetime != nil && strings.TrimSpace(*args.MeetingDatetime) != "" {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(*args.MeetingDatetime))
		if err != nil {
			return Extraction{}, fmt.Errorf("%w: meeting_datetime: %v", ErrExtractionFailed, err)
		}
		t = t.UTC()
		out.MeetingDatetime = &t
	}
	return out, nil
}

const simulateSystemPrompt = `You are simulating a completed sales qualification call for CommerceClarity, ` +
	`an e-commerce analytics and conversion optimisation platform. Respond with a single JSON object only.`

func simulatePrompt(l leads.Lead) string {
	website := l.Website
	if website == "" {
		website = "unknown"
	}
	return fmt.Sprintf(`Simulate a qualification call with %s %s (email %s, phone %s, website %s).
Return JSON with exactly these fields:
current_platform (string), monthly_traffic (integer), monthly_orders (integer),
improvement_areas (array of strings), implementation_timeline (string),
call_summary (string), key_insights (array of strings), objections (array of strings),
qualification_result (string), qualification_score (integer 0-100),
next_actions (array of strings), meeting_scheduled (boolean).`,
		l.Name, l.Surname, l.Email, l.Phone, website)
}

// Simulate asks the model for a JSON simulation. Replies wrapped in markdown
// code fences are accepted.
func (c *Client) Simulate(ctx context.Context, l leads.Lead) (Simulation, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: simulateSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: simulatePrompt(l)},
		},
	})
	if err != nil {
		return Simulation{}, wrapUpstream(err)
	}
	if len(resp.Choices) == 0 {
		return Simulation{}, fmt.Errorf("%w: no choices", ErrExtractionFailed)
	}
	return parseSimulation(resp.Choices[0].Message.Content)
}

func parseSimulation(content string) (Simulation, error) {
	var out Simulation
	if err := json.Unmarshal([]byte(stripFences(content)), &out); err != nil {
		return Simulation{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if out.QualificationScore < 0 || out.QualificationScore > 100 {
		return Simulation{}, fmt.Errorf("%w: qualification_score %d out of range", ErrExtractionFailed, out.QualificationScore)
	}
	return out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func wrapUpstream(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: status=%d: %s", ErrUpstreamUnavailable, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: status=%d", ErrUpstreamUnavailable, reqErr.HTTPStatusCode)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}
