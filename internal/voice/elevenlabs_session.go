package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultToolTimeout = 15 * time.Second
	writeTimeout       = 5 * time.Second
)

// ElevenLabsProvider opens ElevenLabs conversational AI sessions over the
// signed websocket URL. Audio frames are not handled here; the browser or
// telephony leg owns the media path and this session carries control
// traffic: lifecycle, transcripts and client tool calls.
type ElevenLabsProvider struct {
	Dialer      *websocket.Dialer
	Log         *slog.Logger
	ToolTimeout time.Duration

	// InitData is sent as conversation_initiation_client_data right after
	// dialing (dynamic variables, overrides). May be nil.
	InitData map[string]any
}

func NewElevenLabsProvider(log *slog.Logger) *ElevenLabsProvider {
	if log == nil {
		log = slog.Default()
	}
	return &ElevenLabsProvider{Dialer: websocket.DefaultDialer, Log: log, ToolTimeout: defaultToolTimeout}
}

func (p *ElevenLabsProvider) Start(ctx context.Context, signedURL string, sink EventSink, tools ToolHandler) (Session, error) {
	if strings.TrimSpace(signedURL) == "" {
		return nil, ErrNoSignedURL
	}
	if sink == nil {
		return nil, errors.New("voice: event sink is required")
	}
	dialer := p.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, signedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("voice: dial session: %w", err)
	}

	toolTimeout := p.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = defaultToolTimeout
	}
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	toolCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &elevenLabsSession{
		conn:        conn,
		sink:        sink,
		tools:       tools,
		log:         log,
		toolTimeout: toolTimeout,
		toolCtx:     toolCtx,
		cancelTools: cancel,
		now:         time.Now,
	}

	init := map[string]any{"type": "conversation_initiation_client_data"}
	for k, v := range p.InitData {
		init[k] = v
	}
	if err := s.writeJSON(init); err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("voice: send init: %w", err)
	}

	go s.readLoop()
	return s, nil
}

type elevenLabsSession struct {
	conn *websocket.Conn

	sink        EventSink
	tools       ToolHandler
	log         *slog.Logger
	toolTimeout time.Duration
	toolCtx     context.Context
	cancelTools context.CancelFunc
	now         func() time.Time

	writeMu sync.Mutex

	mu        sync.Mutex
	id        string
	connected bool
	closing   bool
	closeOnce sync.Once
}

func (s *elevenLabsSession) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *elevenLabsSession) End(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		s.cancelTools()

		s.writeMu.Lock()
		deadline := time.Now().Add(writeTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"), deadline)
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	return nil
}

func (s *elevenLabsSession) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *elevenLabsSession) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.cancelTools()
			if s.isClosing() {
				s.sink(Event{Type: EventDisconnected, Reason: "ended locally"})
				return
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && (closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
				s.sink(Event{Type: EventDisconnected, Reason: strings.TrimSpace(closeErr.Text)})
				_ = s.conn.Close()
				return
			}
			s.sink(Event{Type: EventError, Err: err})
			s.sink(Event{Type: EventDisconnected, Reason: err.Error()})
			_ = s.conn.Close()
			return
		}
		s.handle(data)
	}
}

type envelope struct {
	Type string `json:"type"`

	InitiationMetadata *struct {
		ConversationID string `json:"conversation_id"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	Ping *struct {
		EventID int64 `json:"event_id"`
		PingMS  int64 `json:"ping_ms"`
	} `json:"ping_event,omitempty"`

	ToolCall *struct {
		ToolName   string          `json:"tool_name"`
		ToolCallID string          `json:"tool_call_id"`
		Parameters json.RawMessage `json:"parameters"`
	} `json:"client_tool_call,omitempty"`

	UserTranscript *struct {
		Text string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	AgentResponse *struct {
		Text string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`
}

func (s *elevenLabsSession) handle(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Debug("voice session: undecodable frame", "err", err)
		return
	}

	switch env.Type {
	case "conversation_initiation_metadata":
		s.mu.Lock()
		if env.InitiationMetadata != nil {
			s.id = env.InitiationMetadata.ConversationID
		}
		first := !s.connected
		s.connected = true
		s.mu.Unlock()
		if first {
			s.sink(Event{Type: EventConnected})
		}
	case "ping":
		var id int64
		if env.Ping != nil {
			id = env.Ping.EventID
		}
		if err := s.writeJSON(map[string]any{"type": "pong", "event_id": id}); err != nil {
			s.log.Debug("voice session: pong failed", "err", err)
		}
	case "client_tool_call":
		if env.ToolCall == nil {
			return
		}
		call := ToolCall{ID: env.ToolCall.ToolCallID, Name: env.ToolCall.ToolName, Params: env.ToolCall.Parameters}
		go s.runTool(call)
	case "audio":
		// media is not carried on this leg
	case "user_transcript":
		if env.UserTranscript != nil {
			s.sink(Event{Type: EventMessage, Message: &Message{Source: "user", Kind: env.Type, Text: env.UserTranscript.Text, At: s.now().UTC()}})
		}
	case "agent_response":
		if env.AgentResponse != nil {
			s.sink(Event{Type: EventMessage, Message: &Message{Source: "ai", Kind: env.Type, Text: env.AgentResponse.Text, At: s.now().UTC()}})
		}
	default:
		s.sink(Event{Type: EventMessage, Message: &Message{Source: "provider", Kind: env.Type, Raw: append(json.RawMessage(nil), data...), At: s.now().UTC()}})
	}
}

func (s *elevenLabsSession) runTool(call ToolCall) {
	result, isErr := "", false
	if s.tools == nil {
		result, isErr = "no client tools registered", true
	} else {
		ctx, cancel := context.WithTimeout(s.toolCtx, s.toolTimeout)
		res, err := s.tools(ctx, call)
		cancel()
		if err != nil {
			result, isErr = err.Error(), true
		} else {
			result = res
		}
	}
	if s.isClosing() {
		return
	}
	if err := s.writeJSON(map[string]any{
		"type":         "client_tool_result",
		"tool_call_id": call.ID,
		"result":       result,
		"is_error":     isErr,
	}); err != nil {
		s.log.Warn("voice session: tool result not delivered", "tool", call.Name, "err", err)
	}
}

func (s *elevenLabsSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}
