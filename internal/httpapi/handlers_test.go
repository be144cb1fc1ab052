package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"lead-crm/internal/audit"
	"lead-crm/internal/auth"
	"lead-crm/internal/calls"
	"lead-crm/internal/config"
	"lead-crm/internal/leads"
	"lead-crm/internal/qualification"
	"lead-crm/internal/rbac"
	"lead-crm/internal/reporting"
	"lead-crm/internal/voice"
	"lead-crm/internal/voice/voicetest"

	"github.com/gin-gonic/gin"
)

type stubModel struct {
	extract    qualification.Extraction
	extractErr error
	simErr     error
}

func (m stubModel) Extract(ctx context.Context, transcript string) (qualification.Extraction, error) {
	return m.extract, m.extractErr
}

func (m stubModel) Simulate(ctx context.Context, l leads.Lead) (qualification.Simulation, error) {
	if m.simErr != nil {
		return qualification.Simulation{}, m.simErr
	}
	return qualification.FallbackSimulation(), nil
}

type testServer struct {
	t        *testing.T
	engine   *gin.Engine
	auth     *auth.Manager
	repo     *leads.MemoryRepo
	svc      *leads.Service
	events   *audit.MemoryRepo
	issuer   *voicetest.Issuer
	provider *voicetest.Provider
	bg       sync.WaitGroup
}

func newTestServer(t *testing.T, model stubModel) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	s := &testServer{
		t:        t,
		auth:     m,
		repo:     leads.NewMemoryRepo(),
		events:   audit.NewMemoryRepo(),
		issuer:   &voicetest.Issuer{URL: "wss://signed"},
		provider: voicetest.NewProvider(),
	}
	s.svc = leads.NewService(s.repo)
	auditSvc := audit.NewService(s.events)

	h := Handlers{
		Auth:  m,
		Leads: s.svc,
		Calls: calls.NewRegistry(calls.Config{AgentID: "agent_1"}, calls.Deps{
			Tokens:   s.issuer,
			Provider: s.provider,
			Leads:    s.svc,
			Recorder: auditSvc,
		}, calls.NewMemoryLocker()),
		Tokens:    s.issuer,
		Processor: qualification.NewProcessor(model, s.svc, auditSvc, nil, nil),
		Simulator: qualification.NewSimulator(model, s.svc, auditSvc, nil, nil),
		Audit:     auditSvc,
		Reports:   reporting.NewService(s.svc),
		Background: func(fn func()) {
			s.bg.Add(1)
			go func() { defer s.bg.Done(); fn() }()
		},
	}

	r := gin.New()
	r.POST("/v1/auth/login", h.Login)
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(m))
	h.Register(v1)
	s.engine = r
	return s
}

func (s *testServer) token(role string) string {
	pair, err := s.auth.IssuePair(time.Now(), "user-1", role)
	if err != nil {
		s.t.Fatalf("token: %v", err)
	}
	return pair.AccessToken
}

func (s *testServer) do(method, path, role string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(role))
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) createLead() leads.Lead {
	l, err := s.svc.Create(context.Background(), leads.NewLead{Name: "Ada", Surname: "Lovelace", Email: "ada@example.com", Phone: "+15550100"})
	if err != nil {
		s.t.Fatalf("create: %v", err)
	}
	return l
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestLogin(t *testing.T) {
	s := newTestServer(t, stubModel{})

	if w := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"user_id": "u"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without role, got %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"user_id": "u", "role": "root"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", w.Code)
	}
	w := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"user_id": "u", "role": rbac.RoleOperator})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	pair := decode[auth.TokenPair](t, w)
	if _, err := s.auth.Verify(pair.AccessToken, auth.TokenTypeAccess, time.Now()); err != nil {
		t.Fatalf("issued token invalid: %v", err)
	}
}

func TestCreateLead(t *testing.T) {
	s := newTestServer(t, stubModel{})

	w := s.do(http.MethodPost, "/v1/leads", rbac.RoleOperator, gin.H{"name": "Ada", "surname": "L", "email": "ada@example.com", "phone": "1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	out := decode[createLeadResponse](t, w)
	if out.Lead.Status != leads.StatusNew || out.AutoQualifyStarted {
		t.Fatalf("unexpected response: %+v", out)
	}
	if evs := s.events.Events(); len(evs) != 1 || evs[0].Type != audit.EventTypeLeadCreated {
		t.Fatalf("expected lead_created event, got %+v", evs)
	}

	if w := s.do(http.MethodPost, "/v1/leads", rbac.RoleOperator, gin.H{"name": "Ada"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/v1/leads", rbac.RoleViewer, gin.H{"name": "Ada"}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/v1/leads", "", gin.H{"name": "Ada"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}

func TestCreateLead_AutoQualifyRunsSimulation(t *testing.T) {
	s := newTestServer(t, stubModel{simErr: errors.New("gateway down")})

	w := s.do(http.MethodPost, "/v1/leads", rbac.RoleOperator, gin.H{"name": "Ada", "surname": "L", "email": "ada@example.com", "phone": "1", "auto_qualify": true})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	out := decode[createLeadResponse](t, w)
	if !out.AutoQualifyStarted {
		t.Fatalf("expected auto qualify started")
	}
	s.bg.Wait()

	got, err := s.repo.Get(context.Background(), out.Lead.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != leads.StatusQualified || got.CallDurationSeconds == nil || *got.CallDurationSeconds != qualification.SimulatedCallSeconds {
		t.Fatalf("expected fallback simulation applied, got %+v", got)
	}
}

func TestListAndGetLeads(t *testing.T) {
	s := newTestServer(t, stubModel{})
	l := s.createLead()

	w := s.do(http.MethodGet, "/v1/leads?status=new&limit=5", rbac.RoleViewer, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	list := decode[struct {
		Leads []leads.Lead `json:"leads"`
	}](t, w)
	if len(list.Leads) != 1 || list.Leads[0].ID != l.ID {
		t.Fatalf("unexpected list: %+v", list)
	}

	for _, q := range []string{"status=bogus", "from=yesterday", "limit=-1"} {
		if w := s.do(http.MethodGet, "/v1/leads?"+q, rbac.RoleViewer, nil); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, w.Code)
		}
	}

	if w := s.do(http.MethodGet, "/v1/leads/"+l.ID, rbac.RoleViewer, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/v1/leads/missing", rbac.RoleViewer, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAgentURL(t *testing.T) {
	s := newTestServer(t, stubModel{})

	if w := s.do(http.MethodPost, "/v1/agent-url", rbac.RoleOperator, gin.H{}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without agent_id, got %d", w.Code)
	}
	w := s.do(http.MethodPost, "/v1/agent-url", rbac.RoleOperator, gin.H{"agent_id": "agent_x"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decode[map[string]string](t, w)["signed_url"]; got != "wss://signed" {
		t.Fatalf("unexpected signed url %q", got)
	}

	s.issuer.Err = errors.New("401 from provider")
	if w := s.do(http.MethodPost, "/v1/agent-url", rbac.RoleOperator, gin.H{"agent_id": "agent_x"}); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestCallLifecycleEndpoints(t *testing.T) {
	s := newTestServer(t, stubModel{})
	l := s.createLead()
	path := "/v1/leads/" + l.ID + "/call"

	if w := s.do(http.MethodGet, path, rbac.RoleViewer, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any call, got %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/v1/leads/missing/call", rbac.RoleOperator, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown lead, got %d", w.Code)
	}

	w := s.do(http.MethodPost, path, rbac.RoleOperator, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if snap := decode[calls.Snapshot](t, w); snap.State != calls.StateConnecting {
		t.Fatalf("expected connecting, got %s", snap.State)
	}
	if w := s.do(http.MethodPost, path, rbac.RoleOperator, nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second start, got %d", w.Code)
	}

	sess := s.provider.Sessions()[0]
	sess.Emit(voice.Event{Type: voice.EventConnected})
	sess.Emit(voice.Event{Type: voice.EventMessage, Message: &voice.Message{Source: "ai", Text: "hello"}})

	w = s.do(http.MethodGet, path, rbac.RoleViewer, nil)
	snap := decode[calls.Snapshot](t, w)
	if snap.State != calls.StateConnected || len(snap.Messages) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if w := s.do(http.MethodDelete, path, rbac.RoleOperator, nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := s.do(http.MethodDelete, path, rbac.RoleOperator, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after hangup, got %d", w.Code)
	}

	got, _ := s.repo.Get(context.Background(), l.ID)
	if got.Status != leads.StatusCallCompleted || got.CallEndedAt == nil {
		t.Fatalf("expected completed record, got %+v", got)
	}

	w = s.do(http.MethodGet, "/v1/leads/"+l.ID+"/events", rbac.RoleViewer, nil)
	evs := decode[struct {
		Events []audit.Event `json:"events"`
	}](t, w)
	var admin int
	for _, e := range evs.Events {
		if e.Type == audit.EventTypeAdminAction {
			admin++
			if e.ActorUserID != "user-1" || e.ActorRole != rbac.RoleOperator {
				t.Fatalf("unexpected actor: %+v", e)
			}
		}
	}
	if admin != 2 {
		t.Fatalf("expected start and hangup admin actions, got %d", admin)
	}
}

func TestStartCall_TokenFailureIsBadGateway(t *testing.T) {
	s := newTestServer(t, stubModel{})
	l := s.createLead()
	s.issuer.Err = errors.New("down")

	if w := s.do(http.MethodPost, "/v1/leads/"+l.ID+"/call", rbac.RoleOperator, nil); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	got, _ := s.repo.Get(context.Background(), l.ID)
	if got.Status != leads.StatusNew {
		t.Fatalf("expected record untouched, got %s", got.Status)
	}
}

func TestProcessTranscript(t *testing.T) {
	s := newTestServer(t, stubModel{extract: qualification.Extraction{CallSummary: "good fit", QualificationScore: 82}})
	l := s.createLead()
	path := "/v1/leads/" + l.ID + "/transcript"

	if w := s.do(http.MethodPost, path, rbac.RoleOperator, gin.H{"transcript": "  "}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty transcript, got %d", w.Code)
	}
	w := s.do(http.MethodPost, path, rbac.RoleOperator, gin.H{"transcript": "AI: hi\nUser: hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode[leads.Lead](t, w); got.Status != leads.StatusQualified {
		t.Fatalf("expected qualified, got %s", got.Status)
	}
}

func TestProcessTranscript_ExtractionFailure(t *testing.T) {
	s := newTestServer(t, stubModel{extractErr: qualification.ErrUpstreamUnavailable})
	l := s.createLead()

	w := s.do(http.MethodPost, "/v1/leads/"+l.ID+"/transcript", rbac.RoleOperator, gin.H{"transcript": "User: hello"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	got, _ := s.repo.Get(context.Background(), l.ID)
	if got.Transcript == nil || got.QualificationScore != nil {
		t.Fatalf("expected only transcript saved, got %+v", got)
	}
}

func TestSimulateAndSummary(t *testing.T) {
	s := newTestServer(t, stubModel{})
	l := s.createLead()
	s.createLead()

	w := s.do(http.MethodPost, "/v1/leads/"+l.ID+"/simulate", rbac.RoleOperator, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodGet, "/v1/reports/summary", rbac.RoleViewer, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	sum := decode[reporting.LeadsSummary](t, w)
	if sum.TotalLeads != 2 || sum.NewLeads != 1 || sum.MeetingsScheduled != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if w := s.do(http.MethodGet, "/v1/reports/summary?from=2025-01-02T00:00:00Z&to=2025-01-01T00:00:00Z", rbac.RoleViewer, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", w.Code)
	}
}

func TestStreamLeads(t *testing.T) {
	s := newTestServer(t, stubModel{})
	l := s.createLead()

	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/leads/stream?event=update&id="+l.ID, nil)
	req.Header.Set("Authorization", "Bearer "+s.token(rbac.RoleViewer))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if _, err := s.svc.Apply(context.Background(), l.ID, leads.Patch{CallSummary: leads.String("hi")}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	lines := make(chan string, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	deadline := time.After(2 * time.Second)
	var sawEvent bool
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed early")
			}
			if line == "event:update" {
				sawEvent = true
			}
			if strings.HasPrefix(line, "data:") {
				if !sawEvent || !strings.Contains(line, l.ID) || !strings.Contains(line, `"call_summary":"hi"`) {
					t.Fatalf("unexpected event data %q", line)
				}
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for change event")
		}
	}
}

func TestStreamLeads_BadEventFilter(t *testing.T) {
	s := newTestServer(t, stubModel{})
	if w := s.do(http.MethodGet, "/v1/leads/stream?event=delete", rbac.RoleViewer, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
