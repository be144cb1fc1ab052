package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lead-crm/internal/audit"
	"lead-crm/internal/auth"
	"lead-crm/internal/config"
	"lead-crm/internal/leads"
	"lead-crm/internal/qualification"
	"lead-crm/internal/rbac"
	"lead-crm/internal/voice/voicetest"

	"github.com/gin-gonic/gin"
)

type fallbackModel struct{}

func (fallbackModel) Extract(ctx context.Context, transcript string) (qualification.Extraction, error) {
	return qualification.Extraction{}, qualification.ErrUpstreamUnavailable
}

func (fallbackModel) Simulate(ctx context.Context, l leads.Lead) (qualification.Simulation, error) {
	return qualification.Simulation{}, qualification.ErrUpstreamUnavailable
}

func testParts() Parts {
	return Parts{
		Store:     leads.NewMemoryRepo(),
		AuditRepo: audit.NewMemoryRepo(),
		Model:     fallbackModel{},
		Tokens:    &voicetest.Issuer{URL: "wss://signed"},
		Provider:  voicetest.NewProvider(),
	}
}

func testConfig() config.Config {
	return config.Config{
		Auth:  config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour},
		Voice: config.VoiceConfig{AgentID: "agent_1"},
	}
}

func TestAssemble_RequiresParts(t *testing.T) {
	if _, err := Assemble(testConfig(), nil, Parts{}); err == nil {
		t.Fatalf("expected error for missing parts")
	}
	cfg := testConfig()
	cfg.Auth.JWTSecret = ""
	if _, err := Assemble(cfg, nil, testParts()); err == nil {
		t.Fatalf("expected error without jwt secret")
	}
}

func TestAssemble_ServesAPIAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := Assemble(testConfig(), nil, testParts())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if err := a.Ready(context.Background()); err != nil {
		t.Fatalf("expected ready without stores, got %v", err)
	}

	r := gin.New()
	r.Use(a.HTTPMetrics())
	r.GET("/metrics", gin.WrapH(a.Metrics.Handler()))
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(a.Auth))
	a.Handlers().Register(v1)

	pair, _ := a.Auth.IssuePair(time.Now(), "u", rbac.RoleOperator)
	req := httptest.NewRequest(http.MethodPost, "/v1/leads", strings.NewReader(`{"name":"Ada","surname":"L","email":"ada@example.com","phone":"1"}`))
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), `leadcrm_http_requests_total{method="POST",route="/v1/leads",status="201"} 1`) {
		t.Fatalf("expected request counted, got:\n%s", w.Body.String())
	}
	a.Close()
}
