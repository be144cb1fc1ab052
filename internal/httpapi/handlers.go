package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"lead-crm/internal/audit"
	"lead-crm/internal/auth"
	"lead-crm/internal/calls"
	"lead-crm/internal/leads"
	"lead-crm/internal/qualification"
	"lead-crm/internal/rbac"
	"lead-crm/internal/reporting"
	"lead-crm/internal/voice"
	"lead-crm/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Leads     *leads.Service
	Calls     *calls.Registry
	Tokens    voice.TokenIssuer
	Processor *qualification.Processor
	Simulator *qualification.Simulator
	Audit     *audit.Service
	Reports   *reporting.Service

	// Background runs detached work such as auto-qualification. Defaults to
	// a plain goroutine.
	Background func(func())
}

const backgroundTimeout = 2 * time.Minute

func (h Handlers) background(fn func()) {
	if h.Background != nil {
		h.Background(fn)
		return
	}
	go fn()
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: operator credentials are managed outside this service; this endpoint
// trusts its caller and must sit behind the operator SSO proxy.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	if !rbac.Valid(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
}

// --- Agent URL ---

type agentURLRequest struct {
	AgentID string `json:"agent_id"`
}

// AgentURL exchanges an agent id for a short-lived signed session URL.
func (h Handlers) AgentURL(c *gin.Context) {
	if h.Tokens == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "voice provider not configured"})
		return
	}
	var req agentURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.AgentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": voice.ErrAgentIDRequired.Error()})
		return
	}
	url, err := h.Tokens.SignedURL(c.Request.Context(), req.AgentID)
	if err != nil {
		logger.FromGin(c).Warn("signed url request failed", "agent_id", req.AgentID, "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "signed url unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signed_url": url})
}

// --- Reports ---

func (h Handlers) ReportSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	var req reporting.LeadsSummaryRequest
	var err error
	if req.Range.From, err = parseTimeParam(c, "from"); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Range.To, err = parseTimeParam(c, "to"); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.Reports.LeadsSummary(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Errors ---

// writeError maps domain sentinels to status codes. Unknown errors are
// logged and reported as 500 without detail.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, leads.ErrNotFound):
		status = http.StatusNotFound
	case leads.IsClientError(err),
		errors.Is(err, qualification.ErrEmptyTranscript),
		errors.Is(err, reporting.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, calls.ErrCallActive), errors.Is(err, calls.ErrAlreadyStarted), errors.Is(err, calls.ErrUserAborted):
		status = http.StatusConflict
	case errors.Is(err, calls.ErrNoActiveCall):
		status = http.StatusNotFound
	case errors.Is(err, calls.ErrTokenFetchFailed),
		errors.Is(err, calls.ErrSessionNeverConnected),
		errors.Is(err, qualification.ErrExtractionFailed),
		errors.Is(err, qualification.ErrUpstreamUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// logAdmin records an operator action against a lead. Failures only log.
func (h Handlers) logAdmin(c *gin.Context, leadID, message, metadata string) {
	if h.Audit == nil {
		return
	}
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	if err := h.Audit.LogAdminAction(c.Request.Context(), leadID, uid, role, c.ClientIP(), message, metadata); err != nil {
		logger.FromGin(c).Warn("admin action not recorded", "lead_id", leadID, "err", err)
	}
}

func detached(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), backgroundTimeout)
}
