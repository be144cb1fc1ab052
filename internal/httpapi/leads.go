package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"lead-crm/internal/audit"
	"lead-crm/internal/leads"
	"lead-crm/pkg/logger"

	"github.com/gin-gonic/gin"
)

type createLeadRequest struct {
	leads.NewLead
	AutoQualify bool `json:"auto_qualify"`
}

type createLeadResponse struct {
	Lead               leads.Lead `json:"lead"`
	AutoQualifyStarted bool       `json:"auto_qualify_started"`
}

func (h Handlers) CreateLead(c *gin.Context) {
	var req createLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	l, err := h.Leads.Create(c.Request.Context(), req.NewLead)
	if err != nil {
		writeError(c, err)
		return
	}
	log := logger.FromGin(c).With("lead_id", l.ID)
	if h.Audit != nil {
		if err := h.Audit.Record(c.Request.Context(), l.ID, audit.EventTypeLeadCreated, "lead created", nil); err != nil {
			log.Warn("lead event not recorded", "err", err)
		}
	}

	started := false
	if req.AutoQualify && h.Simulator != nil {
		started = true
		ctx, cancel := detached(c.Request.Context())
		h.background(func() {
			defer cancel()
			if _, err := h.Simulator.Run(ctx, l.ID); err != nil {
				log.Error("auto qualification failed", "err", err)
			}
		})
	}
	c.JSON(http.StatusCreated, createLeadResponse{Lead: l, AutoQualifyStarted: started})
}

func (h Handlers) ListLeads(c *gin.Context) {
	var f leads.ListFilter
	if s := c.Query("status"); s != "" {
		f.Status = leads.Status(s)
		if !f.Status.Valid() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}
	}
	var err error
	if f.From, err = parseTimeParam(c, "from"); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if f.To, err = parseTimeParam(c, "to"); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if f.Limit, err = parseLimit(c, 100, 1000); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.Leads.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leads": out})
}

func (h Handlers) GetLead(c *gin.Context) {
	l, err := h.Leads.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h Handlers) LeadEvents(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	limit, err := parseLimit(c, 100, 500)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	if _, err := h.Leads.Get(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	events, err := h.Audit.History(c.Request.Context(), id, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// --- Qualification ---

type transcriptRequest struct {
	Transcript string `json:"transcript"`
}

// ProcessTranscript runs post-call extraction. On extraction failure the raw
// transcript is kept and 502 is returned.
func (h Handlers) ProcessTranscript(c *gin.Context) {
	if h.Processor == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "qualification not configured"})
		return
	}
	var req transcriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	l, err := h.Processor.Process(c.Request.Context(), c.Param("id"), req.Transcript)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h Handlers) Simulate(c *gin.Context) {
	if h.Simulator == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "qualification not configured"})
		return
	}
	id := c.Param("id")
	res, err := h.Simulator.Run(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	h.logAdmin(c, id, "qualification simulated", "")
	c.JSON(http.StatusOK, res)
}

// --- params ---

func parseTimeParam(c *gin.Context, key string) (time.Time, error) {
	s := c.Query(key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339", key)
	}
	return t.UTC(), nil
}

func parseLimit(c *gin.Context, def, max int) (int, error) {
	s := c.Query("limit")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}
