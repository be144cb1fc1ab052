package httpapi

import (
	"io"
	"net/http"

	"lead-crm/internal/leads"
	"lead-crm/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StreamLeads pushes lead changes as server-sent events until the client
// goes away. Query: id (one lead, optional) and event (insert|update|any).
func (h Handlers) StreamLeads(c *gin.Context) {
	typ, err := leads.ParseChangeType(c.Query("event"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	ch, err := h.Leads.Subscribe(ctx, leads.SubscribeFilter{LeadID: c.Query("id"), Type: typ})
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	logger.FromGin(c).Debug("lead stream opened", "lead_id", c.Query("id"), "event", typ)
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case chg, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(chg.Type), chg)
			return true
		}
	})
}
