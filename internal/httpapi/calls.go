package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StartCall begins a qualification call for a lead. It returns once the
// provider session is open; progress is then visible through CallStatus
// and the lead stream.
func (h Handlers) StartCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	id := c.Param("id")
	if _, err := h.Leads.Get(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	ctrl, err := h.Calls.StartCall(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	h.logAdmin(c, id, "call started", "")
	c.JSON(http.StatusAccepted, ctrl.Snapshot())
}

func (h Handlers) CallStatus(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	ctrl, ok := h.Calls.Get(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no call for lead"})
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h Handlers) Hangup(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	id := c.Param("id")
	if err := h.Calls.Hangup(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	h.logAdmin(c, id, "call hung up", "")
	c.Status(http.StatusNoContent)
}
