package httpapi

import (
	"lead-crm/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the authenticated API on v1. authMW must already be
// applied to v1 by the caller.
func (h Handlers) Register(v1 *gin.RouterGroup) {
	read := rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleViewer)
	write := rbac.RequireAnyRole(rbac.RoleOperator)

	v1.GET("/me", h.Me)
	v1.POST("/agent-url", write, h.AgentURL)

	ls := v1.Group("/leads")
	{
		ls.GET("", read, h.ListLeads)
		ls.POST("", write, h.CreateLead)
		ls.GET("/stream", read, h.StreamLeads)
		ls.GET("/:id", read, h.GetLead)
		ls.GET("/:id/events", read, h.LeadEvents)

		ls.GET("/:id/call", read, h.CallStatus)
		ls.POST("/:id/call", write, h.StartCall)
		ls.DELETE("/:id/call", write, h.Hangup)

		ls.POST("/:id/transcript", write, h.ProcessTranscript)
		ls.POST("/:id/simulate", write, h.Simulate)
	}

	v1.GET("/reports/summary", read, h.ReportSummary)
}
