package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pio7/internal/audit"
)

func (h *Handler) auditLogs(c *gin.Context) {
	if err := identity(c).RequireAdmin(); err != nil {
		h.fail(c, err)
		return
	}
	entries, err := h.AuditLogs.List(c.Request.Context(), audit.ClampLimit(queryLimit(c, audit.DefaultListLimit)))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries})
}
