package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pio7/internal/course"
)

func (h *Handler) checklist(c *gin.Context) {
	n, err := course.ParseNumber(c.Param("number"))
	if err != nil {
		h.fail(c, err)
		return
	}
	items, err := h.Progress.Checklist(c.Request.Context(), identity(c), n)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) saveChecklist(c *gin.Context) {
	n, err := course.ParseNumber(c.Param("number"))
	if err != nil {
		h.fail(c, err)
		return
	}
	var req struct {
		CompletedItems []string `json:"completedItems"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	items, err := h.Progress.SaveChecklist(c.Request.Context(), identity(c), n, req.CompletedItems)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) setChecklist(c *gin.Context) {
	n, err := course.ParseNumber(c.Param("number"))
	if err != nil {
		h.fail(c, err)
		return
	}
	var req struct {
		Items []string `json:"items"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	items, err := h.Progress.SetItems(c.Request.Context(), identity(c), n, req.Items, requestContext(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) progressSummary(c *gin.Context) {
	st, err := h.Progress.Summary(c.Request.Context(), identity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) recordVisit(c *gin.Context) {
	var req struct {
		SessionNumber int `json:"sessionNumber" binding:"required"`
		SecondsSpent  int `json:"secondsSpent"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	v, err := h.Progress.RecordVisit(c.Request.Context(), identity(c), req.SessionNumber, req.SecondsSpent)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}
