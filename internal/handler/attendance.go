package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pio7/internal/attendance"
	"pio7/internal/course"
	"pio7/internal/httpmiddleware"
)

type rejection struct {
	status  int
	message string
}

// rejections are shown to students as is.
var rejections = map[attendance.Reason]rejection{
	attendance.ReasonNotFound:          {http.StatusNotFound, "Código inválido"},
	attendance.ReasonInactive:          {http.StatusGone, "Este código ya no está activo"},
	attendance.ReasonExpired:           {http.StatusGone, "El código ha expirado, pide uno nuevo"},
	attendance.ReasonAlreadyRegistered: {http.StatusConflict, "Ya registraste tu asistencia para esta sesión"},
}

func (h *Handler) redeem(c *gin.Context) {
	var req struct {
		Code   string `json:"code"`
		Method string `json:"method"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.Attendance.Redeem(c.Request.Context(), identity(c), req.Code, attendance.Method(req.Method))
	if err != nil {
		h.fail(c, err)
		return
	}
	httpmiddleware.WriteLimitHeaders(c, res.RateLimit)
	if res.Success {
		c.JSON(http.StatusCreated, gin.H{"success": true, "attendance": res.Record})
		return
	}
	if res.Reason == attendance.ReasonRateLimited {
		httpmiddleware.AbortLimited(c, res.RateLimit)
		return
	}
	rj, ok := rejections[res.Reason]
	if !ok {
		rj = rejection{http.StatusBadRequest, "No se pudo registrar la asistencia"}
	}
	c.JSON(rj.status, gin.H{"success": false, "reason": res.Reason, "message": rj.message})
}

func (h *Handler) history(c *gin.Context) {
	recs, err := h.Attendance.History(c.Request.Context(), identity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": recs})
}

func (h *Handler) registerAttendance(c *gin.Context) {
	var req struct {
		UserID        string `json:"userId" binding:"required"`
		SessionNumber int    `json:"sessionNumber" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.SessionNumber <= 0 {
		h.fail(c, course.ErrInvalidNumber)
		return
	}
	rec, err := h.Attendance.Register(c.Request.Context(), identity(c), req.UserID, req.SessionNumber, requestContext(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"attendance": rec})
}

func (h *Handler) sessionAttendance(c *gin.Context) {
	n, err := course.ParseNumber(c.Param("number"))
	if err != nil {
		h.fail(c, err)
		return
	}
	d, err := h.Reports.SessionDetail(c.Request.Context(), identity(c), n)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) stats(c *gin.Context) {
	st, err := h.Reports.Stats(c.Request.Context(), identity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
