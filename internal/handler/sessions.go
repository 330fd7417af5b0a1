package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pio7/internal/audit"
	"pio7/internal/course"
	"pio7/internal/jsonb"
)

type sessionView struct {
	course.Session
	State course.State `json:"state"`
}

func (h *Handler) listSessions(c *gin.Context) {
	all, err := h.Sessions.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	now := h.clock()
	out := make([]sessionView, 0, len(all))
	for _, s := range all {
		s.Content = nil
		out = append(out, sessionView{Session: s, State: s.StateAt(now)})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// getSession accepts a session number or "current".
func (h *Handler) getSession(c *gin.Context) {
	var (
		s   course.Session
		err error
	)
	if c.Param("number") == "current" {
		s, err = h.Sessions.Current(c.Request.Context(), h.clock())
	} else {
		s, err = h.sessionByParam(c)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionView{Session: s, State: s.StateAt(h.clock())})
}

func (h *Handler) sessionByParam(c *gin.Context) (course.Session, error) {
	n, err := course.ParseNumber(c.Param("number"))
	if err != nil {
		return course.Session{}, err
	}
	return h.Sessions.GetByNumber(c.Request.Context(), n)
}

func (h *Handler) updateSession(c *gin.Context) {
	n, err := course.ParseNumber(c.Param("number"))
	if err != nil {
		h.fail(c, err)
		return
	}
	var req struct {
		Date      time.Time     `json:"date" binding:"required"`
		Title     string        `json:"title" binding:"required"`
		Subtitle  string        `json:"subtitle"`
		IsExamDay bool          `json:"isExamDay"`
		Content   jsonb.Payload `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := identity(c)
	if err := id.RequireAdmin(); err != nil {
		h.fail(c, err)
		return
	}
	s, err := h.Sessions.Upsert(c.Request.Context(), course.Session{
		Number:    n,
		Date:      req.Date,
		Title:     req.Title,
		Subtitle:  req.Subtitle,
		IsExamDay: req.IsExamDay,
		Content:   req.Content,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.Recorder.Record(c.Request.Context(), id.UserID, audit.ActionSessionUpdated, "Session", s.ID,
		map[string]interface{}{"sessionNumber": s.Number, "title": s.Title}, requestContext(c))
	c.JSON(http.StatusOK, sessionView{Session: s, State: s.StateAt(h.clock())})
}
