package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"pio7/internal/qrcode"
)

const qrImageSize = 512

func (h *Handler) issueCode(c *gin.Context) {
	var req struct {
		SessionID     string `json:"sessionId"`
		SessionNumber int    `json:"sessionNumber"`
		Code          string `json:"code"`
		TTLSeconds    int    `json:"ttlSeconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.TTLSeconds < 0 {
		h.fail(c, qrcode.ErrInvalidTTL)
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		if req.SessionNumber <= 0 {
			badRequest(c, errors.New("sessionId or sessionNumber is required"))
			return
		}
		s, err := h.Sessions.GetByNumber(c.Request.Context(), req.SessionNumber)
		if err != nil {
			h.fail(c, err)
			return
		}
		sessionID = s.ID
	}

	code, err := h.Codes.Issue(c.Request.Context(), identity(c), qrcode.IssueRequest{
		SessionID: sessionID,
		Code:      req.Code,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
	}, requestContext(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":        code.ID,
		"code":      code.Code,
		"sessionId": code.SessionID,
		"expiresAt": code.ExpiresAt,
		"imageUrl":  "/v1/admin/qr/" + code.Code + ".png",
	})
}

func (h *Handler) activeCode(c *gin.Context) {
	s, err := h.sessionByParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	code, err := h.Codes.Active(c.Request.Context(), s.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, code)
}

// codeImage renders a redeemable code as a PNG for the classroom projector.
func (h *Handler) codeImage(c *gin.Context) {
	value := strings.TrimSuffix(c.Param("file"), ".png")
	v, err := h.Codes.Validate(c.Request.Context(), value)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !v.Valid {
		h.fail(c, v.Reason.Err())
		return
	}
	png, err := qrcode.RenderPNG(v.Code.Code, qrImageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

