package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pio7/internal/registration"
)

func (h *Handler) signup(c *gin.Context) {
	var req struct {
		Name             string `json:"name"`
		Email            string `json:"email"`
		Password         string `json:"password"`
		RegistrationCode string `json:"registrationCode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.Signups.Register(c.Request.Context(), registration.Signup{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Code:     req.RegistrationCode,
		IP:       c.ClientIP(),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": u})
}

func (h *Handler) registrationCodes(c *gin.Context) {
	codes, err := h.Signups.List(c.Request.Context(), identity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"codes": codes})
}

func (h *Handler) createRegistrationCode(c *gin.Context) {
	var req struct {
		MaxUses     int        `json:"maxUses"`
		Description string     `json:"description"`
		ExpiresAt   *time.Time `json:"expiresAt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	code, err := h.Signups.Create(c.Request.Context(), identity(c), registration.NewCode{
		MaxUses:     req.MaxUses,
		Description: req.Description,
		ExpiresAt:   req.ExpiresAt,
	}, requestContext(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, code)
}

func (h *Handler) updateRegistrationCode(c *gin.Context) {
	var req struct {
		IsActive *bool `json:"isActive" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	code, err := h.Signups.SetActive(c.Request.Context(), identity(c), c.Param("id"), *req.IsActive, requestContext(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, code)
}

func (h *Handler) deleteRegistrationCode(c *gin.Context) {
	if err := h.Signups.Delete(c.Request.Context(), identity(c), c.Param("id"), requestContext(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
