package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pio7/internal/account"
)

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		TOTP     string `json:"totp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.Accounts.Login(c.Request.Context(), account.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		TOTP:     req.TOTP,
		IP:       c.ClientIP(),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accessToken": sess.Token.AccessToken,
		"expiresAt":   sess.Token.ExpiresAt,
		"user":        sess.User,
	})
}

func (h *Handler) me(c *gin.Context) {
	u, err := h.Accounts.Me(c.Request.Context(), identity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) students(c *gin.Context) {
	users, err := h.Accounts.Students(c.Request.Context(), identity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": users})
}

func (h *Handler) twoFactorStatus(c *gin.Context) {
	st, err := h.Accounts.TwoFactorStatus(c.Request.Context(), identity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) setupTwoFactor(c *gin.Context) {
	enr, err := h.Accounts.SetupTwoFactor(c.Request.Context(), identity(c), requestContext(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, enr)
}

func (h *Handler) verifyTwoFactor(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Accounts.VerifyTwoFactor(c.Request.Context(), identity(c), req.Token, requestContext(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true})
}

func (h *Handler) disableTwoFactor(c *gin.Context) {
	if err := h.Accounts.DisableTwoFactor(c.Request.Context(), identity(c), requestContext(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": false})
}

func (h *Handler) changePassword(c *gin.Context) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Accounts.ChangePassword(c.Request.Context(), identity(c), req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
