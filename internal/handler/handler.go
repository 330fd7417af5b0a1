// Package handler exposes the portal over HTTP. Handlers pull the caller's
// auth.Identity off the gin context and pass it explicitly into the domain
// services; domain errors are mapped to a status and a stable reason string.
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pio7/internal/account"
	"pio7/internal/attendance"
	"pio7/internal/audit"
	"pio7/internal/auth"
	"pio7/internal/course"
	"pio7/internal/httpmiddleware"
	"pio7/internal/logging"
	"pio7/internal/progress"
	"pio7/internal/qrcode"
	"pio7/internal/ratelimit"
	"pio7/internal/registration"
	"pio7/internal/report"
	"pio7/internal/submission"
)

// Handler bundles the services behind the API.
type Handler struct {
	Accounts    *account.Service
	Sessions    course.Repository
	Codes       *qrcode.Manager
	Attendance  *attendance.Service
	Reports     *report.Service
	Submissions *submission.Service
	Signups     *registration.Service
	Progress    *progress.Service
	AuditLogs   audit.Repository
	Recorder    *audit.Recorder
	Limiter     httpmiddleware.Checker
	Log         logging.Logger

	now func() time.Time
}

func (h *Handler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

// Register mounts every route under /v1. authn turns a bearer token into an
// identity on the context.
func (h *Handler) Register(r gin.IRouter, authn gin.HandlerFunc) {
	if h.Log == nil {
		h.Log = logging.Nop()
	}
	v1 := r.Group("/v1")
	v1.POST("/auth/login", h.login)
	v1.POST("/auth/register", h.signup)

	user := v1.Group("", authn)
	user.GET("/me", h.me)
	user.POST("/me/password", h.changePassword)
	user.GET("/sessions", h.listSessions)
	user.GET("/sessions/:number", h.getSession)
	user.GET("/sessions/:number/checklist", h.checklist)
	user.PUT("/sessions/:number/checklist", h.saveChecklist)
	user.GET("/progress", h.progressSummary)
	user.POST("/progress", h.recordVisit)
	user.POST("/attendance/redeem", h.redeem)
	user.GET("/attendance", h.history)
	user.POST("/submissions", httpmiddleware.RateLimit(h.Limiter, ratelimit.Upload, httpmiddleware.KeyByIP("upload")), h.submit)
	user.GET("/submissions", h.mySubmissions)

	admin := v1.Group("/admin", authn, auth.RequireAdmin())
	admin.POST("/qr", httpmiddleware.RateLimit(h.Limiter, ratelimit.QR, httpmiddleware.KeyByUser("qr")), h.issueCode)
	admin.GET("/qr/:file", h.codeImage)
	admin.GET("/sessions/:number/qr", h.activeCode)
	admin.PUT("/sessions/:number", h.updateSession)
	admin.PUT("/sessions/:number/checklist", h.setChecklist)
	admin.GET("/audit-logs", h.auditLogs)
	admin.GET("/stats", h.stats)
	admin.GET("/students", h.students)
	admin.GET("/attendance/:number", h.sessionAttendance)
	admin.POST("/attendance", h.registerAttendance)
	admin.GET("/submissions", h.allSubmissions)
	admin.GET("/2fa", h.twoFactorStatus)
	admin.POST("/2fa", h.setupTwoFactor)
	admin.POST("/2fa/verify", h.verifyTwoFactor)
	admin.DELETE("/2fa", h.disableTwoFactor)
	admin.GET("/registration-codes", h.registrationCodes)
	admin.POST("/registration-codes", h.createRegistrationCode)
	admin.PATCH("/registration-codes/:id", h.updateRegistrationCode)
	admin.DELETE("/registration-codes/:id", h.deleteRegistrationCode)
}

func identity(c *gin.Context) auth.Identity {
	id, _ := auth.FromContext(c)
	return id
}

func requestContext(c *gin.Context) audit.RequestContext {
	return audit.FromRequest(c.Request)
}

// queryLimit reads ?limit=, returning def when it is absent or not a number.
func queryLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return def
	}
	return n
}

type failure struct {
	status int
	reason string
}

var failures = []struct {
	err error
	failure
}{
	{auth.ErrUnauthenticated, failure{http.StatusUnauthorized, "unauthenticated"}},
	{auth.ErrBadCredentials, failure{http.StatusUnauthorized, "invalid_credentials"}},
	{account.ErrTOTPRequired, failure{http.StatusUnauthorized, "totp_required"}},
	{account.ErrInvalidTOTP, failure{http.StatusUnauthorized, "invalid_totp"}},
	{auth.ErrForbidden, failure{http.StatusForbidden, "forbidden"}},
	{course.ErrSessionNotFound, failure{http.StatusNotFound, "session_not_found"}},
	{account.ErrUserNotFound, failure{http.StatusNotFound, "user_not_found"}},
	{qrcode.ErrNotFound, failure{http.StatusNotFound, string(qrcode.ReasonNotFound)}},
	{qrcode.ErrInactive, failure{http.StatusGone, string(qrcode.ReasonInactive)}},
	{qrcode.ErrExpired, failure{http.StatusGone, string(qrcode.ReasonExpired)}},
	{qrcode.ErrCodeTaken, failure{http.StatusConflict, "code_taken"}},
	{attendance.ErrAlreadyRegistered, failure{http.StatusConflict, string(attendance.ReasonAlreadyRegistered)}},
	{account.ErrEmailTaken, failure{http.StatusConflict, "email_taken"}},
	{registration.ErrCodeTaken, failure{http.StatusConflict, "registration_code_taken"}},
	{registration.ErrCodeNotFound, failure{http.StatusNotFound, "registration_code_not_found"}},
	{registration.ErrCodeInactive, failure{http.StatusGone, "registration_code_inactive"}},
	{registration.ErrCodeExpired, failure{http.StatusGone, "registration_code_expired"}},
	{registration.ErrCodeExhausted, failure{http.StatusGone, "registration_code_exhausted"}},
	{account.ErrTwoFactorNotConfigured, failure{http.StatusBadRequest, "two_factor_not_configured"}},
	{submission.ErrTooLarge, failure{http.StatusRequestEntityTooLarge, "file_too_large"}},
	{submission.ErrUnsupportedType, failure{http.StatusUnsupportedMediaType, "unsupported_type"}},
	{submission.ErrSignatureMismatch, failure{http.StatusUnsupportedMediaType, "signature_mismatch"}},
	{course.ErrInvalidNumber, failure{http.StatusBadRequest, "invalid_session_number"}},
	{qrcode.ErrInvalidCode, failure{http.StatusBadRequest, "invalid_code"}},
	{qrcode.ErrInvalidTTL, failure{http.StatusBadRequest, "invalid_ttl"}},
	{attendance.ErrInvalidMethod, failure{http.StatusBadRequest, "invalid_method"}},
	{attendance.ErrMissingCode, failure{http.StatusBadRequest, "missing_code"}},
	{attendance.ErrMissingUser, failure{http.StatusBadRequest, "missing_user"}},
	{account.ErrMissingCredentials, failure{http.StatusBadRequest, "missing_credentials"}},
	{account.ErrWeakPassword, failure{http.StatusBadRequest, "weak_password"}},
	{registration.ErrCodeRequired, failure{http.StatusBadRequest, "missing_registration_code"}},
	{registration.ErrInvalidMaxUses, failure{http.StatusBadRequest, "invalid_max_uses"}},
	{registration.ErrInvalidExpiry, failure{http.StatusBadRequest, "invalid_expiry"}},
	{registration.ErrInvalidName, failure{http.StatusBadRequest, "invalid_name"}},
	{registration.ErrInvalidEmail, failure{http.StatusBadRequest, "invalid_email"}},
	{submission.ErrEmptyFile, failure{http.StatusBadRequest, "empty_file"}},
	{submission.ErrMissingTaskType, failure{http.StatusBadRequest, "missing_task_type"}},
}

// fail writes err as JSON. Unknown errors are logged and reported as 500
// without their text.
func (h *Handler) fail(c *gin.Context, err error) {
	var limited *ratelimit.LimitError
	if errors.As(err, &limited) {
		httpmiddleware.WriteLimitHeaders(c, limited.Decision)
		httpmiddleware.AbortLimited(c, limited.Decision)
		return
	}
	for _, f := range failures {
		if errors.Is(err, f.err) {
			c.AbortWithStatusJSON(f.status, gin.H{"error": err.Error(), "reason": f.reason})
			return
		}
	}
	h.Log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error", "reason": "internal"})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": "invalid_request"})
}
