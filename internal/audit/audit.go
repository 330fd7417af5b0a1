// Package audit records privileged admin actions in an append-only trail.
//
// Recording is fire-and-forget for callers: Record never returns an error and
// never blocks the triggering action beyond its write timeout. Failed writes
// are logged as "audit write failed" and counted, so they stay visible to
// operators without undoing the action that caused them.
package audit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"pio7/internal/jsonb"
)

// Action names a privileged operation.
type Action string

const (
	ActionQRCodeGenerated    Action = "QR_CODE_GENERATED"
	ActionAttendanceOverride Action = "ATTENDANCE_REGISTERED_BY_ADMIN"
	ActionAdmin2FASetup      Action = "ADMIN_2FA_SETUP_STARTED"
	ActionAdmin2FAEnabled    Action = "ADMIN_2FA_ENABLED"
	ActionAdmin2FADisabled   Action = "ADMIN_2FA_DISABLED"
	ActionSessionUpdated     Action = "SESSION_UPDATED"
	ActionAdminBootstrapped  Action = "ADMIN_BOOTSTRAPPED"

	ActionRegistrationCodeCreated Action = "REGISTRATION_CODE_CREATED"
	ActionRegistrationCodeUpdated Action = "REGISTRATION_CODE_UPDATED"
	ActionRegistrationCodeDeleted Action = "REGISTRATION_CODE_DELETED"
	ActionChecklistUpdated        Action = "CHECKLIST_UPDATED"
)

// Entry is one audit log row.
type Entry struct {
	ID         string        `db:"id" json:"id"`
	AdminID    string        `db:"admin_id" json:"adminId"`
	Action     Action        `db:"action" json:"action"`
	EntityType string        `db:"entity_type" json:"entityType"`
	EntityID   string        `db:"entity_id" json:"entityId,omitempty"`
	Metadata   jsonb.Payload `db:"metadata" json:"metadata,omitempty"`
	IPAddress  string        `db:"ip_address" json:"ipAddress,omitempty"`
	UserAgent  string        `db:"user_agent" json:"userAgent,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"createdAt"`
}

// Limits for listing entries.
const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// ClampLimit maps an explicit page size into [1, MaxListLimit]. Callers use
// DefaultListLimit when no size was requested.
func ClampLimit(limit int) int {
	switch {
	case limit < 1:
		return 1
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}

// Repository persists entries. There is deliberately no update or delete.
type Repository interface {
	Insert(ctx context.Context, e Entry) error
	// List returns the newest entries first.
	List(ctx context.Context, limit int) ([]Entry, error)
}

// UnknownIP is reported when no proxy header names the client.
const UnknownIP = "unknown"

const maxUserAgent = 1024

// RequestContext is what an entry records about the HTTP request.
type RequestContext struct {
	IPAddress string
	UserAgent string
}

// FromRequest extracts the client IP and user agent of r.
func FromRequest(r *http.Request) RequestContext {
	if r == nil {
		return RequestContext{}
	}
	return RequestContext{
		IPAddress: ClientIP(r.Header),
		UserAgent: truncate(r.Header.Get("User-Agent"), maxUserAgent),
	}
}

// ClientIP picks the client address from proxy headers: the first hop of
// X-Forwarded-For, then X-Real-IP, then CF-Connecting-IP.
func ClientIP(h http.Header) string {
	if fwd := h.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	for _, name := range []string{"X-Real-IP", "CF-Connecting-IP"} {
		if ip := strings.TrimSpace(h.Get(name)); ip != "" {
			return ip
		}
	}
	return UnknownIP
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
