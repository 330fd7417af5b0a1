package qrcode

import "context"

// Repository persists codes.
type Repository interface {
	// Replace deactivates every active code of c.SessionID and stores c as the
	// session's only active code. Both steps commit together. Concurrent calls
	// for one session are serialized.
	Replace(ctx context.Context, c Code) (Code, error)
	// GetByCode looks a code up by its string, active or not.
	GetByCode(ctx context.Context, code string) (Code, error)
	// Active returns the session's active code, which may have expired.
	Active(ctx context.Context, sessionID string) (Code, error)
}
