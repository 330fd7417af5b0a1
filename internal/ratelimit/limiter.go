// Package ratelimit implements a fixed-window request counter keyed by an
// arbitrary identifier.
//
// The first request for an identifier opens a window ending at now+Window.
// Requests inside the window are counted until Limit is reached; once the
// window has passed the identifier behaves as if it had never been seen.
// Counters live in a Store, which is in-process for single-instance
// deployments and Redis for everything else. When the store fails or is too
// slow the Limiter degrades according to its FailPolicy instead of erroring.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"pio7/internal/logging"
)

// Config is a named limit: at most Limit requests per Window.
type Config struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Presets used across the portal.
var (
	Auth       = Config{Name: "auth", Limit: 3, Window: time.Hour}
	Signup     = Config{Name: "signup", Limit: 10, Window: time.Hour}
	Upload     = Config{Name: "upload", Limit: 10, Window: time.Minute}
	Standard   = Config{Name: "standard", Limit: 60, Window: time.Minute}
	QR         = Config{Name: "qr", Limit: 20, Window: time.Minute}
	Submission = Config{Name: "submission", Limit: 10, Window: time.Minute}
	Attendance = Config{Name: "attendance", Limit: 1, Window: time.Minute}
)

// Preset returns the named preset, for settings that pick one by name.
func Preset(name string) (Config, error) {
	for _, c := range []Config{Auth, Signup, Upload, Standard, QR, Submission, Attendance} {
		if c.Name == name {
			return c, nil
		}
	}
	return Config{}, fmt.Errorf("ratelimit: unknown preset %q", name)
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Degraded is set when the store could not be consulted and the
	// decision came from the fail policy.
	Degraded bool
}

// RetryAfter is the time left until the window resets, rounded up to whole seconds.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	left := d.ResetAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(left.Seconds())) * time.Second
}

// ErrLimited matches every *LimitError.
var ErrLimited = errors.New("ratelimit: limit exceeded")

// LimitError carries the blocking decision to callers that report it, for
// example as Retry-After.
type LimitError struct {
	Decision Decision
}

func (e *LimitError) Error() string { return ErrLimited.Error() }
func (e *LimitError) Unwrap() error { return ErrLimited }

// Err returns a *LimitError when d blocks, nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &LimitError{Decision: d}
}

// Window is the state of a counter after a Take.
type Window struct {
	Count   int
	ResetAt time.Time
}

// Store holds counters. Take must be atomic per key: it counts one request
// against key unless the active window already holds limit requests, opening
// a new window of the given length when none is active.
type Store interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (Window, bool, error)
}

// FailPolicy decides what Check returns when the store is unavailable.
type FailPolicy int

const (
	FailClosed FailPolicy = iota
	FailOpen
)

func (p FailPolicy) String() string {
	if p == FailOpen {
		return "fail-open"
	}
	return "fail-closed"
}

// ParseFailPolicy accepts "fail-open" or "fail-closed".
func ParseFailPolicy(s string) (FailPolicy, error) {
	switch s {
	case "fail-open", "open":
		return FailOpen, nil
	case "fail-closed", "closed", "":
		return FailClosed, nil
	}
	return FailClosed, fmt.Errorf("ratelimit: unknown fail policy %q", s)
}

// DefaultTimeout bounds each store call.
const DefaultTimeout = 500 * time.Millisecond

// degradedWindow is the reset hint reported when the store is unavailable.
const degradedWindow = time.Minute

// Options configures a Limiter.
type Options struct {
	OnError FailPolicy
	Timeout time.Duration
	Logger  logging.Logger
}

// Limiter gates requests against a Store.
type Limiter struct {
	store   Store
	onError FailPolicy
	timeout time.Duration
	log     logging.Logger
	now     func() time.Time
}

// New builds a Limiter over store.
func New(store Store, opts Options) *Limiter {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Limiter{
		store:   store,
		onError: opts.OnError,
		timeout: opts.Timeout,
		log:     opts.Logger,
		now:     time.Now,
	}
}

// Key is the store key for an identifier under cfg. Keys of different window
// lengths never collide, so the same identifier can be gated by several presets.
func Key(identifier string, cfg Config) string {
	return "ratelimit:" + identifier + ":" + strconv.FormatInt(int64(cfg.Window/time.Second), 10)
}

type takeResult struct {
	win     Window
	allowed bool
	err     error
}

// Check counts one request for identifier against cfg.
func (l *Limiter) Check(ctx context.Context, identifier string, cfg Config) Decision {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	key := Key(identifier, cfg)
	done := make(chan takeResult, 1)
	go func() {
		win, allowed, err := l.store.Take(ctx, key, cfg.Limit, cfg.Window)
		done <- takeResult{win: win, allowed: allowed, err: err}
	}()

	var res takeResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err != nil {
		return l.degrade(cfg, key, res.err)
	}

	remaining := cfg.Limit - res.win.Count
	if remaining < 0 || !res.allowed {
		remaining = 0
	}
	d := Decision{
		Allowed:   res.allowed,
		Limit:     cfg.Limit,
		Remaining: remaining,
		ResetAt:   res.win.ResetAt,
	}
	observe(cfg, d)
	return d
}

func (l *Limiter) degrade(cfg Config, key string, err error) Decision {
	d := Decision{
		Allowed:  l.onError == FailOpen,
		Limit:    cfg.Limit,
		ResetAt:  l.now().Add(degradedWindow),
		Degraded: true,
	}
	l.log.Warn("rate limit store unavailable",
		"preset", cfg.Name, "key", key, "policy", l.onError.String(), "err", err)
	observe(cfg, d)
	return d
}
