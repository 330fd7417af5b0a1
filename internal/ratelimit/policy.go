package ratelimit

import (
	"context"
	"fmt"

	"pio7/internal/logging"
)

// Mode stages a limit's rollout.
type Mode string

const (
	// ModeOff bypasses the limiter entirely.
	ModeOff Mode = "off"
	// ModeMonitor computes decisions and logs would-be blocks without blocking.
	ModeMonitor Mode = "monitor"
	// ModeEnforce blocks.
	ModeEnforce Mode = "enforce"
)

// ParseMode accepts off, monitor or enforce.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeOff, ModeMonitor, ModeEnforce:
		return m, nil
	case "":
		return ModeEnforce, nil
	}
	return ModeEnforce, fmt.Errorf("ratelimit: unknown mode %q", s)
}

// Policy applies one preset under a rollout mode. Login uses it so operators
// can watch a new limit before it starts locking people out.
type Policy struct {
	mode    Mode
	limiter *Limiter
	cfg     Config
	log     logging.Logger
}

// NewPolicy builds a Policy.
func NewPolicy(mode Mode, limiter *Limiter, cfg Config, log logging.Logger) *Policy {
	if log == nil {
		log = logging.Nop()
	}
	return &Policy{mode: mode, limiter: limiter, cfg: cfg, log: log}
}

// Mode returns the configured mode.
func (p *Policy) Mode() Mode { return p.mode }

// Check returns the decision to act on for identifier.
func (p *Policy) Check(ctx context.Context, identifier string) Decision {
	switch p.mode {
	case ModeOff:
		return Decision{Allowed: true, Limit: p.cfg.Limit, Remaining: p.cfg.Limit}
	case ModeMonitor:
		d := p.limiter.Check(ctx, identifier, p.cfg)
		if !d.Allowed {
			p.log.Warn("rate limit would block",
				"preset", p.cfg.Name, "identifier", identifier, "degraded", d.Degraded)
			monitoredBlocks.WithLabelValues(p.cfg.Name).Inc()
			d.Allowed = true
		}
		return d
	default:
		return p.limiter.Check(ctx, identifier, p.cfg)
	}
}
