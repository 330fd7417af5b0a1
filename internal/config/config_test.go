package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QR_CODE_TTL", "")
	t.Setenv("RATE_LIMIT_TIMEOUT", "")
	t.Setenv("TRUSTED_PROXIES", "")
	t.Setenv("REDEEM_RATE_LIMIT", "")

	cfg := Load()
	assert.Empty(t, cfg.TrustedProxies)
	assert.Equal(t, "submission", cfg.RedeemRateLimit)
	assert.Equal(t, 15*time.Minute, cfg.QRCodeTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimitTimeout)
	assert.Equal(t, 6, cfg.QRCodeLength)
	assert.Equal(t, "enforce", cfg.LoginRateMode)
	assert.Equal(t, "fail-closed", cfg.RateLimitOnError)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QR_CODE_TTL", "10m")
	t.Setenv("RATE_LIMIT_TIMEOUT", "not-a-duration")
	t.Setenv("MIGRATE_ON_START", "off")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("QR_CODE_LENGTH", "eight")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8")

	cfg := Load()
	assert.Equal(t, 10*time.Minute, cfg.QRCodeTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimitTimeout)
	assert.False(t, cfg.MigrateOnStart)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 6, cfg.QRCodeLength)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.TrustedProxies)
}

func TestValidate(t *testing.T) {
	base := Load()

	tests := []struct {
		name    string
		mutate  func(*App)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*App) {}},
		{name: "unknown store", mutate: func(a *App) { a.StoreBackend = "mongo" }, wantErr: true},
		{name: "unknown limiter backend", mutate: func(a *App) { a.RateLimitBackend = "etcd" }, wantErr: true},
		{name: "unknown audit delivery", mutate: func(a *App) { a.AuditDelivery = "email" }, wantErr: true},
		{name: "unknown queue", mutate: func(a *App) { a.QueueBackend = "kafka" }, wantErr: true},
		{name: "attendance redeem preset", mutate: func(a *App) { a.RedeemRateLimit = "attendance" }},
		{name: "unknown redeem preset", mutate: func(a *App) { a.RedeemRateLimit = "contact" }, wantErr: true},
		{name: "zero ttl", mutate: func(a *App) { a.QRCodeTTL = 0 }, wantErr: true},
		{name: "short code", mutate: func(a *App) { a.QRCodeLength = 2 }, wantErr: true},
		{name: "prod default key", mutate: func(a *App) { a.Env = "production" }, wantErr: true},
		{name: "prod custom key", mutate: func(a *App) { a.Env = "production"; a.JWTSigningKey = "s3cr3t" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
