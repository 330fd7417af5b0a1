package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pio7/internal/auth"
	"pio7/internal/ratelimit"
)

func init() { gin.SetMode(gin.TestMode) }

var twoPerMinute = ratelimit.Config{Name: "test", Limit: 2, Window: time.Minute}

// proxy is the RemoteAddr httptest gives every request.
const proxy = "192.0.2.1"

func newRouter(l Checker, key KeyFunc, trusted ...string) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies(trusted)
	r.Use(SecurityHeaders())
	r.GET("/ping", RateLimit(l, twoPerMinute, key), func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func get(r http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitByIP(t *testing.T) {
	r := newRouter(ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Options{}), KeyByIP("ping"), proxy)

	w := get(r, "203.0.113.7")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	require.Equal(t, http.StatusOK, get(r, "203.0.113.7").Code)
	w = get(r, "203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too many requests","reason":"rate_limited","retryAfter":60}`, w.Body.String())

	assert.Equal(t, http.StatusOK, get(r, "198.51.100.2").Code, "other clients keep their own window")
}

func TestRateLimitIgnoresUntrustedForwardedFor(t *testing.T) {
	r := newRouter(ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Options{}), KeyByIP("ping"))

	require.Equal(t, http.StatusOK, get(r, "10.0.0.1").Code)
	require.Equal(t, http.StatusOK, get(r, "10.0.0.2").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "10.0.0.3").Code)
}

type recordingChecker struct{ keys []string }

func (r *recordingChecker) Check(_ context.Context, id string, cfg ratelimit.Config) ratelimit.Decision {
	r.keys = append(r.keys, id)
	return ratelimit.Decision{Allowed: true, Limit: cfg.Limit, Remaining: cfg.Limit - 1}
}

func TestKeyByUser(t *testing.T) {
	rc := &recordingChecker{}
	r := gin.New()
	require.NoError(t, r.SetTrustedProxies(nil))
	r.GET("/ping",
		func(c *gin.Context) {
			if c.Query("as") != "" {
				auth.WithIdentity(c, auth.Identity{UserID: c.Query("as"), Role: auth.RoleStudent})
			}
		},
		RateLimit(rc, twoPerMinute, KeyByUser("submit")),
		func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, target := range []string{"/ping?as=u-1", "/ping"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusNoContent, w.Code)
	}
	assert.Equal(t, []string{"submit:u-1", "submit:" + proxy}, rc.keys)
}

func TestRateLimitDegradedFailClosed(t *testing.T) {
	l := ratelimit.New(failingStore{}, ratelimit.Options{OnError: ratelimit.FailClosed})
	w := get(newRouter(l, KeyByIP("ping")), "203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

type failingStore struct{}

func (failingStore) Take(context.Context, string, int, time.Duration) (ratelimit.Window, bool, error) {
	return ratelimit.Window{}, false, assert.AnError
}
