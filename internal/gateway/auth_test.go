package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/soyeahso/tally/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestSafeEqual(t *testing.T) {
	assert.True(t, safeEqual("secret", "secret"))
	assert.True(t, safeEqual("", ""))
	assert.False(t, safeEqual("secret", "wrong"))
	assert.False(t, safeEqual("short", "longer-string"))
	assert.False(t, safeEqual("secret", ""))
	assert.False(t, safeEqual("", "secret"))
}

func TestResolveAuth_FromConfig(t *testing.T) {
	auth := ResolveAuth(config.GatewayAuth{Mode: "token", Token: "config-token"})
	assert.Equal(t, "token", auth.Mode)
	assert.Equal(t, "config-token", auth.Token)

	auth = ResolveAuth(config.GatewayAuth{Mode: "password", Password: "config-pass"})
	assert.Equal(t, "password", auth.Mode)
	assert.Equal(t, "config-pass", auth.Password)
}

func TestResolveAuth_DefaultMode(t *testing.T) {
	t.Setenv(EnvGatewayToken, "")
	t.Setenv(EnvGatewayPassword, "")

	assert.Equal(t, "token", ResolveAuth(config.GatewayAuth{Token: "my-token"}).Mode)
	assert.Equal(t, "password", ResolveAuth(config.GatewayAuth{Password: "my-pass"}).Mode)
}

func TestResolveAuth_FromEnv(t *testing.T) {
	t.Setenv(EnvGatewayToken, "env-token")
	t.Setenv(EnvGatewayPassword, "env-pass")

	auth := ResolveAuth(config.GatewayAuth{Mode: "token"})
	assert.Equal(t, "env-token", auth.Token)
	assert.Equal(t, "env-pass", auth.Password)

	auth = ResolveAuth(config.GatewayAuth{Mode: "token", Token: "config-token"})
	assert.Equal(t, "config-token", auth.Token)
}

func TestAuthorize(t *testing.T) {
	tokenAuth := ResolvedAuth{Mode: "token", Token: "secret"}
	passAuth := ResolvedAuth{Mode: "password", Password: "pass123"}

	tests := []struct {
		name       string
		server     ResolvedAuth
		client     *ConnectAuth
		wantOK     bool
		wantReason string
	}{
		{"token ok", tokenAuth, &ConnectAuth{Token: "secret"}, true, ""},
		{"token mismatch", tokenAuth, &ConnectAuth{Token: "wrong"}, false, "token_mismatch"},
		{"token missing", tokenAuth, &ConnectAuth{}, false, "token required"},
		{"server token unset", ResolvedAuth{Mode: "token"}, &ConnectAuth{Token: "x"}, false, "server token not configured"},
		{"password ok", passAuth, &ConnectAuth{Password: "pass123"}, true, ""},
		{"password mismatch", passAuth, &ConnectAuth{Password: "wrong"}, false, "password_mismatch"},
		{"password missing", passAuth, &ConnectAuth{}, false, "password required"},
		{"server password unset", ResolvedAuth{Mode: "password"}, &ConnectAuth{Password: "x"}, false, "server password not configured"},
		{"no credentials", tokenAuth, nil, false, "no credentials provided"},
		{"unknown mode", ResolvedAuth{Mode: "oauth"}, &ConnectAuth{Token: "x"}, false, "unknown auth mode: oauth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Authorize(tt.server, tt.client)
			assert.Equal(t, tt.wantOK, result.OK)
			assert.Equal(t, tt.wantReason, result.Reason)
			if tt.wantOK {
				assert.Equal(t, tt.server.Mode, result.Method)
			}
		})
	}
}

func TestAuthRateLimiter_BlocksAfterMaxFailures(t *testing.T) {
	limiter := newAuthRateLimiter()
	defer limiter.close()

	assert.True(t, limiter.allow("192.168.1.1:12345"))
	for i := 0; i < authRateMaxFails-1; i++ {
		limiter.recordFailure("192.168.1.1:12345")
	}
	assert.True(t, limiter.allow("192.168.1.1:12345"))

	limiter.recordFailure("192.168.1.1:5555")
	assert.False(t, limiter.allow("192.168.1.1:12345"))
	assert.True(t, limiter.allow("192.168.1.2:12345"))
}

func TestAuthRateLimiter_HostWithoutPort(t *testing.T) {
	limiter := newAuthRateLimiter()
	defer limiter.close()

	for i := 0; i < authRateMaxFails; i++ {
		limiter.recordFailure("192.168.1.1")
	}
	assert.False(t, limiter.allow("192.168.1.1"))
}

func TestAuthRateLimiter_FailuresExpire(t *testing.T) {
	limiter := newAuthRateLimiter()
	defer limiter.close()

	start := time.Now()
	limiter.now = func() time.Time { return start }
	for i := 0; i < authRateMaxFails; i++ {
		limiter.recordFailure("10.0.0.1:1")
	}
	assert.False(t, limiter.allow("10.0.0.1:1"))

	limiter.now = func() time.Time { return start.Add(authRateWindow + time.Second) }
	assert.True(t, limiter.allow("10.0.0.1:1"))
	assert.Empty(t, limiter.failures)
}

func TestAuthRateLimiter_EvictsOldestHost(t *testing.T) {
	limiter := newAuthRateLimiter()
	defer limiter.close()

	base := time.Now()
	for i := 0; i < authRateMaxIPs; i++ {
		limiter.failures[time.Duration(i).String()] = []time.Time{base.Add(time.Duration(i) * time.Millisecond)}
	}
	limiter.recordFailure("203.0.113.9:80")

	assert.Len(t, limiter.failures, authRateMaxIPs)
	assert.NotContains(t, limiter.failures, time.Duration(0).String())
	assert.Contains(t, limiter.failures, "203.0.113.9")
}

func originRequest(origin string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestCheckWebSocketOrigin(t *testing.T) {
	assert.True(t, checkWebSocketOrigin(nil)(originRequest("")))
	assert.False(t, checkWebSocketOrigin(nil)(originRequest("http://evil.com")))
	assert.True(t, checkWebSocketOrigin([]string{"*"})(originRequest("http://anything.com")))

	check := checkWebSocketOrigin([]string{"http://one.com", "http://two.com"})
	assert.True(t, check(originRequest("http://one.com")))
	assert.True(t, check(originRequest("http://two.com")))
	assert.False(t, check(originRequest("http://three.com")))
}
