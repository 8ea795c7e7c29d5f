package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newLimiter(cfg RateLimitConfig) (*RateLimiter, *clock) {
	c := &clock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	l := NewRateLimiter(cfg)
	l.now = c.now
	return l, c
}

func serve(h http.Handler, remoteAddr string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_Burst(t *testing.T) {
	l, c := newLimiter(RateLimitConfig{Rate: 1, Burst: 3})
	h := l.Middleware()(okHandler())

	for i := range 3 {
		w := serve(h, "192.168.1.1:1234", nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	}

	w := serve(h, "192.168.1.1:1234", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])
	assert.Equal(t, "rate_limited", body["reason"])

	c.advance(time.Second)
	w = serve(h, "192.168.1.1:1234", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_Remaining(t *testing.T) {
	l, _ := newLimiter(RateLimitConfig{Rate: 1, Burst: 5})
	h := l.Middleware()(okHandler())

	for _, want := range []string{"4", "3", "2"} {
		w := serve(h, "10.0.0.1:1", nil)
		assert.Equal(t, want, w.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_Keys(t *testing.T) {
	tests := []struct {
		name    string
		keyFunc func(*http.Request) string
		first   http.Header
		firstIP string
		second  http.Header
		secIP   string
		limited bool
	}{
		{
			name:    "same client ip",
			firstIP: "10.0.0.1:1234",
			secIP:   "10.0.0.1:5678",
			limited: true,
		},
		{
			name:    "different client ip",
			firstIP: "10.0.0.1:1234",
			secIP:   "10.0.0.2:1234",
		},
		{
			name:    "forwarded for",
			first:   http.Header{"X-Forwarded-For": {"203.0.113.50, 70.41.3.18"}},
			firstIP: "192.168.1.1:4444",
			second:  http.Header{"X-Forwarded-For": {"203.0.113.50"}},
			secIP:   "192.168.1.2:5555",
			limited: true,
		},
		{
			name:    "sessions behind one address",
			keyFunc: SessionKey("X-Session-ID"),
			first:   http.Header{"X-Session-Id": {"sess-a"}},
			firstIP: "10.0.0.1:1",
			second:  http.Header{"X-Session-Id": {"sess-b"}},
			secIP:   "10.0.0.1:1",
		},
		{
			name:    "same session from two addresses",
			keyFunc: SessionKey("X-Session-ID"),
			first:   http.Header{"X-Session-Id": {"sess-a"}},
			firstIP: "10.0.0.1:1",
			second:  http.Header{"X-Session-Id": {"sess-a"}},
			secIP:   "10.0.0.9:1",
			limited: true,
		},
		{
			name:    "no session falls back to address",
			keyFunc: SessionKey("X-Session-ID"),
			firstIP: "10.0.0.1:1",
			secIP:   "10.0.0.1:2",
			limited: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newLimiter(RateLimitConfig{Rate: 1, Burst: 1, KeyFunc: tt.keyFunc})
			h := l.Middleware()(okHandler())

			require.Equal(t, http.StatusOK, serve(h, tt.firstIP, tt.first).Code)

			want := http.StatusOK
			if tt.limited {
				want = http.StatusTooManyRequests
			}
			assert.Equal(t, want, serve(h, tt.secIP, tt.second).Code)
		})
	}
}

func TestRateLimit_Sweep(t *testing.T) {
	l, c := newLimiter(RateLimitConfig{Rate: 1, Burst: 1, IdleTTL: time.Minute})
	h := l.Middleware()(okHandler())

	serve(h, "10.0.0.1:1", nil)
	c.advance(30 * time.Second)
	serve(h, "10.0.0.2:1", nil)

	c.advance(40 * time.Second)
	assert.Equal(t, 1, l.Sweep(c.now()))
	assert.Equal(t, 0, l.Sweep(c.now()))

	c.advance(time.Minute)
	assert.Equal(t, 1, l.Sweep(c.now()))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		remote string
		want   string
	}{
		{"remote addr", nil, "192.0.2.1:1234", "192.0.2.1"},
		{"remote without port", nil, "192.0.2.1", "192.0.2.1"},
		{"forwarded", http.Header{"X-Forwarded-For": {" 203.0.113.7 , 10.0.0.1"}}, "192.0.2.1:1", "203.0.113.7"},
		{"real ip", http.Header{"X-Real-Ip": {"198.51.100.4"}}, "192.0.2.1:1", "198.51.100.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header[k] = v
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
