package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/cauth"
)

func TestRateLimiterPerClient(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewRateLimiter(1, 2)
	l.now = func() time.Time { return now }

	h := l.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	hit := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1:1001").Code)

	rec := hit("10.0.0.1:1002")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), cauth.CodeRateLimited)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, hit("10.0.0.2:1000").Code)

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1:1003").Code)
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewRateLimiter(5, 5)
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	require.Equal(t, 2, l.Len())

	now = now.Add(4 * time.Minute)
	l.Allow("c")
	assert.Equal(t, 1, l.Len())
}
