package http

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/equipment-availability/internal/logging"
)

func TestRequestIDAndLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var seenID string
	var scoped *slog.Logger
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID, _ = RequestIDFromContext(r.Context())
		scoped = logging.FromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})
	handler := RequestID()(RequestLogger(logger)(next))

	t.Run("reuses the caller's id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/anything", nil)
		req.Header.Set(requestIDHeader, "caller-id")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "caller-id", seenID)
		assert.Equal(t, "caller-id", rec.Header().Get(requestIDHeader))
		require.NotNil(t, scoped)
		assert.Contains(t, buf.String(), `"request_id":"caller-id"`)
		assert.Contains(t, buf.String(), `"status":202`)
	})

	t.Run("generates an id when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, seenID)
		assert.NotEqual(t, "caller-id", seenID)
		assert.Equal(t, seenID, rec.Header().Get(requestIDHeader))
	})
}

func TestRecoverer(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler := Recoverer(slog.New(slog.NewTextHandler(&buf, nil)))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, localizedStatusMessage(http.StatusInternalServerError), decode[errorResponse](t, rec).Message)
	assert.Contains(t, buf.String(), "panic: boom")
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	limiter := NewIPRateLimiter(0.001, 2)
	handler := RateLimit(limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, send("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusNoContent, send("10.0.0.1:1001").Code)

	rec := send("10.0.0.1:1002")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decode[errorResponse](t, rec).ErrorCode)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, send("10.0.0.2:1000").Code, "other clients keep their own budget")
}

func TestRateLimitDisabled(t *testing.T) {
	t.Parallel()

	called := 0
	handler := RateLimit(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
	}))
	for i := 0; i < 5; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	assert.Equal(t, 5, called)
}

func TestIPRateLimiter_ConcurrentLookupsShareOneBucket(t *testing.T) {
	t.Parallel()

	limiter := NewIPRateLimiter(1, 1)
	var wg sync.WaitGroup
	seen := make(chan any, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- limiter.Limiter("10.0.0.9")
		}()
	}
	wg.Wait()
	close(seen)

	first := <-seen
	for l := range seen {
		assert.Same(t, first, l)
	}
}
