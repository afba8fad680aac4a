package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chatpd/orchestrator/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	r := gin.New()
	r.Use(rl.RateLimit())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := func(ip string) *httptest.ResponseRecorder {
		rq := httptest.NewRequest(http.MethodGet, "/ping", nil)
		rq.RemoteAddr = ip + ":1234"
		return serve(r, rq)
	}

	assert.Equal(t, http.StatusOK, req("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, req("10.0.0.1").Code)

	limited := req("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, req("10.0.0.2").Code, "limits are per client")

	now = now.Add(time.Minute)
	assert.Equal(t, http.StatusOK, req("10.0.0.1").Code, "window resets")
}

func TestRateLimitSweep(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(5, time.Minute)
	rl.now = func() time.Time { return now }

	rl.allow("a")
	now = now.Add(10 * time.Minute)
	rl.allow("b")
	rl.sweep()

	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "b")
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(utils.RequestIDKey)) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(w.Body.String())
	require.NoError(t, err)
	assert.Equal(t, w.Body.String(), w.Header().Get("X-Request-ID"))

	rq := httptest.NewRequest(http.MethodGet, "/", nil)
	rq.Header.Set("X-Request-ID", "upstream-42")
	w = serve(r, rq)
	assert.Equal(t, "upstream-42", w.Body.String())
}

func TestTimeoutSetsDeadline(t *testing.T) {
	r := gin.New()
	r.Use(Timeout(time.Second))
	r.GET("/", func(c *gin.Context) {
		_, ok := c.Request.Context().Deadline()
		assert.True(t, ok)
		c.Status(http.StatusNoContent)
	})
	assert.Equal(t, http.StatusNoContent, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestMetricsAndLoggerPassThrough(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	r := gin.New()
	r.Use(RequestID(), Logger(logger), Metrics(), SecurityHeaders())
	r.GET("/api/v1/items/:id", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/items/7", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = serve(r, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
