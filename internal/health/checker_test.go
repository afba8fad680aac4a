package health

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/chatpd/orchestrator/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type recordingRepo struct {
	models.SystemHealthRepository
	mu      sync.Mutex
	updates map[string]string
}

func (r *recordingRepo) UpdateServiceHealth(serviceName, status string, responseTime int, errorMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updates == nil {
		r.updates = make(map[string]string)
	}
	r.updates[serviceName] = status
	return nil
}

func ok(ctx context.Context) error { return nil }

func failing(msg string) Probe {
	return func(ctx context.Context) error { return errors.New(msg) }
}

func statuses(h OverallHealth) map[string]string {
	out := make(map[string]string)
	for _, s := range h.Services {
		out[s.Name] = s.Status
	}
	return out
}

func TestCheckAllHealthy(t *testing.T) {
	repo := &recordingRepo{}
	h := NewHealthChecker(repo, quietLogger())
	h.Register("postgresql", true, ok)
	h.Register("llm", false, ok)

	assert.Nil(t, h.CheckCached())

	result := h.CheckAll(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Len(t, result.Services, 2)
	assert.Equal(t, map[string]string{"postgresql": StatusHealthy, "llm": StatusHealthy}, repo.updates)

	cached := h.CheckCached()
	require.NotNil(t, cached)
	assert.Equal(t, StatusHealthy, cached.Status)
}

func TestCheckAllNonCriticalFailureDegrades(t *testing.T) {
	h := NewHealthChecker(nil, quietLogger())
	h.Register("postgresql", true, ok)
	h.Register("llm", false, failing("401 unauthorized"))

	result := h.CheckAll(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, StatusUnhealthy, statuses(result)["llm"])
}

func TestCheckAllCriticalFailure(t *testing.T) {
	h := NewHealthChecker(nil, quietLogger())
	h.Register("postgresql", true, failing("connection refused"))
	h.Register("llm", false, ok)

	result := h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "connection refused", result.Services[0].Error)
}

func TestCheckTimesOut(t *testing.T) {
	h := NewHealthChecker(nil, quietLogger())
	h.timeout = 10 * time.Millisecond
	h.Register("slow", true, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	result := h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
}

type fakeCorpus struct {
	dominant   int
	mismatched int64
}

func (c fakeCorpus) Dimensions(ctx context.Context) (int, error) { return c.dominant, nil }

func (c fakeCorpus) CountMismatched(ctx context.Context, dimensions int) (int64, error) {
	return c.mismatched, nil
}

func TestCorpusProbe(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, CorpusProbe(fakeCorpus{dominant: 1536}, 1536)(ctx))

	err := CorpusProbe(fakeCorpus{dominant: 1536, mismatched: 12}, 1536)(ctx)
	assert.ErrorIs(t, err, ErrDegraded)

	err = CorpusProbe(fakeCorpus{dominant: 768}, 1536)(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDegraded)

	assert.ErrorIs(t, CorpusProbe(fakeCorpus{}, 1536)(ctx), ErrDegraded)
}

func TestPeriodicHealthCheckStops(t *testing.T) {
	h := NewHealthChecker(nil, quietLogger())
	h.Register("postgresql", true, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.PeriodicHealthCheck(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return h.CheckCached() != nil }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic check did not stop")
	}
}
