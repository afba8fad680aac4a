package services

import (
	"context"
	"testing"
	"time"

	"github.com/chatpd/orchestrator/internal/cache"
	"github.com/chatpd/orchestrator/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCacheJanitorSweepsUntilCancelled(t *testing.T) {
	c := cache.NewMemoryCache()
	now := time.Now()
	c.SetClock(func() time.Time { return now })

	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "altura petrópolis", models.SynthesizedAnswer{Text: "52 m", Mode: models.ModeStructuredOnly}, time.Minute))
	require.NoError(t, c.Put(ctx, "outorga onerosa", models.SynthesizedAnswer{Text: "...", Mode: models.ModeSemanticOnly}, time.Hour))
	now = now.Add(2 * time.Minute)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		RunCacheJanitor(runCtx, c, 5*time.Millisecond, quietLogger())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		stats, err := c.Stats(ctx)
		return err == nil && stats.Entries == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestRunCacheJanitorDisabled(t *testing.T) {
	done := make(chan struct{})
	go func() {
		RunCacheJanitor(context.Background(), cache.NewMemoryCache(), 0, quietLogger())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor with zero interval should return immediately")
	}
}
