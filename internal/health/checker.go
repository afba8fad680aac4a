package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chatpd/orchestrator/internal/metrics"
	"github.com/chatpd/orchestrator/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Status values, matching the system_health check constraint.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ErrDegraded marks a probe result as degraded rather than failed.
var ErrDegraded = errors.New("degraded")

// Probe checks one dependency.
type Probe func(ctx context.Context) error

type component struct {
	name     string
	critical bool
	probe    Probe
}

// HealthChecker manages health checks for all services
type HealthChecker struct {
	components []component
	healthRepo models.SystemHealthRepository
	timeout    time.Duration
	logger     *logrus.Logger

	mu   sync.RWMutex
	last *OverallHealth
}

// NewHealthChecker creates a checker. healthRepo may be nil, in which case
// results are not persisted.
func NewHealthChecker(healthRepo models.SystemHealthRepository, logger *logrus.Logger) *HealthChecker {
	return &HealthChecker{
		healthRepo: healthRepo,
		timeout:    5 * time.Second,
		logger:     logger,
	}
}

// Register adds a component. A failing critical component makes the whole
// service unhealthy; any other failure only degrades it.
func (h *HealthChecker) Register(name string, critical bool, probe Probe) {
	h.components = append(h.components, component{name: name, critical: critical, probe: probe})
}

// ServiceHealth represents the health status of a service
type ServiceHealth struct {
	Name         string `json:"name"`
	Status       string `json:"status"`
	ResponseTime int    `json:"response_time_ms"`
	Error        string `json:"error,omitempty"`
	LastChecked  string `json:"last_checked"`
}

// OverallHealth represents the overall system health
type OverallHealth struct {
	Status   string          `json:"status"`
	Services []ServiceHealth `json:"services"`
	Uptime   string          `json:"uptime"`
}

func (h *HealthChecker) check(ctx context.Context, c component) ServiceHealth {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := c.probe(ctx)
	responseTime := int(time.Since(start).Milliseconds())

	status := StatusHealthy
	errorMsg := ""
	switch {
	case err == nil:
	case errors.Is(err, ErrDegraded):
		status = StatusDegraded
		errorMsg = err.Error()
	default:
		status = StatusUnhealthy
		errorMsg = err.Error()
	}

	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"component": c.name,
			"status":    status,
			"error":     errorMsg,
		}).Warn("Health check failed")
	}

	healthy := 0.0
	if status == StatusHealthy {
		healthy = 1
	}
	metrics.ComponentHealthy.WithLabelValues(c.name).Set(healthy)

	if h.healthRepo != nil {
		if err := h.healthRepo.UpdateServiceHealth(c.name, status, responseTime, errorMsg); err != nil {
			h.logger.WithError(err).Debug("Failed to persist health status")
		}
	}

	return ServiceHealth{
		Name:         c.name,
		Status:       status,
		ResponseTime: responseTime,
		Error:        errorMsg,
		LastChecked:  time.Now().Format(time.RFC3339),
	}
}

// CheckAll performs health checks on all services
func (h *HealthChecker) CheckAll(ctx context.Context) OverallHealth {
	services := make([]ServiceHealth, len(h.components))

	var g errgroup.Group
	for i, c := range h.components {
		g.Go(func() error {
			services[i] = h.check(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	overallStatus := StatusHealthy
	for i, service := range services {
		switch {
		case service.Status == StatusHealthy:
		case h.components[i].critical && service.Status == StatusUnhealthy:
			overallStatus = StatusUnhealthy
		case overallStatus == StatusHealthy:
			overallStatus = StatusDegraded
		}
	}

	result := OverallHealth{
		Status:   overallStatus,
		Services: services,
		Uptime:   h.getUptime(),
	}

	h.mu.Lock()
	h.last = &result
	h.mu.Unlock()
	return result
}

// CheckCached returns the result of the last check, or nil before the first one.
func (h *HealthChecker) CheckCached() *OverallHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

var startTime = time.Now()

func (h *HealthChecker) getUptime() string {
	return time.Since(startTime).Round(time.Second).String()
}

// PeriodicHealthCheck runs health checks periodically
func (h *HealthChecker) PeriodicHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			health := h.CheckAll(ctx)
			h.logger.WithField("status", health.Status).Debug("Periodic health check completed")
		}
	}
}

// Pinger is anything with a context-aware reachability check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingProbe adapts a Pinger.
func PingProbe(p Pinger) Probe {
	return p.Ping
}

// CorpusInspector reports the vector sizes stored in the passage corpus.
type CorpusInspector interface {
	Dimensions(ctx context.Context) (int, error)
	CountMismatched(ctx context.Context, dimensions int) (int64, error)
}

// CorpusProbe fails when the dominant corpus vector size differs from the
// embedder's and degrades when some passages have another size.
func CorpusProbe(corpus CorpusInspector, dimensions int) Probe {
	return func(ctx context.Context) error {
		dominant, err := corpus.Dimensions(ctx)
		if err != nil {
			return err
		}
		if dominant == 0 {
			return fmt.Errorf("%w: passage corpus is empty", ErrDegraded)
		}
		if dominant != dimensions {
			return fmt.Errorf("corpus vectors have %d dimensions, embedder produces %d", dominant, dimensions)
		}
		n, err := corpus.CountMismatched(ctx, dimensions)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %d passages have a different vector size", ErrDegraded, n)
		}
		return nil
	}
}
