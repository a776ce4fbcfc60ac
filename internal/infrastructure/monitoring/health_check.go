package monitoring

import (
	"context"
	"sync"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	statusPending   = "pending"
)

// Check reports a dependency problem as a non-nil error.
type Check func(ctx context.Context) error

type registeredCheck struct {
	name     string
	check    Check
	interval time.Duration
	timeout  time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// HealthChecker runs dependency checks on demand and in the background,
// keeping the latest outcome of each.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []registeredCheck
	results map[string]string
	checked time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{results: make(map[string]string)}
}

func (h *HealthChecker) AddCheck(name string, check Check, interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, registeredCheck{name: name, check: check, interval: interval, timeout: timeout})
}

// CheckAll runs every check concurrently, each under its own timeout.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]registeredCheck(nil), h.checks...)
	h.mu.RUnlock()

	outcomes := make([]string, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = run(ctx, c)
		}()
	}
	wg.Wait()

	h.mu.Lock()
	for i, c := range checks {
		h.results[c.name] = outcomes[i]
	}
	h.checked = time.Now()
	h.mu.Unlock()

	return h.Last()
}

// Last reports the most recent outcomes without running anything. Checks
// that never ran are pending and count as unhealthy.
func (h *HealthChecker) Last() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: h.checked,
		Checks:    make(map[string]string, len(h.checks)),
	}
	for _, c := range h.checks {
		outcome, ok := h.results[c.name]
		if !ok {
			outcome = statusPending
		}
		if outcome != StatusHealthy {
			status.Status = StatusUnhealthy
		}
		status.Checks[c.name] = outcome
	}
	return status
}

func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == StatusHealthy
}

// StartBackgroundChecks runs each check once, then again on its own
// interval until ctx is done.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.checks {
		go h.refresh(ctx, c)
	}
}

func (h *HealthChecker) refresh(ctx context.Context, c registeredCheck) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		outcome := run(ctx, c)
		h.mu.Lock()
		h.results[c.name] = outcome
		h.checked = time.Now()
		h.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func run(ctx context.Context, c registeredCheck) string {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.check(checkCtx); err != nil {
		return err.Error()
	}
	return StatusHealthy
}
