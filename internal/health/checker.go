// Package health monitors the components a running instance depends on.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/treadlog/treadlog/internal/logging"
	"github.com/treadlog/treadlog/internal/store"
)

// Config contains the health checker configuration.
type Config struct {
	// Interval between background checks. Default: 1m
	Interval time.Duration
	// Timeout for one provider probe. Default: 5s
	Timeout time.Duration
	// ProviderURL is probed when set. An empty URL skips the provider check.
	ProviderURL string
}

// ComponentStatus reports one dependency's state.
type ComponentStatus struct {
	Name      string        `json:"name"`
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Checker probes the store and the lookup provider. The latest results are
// cached so HTTP handlers never block on a probe.
type Checker struct {
	cfg    Config
	store  store.Store
	logger *logging.Logger
	client *http.Client

	mu      sync.RWMutex
	last    []ComponentStatus
	stopCh  chan struct{}
	running bool
	muRun   sync.Mutex
}

// NewChecker creates a health checker.
func NewChecker(cfg Config, st store.Store, logger *logging.Logger) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Checker{
		cfg:    cfg,
		store:  st,
		logger: logger,
		client: &http.Client{Timeout: cfg.Timeout},
		stopCh: make(chan struct{}),
	}
}

// Start launches the background check loop. It returns immediately.
func (c *Checker) Start(ctx context.Context) {
	c.muRun.Lock()
	if c.running {
		c.muRun.Unlock()
		return
	}
	c.running = true
	c.muRun.Unlock()

	go func() {
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()

		c.runChecks(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.runChecks(ctx)
			}
		}
	}()
}

// Stop halts the background loop.
func (c *Checker) Stop() {
	c.muRun.Lock()
	defer c.muRun.Unlock()
	if !c.running {
		return
	}
	c.running = false
	close(c.stopCh)
}

// Status returns the latest check results. Empty until the first run.
func (c *Checker) Status() []ComponentStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]ComponentStatus, len(c.last))
	copy(result, c.last)
	return result
}

// Healthy reports whether every checked component passed the last run.
func (c *Checker) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.last {
		if !s.Healthy {
			return false
		}
	}
	return true
}

func (c *Checker) runChecks(ctx context.Context) {
	results := []ComponentStatus{c.checkStore()}
	if c.cfg.ProviderURL != "" {
		results = append(results, c.checkProvider(ctx))
	}

	for _, r := range results {
		if !r.Healthy {
			c.logger.WarnWithContext(ctx, "component unhealthy",
				"component", r.Name,
				"error", r.Error)
		}
	}

	c.mu.Lock()
	c.last = results
	c.mu.Unlock()
}

func (c *Checker) checkStore() ComponentStatus {
	start := time.Now()
	status := ComponentStatus{Name: "store", Healthy: true, CheckedAt: start.UTC()}

	// Stats touches every table, so a torn database surfaces here.
	defer func() {
		if r := recover(); r != nil {
			status.Healthy = false
			status.Error = fmt.Sprintf("store panic: %v", r)
		}
	}()
	_ = c.store.Stats()
	status.Latency = time.Since(start)
	return status
}

func (c *Checker) checkProvider(ctx context.Context) ComponentStatus {
	start := time.Now()
	status := ComponentStatus{Name: "lookup_provider", Healthy: true, CheckedAt: start.UTC()}

	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, c.cfg.ProviderURL, nil)
	if err != nil {
		status.Healthy = false
		status.Error = err.Error()
		return status
	}

	resp, err := c.client.Do(req)
	status.Latency = time.Since(start)
	if err != nil {
		status.Healthy = false
		status.Error = err.Error()
		return status
	}
	defer resp.Body.Close()

	// Any response proves reachability; auth failures are a config issue,
	// not an outage.
	if resp.StatusCode >= http.StatusInternalServerError {
		status.Healthy = false
		status.Error = fmt.Sprintf("provider returned %d", resp.StatusCode)
	}
	return status
}
