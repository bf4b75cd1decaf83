package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/treadlog/treadlog/internal/config"
	"github.com/treadlog/treadlog/internal/logging"
	"github.com/treadlog/treadlog/internal/metrics"
	"github.com/treadlog/treadlog/internal/quota"
	"github.com/treadlog/treadlog/internal/store"
)

// Notifier delivers an alert over one channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
}

// Service periodically evaluates pool usage against configured thresholds
// and notifies when a pool crosses one. Duplicate alerts are suppressed for
// the debounce window and delivery is rate limited.
type Service struct {
	store     store.Store
	logger    *logging.Logger
	metrics   *metrics.Metrics
	notifiers []Notifier
	dedup     *DedupStore
	throttler *Throttler

	thresholds []float64
	interval   time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	now      func() time.Time
}

// ServiceOption configures the alert service
type ServiceOption func(*Service)

// WithLogger sets the structured logger
func WithLogger(logger *logging.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithNotifier adds a delivery channel
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifiers = append(s.notifiers, n)
		}
	}
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates an alert service from configuration.
func NewService(st store.Store, cfg config.AlertsConfig, opts ...ServiceOption) *Service {
	s := &Service{
		store:      st,
		logger:     logging.NewLogger(),
		dedup:      NewDedupStore(cfg.Debounce),
		throttler:  NewThrottler(cfg.RateLimitPerMinute, cfg.RateLimitPerMinute),
		thresholds: cfg.Thresholds,
		interval:   cfg.CheckInterval,
		stopChan:   make(chan struct{}),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins periodic threshold evaluation. It returns immediately.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.CheckOnce(ctx)
				s.dedup.Cleanup()
			}
		}
	}()
}

// Stop halts periodic evaluation.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
}

// CheckOnce evaluates every limited pool once and dispatches any alerts.
func (s *Service) CheckOnce(ctx context.Context) {
	now := s.now()
	dayStart, dayEnd := quota.DayWindow(now)

	for _, acc := range s.store.ListAccounts() {
		if acc.Unlimited() {
			continue
		}

		used, err := s.store.CountByAccountPool(acc.ID, dayStart, dayEnd)
		if err != nil {
			s.logger.WarnWithContext(ctx, "pool usage check failed",
				"account_id", acc.ID,
				"error", err.Error())
			continue
		}

		pct := float64(used) / float64(acc.PoolLimit) * 100
		if s.metrics != nil {
			s.metrics.SetPoolUtilization(acc.ID, pct)
		}

		if alert := s.evaluate(acc.ID, pct, now); alert != nil {
			s.dispatch(ctx, alert)
		}
	}
}

// evaluate returns the alert for the highest threshold crossed, or nil.
func (s *Service) evaluate(accountID string, pct float64, now time.Time) *Alert {
	if pct >= 100 {
		return &Alert{
			ID:        uuid.New().String(),
			AccountID: accountID,
			Type:      AlertTypeExhausted,
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("Daily lookup pool for %s is exhausted (%.0f%%)", accountID, pct),
			Threshold: 100,
			Current:   pct,
			Timestamp: now,
		}
	}

	var crossed float64 = -1
	for _, th := range s.thresholds {
		if pct >= th && th > crossed {
			crossed = th
		}
	}
	if crossed < 0 {
		return nil
	}

	severity := SeverityWarning
	if crossed == s.highestThreshold() {
		severity = SeverityCritical
	}

	return &Alert{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Type:      AlertTypeThreshold,
		Severity:  severity,
		Message:   fmt.Sprintf("Daily lookup pool for %s is at %.1f%% (threshold %.0f%%)", accountID, pct, crossed),
		Threshold: crossed,
		Current:   pct,
		Timestamp: now,
	}
}

func (s *Service) highestThreshold() float64 {
	var highest float64
	for _, th := range s.thresholds {
		if th > highest {
			highest = th
		}
	}
	return highest
}

func (s *Service) dispatch(ctx context.Context, alert *Alert) {
	key := alert.AlertKey()
	if s.dedup.IsDuplicate(key) {
		return
	}
	if !s.throttler.Allow() {
		s.logger.Warn("alert rate limit reached, dropping",
			"account_id", alert.AccountID,
			"retry_after", s.throttler.GetRetryAfter().String())
		return
	}

	for _, n := range s.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			s.logger.ErrorWithContext(ctx, "alert delivery failed",
				"channel", n.Name(),
				"account_id", alert.AccountID,
				"error", err.Error())
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordAlertSent(n.Name(), string(alert.Severity))
		}
	}

	s.dedup.Record(key)
}
