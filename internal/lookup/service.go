package lookup

import (
	"context"
	"fmt"
	"time"

	"github.com/treadlog/treadlog/internal/errors"
	"github.com/treadlog/treadlog/internal/logging"
	"github.com/treadlog/treadlog/internal/metrics"
	"github.com/treadlog/treadlog/internal/models"
	"github.com/treadlog/treadlog/internal/quota"
	"github.com/treadlog/treadlog/internal/store"
	"github.com/treadlog/treadlog/pkg/vrm"
)

// Result is the outcome of one metered lookup.
type Result struct {
	Vehicle   *models.Vehicle           `json:"vehicle"`
	Decision  *models.AdmissionDecision `json:"decision"`
	FromCache bool                      `json:"from_cache"`
	// Charged is false when the grace bypass admitted the request; the
	// repeat was already paid for and writes no ledger event.
	Charged bool `json:"charged"`
}

// Service performs quota-gated vehicle lookups: admit, fetch (cache first),
// then commit. A failed fetch never commits usage.
type Service struct {
	engine   *quota.Engine
	store    store.Store
	client   *Client
	logger   *logging.Logger
	metrics  *metrics.Metrics
	cacheTTL time.Duration
	now      func() time.Time
}

// ServiceOption configures the service
type ServiceOption func(*Service)

// WithLogger sets the structured logger
func WithLogger(logger *logging.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithCacheTTL sets how long a cached vehicle stays fresh
func WithCacheTTL(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.cacheTTL = d
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

// NewService creates a lookup service.
func NewService(engine *quota.Engine, st store.Store, client *Client, opts ...ServiceOption) *Service {
	s := &Service{
		engine:   engine,
		store:    st,
		client:   client,
		logger:   logging.NewLogger(),
		cacheTTL: 24 * time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup runs one quota-gated lookup for the actor. On denial the returned
// error identifies the reason and the Result still carries the decision so
// callers can render the usage snapshot.
func (s *Service) Lookup(ctx context.Context, actorID, mark string) (*Result, error) {
	key := vrm.Normalize(mark)
	if !vrm.Valid(key) {
		return nil, &errors.ErrLookupFailed{VRM: mark, Err: fmt.Errorf("invalid registration mark")}
	}

	actor, ok := s.engine.ResolveActor(actorID)
	if !ok {
		return nil, quota.ErrActorNotFound
	}

	decision, err := s.engine.Admit(ctx, actor, key)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed() {
		return &Result{Decision: decision}, denialError(actor, decision)
	}

	result := &Result{Decision: decision, Charged: !decision.GraceApplied}

	vehicle, fromCache, err := s.fetch(ctx, key)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordLookup("error", "api")
		}
		return nil, err
	}
	result.Vehicle = vehicle
	result.FromCache = fromCache

	if s.metrics != nil {
		source := "api"
		if fromCache {
			source = "cache"
		}
		s.metrics.RecordLookup("ok", source)
	}

	// A grace-admitted repeat is not charged again.
	if decision.GraceApplied {
		return result, nil
	}

	if _, err := s.engine.CommitUsage(ctx, actor, key, models.ReasonTagExplicit); err != nil {
		// The caller already has the data; surface the accounting fault.
		return result, err
	}
	return result, nil
}

func (s *Service) fetch(ctx context.Context, key string) (*models.Vehicle, bool, error) {
	if cached, ok := s.store.GetVehicle(key); ok {
		if s.now().Sub(cached.UpdatedAt) < s.cacheTTL {
			return cached, true, nil
		}
	}

	vehicle, err := s.client.FetchVehicle(ctx, key)
	if err != nil {
		return nil, false, err
	}
	vehicle.UpdatedAt = s.now().UTC()

	if err := s.store.UpsertVehicle(vehicle); err != nil {
		s.logger.WarnWithContext(ctx, "vehicle cache write failed",
			"vrm", key,
			"error", err.Error())
	}
	return vehicle, false, nil
}

func denialError(actor models.Actor, d *models.AdmissionDecision) error {
	switch d.Reason {
	case models.DenyActorInactive:
		return &errors.ErrActorInactive{ActorID: actor.ID()}
	case models.DenySubLimit:
		return &errors.ErrQuotaExceeded{
			Scope:   string(d.Reason),
			ActorID: actor.ID(),
			Used:    d.Snapshot.ActorUsed,
			Limit:   d.Snapshot.ActorLimit,
		}
	default:
		return &errors.ErrQuotaExceeded{
			Scope:   string(d.Reason),
			ActorID: actor.ID(),
			Used:    d.Snapshot.PoolUsed,
			Limit:   d.Snapshot.PoolLimit,
		}
	}
}
