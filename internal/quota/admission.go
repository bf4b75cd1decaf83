package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/treadlog/treadlog/internal/errors"
	"github.com/treadlog/treadlog/internal/logging"
	"github.com/treadlog/treadlog/internal/metrics"
	"github.com/treadlog/treadlog/internal/models"
	"github.com/treadlog/treadlog/internal/store"
	"github.com/treadlog/treadlog/pkg/vrm"
)

// ErrActorNotFound is returned when neither a sub-account nor an account
// matches a requested actor ID.
var ErrActorNotFound = fmt.Errorf("actor not found")

// Engine evaluates whether an actor may perform the metered lookup action
// and records consumption afterwards. Admission and commit are separate
// steps: Admit never writes to the ledger and CommitUsage never checks
// limits. The read-then-decide sequence is not atomic; concurrent callers
// near a boundary may each be admitted, which is an accepted overshoot of
// at most the number of in-flight requests.
type Engine struct {
	store       store.Store
	logger      *logging.Logger
	audit       *logging.AuditLogger
	metrics     *metrics.Metrics
	graceWindow time.Duration
	now         func() time.Time
}

// EngineOption configures the engine
type EngineOption func(*Engine)

// WithLogger sets the structured logger
func WithLogger(logger *logging.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
		e.audit = logging.NewAuditLogger(logger)
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithGraceWindow overrides the repeat-lookup bypass window
func WithGraceWindow(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.graceWindow = d
		}
	}
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an admission engine backed by the given store.
func NewEngine(s store.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       s,
		logger:      logging.NewLogger(),
		graceWindow: DefaultGraceWindow,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.audit == nil {
		e.audit = logging.NewAuditLogger(e.logger)
	}
	return e
}

// Admit decides whether the actor may perform one metered lookup right now.
// It reads the ledger but never writes it. A storage failure during the
// check admits the request with a warning rather than blocking paying
// users on infrastructure trouble; only invalid input is rejected hard.
func (e *Engine) Admit(ctx context.Context, actor models.Actor, resourceKey string) (*models.AdmissionDecision, error) {
	if err := actor.Validate(); err != nil {
		return nil, &errors.ErrConfiguration{Field: "actor", Err: err}
	}

	now := e.now().UTC()
	key := vrm.Normalize(resourceKey)

	// Deactivated sub-accounts are turned away before any counting and are
	// never eligible for the repeat-lookup bypass.
	if actor.Kind == models.ActorKindSubAccount && !actor.SubAccount.Active {
		decision := &models.AdmissionDecision{
			Decision: models.DecisionDeny,
			Reason:   models.DenyActorInactive,
		}
		if snap, err := e.snapshot(actor, now); err == nil {
			decision.Snapshot = snap
		}
		e.recordDecision(ctx, actor, decision)
		return decision, nil
	}

	snap, err := e.snapshot(actor, now)
	if err != nil {
		return e.failOpen(ctx, actor, "admission snapshot", err), nil
	}

	reason := e.limitBreach(actor, snap)
	if reason == "" {
		decision := &models.AdmissionDecision{Decision: models.DecisionAllow, Snapshot: snap}
		e.recordDecision(ctx, actor, decision)
		return decision, nil
	}

	if graceEligible(reason, key) {
		recent, err := e.store.HasRecentUsage(actor.ID(), key, now.Add(-e.graceWindow), now)
		if err != nil {
			return e.failOpen(ctx, actor, "grace probe", err), nil
		}
		if recent {
			decision := &models.AdmissionDecision{
				Decision:     models.DecisionAllow,
				Reason:       reason,
				GraceApplied: true,
				Snapshot:     snap,
			}
			if e.metrics != nil {
				e.metrics.RecordGraceBypass(string(reason))
			}
			e.audit.Log(logging.NewAuditEvent(logging.GraceBypass, "repeat lookup admitted past limit", logging.StatusSuccess).
				WithActorID(actor.ID()).
				WithResource(key))
			e.recordDecision(ctx, actor, decision)
			return decision, nil
		}
	}

	decision := &models.AdmissionDecision{
		Decision: models.DecisionDeny,
		Reason:   reason,
		Snapshot: snap,
	}
	e.recordDecision(ctx, actor, decision)
	return decision, nil
}

// CommitUsage appends one ledger event for a performed action. It does no
// limit checking and, unlike Admit, fails closed on storage errors so that
// consumption is never silently lost.
func (e *Engine) CommitUsage(ctx context.Context, actor models.Actor, resourceKey, reasonTag string) (*models.UsageEvent, error) {
	if err := actor.Validate(); err != nil {
		return nil, &errors.ErrConfiguration{Field: "actor", Err: err}
	}
	if reasonTag == "" {
		reasonTag = models.ReasonTagExplicit
	}

	ev := &models.UsageEvent{
		ActorID:           actor.ID(),
		BilledToAccountID: actor.BillingAccountID(),
		ResourceKey:       vrm.Normalize(resourceKey),
		ReasonTag:         reasonTag,
		CreatedAt:         e.now().UTC(),
	}

	stored, err := e.store.AppendUsage(ev)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordStoreError("append usage")
		}
		e.logger.ErrorWithContext(ctx, "usage commit failed",
			"actor_id", actor.ID(),
			"error", err.Error())
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.RecordUsageCommit(reasonTag)
	}
	e.audit.Log(logging.NewAuditEvent(logging.UsageCommit, "usage recorded", logging.StatusSuccess).
		WithActorID(actor.ID()).
		WithResource(stored.ResourceKey))
	return stored, nil
}

// ResolveActor looks up an actor by ID, preferring the sub-account
// namespace. Sub-account and account IDs never collide in practice.
func (e *Engine) ResolveActor(id string) (models.Actor, bool) {
	if sub, ok := e.store.GetSubAccount(id); ok {
		return models.SubAccountActor(sub), true
	}
	if acc, ok := e.store.GetAccount(id); ok {
		return models.AccountActor(acc), true
	}
	return models.Actor{}, false
}

// ActorUsage returns today's consumption snapshot for an actor ID.
func (e *Engine) ActorUsage(ctx context.Context, actorID string) (models.UsageSnapshot, error) {
	actor, ok := e.ResolveActor(actorID)
	if !ok {
		return models.UsageSnapshot{}, ErrActorNotFound
	}
	return e.snapshot(actor, e.now().UTC())
}

// PoolStatus reports the state of an account's daily pool.
type PoolStatus struct {
	AccountID  string         `json:"account_id"`
	Allocation PoolAllocation `json:"allocation"`
	Used       int            `json:"used"`
	Remaining  int            `json:"remaining"`
	Unlimited  bool           `json:"unlimited"`
}

// AccountPool computes pool usage and allocation for an account. Pool
// utilization is published as a gauge while here so that alerting follows
// reads rather than a separate poll.
func (e *Engine) AccountPool(ctx context.Context, accountID string) (*PoolStatus, error) {
	acc, ok := e.store.GetAccount(accountID)
	if !ok {
		return nil, ErrActorNotFound
	}

	dayStart, dayEnd := DayWindow(e.now())
	used, err := e.store.CountByAccountPool(accountID, dayStart, dayEnd)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordStoreError("count by account pool")
		}
		return nil, err
	}

	status := &PoolStatus{
		AccountID:  accountID,
		Allocation: AllocationFor(acc, e.store.ListSubAccounts(accountID)),
		Used:       used,
		Unlimited:  acc.Unlimited(),
	}
	if remaining, limited := Remaining(used, acc.PoolLimit); limited {
		status.Remaining = remaining
		if e.metrics != nil {
			e.metrics.SetPoolUtilization(accountID, float64(used)/float64(acc.PoolLimit)*100)
		}
	}
	return status, nil
}

// AssignPersonalLimit sets a sub-account's personal limit, clamping the
// request so active allocations never exceed the owner's pool.
func (e *Engine) AssignPersonalLimit(ctx context.Context, accountID, subID string, requested int) (ClampResult, error) {
	acc, ok := e.store.GetAccount(accountID)
	if !ok {
		return ClampResult{}, ErrActorNotFound
	}
	sub, ok := e.store.GetSubAccount(subID)
	if !ok || sub.OwnerAccountID != accountID {
		return ClampResult{}, ErrActorNotFound
	}

	result := ClampPersonalLimit(acc, e.store.ListSubAccounts(accountID), subID, requested)
	sub.PersonalLimit = result.Applied
	sub.UpdatedAt = e.now().UTC()
	e.store.SetSubAccount(sub)

	e.audit.Log(logging.NewAuditEvent(logging.LimitAssign, "personal limit assigned", logging.StatusSuccess).
		WithActorID(subID).
		WithDetails(map[string]interface{}{
			"account_id": accountID,
			"requested":  result.Requested,
			"applied":    result.Applied,
			"clamped":    result.Clamped,
		}))
	return result, nil
}

// snapshot reads today's counters for the actor and its billing pool.
func (e *Engine) snapshot(actor models.Actor, now time.Time) (models.UsageSnapshot, error) {
	dayStart, dayEnd := DayWindow(now)

	actorUsed, err := e.store.CountByActor(actor.ID(), dayStart, dayEnd)
	if err != nil {
		return models.UsageSnapshot{}, err
	}

	billingID := actor.BillingAccountID()
	poolUsed, err := e.store.CountByAccountPool(billingID, dayStart, dayEnd)
	if err != nil {
		return models.UsageSnapshot{}, err
	}

	snap := models.UsageSnapshot{
		ActorUsed: actorUsed,
		PoolUsed:  poolUsed,
	}

	switch actor.Kind {
	case models.ActorKindAccount:
		snap.ActorLimit = actor.Account.PoolLimit
		snap.PoolLimit = actor.Account.PoolLimit
	case models.ActorKindSubAccount:
		snap.ActorLimit = actor.SubAccount.PersonalLimit
		if owner, ok := e.store.GetAccount(billingID); ok {
			snap.PoolLimit = owner.PoolLimit
		} else {
			// An orphaned sub-account bills into a pool nobody caps.
			e.logger.Warn("owner account missing, pool treated as unlimited",
				"sub_account_id", actor.SubAccount.ID,
				"owner_account_id", billingID)
		}
	}
	return snap, nil
}

// limitBreach returns the first exhausted limit in check order, or empty
// when the actor is within both caps. A limit of 0 is unlimited.
func (e *Engine) limitBreach(actor models.Actor, snap models.UsageSnapshot) models.DenyReason {
	if actor.Kind == models.ActorKindSubAccount {
		if snap.ActorLimit > 0 && snap.ActorUsed >= snap.ActorLimit {
			return models.DenySubLimit
		}
	}
	if snap.PoolLimit > 0 && snap.PoolUsed >= snap.PoolLimit {
		return models.DenyPoolLimit
	}
	return ""
}

// failOpen admits a request after a storage failure during the check.
func (e *Engine) failOpen(ctx context.Context, actor models.Actor, operation string, err error) *models.AdmissionDecision {
	if e.metrics != nil {
		e.metrics.RecordStoreError(operation)
	}
	e.logger.WarnWithContext(ctx, "store unavailable during admission, admitting",
		"operation", operation,
		"actor_id", actor.ID(),
		"error", err.Error())
	decision := &models.AdmissionDecision{Decision: models.DecisionAllow}
	e.recordDecision(ctx, actor, decision)
	return decision
}

func (e *Engine) recordDecision(ctx context.Context, actor models.Actor, d *models.AdmissionDecision) {
	if e.metrics != nil {
		e.metrics.RecordAdmissionDecision(string(d.Decision), string(d.Reason), string(actor.Kind))
	}
	if d.Decision == models.DecisionDeny {
		e.audit.Log(logging.NewAuditEvent(logging.AdmissionDeny, "lookup denied", logging.StatusFailure).
			WithActorID(actor.ID()).
			WithSeverity(logging.SeverityWarning).
			WithDetails(map[string]interface{}{
				"reason":      string(d.Reason),
				"actor_used":  d.Snapshot.ActorUsed,
				"actor_limit": d.Snapshot.ActorLimit,
				"pool_used":   d.Snapshot.PoolUsed,
				"pool_limit":  d.Snapshot.PoolLimit,
			}))
		return
	}
	e.logger.DebugWithContext(ctx, "lookup admitted",
		"actor_id", actor.ID(),
		"grace_applied", d.GraceApplied)
}
