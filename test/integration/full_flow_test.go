package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/treadlog/treadlog/internal/errors"
	"github.com/treadlog/treadlog/internal/lookup"
	"github.com/treadlog/treadlog/internal/models"
	"github.com/treadlog/treadlog/internal/quota"
	"github.com/treadlog/treadlog/internal/store"
)

// fullFlowEnv wires a provider stub, a memory store and the lookup pipeline
// around one mutable clock so tests can walk through a whole day.
type fullFlowEnv struct {
	store    *store.MemoryStore
	engine   *quota.Engine
	lookups  *lookup.Service
	provider *httptest.Server
	now      time.Time
	fetches  int
}

func newFullFlowEnv(t *testing.T) *fullFlowEnv {
	t.Helper()

	env := &fullFlowEnv{
		store: store.NewMemoryStore(),
		now:   time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}

	env.provider = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.fetches++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"vrm":"STUB","make":"Ford","model":"Focus","year":2019,"tyres":[{"front":{"size":"205/55R16","pressure_psi":32},"rear":{"size":"205/55R16","pressure_psi":30}}],"torque":"120 Nm"}`)
	}))
	t.Cleanup(env.provider.Close)

	clock := func() time.Time { return env.now }
	env.engine = quota.NewEngine(env.store, quota.WithClock(clock))

	client := lookup.NewClient(env.provider.URL, "test-key", lookup.WithRetries(0))
	env.lookups = lookup.NewService(env.engine, env.store, client,
		lookup.WithClock(clock),
	)

	env.store.SetAccount(&models.Account{ID: "garage-main", PoolLimit: 5, UpdatedAt: env.now})
	env.store.SetSubAccount(&models.SubAccount{
		ID:             "fitter-joe",
		OwnerAccountID: "garage-main",
		PersonalLimit:  2,
		Active:         true,
		UpdatedAt:      env.now,
	})
	env.store.SetSubAccount(&models.SubAccount{
		ID:             "fitter-amy",
		OwnerAccountID: "garage-main",
		PersonalLimit:  2,
		Active:         false,
		UpdatedAt:      env.now,
	})
	return env
}

func TestFullDayFlow(t *testing.T) {
	env := newFullFlowEnv(t)
	ctx := context.Background()

	// First lookup hits the provider and charges the pool.
	result, err := env.lookups.Lookup(ctx, "fitter-joe", "ab12 cde")
	require.NoError(t, err)
	require.NotNil(t, result.Vehicle)
	assert.Equal(t, "AB12CDE", result.Vehicle.VRM)
	assert.Equal(t, "Ford", result.Vehicle.Make)
	assert.False(t, result.FromCache)
	assert.True(t, result.Charged)
	assert.Equal(t, 1, env.fetches)

	// Second lookup of a different mark is served and charged; joe is now at
	// his personal limit.
	env.now = env.now.Add(2 * time.Minute)
	result, err = env.lookups.Lookup(ctx, "fitter-joe", "CD34EFG")
	require.NoError(t, err)
	assert.True(t, result.Charged)

	snap, err := env.engine.ActorUsage(ctx, "fitter-joe")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ActorUsed)
	assert.Equal(t, 2, snap.ActorLimit)
	assert.Equal(t, 2, snap.PoolUsed)

	// A repeat of a recent mark passes the limit without a new charge.
	env.now = env.now.Add(5 * time.Minute)
	result, err = env.lookups.Lookup(ctx, "fitter-joe", "AB12CDE")
	require.NoError(t, err)
	assert.True(t, result.Decision.GraceApplied)
	assert.False(t, result.Charged)
	assert.True(t, result.FromCache)

	snap, err = env.engine.ActorUsage(ctx, "fitter-joe")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ActorUsed, "graced repeat must not add a ledger event")

	// A fresh mark at the limit is a hard denial.
	_, err = env.lookups.Lookup(ctx, "fitter-joe", "EF56GHI")
	require.Error(t, err)
	var quotaErr *apperrors.ErrQuotaExceeded
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, "SUB_LIMIT", quotaErr.Scope)

	// Sixteen minutes later the repeat window has closed too.
	env.now = env.now.Add(16 * time.Minute)
	_, err = env.lookups.Lookup(ctx, "fitter-joe", "AB12CDE")
	require.ErrorAs(t, err, &quotaErr)

	// The owner account spends the rest of the pool directly.
	for i := 0; i < 3; i++ {
		env.now = env.now.Add(time.Minute)
		result, err = env.lookups.Lookup(ctx, "garage-main", fmt.Sprintf("GH%02dJKL", i))
		require.NoError(t, err)
		assert.True(t, result.Charged)
	}

	pool, err := env.engine.AccountPool(ctx, "garage-main")
	require.NoError(t, err)
	assert.Equal(t, 5, pool.Used)
	assert.Equal(t, 0, pool.Remaining)

	// The pool is exhausted for the account itself.
	env.now = env.now.Add(time.Minute)
	_, err = env.lookups.Lookup(ctx, "garage-main", "MN78PQR")
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, "POOL_LIMIT", quotaErr.Scope)

	// Midnight UTC resets every counter.
	env.now = time.Date(2026, 3, 11, 0, 30, 0, 0, time.UTC)
	result, err = env.lookups.Lookup(ctx, "fitter-joe", "AB12CDE")
	require.NoError(t, err)
	assert.False(t, result.Decision.GraceApplied)
	assert.True(t, result.Charged)
	assert.True(t, result.FromCache, "yesterday's vehicle is still fresh in the cache")

	snap, err = env.engine.ActorUsage(ctx, "fitter-joe")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ActorUsed)
	assert.Equal(t, 1, snap.PoolUsed)
}

func TestInactiveFitterNeverAdmitted(t *testing.T) {
	env := newFullFlowEnv(t)
	ctx := context.Background()

	_, err := env.lookups.Lookup(ctx, "fitter-amy", "AB12CDE")
	require.Error(t, err)
	var inactiveErr *apperrors.ErrActorInactive
	require.ErrorAs(t, err, &inactiveErr)
	assert.Zero(t, env.fetches)

	// Deactivation also blocks repeats the fitter paid for while active.
	env.store.SetSubAccount(&models.SubAccount{
		ID:             "fitter-amy",
		OwnerAccountID: "garage-main",
		PersonalLimit:  2,
		Active:         true,
		UpdatedAt:      env.now,
	})
	_, err = env.lookups.Lookup(ctx, "fitter-amy", "AB12CDE")
	require.NoError(t, err)

	env.store.SetSubAccount(&models.SubAccount{
		ID:             "fitter-amy",
		OwnerAccountID: "garage-main",
		PersonalLimit:  2,
		Active:         false,
		UpdatedAt:      env.now,
	})
	env.now = env.now.Add(time.Minute)
	_, err = env.lookups.Lookup(ctx, "fitter-amy", "AB12CDE")
	require.ErrorAs(t, err, &inactiveErr)
}

func TestLimitReassignmentMidDay(t *testing.T) {
	env := newFullFlowEnv(t)
	ctx := context.Background()

	// Joe exhausts his personal limit.
	for _, mark := range []string{"AB12CDE", "CD34EFG"} {
		_, err := env.lookups.Lookup(ctx, "fitter-joe", mark)
		require.NoError(t, err)
		env.now = env.now.Add(time.Minute)
	}
	var quotaErr *apperrors.ErrQuotaExceeded
	_, err := env.lookups.Lookup(ctx, "fitter-joe", "EF56GHI")
	require.ErrorAs(t, err, &quotaErr)

	// A raised limit takes effect immediately; today's usage is kept.
	result, err := env.engine.AssignPersonalLimit(ctx, "garage-main", "fitter-joe", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Applied)
	assert.False(t, result.Clamped)

	lookupResult, err := env.lookups.Lookup(ctx, "fitter-joe", "EF56GHI")
	require.NoError(t, err)
	assert.True(t, lookupResult.Charged)

	snap, err := env.engine.ActorUsage(ctx, "fitter-joe")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.ActorUsed)
	assert.Equal(t, 4, snap.ActorLimit)
}

func TestProviderFailureDoesNotCharge(t *testing.T) {
	env := newFullFlowEnv(t)
	ctx := context.Background()

	env.provider.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := env.lookups.Lookup(ctx, "fitter-joe", "ZZ99ZZZ")
	require.Error(t, err)
	var lookupErr *apperrors.ErrLookupFailed
	require.ErrorAs(t, err, &lookupErr)

	snap, err := env.engine.ActorUsage(ctx, "fitter-joe")
	require.NoError(t, err)
	assert.Zero(t, snap.ActorUsed, "a failed fetch must not consume quota")
}
