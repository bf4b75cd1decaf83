package lookup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treadlog/treadlog/internal/errors"
	"github.com/treadlog/treadlog/internal/models"
	"github.com/treadlog/treadlog/internal/quota"
	"github.com/treadlog/treadlog/internal/store"
)

var serviceNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type serviceFixture struct {
	service *Service
	store   *store.MemoryStore
	hits    *atomic.Int32
	server  *httptest.Server
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(fixtureResponse))
	}))
	t.Cleanup(server.Close)

	s := store.NewMemoryStore()
	// Each reading advances one second so events land strictly before the
	// next request's half-open windows.
	var tick atomic.Int64
	clock := func() time.Time { return serviceNow.Add(time.Duration(tick.Add(1)) * time.Second) }
	engine := quota.NewEngine(s, quota.WithClock(clock))
	client := NewClient(server.URL, "secret")
	svc := NewService(engine, s, client, WithClock(clock))

	s.SetAccount(&models.Account{ID: "acc-1", PoolLimit: 10})
	s.SetSubAccount(&models.SubAccount{
		ID:             "sub-1",
		OwnerAccountID: "acc-1",
		PersonalLimit:  3,
		Active:         true,
	})

	return &serviceFixture{service: svc, store: s, hits: &hits, server: server}
}

func TestService_LookupCommitsUsage(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.service.Lookup(context.Background(), "sub-1", "ab12 cde")
	require.NoError(t, err)

	assert.True(t, result.Decision.Allowed())
	assert.True(t, result.Charged)
	assert.False(t, result.FromCache)
	require.NotNil(t, result.Vehicle)
	assert.Equal(t, "Ford", result.Vehicle.Make)

	assert.Equal(t, 1, f.store.Stats().UsageEventCount)
	count, err := f.store.CountByActor("sub-1", serviceNow, serviceNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestService_LookupServesFromCache(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Lookup(context.Background(), "sub-1", "AB12CDE")
	require.NoError(t, err)
	require.Equal(t, int32(1), f.hits.Load())

	// The cache serves the repeat without a second provider call. The
	// actor is still under its limit, so the repeat is charged normally.
	result, err := f.service.Lookup(context.Background(), "sub-1", "AB12CDE")
	require.NoError(t, err)
	assert.True(t, result.FromCache)
	assert.True(t, result.Charged)
	assert.Equal(t, int32(1), f.hits.Load())
	assert.Equal(t, 2, f.store.Stats().UsageEventCount)
}

func TestService_LookupDeniedAtLimit(t *testing.T) {
	f := newServiceFixture(t)

	// Exhaust the personal limit with unrelated keys.
	for _, key := range []string{"AA11AAA", "BB22BBB", "CC33CCC"} {
		_, err := f.service.Lookup(context.Background(), "sub-1", key)
		require.NoError(t, err)
	}

	result, err := f.service.Lookup(context.Background(), "sub-1", "DD44DDD")
	require.Error(t, err)

	var quotaErr *errors.ErrQuotaExceeded
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, "SUB_LIMIT", quotaErr.Scope)

	require.NotNil(t, result)
	require.NotNil(t, result.Decision)
	assert.Equal(t, models.DenySubLimit, result.Decision.Reason)
	assert.Equal(t, 3, result.Decision.Snapshot.ActorUsed)

	// The denied request never reached the provider.
	assert.Equal(t, int32(3), f.hits.Load())
}

func TestService_LookupGraceRepeatNotCharged(t *testing.T) {
	f := newServiceFixture(t)

	for _, key := range []string{"AA11AAA", "BB22BBB", "CC33CCC"} {
		_, err := f.service.Lookup(context.Background(), "sub-1", key)
		require.NoError(t, err)
	}

	// Repeating the last key within the grace window is admitted past the
	// exhausted limit and not charged.
	result, err := f.service.Lookup(context.Background(), "sub-1", "CC33CCC")
	require.NoError(t, err)
	assert.True(t, result.Decision.GraceApplied)
	assert.False(t, result.Charged)
	assert.Equal(t, 3, f.store.Stats().UsageEventCount)
}

func TestService_LookupInactiveActor(t *testing.T) {
	f := newServiceFixture(t)
	f.store.SetSubAccount(&models.SubAccount{
		ID:             "sub-1",
		OwnerAccountID: "acc-1",
		PersonalLimit:  3,
		Active:         false,
	})

	_, err := f.service.Lookup(context.Background(), "sub-1", "AB12CDE")
	var inactive *errors.ErrActorInactive
	require.ErrorAs(t, err, &inactive)
	assert.Equal(t, int32(0), f.hits.Load())
}

func TestService_LookupUnknownActor(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.service.Lookup(context.Background(), "ghost", "AB12CDE")
	require.ErrorIs(t, err, quota.ErrActorNotFound)
}

func TestService_LookupProviderFailureNotCharged(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := store.NewMemoryStore()
	clock := func() time.Time { return serviceNow }
	engine := quota.NewEngine(s, quota.WithClock(clock))
	client := NewClient(server.URL, "", WithRetries(0))
	svc := NewService(engine, s, client, WithClock(clock))

	s.SetAccount(&models.Account{ID: "acc-1", PoolLimit: 10})
	s.SetSubAccount(&models.SubAccount{ID: "sub-1", OwnerAccountID: "acc-1", PersonalLimit: 3, Active: true})

	_, err := svc.Lookup(context.Background(), "sub-1", "AB12CDE")
	var lookupErr *errors.ErrLookupFailed
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, 0, s.Stats().UsageEventCount, "failed action must not be charged")
}

func TestService_LookupStaleCacheRefetches(t *testing.T) {
	f := newServiceFixture(t)

	stale := &models.Vehicle{VRM: "AB12CDE", Make: "Old", UpdatedAt: serviceNow.Add(-48 * time.Hour)}
	require.NoError(t, f.store.UpsertVehicle(stale))

	result, err := f.service.Lookup(context.Background(), "sub-1", "AB12CDE")
	require.NoError(t, err)
	assert.False(t, result.FromCache)
	assert.Equal(t, "Ford", result.Vehicle.Make)
	assert.Equal(t, int32(1), f.hits.Load())
}
