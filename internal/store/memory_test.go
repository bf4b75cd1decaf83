package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treadlog/treadlog/internal/models"
)

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	require.NotNil(t, store)
	assert.NotNil(t, store.accounts)
	assert.NotNil(t, store.subAccounts)
	assert.NotNil(t, store.vehicles)
}

func TestMemoryStore_AccountOperations(t *testing.T) {
	store := NewMemoryStore()

	t.Run("Set and Get Account", func(t *testing.T) {
		acc := &models.Account{
			ID:        "acc-1",
			PoolLimit: 10,
		}

		store.SetAccount(acc)

		got, ok := store.GetAccount("acc-1")
		require.True(t, ok)
		assert.Equal(t, acc.ID, got.ID)
		assert.Equal(t, acc.PoolLimit, got.PoolLimit)
	})

	t.Run("Get Non-existent Account", func(t *testing.T) {
		_, ok := store.GetAccount("non-existent")
		assert.False(t, ok)
	})

	t.Run("Delete Account Cascades", func(t *testing.T) {
		store.SetAccount(&models.Account{ID: "acc-to-delete", PoolLimit: 5})
		store.SetSubAccount(&models.SubAccount{ID: "sub-orphan", OwnerAccountID: "acc-to-delete", PersonalLimit: 2, Active: true})

		ok := store.DeleteAccount("acc-to-delete")
		assert.True(t, ok)

		_, ok = store.GetAccount("acc-to-delete")
		assert.False(t, ok)

		_, ok = store.GetSubAccount("sub-orphan")
		assert.False(t, ok)
	})

	t.Run("Delete Non-existent Account", func(t *testing.T) {
		ok := store.DeleteAccount("non-existent")
		assert.False(t, ok)
	})

	t.Run("List Accounts", func(t *testing.T) {
		store.Clear()

		store.SetAccount(&models.Account{ID: "acc-1", PoolLimit: 10})
		store.SetAccount(&models.Account{ID: "acc-2", PoolLimit: 0})

		accounts := store.ListAccounts()
		assert.Len(t, accounts, 2)
	})
}

func TestMemoryStore_SubAccountOperations(t *testing.T) {
	store := NewMemoryStore()
	store.SetAccount(&models.Account{ID: "acc-1", PoolLimit: 10})

	t.Run("Set and Get SubAccount", func(t *testing.T) {
		sub := &models.SubAccount{
			ID:             "sub-1",
			OwnerAccountID: "acc-1",
			PersonalLimit:  3,
			Active:         true,
		}

		store.SetSubAccount(sub)

		got, ok := store.GetSubAccount("sub-1")
		require.True(t, ok)
		assert.Equal(t, sub.OwnerAccountID, got.OwnerAccountID)
		assert.Equal(t, 3, got.PersonalLimit)
	})

	t.Run("List SubAccounts Filters By Owner", func(t *testing.T) {
		store.SetSubAccount(&models.SubAccount{ID: "sub-2", OwnerAccountID: "acc-1", PersonalLimit: 2, Active: true})
		store.SetSubAccount(&models.SubAccount{ID: "sub-other", OwnerAccountID: "acc-2", PersonalLimit: 1, Active: true})

		subs := store.ListSubAccounts("acc-1")
		assert.Len(t, subs, 2)
	})

	t.Run("Delete SubAccount", func(t *testing.T) {
		ok := store.DeleteSubAccount("sub-2")
		assert.True(t, ok)

		_, ok = store.GetSubAccount("sub-2")
		assert.False(t, ok)
	})
}

func TestMemoryStore_AppendUsage(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("Assigns ID When Empty", func(t *testing.T) {
		ev, err := store.AppendUsage(&models.UsageEvent{
			ActorID:   "sub-1",
			CreatedAt: now,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, ev.ID)
	})

	t.Run("Rejects Nil Event", func(t *testing.T) {
		_, err := store.AppendUsage(nil)
		assert.Error(t, err)
	})

	t.Run("Rejects Missing Actor", func(t *testing.T) {
		_, err := store.AppendUsage(&models.UsageEvent{CreatedAt: now})
		assert.Error(t, err)
	})

	t.Run("Rejects Zero Timestamp", func(t *testing.T) {
		_, err := store.AppendUsage(&models.UsageEvent{ActorID: "sub-1"})
		assert.Error(t, err)
	})
}

func TestMemoryStore_CountByActor(t *testing.T) {
	store := NewMemoryStore()
	dayStart := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	events := []time.Time{
		dayStart,                                          // inclusive lower bound
		dayStart.Add(12 * time.Hour),                      // mid-day
		dayEnd.Add(-time.Millisecond),                     // 23:59:59.999
		dayEnd,                                            // next day, excluded
		dayStart.Add(-time.Second),                        // previous day, excluded
		time.Date(2026, 3, 10, 6, 0, 0, 0, time.FixedZone("UTC+3", 3*3600)), // 03:00 UTC
	}
	for i, ts := range events {
		_, err := store.AppendUsage(&models.UsageEvent{
			ID:        fmt.Sprintf("ev-%d", i),
			ActorID:   "sub-1",
			CreatedAt: ts,
		})
		require.NoError(t, err)
	}

	count, err := store.CountByActor("sub-1", dayStart, dayEnd)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	count, err = store.CountByActor("other", dayStart, dayEnd)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMemoryStore_CountByAccountPool(t *testing.T) {
	store := NewMemoryStore()
	dayStart := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)
	mid := dayStart.Add(time.Hour)

	seed := []*models.UsageEvent{
		{ActorID: "sub-1", BilledToAccountID: "acc-1", CreatedAt: mid},
		{ActorID: "sub-2", BilledToAccountID: "acc-1", CreatedAt: mid},
		{ActorID: "acc-1", BilledToAccountID: "", CreatedAt: mid}, // legacy self-billed
		{ActorID: "sub-3", BilledToAccountID: "", CreatedAt: mid}, // legacy, not this pool
		{ActorID: "sub-4", BilledToAccountID: "acc-2", CreatedAt: mid},
	}
	for _, ev := range seed {
		_, err := store.AppendUsage(ev)
		require.NoError(t, err)
	}

	count, err := store.CountByAccountPool("acc-1", dayStart, dayEnd)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = store.CountByAccountPool("acc-2", dayStart, dayEnd)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryStore_HasRecentUsage(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	_, err := store.AppendUsage(&models.UsageEvent{
		ActorID:     "sub-1",
		ResourceKey: "AB12CDE",
		CreatedAt:   now.Add(-10 * time.Minute),
	})
	require.NoError(t, err)

	t.Run("Match Within Window", func(t *testing.T) {
		ok, err := store.HasRecentUsage("sub-1", "AB12CDE", now.Add(-15*time.Minute), now)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Different Key", func(t *testing.T) {
		ok, err := store.HasRecentUsage("sub-1", "XY99ZZZ", now.Add(-15*time.Minute), now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Different Actor", func(t *testing.T) {
		ok, err := store.HasRecentUsage("sub-2", "AB12CDE", now.Add(-15*time.Minute), now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Empty Key Never Matches", func(t *testing.T) {
		ok, err := store.HasRecentUsage("sub-1", "", now.Add(-15*time.Minute), now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Outside Window", func(t *testing.T) {
		ok, err := store.HasRecentUsage("sub-1", "AB12CDE", now.Add(-5*time.Minute), now)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMemoryStore_VehicleOperations(t *testing.T) {
	store := NewMemoryStore()

	t.Run("Upsert and Get", func(t *testing.T) {
		err := store.UpsertVehicle(&models.Vehicle{
			VRM:  "AB12CDE",
			Make: "Ford",
		})
		require.NoError(t, err)

		got, ok := store.GetVehicle("ab12cde")
		require.True(t, ok)
		assert.Equal(t, "Ford", got.Make)
	})

	t.Run("Empty VRM Rejected", func(t *testing.T) {
		err := store.UpsertVehicle(&models.Vehicle{})
		assert.Error(t, err)
	})
}

func TestMemoryStore_Stats(t *testing.T) {
	store := NewMemoryStore()

	store.SetAccount(&models.Account{ID: "acc-1", PoolLimit: 10})
	store.SetSubAccount(&models.SubAccount{ID: "sub-1", OwnerAccountID: "acc-1", Active: true})
	_, err := store.AppendUsage(&models.UsageEvent{ActorID: "sub-1", CreatedAt: time.Now()})
	require.NoError(t, err)

	stats := store.Stats()
	assert.Equal(t, 1, stats.AccountCount)
	assert.Equal(t, 1, stats.SubAccountCount)
	assert.Equal(t, 1, stats.UsageEventCount)

	store.Clear()
	stats = store.Stats()
	assert.Equal(t, 0, stats.AccountCount)
	assert.Equal(t, 0, stats.UsageEventCount)
}
