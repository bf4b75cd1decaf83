package quota

import (
	"github.com/treadlog/treadlog/internal/models"
)

// PoolAllocation describes how an account's daily pool is divided among its
// active sub-accounts. Inactive sub-accounts hold no allocation.
type PoolAllocation struct {
	PoolLimit int  `json:"pool_limit"`
	Allocated int  `json:"allocated"`
	Available int  `json:"available"`
	Unlimited bool `json:"unlimited"`
}

// AllocationFor computes the current allocation state of an account's pool.
func AllocationFor(account *models.Account, subs []*models.SubAccount) PoolAllocation {
	allocated := activeAllocation(subs, "")

	alloc := PoolAllocation{
		PoolLimit: account.PoolLimit,
		Allocated: allocated,
		Unlimited: account.Unlimited(),
	}
	if !alloc.Unlimited {
		alloc.Available = account.PoolLimit - allocated
		if alloc.Available < 0 {
			alloc.Available = 0
		}
	}
	return alloc
}

// ClampResult records the outcome of a personal limit assignment.
type ClampResult struct {
	Requested int  `json:"requested"`
	Applied   int  `json:"applied"`
	Clamped   bool `json:"clamped"`
}

// ClampPersonalLimit computes the personal limit that can actually be
// granted to one sub-account without the active allocations exceeding the
// owner's pool. The target's own current limit is excluded from the sum so
// that reassignment replaces rather than stacks. Requests are floored at
// zero; under an unlimited pool the request is granted as-is.
func ClampPersonalLimit(account *models.Account, subs []*models.SubAccount, subID string, requested int) ClampResult {
	if requested < 0 {
		requested = 0
	}

	result := ClampResult{Requested: requested, Applied: requested}
	if account.Unlimited() {
		return result
	}

	available := account.PoolLimit - activeAllocation(subs, subID)
	if available < 0 {
		available = 0
	}
	if requested > available {
		result.Applied = available
		result.Clamped = true
	}
	return result
}

// Remaining returns how much of a limit is left after usage, floored at
// zero. The second return is false when the limit is unlimited, in which
// case the count is meaningless.
func Remaining(used, limit int) (int, bool) {
	if limit <= 0 {
		return 0, false
	}
	r := limit - used
	if r < 0 {
		r = 0
	}
	return r, true
}

func activeAllocation(subs []*models.SubAccount, excludeID string) int {
	slice := make(models.SubAccountSlice, 0, len(subs))
	for _, s := range subs {
		slice = append(slice, *s)
	}
	return slice.FilterActive().TotalPersonalLimit(excludeID)
}
