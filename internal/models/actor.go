package models

import (
	"fmt"
	"sort"
	"time"
)

// ActorKind discriminates the two account roles.
type ActorKind string

const (
	ActorKindAccount    ActorKind = "account"
	ActorKindSubAccount ActorKind = "subaccount"
)

// Account is a top-level entity owning a daily quota pool.
// A PoolLimit of 0 means the pool is unlimited.
type Account struct {
	ID        string    `json:"id"`
	PoolLimit int       `json:"pool_limit"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the account is valid.
func (a *Account) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("account ID is required")
	}
	if a.PoolLimit < 0 {
		return fmt.Errorf("pool limit cannot be negative")
	}
	return nil
}

// Unlimited reports whether the account pool has no daily ceiling.
func (a *Account) Unlimited() bool {
	return a.PoolLimit <= 0
}

// SubAccount is a sponsored actor under one Account. It acts on its own
// behalf but its consumption is billed to the owning account's pool.
type SubAccount struct {
	ID             string    `json:"id"`
	OwnerAccountID string    `json:"owner_account_id"`
	PersonalLimit  int       `json:"personal_limit"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Validate checks if the sub-account is valid.
func (s *SubAccount) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("sub-account ID is required")
	}
	if s.OwnerAccountID == "" {
		return fmt.Errorf("owner account ID is required")
	}
	if s.PersonalLimit < 0 {
		return fmt.Errorf("personal limit cannot be negative")
	}
	return nil
}

// Actor is a closed tagged variant over Account and SubAccount. Exactly one
// of the two payloads is set, matching Kind. Operations switch on Kind
// rather than probing optional fields.
type Actor struct {
	Kind       ActorKind
	Account    *Account
	SubAccount *SubAccount
}

// AccountActor wraps an account as an admission actor.
func AccountActor(acc *Account) Actor {
	return Actor{Kind: ActorKindAccount, Account: acc}
}

// SubAccountActor wraps a sub-account as an admission actor.
func SubAccountActor(sub *SubAccount) Actor {
	return Actor{Kind: ActorKindSubAccount, SubAccount: sub}
}

// ID returns the acting entity's identifier.
func (a Actor) ID() string {
	switch a.Kind {
	case ActorKindAccount:
		return a.Account.ID
	case ActorKindSubAccount:
		return a.SubAccount.ID
	}
	return ""
}

// BillingAccountID returns the account whose pool the actor's usage is
// charged to. For an account actor this is the account itself.
func (a Actor) BillingAccountID() string {
	switch a.Kind {
	case ActorKindAccount:
		return a.Account.ID
	case ActorKindSubAccount:
		return a.SubAccount.OwnerAccountID
	}
	return ""
}

// Validate checks that the variant is well-formed.
func (a Actor) Validate() error {
	switch a.Kind {
	case ActorKindAccount:
		if a.Account == nil {
			return fmt.Errorf("account actor without account payload")
		}
		if a.SubAccount != nil {
			return fmt.Errorf("account actor with sub-account payload")
		}
		return a.Account.Validate()
	case ActorKindSubAccount:
		if a.SubAccount == nil {
			return fmt.Errorf("sub-account actor without sub-account payload")
		}
		if a.Account != nil {
			return fmt.Errorf("sub-account actor with account payload")
		}
		return a.SubAccount.Validate()
	}
	return fmt.Errorf("unknown actor kind: %q", a.Kind)
}

// SubAccountSlice is a slice of sub-accounts with helper methods.
type SubAccountSlice []SubAccount

// FindByID returns a sub-account by ID.
func (ss SubAccountSlice) FindByID(id string) (*SubAccount, bool) {
	for i := range ss {
		if ss[i].ID == id {
			return &ss[i], true
		}
	}
	return nil, false
}

// FilterActive returns only active sub-accounts.
func (ss SubAccountSlice) FilterActive() SubAccountSlice {
	var result SubAccountSlice
	for _, s := range ss {
		if s.Active {
			result = append(result, s)
		}
	}
	return result
}

// TotalPersonalLimit sums personal limits, excluding excludeID if non-empty.
func (ss SubAccountSlice) TotalPersonalLimit(excludeID string) int {
	total := 0
	for _, s := range ss {
		if excludeID != "" && s.ID == excludeID {
			continue
		}
		total += s.PersonalLimit
	}
	return total
}

// SortByID sorts sub-accounts by ID (ascending).
func (ss SubAccountSlice) SortByID() SubAccountSlice {
	result := make(SubAccountSlice, len(ss))
	copy(result, ss)

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result
}
