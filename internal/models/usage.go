package models

import (
	"fmt"
	"time"
)

// Reason tags recorded on usage events for provenance analysis.
const (
	// ReasonTagExplicit marks a usage event committed directly for the
	// metered action the caller requested.
	ReasonTagExplicit = "explicit"
	// ReasonTagDerived marks a usage event derived from a later step of a
	// multi-step workflow (e.g. an inspection that implied a lookup).
	ReasonTagDerived = "derived"
)

// UsageEvent is one immutable record of a metered action having occurred.
// BilledToAccountID is empty only on legacy records written before billing
// was split from the actor; such records are treated as self-billed.
// ResourceKey is empty when the action had no correlatable target.
type UsageEvent struct {
	ID                string    `json:"id"`
	ActorID           string    `json:"actor_id"`
	BilledToAccountID string    `json:"billed_to_account_id,omitempty"`
	ResourceKey       string    `json:"resource_key,omitempty"`
	ReasonTag         string    `json:"reason_tag"`
	CreatedAt         time.Time `json:"created_at"`
}

// Validate checks if the event is well-formed enough to persist.
func (e *UsageEvent) Validate() error {
	if e.ActorID == "" {
		return fmt.Errorf("actor ID is required")
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// BilledAccount returns the account charged for this event, applying the
// legacy self-billed fallback for records without a billing reference.
func (e *UsageEvent) BilledAccount() string {
	if e.BilledToAccountID != "" {
		return e.BilledToAccountID
	}
	return e.ActorID
}
