package models

// Decision is the outcome of an admission check.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// DenyReason identifies why an admission check denied a request. Every
// denial carries one; a bare boolean is not part of the contract.
type DenyReason string

const (
	// DenyActorInactive means the acting sub-account is deactivated.
	// Never eligible for a grace bypass.
	DenyActorInactive DenyReason = "ACTOR_INACTIVE"
	// DenySubLimit means the actor's personal daily cap is exhausted.
	DenySubLimit DenyReason = "SUB_LIMIT"
	// DenyPoolLimit means the billing account's shared pool is exhausted.
	DenyPoolLimit DenyReason = "POOL_LIMIT"
)

// UsageSnapshot reports current consumption against the applicable limits,
// for rendering "N of M used today". Limits of 0 mean unlimited.
type UsageSnapshot struct {
	PoolUsed   int `json:"pool_used"`
	PoolLimit  int `json:"pool_limit"`
	ActorUsed  int `json:"actor_used"`
	ActorLimit int `json:"actor_limit"`
}

// AdmissionDecision is the result of one admission check. Snapshot is
// populated on allow and deny alike. GraceApplied records that a candidate
// denial was bypassed by the recent-lookup grace rule; the bypass lives only
// here, never in the ledger.
type AdmissionDecision struct {
	Decision     Decision      `json:"decision"`
	Reason       DenyReason    `json:"reason,omitempty"`
	GraceApplied bool          `json:"grace_applied,omitempty"`
	Snapshot     UsageSnapshot `json:"usage_snapshot"`
}

// Allowed reports whether the caller may perform the metered action.
func (d *AdmissionDecision) Allowed() bool {
	return d.Decision == DecisionAllow
}
