package quota

import (
	"time"

	"github.com/treadlog/treadlog/internal/models"
)

// DefaultGraceWindow is how far back a repeated lookup of the same
// registration counts as already paid for. A denial for quota reasons is
// bypassed when the same actor consumed the same key inside this window.
const DefaultGraceWindow = 15 * time.Minute

// graceEligible reports whether a candidate denial may be bypassed at all.
// Inactive actors are never graced and an absent resource key has nothing
// to correlate against.
func graceEligible(reason models.DenyReason, resourceKey string) bool {
	if reason == models.DenyActorInactive {
		return false
	}
	return resourceKey != ""
}
