// Package store persists the quota registry (accounts, sub-accounts), the
// append-only usage ledger and the vehicle lookup cache.
package store

import "errors"

var (
	errNilEvent = errors.New("event is nil")
	errEmptyVRM = errors.New("vrm is required")
)
