package errors

import "fmt"

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// ErrConfiguration marks invalid input to the quota engine itself: a
// negative limit, a malformed usage event. Always fails closed.
type ErrConfiguration struct {
	Field string
	Err   error
}

func (e *ErrConfiguration) Error() string {
	return fmt.Sprintf("invalid engine input %s: %v", e.Field, e.Err)
}

func (e *ErrConfiguration) Unwrap() error {
	return e.Err
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseMigration struct {
	Version int
	Err     error
}

func (e *ErrDatabaseMigration) Error() string {
	return fmt.Sprintf("database migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrDatabaseMigration) Unwrap() error {
	return e.Err
}

// ErrStoreUnavailable marks an infrastructure fault reading or writing the
// ledger or registry. The admission check fails open on it; commit fails
// closed and propagates it.
type ErrStoreUnavailable struct {
	Operation string
	Err       error
}

func (e *ErrStoreUnavailable) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Operation, e.Err)
}

func (e *ErrStoreUnavailable) Unwrap() error {
	return e.Err
}

// Admission errors

// ErrActorInactive is a terminal denial for a deactivated sub-account.
// Never eligible for a grace bypass.
type ErrActorInactive struct {
	ActorID string
}

func (e *ErrActorInactive) Error() string {
	return fmt.Sprintf("actor %s is inactive", e.ActorID)
}

// ErrQuotaExceeded is a terminal denial for an exhausted personal or pool
// limit, unless the grace rule overrides it. Recoverable by waiting for the
// next UTC day or raising the relevant limit.
type ErrQuotaExceeded struct {
	Scope   string // "SUB_LIMIT" or "POOL_LIMIT"
	ActorID string
	Used    int
	Limit   int
}

func (e *ErrQuotaExceeded) Error() string {
	return fmt.Sprintf("quota exceeded (%s) for %s: %d of %d used", e.Scope, e.ActorID, e.Used, e.Limit)
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

type ErrServerShutdown struct {
	Err error
}

func (e *ErrServerShutdown) Error() string {
	return fmt.Sprintf("server shutdown failed: %v", e.Err)
}

func (e *ErrServerShutdown) Unwrap() error {
	return e.Err
}

// Filesystem errors

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}

// Lookup errors

// ErrLookupFailed marks a vehicle data provider failure. The metered action
// did not happen, so no usage is charged.
type ErrLookupFailed struct {
	VRM string
	Err error
}

func (e *ErrLookupFailed) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vehicle lookup failed for %s: %v", e.VRM, e.Err)
	}
	return fmt.Sprintf("vehicle lookup failed for %s", e.VRM)
}

func (e *ErrLookupFailed) Unwrap() error {
	return e.Err
}
