package store

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/treadlog/treadlog/internal/errors"
	"github.com/treadlog/treadlog/internal/logging"
	"github.com/treadlog/treadlog/internal/models"
)

// SQLiteStore provides SQLite-backed storage with WAL mode.
// It is thread-safe and supports concurrent access.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	logger *logging.Logger

	// Retention cleanup
	cleanupTicker *time.Ticker
	cleanupDone   chan struct{}
	retentionDays int
}

// NewSQLiteStore creates a new SQLite store with retention disabled.
// Usage events are never pruned unless a retention window is configured.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithRetention(dbPath, 0)
}

// NewSQLiteStoreWithRetention creates a new SQLite store that prunes usage
// events older than retentionDays (0 disables pruning).
func NewSQLiteStoreWithRetention(dbPath string, retentionDays int) (*SQLiteStore, error) {
	// Create directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	// Open database with WAL mode enabled
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=cache_size(2000)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{
		db:            db,
		logger:        logging.NewLogger(),
		cleanupDone:   make(chan struct{}),
		retentionDays: retentionDays,
	}

	if retentionDays > 0 {
		store.startCleanup()
	}

	return store, nil
}

// runMigrations runs database migrations
func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrStoreUnavailable{Operation: "create migrations table", Err: err}
	}

	// Get current migration version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &errors.ErrStoreUnavailable{Operation: "get current migration version", Err: err}
	}

	// Define migrations
	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS accounts (
					id TEXT PRIMARY KEY,
					pool_limit INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS subaccounts (
					id TEXT PRIMARY KEY,
					owner_account_id TEXT NOT NULL,
					personal_limit INTEGER NOT NULL DEFAULT 0,
					active INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (owner_account_id) REFERENCES accounts(id) ON DELETE CASCADE
				);

				CREATE TABLE IF NOT EXISTS usage_events (
					id TEXT PRIMARY KEY,
					actor_id TEXT NOT NULL,
					resource_key TEXT,
					reason_tag TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_subaccounts_owner ON subaccounts(owner_account_id);
				CREATE INDEX IF NOT EXISTS idx_usage_actor_created ON usage_events(actor_id, created_at);
				CREATE INDEX IF NOT EXISTS idx_usage_actor_key_created ON usage_events(actor_id, resource_key, created_at);
			`,
		},
		{
			// Billing split out from the actor. Events written before this
			// migration keep a NULL billing reference and count as
			// self-billed.
			version: 2,
			up: `
				ALTER TABLE usage_events ADD COLUMN billed_to_account_id TEXT;
				CREATE INDEX IF NOT EXISTS idx_usage_billed_created ON usage_events(billed_to_account_id, created_at);
			`,
		},
		{
			version: 3,
			up: `
				CREATE TABLE IF NOT EXISTS vehicles (
					vrm TEXT PRIMARY KEY,
					make TEXT NOT NULL DEFAULT '',
					model TEXT NOT NULL DEFAULT '',
					year INTEGER NOT NULL DEFAULT 0,
					tyre_records TEXT,
					torque TEXT NOT NULL DEFAULT '',
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
	}

	// Run pending migrations
	tx, err := db.Begin()
	if err != nil {
		return &errors.ErrStoreUnavailable{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version > currentVersion {
			if _, err := tx.Exec(m.up); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrStoreUnavailable{Operation: "commit migrations", Err: err}
	}

	return nil
}

// startCleanup starts the retention cleanup goroutine
func (s *SQLiteStore) startCleanup() {
	s.cleanupTicker = time.NewTicker(time.Hour)
	go func() {
		for {
			select {
			case <-s.cleanupTicker.C:
				s.cleanupOldEvents()
			case <-s.cleanupDone:
				return
			}
		}
	}()
}

// cleanupOldEvents removes usage events outside the retention window
func (s *SQLiteStore) cleanupOldEvents() {
	if s.retentionDays <= 0 {
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)

	_, err := s.db.Exec("DELETE FROM usage_events WHERE created_at < ?", cutoff)
	if err != nil {
		s.logger.Error("retention cleanup failed", "table", "usage_events", "error", err.Error())
	}
}

// Close gracefully shuts down the store
func (s *SQLiteStore) Close() error {
	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
		close(s.cleanupDone)
	}

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Registry operations

// GetAccount retrieves an account by ID
func (s *SQLiteStore) GetAccount(id string) (*models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var acc models.Account

	err := s.db.QueryRow(`
		SELECT id, pool_limit, created_at, updated_at
		FROM accounts WHERE id = ?
	`, id).Scan(&acc.ID, &acc.PoolLimit, &acc.CreatedAt, &acc.UpdatedAt)

	if err != nil {
		return nil, false
	}

	return &acc, true
}

// SetAccount stores or updates an account
func (s *SQLiteStore) SetAccount(acc *models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	_, err := s.db.Exec(`
		INSERT INTO accounts (id, pool_limit, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pool_limit = excluded.pool_limit,
			updated_at = excluded.updated_at
	`, acc.ID, acc.PoolLimit, now, now)

	if err != nil {
		s.logger.Error("failed to set account", "error", err.Error())
	}
}

// DeleteAccount removes an account; owned sub-accounts cascade
func (s *SQLiteStore) DeleteAccount(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return false
	}

	rows, _ := result.RowsAffected()
	return rows > 0
}

// ListAccounts returns all accounts
func (s *SQLiteStore) ListAccounts() []*models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, pool_limit, created_at, updated_at
		FROM accounts ORDER BY id
	`)
	if err != nil {
		return []*models.Account{}
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		var acc models.Account

		if err := rows.Scan(&acc.ID, &acc.PoolLimit, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
			continue
		}

		accounts = append(accounts, &acc)
	}

	return accounts
}

// GetSubAccount retrieves a sub-account by ID
func (s *SQLiteStore) GetSubAccount(id string) (*models.SubAccount, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sub models.SubAccount

	err := s.db.QueryRow(`
		SELECT id, owner_account_id, personal_limit, active, created_at, updated_at
		FROM subaccounts WHERE id = ?
	`, id).Scan(&sub.ID, &sub.OwnerAccountID, &sub.PersonalLimit, &sub.Active, &sub.CreatedAt, &sub.UpdatedAt)

	if err != nil {
		return nil, false
	}

	return &sub, true
}

// SetSubAccount stores or updates a sub-account
func (s *SQLiteStore) SetSubAccount(sub *models.SubAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	_, err := s.db.Exec(`
		INSERT INTO subaccounts (id, owner_account_id, personal_limit, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_account_id = excluded.owner_account_id,
			personal_limit = excluded.personal_limit,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, sub.ID, sub.OwnerAccountID, sub.PersonalLimit, sub.Active, now, now)

	if err != nil {
		s.logger.Error("failed to set sub-account", "error", err.Error())
	}
}

// DeleteSubAccount removes a sub-account
func (s *SQLiteStore) DeleteSubAccount(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM subaccounts WHERE id = ?", id)
	if err != nil {
		return false
	}

	rows, _ := result.RowsAffected()
	return rows > 0
}

// ListSubAccounts returns all sub-accounts owned by an account
func (s *SQLiteStore) ListSubAccounts(ownerAccountID string) []*models.SubAccount {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, owner_account_id, personal_limit, active, created_at, updated_at
		FROM subaccounts WHERE owner_account_id = ? ORDER BY id
	`, ownerAccountID)
	if err != nil {
		return []*models.SubAccount{}
	}
	defer rows.Close()

	var subs []*models.SubAccount
	for rows.Next() {
		var sub models.SubAccount

		if err := rows.Scan(&sub.ID, &sub.OwnerAccountID, &sub.PersonalLimit, &sub.Active, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			continue
		}

		subs = append(subs, &sub)
	}

	return subs
}

// Ledger operations

// AppendUsage inserts a new immutable usage event and returns it. It is a
// pure storage primitive and performs no limit checking.
func (s *SQLiteStore) AppendUsage(ev *models.UsageEvent) (*models.UsageEvent, error) {
	if ev == nil {
		return nil, &errors.ErrConfiguration{Field: "usage_event", Err: errNilEvent}
	}
	if err := ev.Validate(); err != nil {
		return nil, &errors.ErrConfiguration{Field: "usage_event", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *ev
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.CreatedAt = stored.CreatedAt.UTC()

	_, err := s.db.Exec(`
		INSERT INTO usage_events (id, actor_id, billed_to_account_id, resource_key, reason_tag, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, stored.ID, stored.ActorID, nullString(stored.BilledToAccountID), nullString(stored.ResourceKey), stored.ReasonTag, stored.CreatedAt)
	if err != nil {
		return nil, &errors.ErrStoreUnavailable{Operation: "append usage", Err: err}
	}

	return &stored, nil
}

// CountByActor counts usage events by an actor within [windowStart, windowEnd)
func (s *SQLiteStore) CountByActor(actorID string, windowStart, windowEnd time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM usage_events
		WHERE actor_id = ? AND created_at >= ? AND created_at < ?
	`, actorID, windowStart.UTC(), windowEnd.UTC()).Scan(&count)
	if err != nil {
		return 0, &errors.ErrStoreUnavailable{Operation: "count by actor", Err: err}
	}
	return count, nil
}

// CountByAccountPool counts usage events billed to an account's pool within
// [windowStart, windowEnd). Legacy events with a NULL billing reference
// count when the actor is the account itself.
func (s *SQLiteStore) CountByAccountPool(accountID string, windowStart, windowEnd time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM usage_events
		WHERE (billed_to_account_id = ? OR (billed_to_account_id IS NULL AND actor_id = ?))
		AND created_at >= ? AND created_at < ?
	`, accountID, accountID, windowStart.UTC(), windowEnd.UTC()).Scan(&count)
	if err != nil {
		return 0, &errors.ErrStoreUnavailable{Operation: "count by account pool", Err: err}
	}
	return count, nil
}

// HasRecentUsage reports whether the actor has a usage event for the exact
// normalized resource key within [since, until).
func (s *SQLiteStore) HasRecentUsage(actorID, resourceKey string, since, until time.Time) (bool, error) {
	if resourceKey == "" {
		return false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	err := s.db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM usage_events
			WHERE actor_id = ? AND resource_key = ? AND created_at >= ? AND created_at < ?
		)
	`, actorID, resourceKey, since.UTC(), until.UTC()).Scan(&exists)
	if err != nil {
		return false, &errors.ErrStoreUnavailable{Operation: "recent usage lookup", Err: err}
	}
	return exists == 1, nil
}

// Vehicle cache operations

// GetVehicle retrieves a cached vehicle by normalized VRM
func (s *SQLiteStore) GetVehicle(vrm string) (*models.Vehicle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v models.Vehicle
	var tyreJSON sql.NullString

	err := s.db.QueryRow(`
		SELECT vrm, make, model, year, tyre_records, torque, updated_at
		FROM vehicles WHERE vrm = ?
	`, strings.ToUpper(vrm)).Scan(&v.VRM, &v.Make, &v.Model, &v.Year, &tyreJSON, &v.Torque, &v.UpdatedAt)

	if err != nil {
		return nil, false
	}

	if tyreJSON.Valid {
		if err := json.Unmarshal([]byte(tyreJSON.String), &v.TyreRecords); err != nil {
			s.logger.Warn("failed to parse tyre records", "error", err.Error(), "vrm", v.VRM)
		}
	}

	return &v, true
}

// UpsertVehicle stores or replaces a cached vehicle
func (s *SQLiteStore) UpsertVehicle(v *models.Vehicle) error {
	if v == nil || v.VRM == "" {
		return &errors.ErrConfiguration{Field: "vehicle", Err: errEmptyVRM}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tyreJSON, _ := json.Marshal(v.TyreRecords)

	_, err := s.db.Exec(`
		INSERT INTO vehicles (vrm, make, model, year, tyre_records, torque, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vrm) DO UPDATE SET
			make = excluded.make,
			model = excluded.model,
			year = excluded.year,
			tyre_records = excluded.tyre_records,
			torque = excluded.torque,
			updated_at = excluded.updated_at
	`, strings.ToUpper(v.VRM), v.Make, v.Model, v.Year, string(tyreJSON), v.Torque, time.Now())
	if err != nil {
		return &errors.ErrStoreUnavailable{Operation: "upsert vehicle", Err: err}
	}
	return nil
}

// Clear removes all data from the store
func (s *SQLiteStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM usage_events"); err != nil {
		s.logger.Error("failed to clear usage events", "error", err.Error())
	}
	if _, err := s.db.Exec("DELETE FROM vehicles"); err != nil {
		s.logger.Error("failed to clear vehicles", "error", err.Error())
	}
	if _, err := s.db.Exec("DELETE FROM subaccounts"); err != nil {
		s.logger.Error("failed to clear sub-accounts", "error", err.Error())
	}
	if _, err := s.db.Exec("DELETE FROM accounts"); err != nil {
		s.logger.Error("failed to clear accounts", "error", err.Error())
	}
}

// Stats returns statistics about the store
func (s *SQLiteStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var accountCount, subCount, eventCount, vehicleCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM accounts").Scan(&accountCount); err != nil {
		s.logger.Error("failed to count accounts", "error", err.Error())
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM subaccounts").Scan(&subCount); err != nil {
		s.logger.Error("failed to count sub-accounts", "error", err.Error())
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM usage_events").Scan(&eventCount); err != nil {
		s.logger.Error("failed to count usage events", "error", err.Error())
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM vehicles").Scan(&vehicleCount); err != nil {
		s.logger.Error("failed to count vehicles", "error", err.Error())
	}

	return StoreStats{
		AccountCount:    accountCount,
		SubAccountCount: subCount,
		UsageEventCount: eventCount,
		VehicleCount:    vehicleCount,
	}
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLiteStore implements the Store interface
var _ Store = (*SQLiteStore)(nil)
