package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gridwise/bundling"
)

const (
	defaultPurgeLimit        = 1000
	defaultCleanupEvery      = time.Hour
	defaultCleanupLockPrefix = "bundling:cleanup:"
)

// PurgeOptions defines how to delete dequeued bundles and their messages.
type PurgeOptions struct {
	// Before removes bundles dequeued at or before this timestamp (required).
	Before time.Time
	// Limit caps the number of bundles deleted per call (0 uses the default).
	Limit int
}

// PurgeResult reports how many rows were removed.
type PurgeResult struct {
	Bundles  int64
	Messages int64
}

// CleanupMaintainerConfig controls periodic removal of dequeued bundles.
type CleanupMaintainerConfig struct {
	// Prefix is the table name prefix the maintained store uses.
	Prefix string
	// Retention removes bundles dequeued before now-retention (required).
	Retention time.Duration
	// CheckEvery is the interval between cleanup runs.
	CheckEvery time.Duration
	// Limit caps the number of bundles deleted per run (0 uses the default).
	Limit int
	// Documents, when set, deletes the rendered document of every purged
	// bundle before its rows are removed.
	Documents bundling.DocumentStore
	// LockName is the advisory lock name. Defaults to bundling:cleanup:<table>.
	LockName string
	// Clock overrides time source (useful for tests).
	Clock bundling.Clock
	// Logger receives warnings about cleanup failures.
	Logger bundling.Logger
}

// CleanupMaintainer runs periodic cleanup of dequeued bundles.
type CleanupMaintainer struct {
	store *Store
	cfg   CleanupMaintainerConfig
}

// PurgeDequeued removes dequeued bundles older than opts.Before along with
// their messages. Documents are left in place; the maintainer handles those.
func (s *Store) PurgeDequeued(ctx context.Context, opts PurgeOptions) (PurgeResult, error) {
	_, result, err := s.purgeDequeued(ctx, opts, nil, bundling.NopLogger{})

	return result, err
}

func (s *Store) purgeDequeued(ctx context.Context, opts PurgeOptions, docs bundling.DocumentStore, logger bundling.Logger) ([]bundling.ID, PurgeResult, error) {
	if opts.Before.IsZero() {
		return nil, PurgeResult{}, ErrPurgeBeforeRequired
	}
	limit := opts.Limit
	if limit == 0 {
		limit = defaultPurgeLimit
	}
	if limit < 0 {
		return nil, PurgeResult{}, ErrPurgeLimitInvalid
	}

	ids, err := s.dequeuedBefore(ctx, opts.Before, limit)
	if err != nil {
		return nil, PurgeResult{}, err
	}
	if len(ids) == 0 {
		return nil, PurgeResult{}, nil
	}

	// Documents go first so an interrupted purge never leaves a bundle row
	// pointing at a deleted document without a retry path.
	if docs != nil {
		for _, id := range ids {
			if err := docs.Delete(ctx, id); err != nil {
				logger.Warn("bundling cleanup document delete failed", "bundle_id", id, "err", err)
			}
		}
	}

	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	in := placeholders(len(args))

	// #nosec G201 -- table names are internal and sanitized.
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE bundle_id IN (%s)", messageTable(s.prefix), in), args...)
	if err != nil {
		return nil, PurgeResult{}, fmt.Errorf("bundling mysql: purge messages failed: %w", err)
	}
	messages, err := res.RowsAffected()
	if err != nil {
		return nil, PurgeResult{}, fmt.Errorf("bundling mysql: purge rows failed: %w", err)
	}

	// #nosec G201 -- table names are internal and sanitized.
	res, err = s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id IN (%s) AND status = ?", bundleTable(s.prefix), in),
		append(args, bundling.StatusDequeued)...)
	if err != nil {
		return nil, PurgeResult{}, fmt.Errorf("bundling mysql: purge bundles failed: %w", err)
	}
	bundles, err := res.RowsAffected()
	if err != nil {
		return nil, PurgeResult{}, fmt.Errorf("bundling mysql: purge rows failed: %w", err)
	}

	return ids, PurgeResult{Bundles: bundles, Messages: messages}, nil
}

func (s *Store) dequeuedBefore(ctx context.Context, before time.Time, limit int) ([]bundling.ID, error) {
	rows, err := s.db.QueryContext(ctx, s.queries.selectDequeuedBefore,
		bundling.StatusDequeued, before, limit)
	if err != nil {
		return nil, fmt.Errorf("bundling mysql: dequeued select failed: %w", err)
	}
	defer rows.Close()

	var ids []bundling.ID
	for rows.Next() {
		var id bundling.ID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("bundling mysql: dequeued scan failed: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bundling mysql: dequeued rows failed: %w", err)
	}

	return ids, nil
}

// NewCleanupMaintainer creates a new cleanup maintainer with defaults applied.
func NewCleanupMaintainer(db *sql.DB, cfg CleanupMaintainerConfig) (*CleanupMaintainer, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrRetentionInvalid
	}
	if cfg.Clock == nil {
		cfg.Clock = bundling.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = bundling.NopLogger{}
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultCleanupEvery
	}
	if cfg.Limit == 0 {
		cfg.Limit = defaultPurgeLimit
	}
	if cfg.Limit < 0 {
		return nil, ErrPurgeLimitInvalid
	}

	store, err := NewStore(db, WithPrefix(cfg.Prefix), WithValidatePayload(false))
	if err != nil {
		return nil, err
	}
	cfg.Prefix = store.prefix
	if cfg.LockName == "" {
		cfg.LockName = defaultCleanupLockPrefix + bundleTable(store.prefix)
	}

	return &CleanupMaintainer{store: store, cfg: cfg}, nil
}

// Run periodically deletes old dequeued bundles until the context is canceled.
func (m *CleanupMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	if _, err := m.Ensure(ctx); err != nil {
		m.cfg.Logger.Warn("bundling cleanup failed", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Ensure(ctx); err != nil {
				m.cfg.Logger.Warn("bundling cleanup failed", "err", err)
			}
		}
	}
}

// Ensure executes a single cleanup pass. The advisory lock keeps concurrent
// maintainers on the same tables from purging twice.
func (m *CleanupMaintainer) Ensure(ctx context.Context) (PurgeResult, error) {
	conn, err := m.store.db.Conn(ctx)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("bundling mysql: cleanup conn failed: %w", err)
	}
	defer conn.Close()

	locked, err := m.tryLock(ctx, conn)
	if err != nil {
		return PurgeResult{}, err
	}
	if !locked {
		m.cfg.Logger.Debug("bundling cleanup lock held by another session")

		return PurgeResult{}, nil
	}
	defer m.releaseLock(ctx, conn)

	before := m.cfg.Clock.Now().Add(-m.cfg.Retention)
	_, result, err := m.store.purgeDequeued(ctx, PurgeOptions{Before: before, Limit: m.cfg.Limit}, m.cfg.Documents, m.cfg.Logger)

	return result, err
}

func (m *CleanupMaintainer) tryLock(ctx context.Context, conn *sql.Conn) (bool, error) {
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", m.cfg.LockName).Scan(&got); err != nil {
		return false, fmt.Errorf("bundling mysql: acquire cleanup lock failed: %w", err)
	}
	if !got.Valid || got.Int64 == 0 {
		return false, nil
	}

	return true, nil
}

func (m *CleanupMaintainer) releaseLock(ctx context.Context, conn *sql.Conn) {
	var released sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", m.cfg.LockName).Scan(&released); err != nil {
		m.cfg.Logger.Warn("bundling cleanup release lock failed", "err", err)
	}
}
