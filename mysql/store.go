package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/gridwise/bundling"
)

const mysqlDuplicateEntry = 1062

// Store implements the bundling store on MySQL.
type Store struct {
	db      *sql.DB
	cfg     Config
	queries queries
	prefix  string
}

var (
	_ bundling.Store        = (*Store)(nil)
	_ bundling.OpenCounter  = (*Store)(nil)
	_ bundling.ReadyCounter = (*Store)(nil)
)

// NewStore constructs a MySQL store with validated configuration.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	prefix, err := sanitizePrefix(cfg.Prefix)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		cfg:     cfg,
		queries: newQueries(prefix),
		prefix:  prefix,
	}, nil
}

// MustNewStore constructs a MySQL store or panics on error.
func MustNewStore(db *sql.DB, opts ...Option) *Store {
	store, err := NewStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// Add persists the message and assigns it to the open bundle for its key.
// Concurrent creators racing on an empty key lose to the unique open-slot
// index and retry against the winner's row.
func (s *Store) Add(ctx context.Context, msg bundling.OutgoingMessage, limits bundling.Limits) (bundling.EnqueueReceipt, error) {
	if err := bundling.ValidateMessage(msg, s.cfg.ValidatePayload); err != nil {
		return bundling.EnqueueReceipt{}, err
	}
	limits = limits.WithDefaults()

	id := msg.ID
	if id.IsZero() {
		var err error
		id, err = s.cfg.Generator.New()
		if err != nil {
			return bundling.EnqueueReceipt{}, fmt.Errorf("bundling mysql: generate id failed: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.AddAttempts; attempt++ {
		receipt, err := s.addOnce(ctx, msg, id, limits)
		if err == nil {
			return receipt, nil
		}
		if errors.Is(err, errDuplicateMessage) {
			return bundling.EnqueueReceipt{MessageID: id, Duplicate: true}, nil
		}
		if errors.Is(err, errOpenSlotRace) {
			lastErr = err

			continue
		}

		return bundling.EnqueueReceipt{}, err
	}

	return bundling.EnqueueReceipt{}, fmt.Errorf("bundling mysql: open bundle contention not resolved: %w", lastErr)
}

func (s *Store) addOnce(ctx context.Context, msg bundling.OutgoingMessage, id bundling.ID, limits bundling.Limits) (bundling.EnqueueReceipt, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return bundling.EnqueueReceipt{}, fmt.Errorf("bundling mysql: begin tx failed: %w", err)
	}

	receipt, err := s.addTx(ctx, tx, msg, id, limits)
	if err != nil {
		return bundling.EnqueueReceipt{}, errors.Join(err, rollback(tx))
	}

	if err := tx.Commit(); err != nil {
		return bundling.EnqueueReceipt{}, fmt.Errorf("bundling mysql: commit failed: %w", err)
	}

	return receipt, nil
}

func (s *Store) addTx(ctx context.Context, tx *sql.Tx, msg bundling.OutgoingMessage, id bundling.ID, limits bundling.Limits) (bundling.EnqueueReceipt, error) {
	now := s.cfg.Clock.Now()
	key := msg.Receiver

	bundle, found, err := s.openBundleForUpdate(ctx, tx, key)
	if err != nil {
		return bundling.EnqueueReceipt{}, err
	}

	// A bundle that cannot take this message is sealed here so the new open
	// bundle can be created without violating the one-open-per-key index.
	if found && !fits(bundle, msg, limits) {
		if err := s.sealTx(ctx, tx, bundle.ID, now); err != nil {
			return bundling.EnqueueReceipt{}, err
		}
		found = false
	}

	if !found {
		bundle, err = s.createOpenBundle(ctx, tx, key, now)
		if err != nil {
			return bundling.EnqueueReceipt{}, err
		}
	}

	if err := s.insertMessage(ctx, tx, bundle.ID, msg, id, now); err != nil {
		return bundling.EnqueueReceipt{}, err
	}

	newCount := bundle.MessageCount + 1
	newPoints := bundle.DataPointCount + msg.DataPoints
	if _, err := tx.ExecContext(ctx, s.queries.updateBundleCounters, newCount, newPoints, bundle.ID); err != nil {
		return bundling.EnqueueReceipt{}, fmt.Errorf("bundling mysql: counter update failed: %w", err)
	}

	sealed := newCount >= limits.MaxMessages || newPoints >= limits.MaxDataPoints
	if sealed {
		if err := s.sealTx(ctx, tx, bundle.ID, now); err != nil {
			return bundling.EnqueueReceipt{}, err
		}
	}

	return bundling.EnqueueReceipt{MessageID: id, BundleID: bundle.ID, Sealed: sealed}, nil
}

func fits(bundle bundling.Bundle, msg bundling.OutgoingMessage, limits bundling.Limits) bool {
	if bundle.MessageCount >= limits.MaxMessages {
		return false
	}
	if bundle.MessageCount > 0 && bundle.DataPointCount+msg.DataPoints > limits.MaxDataPoints {
		return false
	}

	return true
}

func (s *Store) openBundleForUpdate(ctx context.Context, tx *sql.Tx, key bundling.Key) (bundling.Bundle, bool, error) {
	row := tx.QueryRowContext(ctx, s.queries.selectOpenForUpdate,
		key.ActorNumber, key.ActorRole, key.Category, key.Format, bundling.StatusOpen)

	bundle, err := scanBundle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return bundling.Bundle{}, false, nil
	}
	if err != nil {
		return bundling.Bundle{}, false, fmt.Errorf("bundling mysql: open bundle select failed: %w", err)
	}

	return bundle, true, nil
}

func (s *Store) createOpenBundle(ctx context.Context, tx *sql.Tx, key bundling.Key, now time.Time) (bundling.Bundle, error) {
	id, err := s.cfg.Generator.New()
	if err != nil {
		return bundling.Bundle{}, fmt.Errorf("bundling mysql: generate bundle id failed: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.queries.insertBundle,
		id, key.ActorNumber, key.ActorRole, key.Category, key.Format, bundling.StatusOpen, now)
	if err != nil {
		if isDuplicate(err, "uq_open_bundle") {
			return bundling.Bundle{}, errOpenSlotRace
		}

		return bundling.Bundle{}, fmt.Errorf("bundling mysql: bundle insert failed: %w", err)
	}

	return bundling.Bundle{
		ID:        id,
		Key:       key,
		Status:    bundling.StatusOpen,
		CreatedAt: now,
	}, nil
}

func (s *Store) insertMessage(ctx context.Context, tx *sql.Tx, bundleID bundling.ID, msg bundling.OutgoingMessage, id bundling.ID, now time.Time) error {
	_, err := tx.ExecContext(ctx, s.queries.insertMessage,
		id,
		bundleID,
		msg.Receiver.ActorNumber,
		msg.Receiver.ActorRole,
		msg.Receiver.Category,
		msg.Receiver.Format,
		msg.DocumentType,
		nullString(msg.BusinessReason),
		nullString(msg.RelatedToMessageID),
		[]byte(msg.Payload),
		msg.DataPoints,
		now,
	)
	if err != nil {
		if isDuplicate(err, "PRIMARY") {
			return errDuplicateMessage
		}

		return fmt.Errorf("bundling mysql: message insert failed: %w", err)
	}

	return nil
}

func (s *Store) sealTx(ctx context.Context, tx *sql.Tx, id bundling.ID, now time.Time) error {
	if _, err := tx.ExecContext(ctx, s.queries.sealBundle,
		bundling.StatusClosed, now, id, bundling.StatusOpen); err != nil {
		return fmt.Errorf("bundling mysql: seal failed: %w", err)
	}

	return nil
}

// SealDue seals every open bundle breaching a limit at now. SKIP LOCKED
// leaves bundles touched by in-flight enqueues for the next pass.
func (s *Store) SealDue(ctx context.Context, limits bundling.Limits, now time.Time) ([]bundling.Bundle, error) {
	limits = limits.WithDefaults()
	cutoff := now.Add(-limits.MaxAge)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("bundling mysql: begin tx failed: %w", err)
	}

	bundles, err := s.sealDueTx(ctx, tx, limits, cutoff, now)
	if err != nil {
		rollbackErr := rollback(tx)

		return nil, errors.Join(err, rollbackErr)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("bundling mysql: commit failed: %w", err)
	}

	return bundles, nil
}

func (s *Store) sealDueTx(ctx context.Context, tx *sql.Tx, limits bundling.Limits, cutoff, now time.Time) ([]bundling.Bundle, error) {
	rows, err := tx.QueryContext(ctx, s.queries.selectDueForUpdate,
		bundling.StatusOpen, cutoff, limits.MaxMessages, limits.MaxDataPoints)
	if err != nil {
		return nil, fmt.Errorf("bundling mysql: due select failed: %w", err)
	}

	bundles, err := collectBundles(rows)
	if err != nil {
		return nil, err
	}
	if len(bundles) == 0 {
		return nil, nil
	}

	ids := make([]any, 0, len(bundles))
	for i := range bundles {
		ids = append(ids, bundles[i].ID)
	}
	query := fmt.Sprintf(
		"UPDATE %s SET status = ?, closed_at = ? WHERE id IN (%s) AND status = ?",
		bundleTable(s.prefix), placeholders(len(ids)),
	)
	args := make([]any, 0, len(ids)+3)
	args = append(args, bundling.StatusClosed, now)
	args = append(args, ids...)
	args = append(args, bundling.StatusOpen)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("bundling mysql: due seal failed: %w", err)
	}

	for i := range bundles {
		bundles[i].Status = bundling.StatusClosed
		bundles[i].ClosedAt = now
	}

	return bundles, nil
}

// Unrendered returns up to limit sealed bundles without a linked document.
func (s *Store) Unrendered(ctx context.Context, limit int) ([]bundling.Bundle, error) {
	rows, err := s.db.QueryContext(ctx, s.queries.selectUnrendered, bundling.StatusClosed, limit)
	if err != nil {
		return nil, fmt.Errorf("bundling mysql: unrendered select failed: %w", err)
	}

	return collectBundles(rows)
}

// BundleMessages returns the bundle's messages in enqueue order.
func (s *Store) BundleMessages(ctx context.Context, bundleID bundling.ID) ([]bundling.QueuedMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.queries.selectBundleMessages, bundleID)
	if err != nil {
		return nil, fmt.Errorf("bundling mysql: messages select failed: %w", err)
	}
	defer rows.Close()

	var messages []bundling.QueuedMessage
	for rows.Next() {
		var (
			msg            bundling.QueuedMessage
			businessReason sql.NullString
			relatedTo      sql.NullString
			payload        []byte
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.BundleID,
			&msg.Receiver.ActorNumber,
			&msg.Receiver.ActorRole,
			&msg.Receiver.Category,
			&msg.Receiver.Format,
			&msg.DocumentType,
			&businessReason,
			&relatedTo,
			&payload,
			&msg.DataPoints,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("bundling mysql: message scan failed: %w", err)
		}
		msg.BusinessReason = businessReason.String
		msg.RelatedToMessageID = relatedTo.String
		msg.Payload = payload
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bundling mysql: message rows failed: %w", err)
	}

	return messages, nil
}

// LinkDocument records the document reference on a sealed bundle. Linking is
// idempotent; an unknown bundle id returns bundling.ErrBundleNotFound.
func (s *Store) LinkDocument(ctx context.Context, bundleID bundling.ID, ref string) error {
	res, err := s.db.ExecContext(ctx, s.queries.linkDocument, ref, bundleID, bundling.StatusClosed)
	if err != nil {
		return fmt.Errorf("bundling mysql: link failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bundling mysql: link rows failed: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var existing sql.NullString
	err = s.db.QueryRowContext(ctx, s.queries.selectDocumentRef, bundleID).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return bundling.ErrBundleNotFound
	}
	if err != nil {
		return fmt.Errorf("bundling mysql: link verify failed: %w", err)
	}

	// Already linked (or progressed past Closed): nothing to do.
	return nil
}

// Lease implements the peek-lock protocol for one key.
func (s *Store) Lease(ctx context.Context, req bundling.LeaseRequest) (bundling.Bundle, error) {
	if err := req.Key.Validate(); err != nil {
		return bundling.Bundle{}, err
	}
	if req.Token == "" {
		return bundling.Bundle{}, ErrLockTokenRequired
	}
	if req.TTL <= 0 {
		return bundling.Bundle{}, ErrLockTTLRequired
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return bundling.Bundle{}, fmt.Errorf("bundling mysql: begin tx failed: %w", err)
	}

	bundle, err := s.leaseTx(ctx, tx, req)
	if errors.Is(err, bundling.ErrNothingReady) {
		// Commit, not roll back: an expired lock reclaimed above must
		// stick even when nothing is ready afterwards.
		if commitErr := tx.Commit(); commitErr != nil {
			return bundling.Bundle{}, fmt.Errorf("bundling mysql: commit failed: %w", commitErr)
		}

		return bundling.Bundle{}, bundling.ErrNothingReady
	}
	if err != nil {
		return bundling.Bundle{}, errors.Join(err, rollback(tx))
	}

	if err := tx.Commit(); err != nil {
		return bundling.Bundle{}, fmt.Errorf("bundling mysql: commit failed: %w", err)
	}

	return bundle, nil
}

func (s *Store) leaseTx(ctx context.Context, tx *sql.Tx, req bundling.LeaseRequest) (bundling.Bundle, error) {
	row := tx.QueryRowContext(ctx, s.queries.selectPeekedForUpdate,
		req.Key.ActorNumber, req.Key.ActorRole, req.Key.Category, req.Key.Format, bundling.StatusPeeked)
	peeked, err := scanBundle(row)
	switch {
	case err == nil:
		if peeked.LockExpiresAt.After(req.Now) {
			// Valid lock: idempotent re-peek returns the same bundle.
			return peeked, nil
		}
		// Expired lock: the only backward transition, Peeked -> Closed.
		if _, err := tx.ExecContext(ctx, s.queries.reclaimLock,
			bundling.StatusClosed, peeked.ID, bundling.StatusPeeked); err != nil {
			return bundling.Bundle{}, fmt.Errorf("bundling mysql: lock reclaim failed: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return bundling.Bundle{}, fmt.Errorf("bundling mysql: peeked select failed: %w", err)
	}

	row = tx.QueryRowContext(ctx, s.queries.selectReadyForUpdate,
		req.Key.ActorNumber, req.Key.ActorRole, req.Key.Category, req.Key.Format, bundling.StatusClosed)
	bundle, err := scanBundle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return bundling.Bundle{}, bundling.ErrNothingReady
	}
	if err != nil {
		return bundling.Bundle{}, fmt.Errorf("bundling mysql: ready select failed: %w", err)
	}

	expires := req.Now.Add(req.TTL)
	if _, err := tx.ExecContext(ctx, s.queries.lockBundle,
		bundling.StatusPeeked, req.Now, req.Token, expires, bundle.ID); err != nil {
		return bundling.Bundle{}, fmt.Errorf("bundling mysql: lock failed: %w", err)
	}

	bundle.Status = bundling.StatusPeeked
	bundle.PeekedAt = req.Now
	bundle.LockToken = req.Token
	bundle.LockExpiresAt = expires

	return bundle, nil
}

// Dequeue acknowledges a peeked bundle for the owning actor.
func (s *Store) Dequeue(ctx context.Context, bundleID bundling.ID, actorNumber, actorRole string, now time.Time) (bundling.DequeueOutcome, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return bundling.DequeueNotFound, fmt.Errorf("bundling mysql: begin tx failed: %w", err)
	}

	outcome, err := s.dequeueTx(ctx, tx, bundleID, actorNumber, actorRole, now)
	if err != nil {
		rollbackErr := rollback(tx)

		return bundling.DequeueNotFound, errors.Join(err, rollbackErr)
	}

	if err := tx.Commit(); err != nil {
		return bundling.DequeueNotFound, fmt.Errorf("bundling mysql: commit failed: %w", err)
	}

	return outcome, nil
}

func (s *Store) dequeueTx(ctx context.Context, tx *sql.Tx, bundleID bundling.ID, actorNumber, actorRole string, now time.Time) (bundling.DequeueOutcome, error) {
	row := tx.QueryRowContext(ctx, s.queries.selectBundleForUpdate, bundleID)
	bundle, err := scanBundle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return bundling.DequeueNotFound, nil
	}
	if err != nil {
		return bundling.DequeueNotFound, fmt.Errorf("bundling mysql: bundle select failed: %w", err)
	}

	if bundle.Key.ActorNumber != actorNumber || bundle.Key.ActorRole != actorRole {
		return bundling.DequeueForbidden, nil
	}

	switch bundle.Status {
	case bundling.StatusDequeued:
		return bundling.DequeueAlreadyDone, nil
	case bundling.StatusPeeked:
		// An expired lock is still honored here: only the owning actor can
		// acknowledge, so a late dequeue stays safe as long as the bundle
		// has not been re-peeked and dequeued already.
		if _, err := tx.ExecContext(ctx, s.queries.dequeueBundle,
			bundling.StatusDequeued, now, bundleID, bundling.StatusPeeked); err != nil {
			return bundling.DequeueNotFound, fmt.Errorf("bundling mysql: dequeue failed: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.queries.deliverMessages, now, bundleID); err != nil {
			return bundling.DequeueNotFound, fmt.Errorf("bundling mysql: deliver failed: %w", err)
		}

		return bundling.DequeueSuccess, nil
	default:
		// Open or sealed-but-never-peeked bundles are not acknowledgeable.
		return bundling.DequeueNotFound, nil
	}
}

// OpenCount returns the number of open bundles.
func (s *Store) OpenCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, s.queries.countOpen, bundling.StatusOpen).Scan(&count); err != nil {
		return 0, fmt.Errorf("bundling mysql: open count failed: %w", err)
	}

	return count, nil
}

// ReadyCount returns the number of ready (peekable) bundles.
func (s *Store) ReadyCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, s.queries.countReady, bundling.StatusClosed).Scan(&count); err != nil {
		return 0, fmt.Errorf("bundling mysql: ready count failed: %w", err)
	}

	return count, nil
}

func scanBundle(row *sql.Row) (bundling.Bundle, error) {
	var (
		bundle      bundling.Bundle
		documentRef sql.NullString
		lockToken   sql.NullString
		lockExpires sql.NullTime
		closedAt    sql.NullTime
		peekedAt    sql.NullTime
		dequeuedAt  sql.NullTime
	)
	err := row.Scan(
		&bundle.ID,
		&bundle.Key.ActorNumber,
		&bundle.Key.ActorRole,
		&bundle.Key.Category,
		&bundle.Key.Format,
		&bundle.Status,
		&bundle.MessageCount,
		&bundle.DataPointCount,
		&documentRef,
		&lockToken,
		&lockExpires,
		&bundle.CreatedAt,
		&closedAt,
		&peekedAt,
		&dequeuedAt,
	)
	if err != nil {
		return bundling.Bundle{}, err
	}

	bundle.DocumentRef = documentRef.String
	bundle.LockToken = lockToken.String
	bundle.LockExpiresAt = lockExpires.Time
	bundle.ClosedAt = closedAt.Time
	bundle.PeekedAt = peekedAt.Time
	bundle.DequeuedAt = dequeuedAt.Time

	return bundle, nil
}

func collectBundles(rows *sql.Rows) ([]bundling.Bundle, error) {
	defer rows.Close()

	var bundles []bundling.Bundle
	for rows.Next() {
		var (
			bundle      bundling.Bundle
			documentRef sql.NullString
			lockToken   sql.NullString
			lockExpires sql.NullTime
			closedAt    sql.NullTime
			peekedAt    sql.NullTime
			dequeuedAt  sql.NullTime
		)
		if err := rows.Scan(
			&bundle.ID,
			&bundle.Key.ActorNumber,
			&bundle.Key.ActorRole,
			&bundle.Key.Category,
			&bundle.Key.Format,
			&bundle.Status,
			&bundle.MessageCount,
			&bundle.DataPointCount,
			&documentRef,
			&lockToken,
			&lockExpires,
			&bundle.CreatedAt,
			&closedAt,
			&peekedAt,
			&dequeuedAt,
		); err != nil {
			return nil, fmt.Errorf("bundling mysql: bundle scan failed: %w", err)
		}
		bundle.DocumentRef = documentRef.String
		bundle.LockToken = lockToken.String
		bundle.LockExpiresAt = lockExpires.Time
		bundle.ClosedAt = closedAt.Time
		bundle.PeekedAt = peekedAt.Time
		bundle.DequeuedAt = dequeuedAt.Time
		bundles = append(bundles, bundle)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bundling mysql: bundle rows failed: %w", err)
	}

	return bundles, nil
}

func isDuplicate(err error, keyPart string) bool {
	var mysqlErr *gomysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}
	if mysqlErr.Number != mysqlDuplicateEntry {
		return false
	}

	return keyPart == "" || strings.Contains(mysqlErr.Message, keyPart)
}

func placeholders(count int) string {
	if count <= 0 {
		return ""
	}

	buf := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '?')
	}

	return string(buf)
}

func nullString(value string) any {
	if value == "" {
		return nil
	}

	return value
}

func rollback(tx *sql.Tx) error {
	err := tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}

	return err
}
