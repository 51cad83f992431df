package mysql

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("bundling mysql: db is required")
	// ErrPrefixRequired is returned when the table prefix is empty.
	ErrPrefixRequired = errors.New("bundling mysql: table prefix is required")
	// ErrInvalidPrefix is returned when the table prefix has disallowed characters.
	ErrInvalidPrefix = errors.New("bundling mysql: invalid table prefix")
	// ErrLockTokenRequired is returned when Lease is called without a token.
	ErrLockTokenRequired = errors.New("bundling mysql: lock token is required")
	// ErrLockTTLRequired is returned when Lease is called without a positive TTL.
	ErrLockTTLRequired = errors.New("bundling mysql: lock ttl must be positive")
	// ErrPurgeBeforeRequired is returned when the purge cutoff is missing.
	ErrPurgeBeforeRequired = errors.New("bundling mysql: purge before time is required")
	// ErrPurgeLimitInvalid is returned when the purge limit is negative.
	ErrPurgeLimitInvalid = errors.New("bundling mysql: purge limit must be non-negative")
	// ErrRetentionInvalid is returned when the cleanup retention is not positive.
	ErrRetentionInvalid = errors.New("bundling mysql: cleanup retention must be positive")

	// errOpenSlotRace signals that another transaction created the open
	// bundle first; the enqueue retries against the winner's row.
	errOpenSlotRace = errors.New("bundling mysql: open bundle slot race")
	// errDuplicateMessage signals an idempotent re-enqueue of a known id.
	errDuplicateMessage = errors.New("bundling mysql: duplicate message id")
)
