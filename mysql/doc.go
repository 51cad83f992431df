// Package mysql provides a MySQL 8.0+ implementation of the bundling store.
//
// The implementation uses:
//   - READ COMMITTED isolation (to avoid gap locks)
//   - a unique index over a generated open-slot column, enforcing at most
//     one open bundle per (actor, role, category, format) key
//   - SELECT ... FOR UPDATE on the open bundle row so concurrent enqueues
//     for one key serialize on that row only
//   - SELECT ... FOR UPDATE SKIP LOCKED when sealing due bundles
//   - ORDER BY id ASC (UUID v7 time ordering) for enqueue-order reads
//
// See Schema for the table definitions and CleanupMaintainer for periodic
// purging of dequeued bundles past retention.
package mysql
