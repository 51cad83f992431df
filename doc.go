// Package bundling provides an actor message queue and bundling engine with
// pluggable storage, rendering, and document-store backends.
//
// Typical flow:
//  1. Business processes enqueue outgoing messages through a Queue; each
//     message is assigned to the single open bundle for its delivery key.
//  2. A Bundler seals open bundles that breach the age, message-count, or
//     data-point thresholds, renders one document per sealed bundle, and
//     links it write-then-link into the document store.
//  3. Actors retrieve bundles with Queue.Peek, which takes an expiring lock
//     on the oldest ready bundle, and acknowledge them with Queue.Dequeue.
//
// For the MySQL implementation (one open bundle per key enforced by a unique
// index on a generated open-slot column), see the mysql package.
package bundling
