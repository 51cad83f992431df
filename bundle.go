package bundling

import "time"

// BundleStatus represents the lifecycle state of a bundle. Status only moves
// forward, with a single allowed back-edge Peeked -> Closed when a peek lock
// expires unacknowledged.
type BundleStatus int16

const (
	// StatusOpen indicates the bundle accepts new messages.
	StatusOpen BundleStatus = 0
	// StatusClosed indicates the bundle is sealed; once its document is
	// linked it is ready for delivery.
	StatusClosed BundleStatus = 1
	// StatusPeeked indicates the bundle is locked by an in-flight delivery.
	StatusPeeked BundleStatus = 2
	// StatusDequeued indicates the bundle was acknowledged and is terminal.
	StatusDequeued BundleStatus = 3
)

// String returns the status name for logging.
func (s BundleStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusPeeked:
		return "peeked"
	case StatusDequeued:
		return "dequeued"
	default:
		return "unknown"
	}
}

// Bundle is the unit of delivery: a batch of outgoing messages for one key,
// rendered as a single document.
type Bundle struct {
	ID             ID
	Key            Key
	Status         BundleStatus
	MessageCount   int
	DataPointCount int
	// DocumentRef references the rendered document in the document store.
	// Empty until the document write is confirmed (write-then-link).
	DocumentRef string
	// LockToken identifies the peek lock owner. Empty unless Status is
	// StatusPeeked.
	LockToken     string
	LockExpiresAt time.Time
	CreatedAt     time.Time
	ClosedAt      time.Time
	PeekedAt      time.Time
	DequeuedAt    time.Time
}

// Ready reports whether the bundle is eligible for Peek.
func (b Bundle) Ready() bool {
	return b.Status == StatusClosed && b.DocumentRef != ""
}

// DequeueOutcome is the result of an acknowledgment attempt.
type DequeueOutcome int16

const (
	// DequeueSuccess indicates the bundle transitioned to StatusDequeued.
	DequeueSuccess DequeueOutcome = iota
	// DequeueAlreadyDone indicates the bundle was already dequeued; the call
	// is an idempotent no-op.
	DequeueAlreadyDone
	// DequeueNotFound indicates the bundle id is unknown or the bundle is
	// not currently deliverable to the caller.
	DequeueNotFound
	// DequeueForbidden indicates the bundle belongs to a different actor.
	DequeueForbidden
)

// String returns the outcome name for logging.
func (o DequeueOutcome) String() string {
	switch o {
	case DequeueSuccess:
		return "success"
	case DequeueAlreadyDone:
		return "already-dequeued"
	case DequeueNotFound:
		return "not-found"
	case DequeueForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}
