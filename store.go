package bundling

import (
	"context"
	"time"
)

// Limits are the bundle closing thresholds. A bundle is sealed when any one
// of them is breached.
type Limits struct {
	// MaxAge seals a bundle once its age since creation exceeds this.
	MaxAge time.Duration
	// MaxMessages seals a bundle when its message count reaches this cap.
	MaxMessages int
	// MaxDataPoints seals a bundle when its accumulated data-point count
	// reaches this cap, keeping the rendered document under the downstream
	// transport size limit.
	MaxDataPoints int
}

// WithDefaults fills zero thresholds with the package defaults.
func (l Limits) WithDefaults() Limits {
	if l.MaxAge <= 0 {
		l.MaxAge = DefaultMaxBundleAge
	}
	if l.MaxMessages <= 0 {
		l.MaxMessages = DefaultMaxMessages
	}
	if l.MaxDataPoints <= 0 {
		l.MaxDataPoints = DefaultMaxDataPoints
	}

	return l
}

// EnqueueReceipt reports what an Add did.
type EnqueueReceipt struct {
	// MessageID is the stored message id (generated when the input id was zero).
	MessageID ID
	// BundleID is the bundle the message was assigned to.
	BundleID ID
	// Duplicate is true when the message id already existed and the call was
	// a no-op.
	Duplicate bool
	// Sealed is true when this enqueue brought the bundle to a hard cap and
	// sealed it; the caller should trigger an eager render.
	Sealed bool
}

// LeaseRequest asks for the oldest ready bundle of a key under a fresh peek
// lock, or for the currently locked bundle when a valid lock is still held.
type LeaseRequest struct {
	Key Key
	// Token is the lock token to stamp when a new lock is taken.
	Token string
	Now   time.Time
	TTL   time.Duration
}

// Store is the durable repository for messages and bundles. Implementations
// must keep every mutation transactional: a cancelled call leaves no partial
// state transition observable.
type Store interface {
	// Add persists a message and assigns it to the open bundle for its key,
	// creating one if needed and sealing the predecessor when the message
	// would breach a cap. Safe under concurrent callers racing on one key;
	// idempotent with respect to message id.
	Add(ctx context.Context, msg OutgoingMessage, limits Limits) (EnqueueReceipt, error)

	// SealDue seals every open bundle breaching any limit at now and returns
	// the sealed bundles.
	SealDue(ctx context.Context, limits Limits, now time.Time) ([]Bundle, error)

	// Unrendered returns up to limit sealed bundles whose document has not
	// been linked yet, oldest first.
	Unrendered(ctx context.Context, limit int) ([]Bundle, error)

	// BundleMessages returns the bundle's messages in enqueue order.
	BundleMessages(ctx context.Context, bundleID ID) ([]QueuedMessage, error)

	// LinkDocument records the document reference on a sealed bundle. The
	// call is idempotent; linking an unknown bundle returns ErrBundleNotFound.
	LinkDocument(ctx context.Context, bundleID ID, ref string) error

	// Lease implements the peek-lock protocol for one key: an unexpired lock
	// returns the same bundle again, an expired lock is reclaimed
	// (Peeked -> Closed) before the oldest ready bundle is locked. Returns
	// ErrNothingReady when the queue is empty.
	Lease(ctx context.Context, req LeaseRequest) (Bundle, error)

	// Dequeue acknowledges a peeked bundle for the owning actor, marking it
	// and its messages as delivered.
	Dequeue(ctx context.Context, bundleID ID, actorNumber, actorRole string, now time.Time) (DequeueOutcome, error)
}

// OpenCounter optionally reports the number of open bundles.
type OpenCounter interface {
	// OpenCount returns the current number of open bundles.
	OpenCount(ctx context.Context) (int, error)
}

// ReadyCounter optionally reports the number of ready (peekable) bundles.
type ReadyCounter interface {
	// ReadyCount returns the current number of ready bundles.
	ReadyCount(ctx context.Context) (int, error)
}
