package bundling

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// EagerRenderer renders sealed-but-unpublished bundles outside the periodic
// pass. *Bundler implements it.
type EagerRenderer interface {
	// RenderPending renders every sealed bundle without a document.
	RenderPending(ctx context.Context) (int, error)
}

// PeekResult is a locked bundle and its document stream. The caller owns the
// stream and must close it.
type PeekResult struct {
	Bundle   Bundle
	Document io.ReadCloser
}

// Queue exposes the enqueue and peek/dequeue protocol over a Store and a
// DocumentStore.
type Queue struct {
	store Store
	docs  DocumentStore
	eager EagerRenderer
	cfg   QueueConfig
}

// NewQueue constructs a Queue with defaults and optional settings.
func NewQueue(store Store, docs DocumentStore, opts ...QueueOption) *Queue {
	if store == nil {
		panic("bundling: nil Store")
	}
	if docs == nil {
		panic("bundling: nil DocumentStore")
	}

	var cfg QueueConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Queue{
		store: store,
		docs:  docs,
		cfg:   cfg,
	}
}

// SetEagerRenderer wires the bundler used to render a bundle immediately
// after an enqueue seals it at a hard cap. Without it, cap-sealed bundles are
// rendered by the next periodic pass.
func (q *Queue) SetEagerRenderer(renderer EagerRenderer) {
	q.eager = renderer
}

// Enqueue persists the message and assigns it to the open bundle for its
// key. Re-enqueueing an id is a no-op. The enclosing business transaction
// must not be considered committed until Enqueue succeeds.
func (q *Queue) Enqueue(ctx context.Context, msg OutgoingMessage) (ID, error) {
	if err := msg.Validate(); err != nil {
		return ID{}, err
	}

	receipt, err := q.store.Add(ctx, msg, q.cfg.Limits)
	if err != nil {
		return ID{}, fmt.Errorf("bundling enqueue failed: %w", err)
	}

	if receipt.Duplicate {
		q.cfg.Metrics.AddDuplicates(1)
		q.cfg.Logger.Debug("duplicate message ignored", "message", receipt.MessageID)

		return receipt.MessageID, nil
	}

	q.cfg.Metrics.AddEnqueued(1)

	if receipt.Sealed {
		q.cfg.Metrics.AddSealed(1)
		q.cfg.Logger.Debug("bundle sealed at cap",
			"bundle", receipt.BundleID, "key", msg.Receiver.String())
		if q.eager != nil {
			// Best-effort: a failed eager render is retried by the next
			// periodic pass.
			if _, err := q.eager.RenderPending(ctx); err != nil && ctx.Err() == nil {
				q.cfg.Logger.Warn("eager render failed",
					"bundle", receipt.BundleID, "err", err)
			}
		}
	}

	return receipt.MessageID, nil
}

// Peek locks and returns the oldest ready bundle for the key. While a
// previous lock is unexpired, Peek returns the same bundle and document, so
// a retried request neither skips nor duplicates delivery. Returns
// ErrNothingReady when the queue is empty.
func (q *Queue) Peek(ctx context.Context, key Key) (PeekResult, error) {
	if err := key.Validate(); err != nil {
		return PeekResult{}, err
	}

	bundle, err := q.store.Lease(ctx, LeaseRequest{
		Key:   key,
		Token: q.cfg.TokenFunc(),
		Now:   q.cfg.Clock.Now(),
		TTL:   q.cfg.PeekLockTTL,
	})
	if err != nil {
		if errors.Is(err, ErrNothingReady) {
			return PeekResult{}, ErrNothingReady
		}

		return PeekResult{}, fmt.Errorf("bundling peek failed: %w", err)
	}

	document, err := q.docs.Get(ctx, bundle.ID)
	if err != nil {
		// The bundle stays peeked; the lock expires and the bundle becomes
		// peekable again, so a transient document store failure only delays
		// delivery.
		return PeekResult{}, fmt.Errorf("bundling document read failed for bundle %s: %w", bundle.ID, err)
	}

	q.cfg.Metrics.AddPeeked(1)
	q.cfg.Logger.Debug("bundle peeked",
		"bundle", bundle.ID, "key", key.String(), "lock_expires_at", bundle.LockExpiresAt)

	return PeekResult{Bundle: bundle, Document: document}, nil
}

// Dequeue acknowledges a peeked bundle. It is idempotent: acknowledging an
// already-dequeued bundle reports DequeueAlreadyDone with no state change.
// On success the stored document is deleted best-effort; orphans are removed
// by retention cleanup.
func (q *Queue) Dequeue(ctx context.Context, bundleID ID, actorNumber, actorRole string) (DequeueOutcome, error) {
	if actorNumber == "" {
		return DequeueForbidden, ErrActorNumberRequired
	}
	if actorRole == "" {
		return DequeueForbidden, ErrActorRoleRequired
	}

	outcome, err := q.store.Dequeue(ctx, bundleID, actorNumber, actorRole, q.cfg.Clock.Now())
	if err != nil {
		return outcome, fmt.Errorf("bundling dequeue failed: %w", err)
	}

	switch outcome {
	case DequeueSuccess:
		q.cfg.Metrics.AddDequeued(1)
		if err := q.docs.Delete(ctx, bundleID); err != nil {
			q.cfg.Logger.Warn("document delete failed, cleanup will collect it",
				"bundle", bundleID, "err", err)
		}
	case DequeueForbidden:
		// Security-relevant: an actor referenced a bundle it does not own.
		q.cfg.Logger.Warn("dequeue ownership violation",
			"bundle", bundleID, "actor", actorNumber, "role", actorRole)
	case DequeueAlreadyDone, DequeueNotFound:
	}

	return outcome, nil
}

func newLockToken() string {
	return uuid.NewString()
}
