package bundling

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store used by the queue and bundler tests. It
// mirrors the storage contract: one open bundle per key, cap sealing inside
// Add, oldest-first leasing, and idempotent dequeue.
type memStore struct {
	mu       sync.Mutex
	bundles  map[ID]*Bundle
	messages map[ID][]QueuedMessage
	seen     map[ID]struct{}
	nextID   byte

	addErr    error
	leaseErr  error
	linkCalls int
}

func newMemStore() *memStore {
	return &memStore{
		bundles:  make(map[ID]*Bundle),
		messages: make(map[ID][]QueuedMessage),
		seen:     make(map[ID]struct{}),
	}
}

func (s *memStore) newID() ID {
	s.nextID++

	return ID{s.nextID}
}

func (s *memStore) Add(ctx context.Context, msg OutgoingMessage, limits Limits) (EnqueueReceipt, error) {
	// Fail before any state change, the way a driver call would.
	if err := ctx.Err(); err != nil {
		return EnqueueReceipt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.addErr != nil {
		return EnqueueReceipt{}, s.addErr
	}
	limits = limits.WithDefaults()

	id := msg.ID
	if id.IsZero() {
		id = s.newID()
	}
	if _, dup := s.seen[id]; dup {
		return EnqueueReceipt{MessageID: id, Duplicate: true}, nil
	}
	s.seen[id] = struct{}{}

	open := s.openBundle(msg.Receiver)
	if open != nil && !s.fits(open, msg, limits) {
		s.seal(open, time.Now())
		open = nil
	}
	if open == nil {
		bundle := &Bundle{ID: s.newID(), Key: msg.Receiver, Status: StatusOpen, CreatedAt: time.Now()}
		s.bundles[bundle.ID] = bundle
		open = bundle
	}

	s.messages[open.ID] = append(s.messages[open.ID], QueuedMessage{
		ID:           id,
		BundleID:     open.ID,
		Receiver:     msg.Receiver,
		DocumentType: msg.DocumentType,
		Payload:      msg.Payload,
		DataPoints:   msg.DataPoints,
	})
	open.MessageCount++
	open.DataPointCount += msg.DataPoints

	sealed := open.MessageCount >= limits.MaxMessages || open.DataPointCount >= limits.MaxDataPoints
	if sealed {
		s.seal(open, time.Now())
	}

	return EnqueueReceipt{MessageID: id, BundleID: open.ID, Sealed: sealed}, nil
}

func (s *memStore) openBundle(key Key) *Bundle {
	for _, bundle := range s.bundles {
		if bundle.Status == StatusOpen && bundle.Key == key {
			return bundle
		}
	}

	return nil
}

func (s *memStore) fits(bundle *Bundle, msg OutgoingMessage, limits Limits) bool {
	if bundle.MessageCount >= limits.MaxMessages {
		return false
	}
	if bundle.MessageCount > 0 && bundle.DataPointCount+msg.DataPoints > limits.MaxDataPoints {
		return false
	}

	return true
}

func (s *memStore) seal(bundle *Bundle, now time.Time) {
	bundle.Status = StatusClosed
	bundle.ClosedAt = now
}

func (s *memStore) SealDue(ctx context.Context, limits Limits, now time.Time) ([]Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	limits = limits.WithDefaults()
	cutoff := now.Add(-limits.MaxAge)

	var sealed []Bundle
	for _, bundle := range s.bundles {
		if bundle.Status != StatusOpen {
			continue
		}
		due := !bundle.CreatedAt.After(cutoff) ||
			bundle.MessageCount >= limits.MaxMessages ||
			bundle.DataPointCount >= limits.MaxDataPoints
		if due {
			s.seal(bundle, now)
			sealed = append(sealed, *bundle)
		}
	}

	return sealed, nil
}

func (s *memStore) Unrendered(_ context.Context, limit int) ([]Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Bundle
	for _, bundle := range s.bundles {
		if bundle.Status == StatusClosed && bundle.DocumentRef == "" {
			out = append(out, *bundle)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (s *memStore) BundleMessages(_ context.Context, bundleID ID) ([]QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]QueuedMessage(nil), s.messages[bundleID]...), nil
}

func (s *memStore) LinkDocument(_ context.Context, bundleID ID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.linkCalls++
	bundle, ok := s.bundles[bundleID]
	if !ok {
		return ErrBundleNotFound
	}
	if bundle.Status == StatusClosed && bundle.DocumentRef == "" {
		bundle.DocumentRef = ref
	}

	return nil
}

func (s *memStore) Lease(ctx context.Context, req LeaseRequest) (Bundle, error) {
	if err := ctx.Err(); err != nil {
		return Bundle{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leaseErr != nil {
		return Bundle{}, s.leaseErr
	}

	for _, bundle := range s.bundles {
		if bundle.Status != StatusPeeked || bundle.Key != req.Key {
			continue
		}
		if bundle.LockExpiresAt.After(req.Now) {
			return *bundle, nil
		}
		bundle.Status = StatusClosed
	}

	var oldest *Bundle
	for _, bundle := range s.bundles {
		if bundle.Status != StatusClosed || bundle.Key != req.Key || bundle.DocumentRef == "" {
			continue
		}
		if oldest == nil || bundle.ClosedAt.Before(oldest.ClosedAt) {
			oldest = bundle
		}
	}
	if oldest == nil {
		return Bundle{}, ErrNothingReady
	}

	oldest.Status = StatusPeeked
	oldest.PeekedAt = req.Now
	oldest.LockToken = req.Token
	oldest.LockExpiresAt = req.Now.Add(req.TTL)

	return *oldest, nil
}

func (s *memStore) Dequeue(ctx context.Context, bundleID ID, actorNumber, actorRole string, now time.Time) (DequeueOutcome, error) {
	if err := ctx.Err(); err != nil {
		return DequeueNotFound, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bundle, ok := s.bundles[bundleID]
	if !ok {
		return DequeueNotFound, nil
	}
	if bundle.Key.ActorNumber != actorNumber || bundle.Key.ActorRole != actorRole {
		return DequeueForbidden, nil
	}

	switch bundle.Status {
	case StatusDequeued:
		return DequeueAlreadyDone, nil
	case StatusPeeked:
		bundle.Status = StatusDequeued
		bundle.DequeuedAt = now

		return DequeueSuccess, nil
	default:
		return DequeueNotFound, nil
	}
}

func (s *memStore) OpenCount(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.countStatus(StatusOpen), nil
}

func (s *memStore) ReadyCount(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, bundle := range s.bundles {
		if bundle.Ready() {
			count++
		}
	}

	return count, nil
}

func (s *memStore) countStatus(status BundleStatus) int {
	count := 0
	for _, bundle := range s.bundles {
		if bundle.Status == status {
			count++
		}
	}

	return count
}

func (s *memStore) bundleByID(id ID) Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()

	bundle, ok := s.bundles[id]
	if !ok {
		return Bundle{}
	}

	return *bundle
}

var (
	_ Store        = (*memStore)(nil)
	_ OpenCounter  = (*memStore)(nil)
	_ ReadyCounter = (*memStore)(nil)
)

// fixedClock is a settable test clock.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(now time.Time) *fixedClock {
	return &fixedClock{now: now}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memDocs is an in-memory DocumentStore for tests.
type memDocs struct {
	mu      sync.Mutex
	docs    map[ID][]byte
	getErr  error
	deletes int
}

func newMemDocs() *memDocs {
	return &memDocs{docs: make(map[ID][]byte)}
}

func (d *memDocs) Put(_ context.Context, id ID, content io.Reader) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs[id] = data

	return nil
}

func (d *memDocs) Get(_ context.Context, id ID) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.getErr != nil {
		return nil, d.getErr
	}
	data, ok := d.docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

func (d *memDocs) Delete(_ context.Context, id ID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deletes++
	delete(d.docs, id)

	return nil
}

func (d *memDocs) has(id ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.docs[id]

	return ok
}

var _ DocumentStore = (*memDocs)(nil)

// staticResolver returns the same renderer for every format.
type staticResolver struct {
	renderer DocumentRenderer
	err      error
}

func (r staticResolver) Renderer(string) (DocumentRenderer, error) {
	if r.err != nil {
		return nil, r.err
	}

	return r.renderer, nil
}

type captureMetrics struct {
	mu             sync.Mutex
	enqueued       int
	duplicates     int
	sealed         int
	rendered       int
	renderFailures int
	peeked         int
	dequeued       int
	passDurations  int
	openBundles    int
	readyBundles   int
	gaugeCalls     int
}

func (m *captureMetrics) AddEnqueued(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued += count
}

func (m *captureMetrics) AddDuplicates(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicates += count
}

func (m *captureMetrics) AddSealed(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sealed += count
}

func (m *captureMetrics) AddRendered(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rendered += count
}

func (m *captureMetrics) AddRenderFailures(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renderFailures += count
}

func (m *captureMetrics) AddPeeked(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peeked += count
}

func (m *captureMetrics) AddDequeued(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dequeued += count
}

func (m *captureMetrics) ObservePassDuration(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passDurations++
}

func (m *captureMetrics) SetOpenBundles(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openBundles = count
	m.gaugeCalls++
}

func (m *captureMetrics) SetReadyBundles(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readyBundles = count
	m.gaugeCalls++
}

var _ Metrics = (*captureMetrics)(nil)

type recordNotifier struct {
	mu      sync.Mutex
	bundles []Bundle
	err     error
}

func (n *recordNotifier) BundleReady(_ context.Context, bundle Bundle) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bundles = append(n.bundles, bundle)

	return n.err
}
