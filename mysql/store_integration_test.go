//go:build integration

package mysql_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gridwise/bundling"
	"github.com/gridwise/bundling/mysql"
)

func testKey(format string) bundling.Key {
	return bundling.Key{
		ActorNumber: "5790001330552",
		ActorRole:   "EnergySupplier",
		Category:    "Aggregations",
		Format:      format,
	}
}

func testMessage(key bundling.Key, points int) bundling.OutgoingMessage {
	return bundling.OutgoingMessage{
		Receiver:     key,
		DocumentType: "NotifyAggregatedMeasureData",
		Payload:      json.RawMessage(`{"points":[1,2,3]}`),
		DataPoints:   points,
	}
}

func TestStoreAddSealsAtCapIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})
	setupSchema(t, ctx, db)

	store, err := mysql.NewStore(db)
	require.NoError(t, err)

	key := testKey("XML")
	limits := bundling.Limits{MaxMessages: 3}

	var sealedAt int
	for i := 0; i < 5; i++ {
		receipt, err := store.Add(ctx, testMessage(key, 1), limits)
		require.NoError(t, err)
		require.False(t, receipt.Duplicate)
		if receipt.Sealed {
			sealedAt = i
		}
	}
	require.Equal(t, 2, sealedAt, "third message should seal the bundle")

	require.Equal(t, 1, countBundles(t, ctx, db, bundling.StatusClosed))
	require.Equal(t, 1, countBundles(t, ctx, db, bundling.StatusOpen))

	var closedCount, openCount int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT message_count FROM outgoing_bundles WHERE status = ?", bundling.StatusClosed).Scan(&closedCount))
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT message_count FROM outgoing_bundles WHERE status = ?", bundling.StatusOpen).Scan(&openCount))
	require.Equal(t, 3, closedCount)
	require.Equal(t, 2, openCount)
}

func TestStoreAddDuplicateIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})
	setupSchema(t, ctx, db)

	store, err := mysql.NewStore(db)
	require.NoError(t, err)

	msg := testMessage(testKey("XML"), 7)
	msg.ID, err = bundling.NewID()
	require.NoError(t, err)

	first, err := store.Add(ctx, msg, bundling.Limits{})
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := store.Add(ctx, msg, bundling.Limits{})
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, msg.ID, second.MessageID)

	var messages, points int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT message_count, data_point_count FROM outgoing_bundles WHERE id = ?",
		first.BundleID).Scan(&messages, &points))
	require.Equal(t, 1, messages, "duplicate must not change counters")
	require.Equal(t, 7, points)
}

func TestStoreOpenSlotRaceIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})
	setupSchema(t, ctx, db)

	store, err := mysql.NewStore(db, mysql.WithAddAttempts(10))
	require.NoError(t, err)

	key := testKey("XML")
	const workers = 16

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Add(ctx, testMessage(key, 1), bundling.Limits{}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent add: %v", err)
	}

	require.Equal(t, 1, countBundles(t, ctx, db, bundling.StatusOpen),
		"only one open bundle may exist per key")

	var messages int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM outgoing_messages").Scan(&messages))
	require.Equal(t, workers, messages)
}

func TestStoreProtocolIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})
	setupSchema(t, ctx, db)

	store, err := mysql.NewStore(db)
	require.NoError(t, err)

	key := testKey("XML")
	limits := bundling.Limits{}

	var messageIDs []bundling.ID
	for i := 0; i < 3; i++ {
		receipt, err := store.Add(ctx, testMessage(key, 10), limits)
		require.NoError(t, err)
		messageIDs = append(messageIDs, receipt.MessageID)
	}

	// Age threshold reached: the pass seals the open bundle.
	future := time.Now().UTC().Add(bundling.DefaultMaxBundleAge + time.Minute)
	sealed, err := store.SealDue(ctx, limits, future)
	require.NoError(t, err)
	require.Len(t, sealed, 1)
	bundleID := sealed[0].ID

	unrendered, err := store.Unrendered(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unrendered, 1)
	require.Equal(t, bundleID, unrendered[0].ID)

	messages, err := store.BundleMessages(ctx, bundleID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i, msg := range messages {
		require.Equal(t, messageIDs[i], msg.ID, "messages must come back in enqueue order")
	}

	require.NoError(t, store.LinkDocument(ctx, bundleID, bundleID.String()))
	// Linking again is a no-op.
	require.NoError(t, store.LinkDocument(ctx, bundleID, "other-ref"))

	unrendered, err = store.Unrendered(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, unrendered)

	// Peek lock, idempotent re-peek, expiry reclaim.
	now := future
	leased, err := store.Lease(ctx, bundling.LeaseRequest{Key: key, Token: "token-1", Now: now, TTL: 2 * time.Minute})
	require.NoError(t, err)
	require.Equal(t, bundleID, leased.ID)
	require.Equal(t, bundleID.String(), leased.DocumentRef)

	again, err := store.Lease(ctx, bundling.LeaseRequest{Key: key, Token: "token-2", Now: now.Add(time.Minute), TTL: 2 * time.Minute})
	require.NoError(t, err)
	require.Equal(t, bundleID, again.ID)
	require.Equal(t, "token-1", again.LockToken, "unexpired lock must be kept")

	expired, err := store.Lease(ctx, bundling.LeaseRequest{Key: key, Token: "token-3", Now: now.Add(time.Hour), TTL: 2 * time.Minute})
	require.NoError(t, err)
	require.Equal(t, bundleID, expired.ID)
	require.Equal(t, "token-3", expired.LockToken, "expired lock must be reissued")

	// Dequeue protocol.
	outcome, err := store.Dequeue(ctx, bundleID, "5790000000000", key.ActorRole, now)
	require.NoError(t, err)
	require.Equal(t, bundling.DequeueForbidden, outcome)

	outcome, err = store.Dequeue(ctx, bundleID, key.ActorNumber, key.ActorRole, now)
	require.NoError(t, err)
	require.Equal(t, bundling.DequeueSuccess, outcome)

	outcome, err = store.Dequeue(ctx, bundleID, key.ActorNumber, key.ActorRole, now)
	require.NoError(t, err)
	require.Equal(t, bundling.DequeueAlreadyDone, outcome)

	unknown, err := bundling.NewID()
	require.NoError(t, err)
	outcome, err = store.Dequeue(ctx, unknown, key.ActorNumber, key.ActorRole, now)
	require.NoError(t, err)
	require.Equal(t, bundling.DequeueNotFound, outcome)

	var delivered int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM outgoing_messages WHERE delivered_at IS NOT NULL").Scan(&delivered))
	require.Equal(t, 3, delivered)

	_, err = store.Lease(ctx, bundling.LeaseRequest{Key: key, Token: "token-4", Now: now, TTL: time.Minute})
	require.ErrorIs(t, err, bundling.ErrNothingReady)
}

func TestStoreLeaseRequiresDocumentIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})
	setupSchema(t, ctx, db)

	store, err := mysql.NewStore(db)
	require.NoError(t, err)

	key := testKey("XML")
	_, err = store.Add(ctx, testMessage(key, 1), bundling.Limits{})
	require.NoError(t, err)

	future := time.Now().UTC().Add(bundling.DefaultMaxBundleAge + time.Minute)
	sealed, err := store.SealDue(ctx, bundling.Limits{}, future)
	require.NoError(t, err)
	require.Len(t, sealed, 1)

	// Sealed but unrendered: not yet peekable.
	_, err = store.Lease(ctx, bundling.LeaseRequest{Key: key, Token: "token", Now: future, TTL: time.Minute})
	require.ErrorIs(t, err, bundling.ErrNothingReady)
}

func countBundles(t *testing.T, ctx context.Context, db *sql.DB, status bundling.BundleStatus) int {
	t.Helper()
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM outgoing_bundles WHERE status = ?", status).Scan(&count)
	require.NoError(t, err)

	return count
}

func startMySQLContainer(t *testing.T, ctx context.Context) (testcontainers.Container, *sql.DB) {
	t.Helper()
	port := nat.Port("3306/tcp")
	req := testcontainers.ContainerRequest{
		Image:        "mysql:8.0.36",
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": "secret",
			"MYSQL_DATABASE":      "bundling",
		},
		WaitingFor: wait.ForSQL(port, "mysql", func(host string, port nat.Port) string {
			return fmt.Sprintf("root:secret@tcp(%s:%s)/bundling?parseTime=true&multiStatements=true", host, port.Port())
		}).WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start mysql container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("resolve host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, port)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("resolve port: %v", err)
	}

	dsn := fmt.Sprintf("root:secret@tcp(%s:%s)/bundling?parseTime=true&multiStatements=true", host, mappedPort.Port())
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("open db: %v", err)
	}

	return container, db
}

func setupSchema(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()
	schema, err := mysql.Schema("outgoing")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, schema)
	require.NoError(t, err)
}
