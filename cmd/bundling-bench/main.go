// Command bundling-bench runs MySQL-backed benchmarks for the bundling
// engine: concurrent producers enqueue messages across a set of receiver
// keys, bundling passes seal and render, and consumers drain the queue
// through peek/dequeue.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/gridwise/bundling"
	"github.com/gridwise/bundling/docstore"
	"github.com/gridwise/bundling/mysql"
	"github.com/gridwise/bundling/render"
)

type mode string

const (
	modeEnqueue mode = "enqueue"
	modeDrain   mode = "drain"
	modeMixed   mode = "mixed"
)

const (
	defaultRecords      = 10000
	defaultPayloadBytes = 256
	defaultDataPoints   = 24
	defaultProducers    = 4
	defaultConsumers    = 2
	defaultKeys         = 8
	defaultDrainTimeout = 2 * time.Minute
	drainIdleSleep      = 50 * time.Millisecond
	exitUsage           = 2
)

var (
	errDSNRequired     = errors.New("bundling-bench: dsn is required")
	errInvalidMode     = errors.New("bundling-bench: invalid mode")
	errDrainIncomplete = errors.New("bundling-bench: drain did not finish before timeout")
)

type result struct {
	Mode              mode          `json:"mode"`
	Records           int           `json:"records"`
	Keys              int           `json:"keys"`
	Producers         int           `json:"producers"`
	Consumers         int           `json:"consumers"`
	PayloadBytes      int           `json:"payload_bytes"`
	DataPoints        int           `json:"data_points"`
	Enqueued          int64         `json:"enqueued"`
	SealedBundles     int64         `json:"sealed_bundles"`
	RenderedBundles   int64         `json:"rendered_bundles"`
	DequeuedBundles   int64         `json:"dequeued_bundles"`
	DequeuedMessages  int64         `json:"dequeued_messages"`
	EnqueueDuration   time.Duration `json:"enqueue_duration"`
	DrainDuration     time.Duration `json:"drain_duration"`
	EnqueuePerSecond  float64       `json:"enqueue_msg_per_sec"`
	DequeuePerSecond  float64       `json:"dequeue_msg_per_sec"`
	TotalDuration     time.Duration `json:"total_duration"`
	MaxMessagesLimit  int           `json:"max_messages_limit"`
	MaxDataPointLimit int           `json:"max_data_point_limit"`
}

type benchConfig struct {
	dsn          string
	prefix       string
	mode         mode
	records      int
	keys         int
	producers    int
	consumers    int
	payloadBytes int
	dataPoints   int
	maxMessages  int
	maxPoints    int
	drainTimeout time.Duration
	reset        bool
	jsonOut      bool
}

func main() {
	var cfg benchConfig
	var modeFlag string

	flag.StringVar(&cfg.dsn, "dsn", os.Getenv("BUNDLING_DSN"), "MySQL DSN")
	flag.StringVar(&cfg.prefix, "prefix", "bench", "Table name prefix")
	flag.StringVar(&modeFlag, "mode", string(modeMixed), "Benchmark mode: enqueue, drain or mixed")
	flag.IntVar(&cfg.records, "records", defaultRecords, "Messages to enqueue")
	flag.IntVar(&cfg.keys, "keys", defaultKeys, "Distinct receiver keys")
	flag.IntVar(&cfg.producers, "producers", defaultProducers, "Concurrent producers")
	flag.IntVar(&cfg.consumers, "consumers", defaultConsumers, "Concurrent consumers")
	flag.IntVar(&cfg.payloadBytes, "payload-bytes", defaultPayloadBytes, "Payload size per message")
	flag.IntVar(&cfg.dataPoints, "data-points", defaultDataPoints, "Data points per message")
	flag.IntVar(&cfg.maxMessages, "max-messages", 0, "Bundle message threshold (0 uses default)")
	flag.IntVar(&cfg.maxPoints, "max-data-points", 0, "Bundle data point threshold (0 uses default)")
	flag.DurationVar(&cfg.drainTimeout, "drain-timeout", defaultDrainTimeout, "Give up draining after this long")
	flag.BoolVar(&cfg.reset, "reset", true, "Truncate tables before the run")
	flag.BoolVar(&cfg.jsonOut, "json", false, "Print the result as JSON")
	flag.Parse()

	cfg.mode = mode(modeFlag)

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errDSNRequired) || errors.Is(err, errInvalidMode) {
			os.Exit(exitUsage)
		}
		os.Exit(1)
	}
}

func run(cfg benchConfig) error {
	if err := validateBench(cfg); err != nil {
		return err
	}

	db, err := sql.Open("mysql", cfg.dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.producers + cfg.consumers + 2)

	ctx := context.Background()

	if err := ensureSchema(ctx, db, cfg.prefix); err != nil {
		return err
	}
	if cfg.reset {
		if err := truncate(ctx, db, cfg.prefix); err != nil {
			return err
		}
	}

	store, err := mysql.NewStore(db, mysql.WithPrefix(cfg.prefix))
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	docs := docstore.NewMemory()
	limits := bundling.Limits{MaxMessages: cfg.maxMessages, MaxDataPoints: cfg.maxPoints}.WithDefaults()

	queue := bundling.NewQueue(store, docs, bundling.WithQueueLimits(limits))

	// The bundler gets a near-zero age threshold so partially filled
	// bundles seal on the first pass instead of waiting out the default.
	passLimits := limits
	passLimits.MaxAge = time.Nanosecond
	bundler := bundling.NewBundler(store, render.Default(), docs, bundling.WithLimits(passLimits))

	res := result{
		Mode:              cfg.mode,
		Records:           cfg.records,
		Keys:              cfg.keys,
		Producers:         cfg.producers,
		Consumers:         cfg.consumers,
		PayloadBytes:      cfg.payloadBytes,
		DataPoints:        cfg.dataPoints,
		MaxMessagesLimit:  limits.MaxMessages,
		MaxDataPointLimit: limits.MaxDataPoints,
	}
	start := time.Now()

	if cfg.mode != modeDrain {
		enqueued, took, err := runProducers(ctx, queue, cfg)
		if err != nil {
			return err
		}
		res.Enqueued = enqueued
		res.EnqueueDuration = took
		if took > 0 {
			res.EnqueuePerSecond = float64(enqueued) / took.Seconds()
		}
	}

	if cfg.mode != modeEnqueue {
		drained, took, err := runDrain(ctx, bundler, queue, cfg, &res)
		if err != nil {
			return err
		}
		res.DequeuedMessages = drained
		res.DrainDuration = took
		if took > 0 {
			res.DequeuePerSecond = float64(drained) / took.Seconds()
		}
	}

	res.TotalDuration = time.Since(start)

	return report(res, cfg.jsonOut)
}

func validateBench(cfg benchConfig) error {
	if cfg.dsn == "" {
		return errDSNRequired
	}
	switch cfg.mode {
	case modeEnqueue, modeDrain, modeMixed:
	default:
		return fmt.Errorf("%w: %q", errInvalidMode, cfg.mode)
	}
	if cfg.records < 1 {
		return fmt.Errorf("bundling-bench: records must be positive, got %d", cfg.records)
	}
	if cfg.keys < 1 {
		return fmt.Errorf("bundling-bench: keys must be positive, got %d", cfg.keys)
	}
	if cfg.producers < 1 || cfg.consumers < 1 {
		return fmt.Errorf("bundling-bench: producers and consumers must be positive, got %d/%d",
			cfg.producers, cfg.consumers)
	}
	if cfg.dataPoints < 1 {
		return fmt.Errorf("bundling-bench: data-points must be positive, got %d", cfg.dataPoints)
	}

	return nil
}

func runProducers(ctx context.Context, queue *bundling.Queue, cfg benchConfig) (int64, time.Duration, error) {
	payload := benchPayload(cfg.payloadBytes)
	var (
		next     atomic.Int64
		enqueued atomic.Int64
		wg       sync.WaitGroup
		firstErr atomic.Value
	)
	start := time.Now()

	for p := 0; p < cfg.producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				n := next.Add(1)
				if n > int64(cfg.records) {
					return
				}
				msg := bundling.OutgoingMessage{
					Receiver:     benchKey(int(n) % cfg.keys),
					DocumentType: "BenchReading",
					Payload:      payload,
					DataPoints:   cfg.dataPoints,
				}
				if _, err := queue.Enqueue(ctx, msg); err != nil {
					firstErr.CompareAndSwap(nil, err)

					return
				}
				enqueued.Add(1)
			}
		}()
	}
	wg.Wait()

	if err, ok := firstErr.Load().(error); ok {
		return enqueued.Load(), time.Since(start), fmt.Errorf("enqueue: %w", err)
	}

	return enqueued.Load(), time.Since(start), nil
}

func runDrain(ctx context.Context, bundler *bundling.Bundler, queue *bundling.Queue, cfg benchConfig, res *result) (int64, time.Duration, error) {
	deadline := time.Now().Add(cfg.drainTimeout)
	start := time.Now()

	// Seal and render everything first so consumers only measure the
	// peek/dequeue path.
	for {
		stats, err := bundler.RunPass(ctx)
		if err != nil {
			return 0, time.Since(start), fmt.Errorf("pass: %w", err)
		}
		res.SealedBundles += int64(stats.Sealed)
		res.RenderedBundles += int64(stats.Rendered)
		if stats.Sealed == 0 && stats.Rendered == 0 {
			break
		}
		if time.Now().After(deadline) {
			return 0, time.Since(start), errDrainIncomplete
		}
	}

	var (
		nextKey  atomic.Int64
		messages atomic.Int64
		bundles  atomic.Int64
		wg       sync.WaitGroup
		firstErr atomic.Value
	)

	for c := 0; c < cfg.consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				slot := nextKey.Add(1) - 1
				if slot >= int64(cfg.keys) {
					return
				}
				key := benchKey(int(slot))
				for {
					if time.Now().After(deadline) {
						firstErr.CompareAndSwap(nil, errDrainIncomplete)

						return
					}
					peek, err := queue.Peek(ctx, key)
					if errors.Is(err, bundling.ErrNothingReady) {
						break
					}
					if err != nil {
						firstErr.CompareAndSwap(nil, fmt.Errorf("peek: %w", err))

						return
					}
					peek.Document.Close()
					if _, err := queue.Dequeue(ctx, peek.Bundle.ID, key.ActorNumber, key.ActorRole); err != nil {
						firstErr.CompareAndSwap(nil, fmt.Errorf("dequeue: %w", err))

						return
					}
					bundles.Add(1)
					messages.Add(int64(peek.Bundle.MessageCount))
				}
			}
		}()
	}
	wg.Wait()

	res.DequeuedBundles = bundles.Load()
	if err, ok := firstErr.Load().(error); ok {
		return messages.Load(), time.Since(start), err
	}

	return messages.Load(), time.Since(start), nil
}

func benchKey(slot int) bundling.Key {
	return bundling.Key{
		ActorNumber: fmt.Sprintf("980000000%04d", slot),
		ActorRole:   "GridOperator",
		Category:    "MeteredData",
		Format:      render.FormatXML,
	}
}

func benchPayload(size int) json.RawMessage {
	content := make([]byte, size)
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	for i := range content {
		content[i] = alphabet[rand.Intn(len(alphabet))]
	}
	payload, _ := json.Marshal(map[string]string{"reading": string(content)})

	return payload
}

func ensureSchema(ctx context.Context, db *sql.DB, prefix string) error {
	schema, err := mysql.Schema(prefix)
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	return nil
}

func truncate(ctx context.Context, db *sql.DB, prefix string) error {
	for _, table := range []string{prefix + "_messages", prefix + "_bundles"} {
		// #nosec G201 -- table names derive from the sanitized prefix.
		if _, err := db.ExecContext(ctx, "TRUNCATE TABLE "+table); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}

	return nil
}

func report(res result, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(res)
	}

	fmt.Printf("mode=%s records=%d keys=%d producers=%d consumers=%d\n",
		res.Mode, res.Records, res.Keys, res.Producers, res.Consumers)
	if res.EnqueueDuration > 0 {
		fmt.Printf("enqueue: %d msgs in %s (%.0f msg/s)\n",
			res.Enqueued, res.EnqueueDuration.Round(time.Millisecond), res.EnqueuePerSecond)
	}
	if res.DrainDuration > 0 {
		fmt.Printf("drain: %d bundles / %d msgs in %s (%.0f msg/s), sealed=%d rendered=%d\n",
			res.DequeuedBundles, res.DequeuedMessages, res.DrainDuration.Round(time.Millisecond),
			res.DequeuePerSecond, res.SealedBundles, res.RenderedBundles)
	}

	return nil
}
