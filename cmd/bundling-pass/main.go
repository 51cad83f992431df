// Command bundling-pass runs the bundling engine against a MySQL queue:
// it seals due bundles, renders their documents into a filesystem document
// store, and optionally publishes readiness events to Kafka.
//
// Configuration comes from flags with environment fallbacks; a .env file in
// the working directory is loaded when present.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridwise/bundling"
	"github.com/gridwise/bundling/cmd/internal/clilog"
	"github.com/gridwise/bundling/docstore"
	"github.com/gridwise/bundling/kafka"
	"github.com/gridwise/bundling/mysql"
	bundlingprom "github.com/gridwise/bundling/prometheus"
	"github.com/gridwise/bundling/render"
)

const exitUsage = 2

type config struct {
	dsn           string
	prefix        string
	documentRoot  string
	maxAge        time.Duration
	maxMessages   int
	maxDataPoints int
	passInterval  time.Duration
	renderBatch   int
	kafkaBrokers  string
	kafkaTopic    string
	metricsAddr   string
	ensureSchema  bool
	once          bool
	verbose       bool
}

func main() {
	_ = godotenv.Load()

	var cfg config
	flag.StringVar(&cfg.dsn, "dsn", os.Getenv("BUNDLING_DSN"),
		"MySQL DSN, e.g. user:pass@tcp(host:3306)/db?parseTime=true")
	flag.StringVar(&cfg.prefix, "prefix", envOr("BUNDLING_PREFIX", "outgoing"), "Table name prefix")
	flag.StringVar(&cfg.documentRoot, "documents", envOr("BUNDLING_DOCUMENTS", "./documents"),
		"Directory for rendered documents")
	flag.DurationVar(&cfg.maxAge, "max-age", 0, "Bundle age threshold (0 uses default)")
	flag.IntVar(&cfg.maxMessages, "max-messages", 0, "Bundle message threshold (0 uses default)")
	flag.IntVar(&cfg.maxDataPoints, "max-data-points", 0, "Bundle data point threshold (0 uses default)")
	flag.DurationVar(&cfg.passInterval, "interval", 0, "Delay between passes (0 uses default)")
	flag.IntVar(&cfg.renderBatch, "render-batch", 0, "Bundles rendered per pass (0 uses default)")
	flag.StringVar(&cfg.kafkaBrokers, "kafka-brokers", os.Getenv("BUNDLING_KAFKA_BROKERS"),
		"Comma-separated Kafka brokers for readiness events (optional)")
	flag.StringVar(&cfg.kafkaTopic, "kafka-topic", envOr("BUNDLING_KAFKA_TOPIC", "bundling.ready"),
		"Kafka topic for readiness events")
	flag.StringVar(&cfg.metricsAddr, "metrics-addr", os.Getenv("BUNDLING_METRICS_ADDR"),
		"Listen address for Prometheus metrics (optional, e.g. :9090)")
	flag.BoolVar(&cfg.ensureSchema, "ensure-schema", false, "Create the queue tables before running")
	flag.BoolVar(&cfg.once, "once", false, "Run a single pass and exit")
	flag.BoolVar(&cfg.verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	if cfg.dsn == "" {
		fmt.Fprintln(os.Stderr, "dsn is required")
		flag.Usage()
		os.Exit(exitUsage)
	}

	logger := clilog.New(cfg.verbose)
	if err := run(cfg, logger); err != nil {
		logger.Error("bundling pass failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg config, logger clilog.Logger) error {
	db, err := sql.Open("mysql", cfg.dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.ensureSchema {
		if err := ensureSchema(ctx, db, cfg.prefix); err != nil {
			return err
		}
	}

	store, err := mysql.NewStore(db, mysql.WithPrefix(cfg.prefix))
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	docs, err := docstore.NewFS(cfg.documentRoot)
	if err != nil {
		return fmt.Errorf("init document store: %w", err)
	}

	opts := []bundling.BundlerOption{
		bundling.WithLimits(bundling.Limits{
			MaxAge:        cfg.maxAge,
			MaxMessages:   cfg.maxMessages,
			MaxDataPoints: cfg.maxDataPoints,
		}),
		bundling.WithLogger(logger),
	}
	if cfg.passInterval > 0 {
		opts = append(opts, bundling.WithPassInterval(cfg.passInterval))
	}
	if cfg.renderBatch > 0 {
		opts = append(opts, bundling.WithRenderBatch(cfg.renderBatch))
	}
	if cfg.metricsAddr != "" {
		opts = append(opts, bundling.WithMetrics(bundlingprom.New(promclient.DefaultRegisterer)))
		go serveMetrics(cfg.metricsAddr, logger)
	}
	if cfg.kafkaBrokers != "" {
		notifier, err := kafka.NewNotifier(strings.Split(cfg.kafkaBrokers, ","), cfg.kafkaTopic)
		if err != nil {
			return fmt.Errorf("init notifier: %w", err)
		}
		defer notifier.Close()
		opts = append(opts, bundling.WithNotifier(notifier))
	}

	bundler := bundling.NewBundler(store, render.Default(), docs, opts...)

	if cfg.once {
		stats, err := bundler.RunPass(ctx)
		if err != nil {
			return fmt.Errorf("pass: %w", err)
		}
		logger.Info("pass done",
			"sealed", stats.Sealed, "rendered", stats.Rendered, "render_failures", stats.RenderFailures)

		return nil
	}

	if err := bundler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run bundler: %w", err)
	}

	return nil
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

func serveMetrics(addr string, logger clilog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics listener stopped", "err", err)
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}
