// Command bundling-cleanup removes dequeued bundles, their messages, and
// their rendered documents after a retention period.
//
// It wraps mysql.CleanupMaintainer for use in cron/CronJobs when the
// application itself should not run DELETE statements.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"

	"github.com/gridwise/bundling"
	"github.com/gridwise/bundling/cmd/internal/clilog"
	"github.com/gridwise/bundling/docstore"
	"github.com/gridwise/bundling/mysql"
)

const exitUsage = 2

func main() {
	_ = godotenv.Load()

	var (
		dsn          string
		prefix       string
		documentRoot string
		retention    time.Duration
		checkEvery   time.Duration
		limit        int
		lockName     string
		once         bool
		verbose      bool
	)

	flag.StringVar(&dsn, "dsn", os.Getenv("BUNDLING_DSN"),
		"MySQL DSN, e.g. user:pass@tcp(host:3306)/db?parseTime=true")
	flag.StringVar(&prefix, "prefix", "outgoing", "Table name prefix")
	flag.StringVar(&documentRoot, "documents", os.Getenv("BUNDLING_DOCUMENTS"),
		"Directory of rendered documents; purged documents are deleted when set")
	flag.DurationVar(&retention, "retention", 0, "Delete bundles dequeued longer ago than this")
	flag.DurationVar(&checkEvery, "check-every", time.Hour, "How often to run cleanup")
	flag.IntVar(&limit, "limit", 0, "Max bundles deleted per run (0 uses default)")
	flag.StringVar(&lockName, "lock-name", "", "Advisory lock name (optional)")
	flag.BoolVar(&once, "once", false, "Run once and exit")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	if dsn == "" {
		fmt.Fprintln(os.Stderr, "dsn is required")
		flag.Usage()
		os.Exit(exitUsage)
	}

	logger := clilog.New(verbose)
	if err := run(dsn, prefix, documentRoot, retention, checkEvery, limit, lockName, once, logger); err != nil {
		logger.Error("cleanup failed", "err", err)
		os.Exit(1)
	}
}

func run(
	dsn, prefix, documentRoot string,
	retention, checkEvery time.Duration,
	limit int,
	lockName string,
	once bool,
	logger clilog.Logger,
) error {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	var docs bundling.DocumentStore
	if documentRoot != "" {
		docs, err = docstore.NewFS(documentRoot)
		if err != nil {
			return fmt.Errorf("init document store: %w", err)
		}
	}

	cfg := mysql.CleanupMaintainerConfig{
		Prefix:     prefix,
		Retention:  retention,
		CheckEvery: checkEvery,
		Limit:      limit,
		Documents:  docs,
		LockName:   lockName,
		Clock:      bundling.SystemClock{},
		Logger:     logger,
	}
	maintainer, err := mysql.NewCleanupMaintainer(db, cfg)
	if err != nil {
		return fmt.Errorf("init maintainer: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if once {
		result, err := maintainer.Ensure(ctx)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		if result.Bundles > 0 || result.Messages > 0 {
			logger.Info("cleanup done", "bundles", result.Bundles, "messages", result.Messages)
		}

		return nil
	}

	if err := maintainer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run maintainer: %w", err)
	}

	return nil
}
