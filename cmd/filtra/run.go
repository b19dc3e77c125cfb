package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mailkite/filtra/config"
	"github.com/mailkite/filtra/db"
	"github.com/mailkite/filtra/engine"
	"github.com/mailkite/filtra/localdb"
	"github.com/mailkite/filtra/logger"
)

// indexSource is the mail index contract shared by the PostgreSQL and sqlite
// backends.
type indexSource interface {
	engine.Source
	InsertMessage(ctx context.Context, messageID, threadID, path string, tags []string) error
}

// openSource opens the configured mail index backend. The caller must invoke
// the returned close function.
func openSource(ctx context.Context, cfg *config.Config) (indexSource, func(), error) {
	if cfg.Database != nil {
		database, err := db.New(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		return database, database.Close, nil
	}
	if cfg.LocalIndex == nil {
		return nil, nil, fmt.Errorf("no mail index configured: set [database] or [local_index]")
	}
	local, err := localdb.New(cfg.LocalIndex.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening local index: %w", err)
	}
	return local, func() { local.Close() }, nil
}

func handleRun(ctx context.Context) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	filtersPath := fs.String("filters", "", "Path to JSON filter file (overrides config)")
	queryTag := fs.String("query-tag", "", "Tag selecting messages to process (overrides config)")
	workers := fs.Int("workers", 0, "Batch concurrency (overrides config)")
	dryRun := fs.Bool("dry-run", false, "Report matches without applying any operation")
	keepQueryTag := fs.Bool("keep-query-tag", false, "Do not remove the query tag after processing")
	metricsAddr := fs.String("metrics-addr", "", "Prometheus listener address, e.g. :9090 (overrides config)")
	fs.Usage = func() {
		fmt.Println("Usage: filtra run [options]")
		fmt.Println("Applies the filter set to all messages carrying the query tag.")
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}
	if *filtersPath != "" {
		cfg.Filters.Path = *filtersPath
	}
	if *queryTag != "" {
		cfg.Engine.QueryTag = *queryTag
	}
	if *workers > 0 {
		cfg.Engine.Workers = *workers
	}
	if *keepQueryTag {
		cfg.Engine.KeepQueryTag = true
	}
	if *metricsAddr != "" {
		cfg.Engine.MetricsAddr = *metricsAddr
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(2)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	filters, err := engine.LoadFiltersFile(cfg.Filters.Path)
	if err != nil {
		logger.Error("Failed to load filters", "path", cfg.Filters.Path, "error", err)
		os.Exit(2)
	}

	eng, err := engine.New(filters, engine.Options{DryRun: *dryRun})
	if err != nil {
		logger.Error("Failed to compile filters", "path", cfg.Filters.Path, "error", err)
		os.Exit(2)
	}

	src, closeSource, err := openSource(ctx, &cfg)
	if err != nil {
		logger.Error("Failed to open mail index", "error", err)
		os.Exit(2)
	}
	defer closeSource()

	if cfg.Engine.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			logger.Info("Metrics listener started", "addr", cfg.Engine.MetricsAddr)
			if err := http.ListenAndServe(cfg.Engine.MetricsAddr, mux); err != nil {
				logger.Error("Metrics listener failed", "error", err)
			}
		}()
	}

	summary, err := eng.Run(ctx, src, engine.RunOptions{
		QueryTag:     cfg.Engine.QueryTag,
		Workers:      cfg.Engine.Workers,
		KeepQueryTag: cfg.Engine.KeepQueryTag,
	})
	if err != nil {
		logger.Error("Filter run failed", "error", err)
		os.Exit(2)
	}

	for _, res := range summary.Results {
		for _, name := range res.Matched {
			fmt.Printf("%s: %s\n", res.ID, name)
		}
		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "%s: ERROR: %v\n", res.ID, res.Err)
		}
	}
	fmt.Printf("Processed %d message(s), %d matched, %d failed in %s\n",
		summary.Processed, summary.Matched, summary.Failed, summary.Duration.Round(time.Millisecond))
	if summary.Failed > 0 {
		os.Exit(1)
	}
}

func handleIndex(ctx context.Context) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	messageID := fs.String("id", "", "Message id (required)")
	threadID := fs.String("thread", "", "Thread id (defaults to the message id)")
	tag := fs.String("tag", "new", "Initial tag for the message")
	fs.Usage = func() {
		fmt.Println("Usage: filtra index [options] <message file>")
		fmt.Println("Registers a message file in the mail index.")
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[2:])

	if fs.NArg() != 1 || *messageID == "" {
		fs.Usage()
		os.Exit(2)
	}
	path := fs.Arg(0)
	thread := *threadID
	if thread == "" {
		thread = *messageID
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}
	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(2)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	src, closeSource, err := openSource(ctx, &cfg)
	if err != nil {
		logger.Error("Failed to open mail index", "error", err)
		os.Exit(2)
	}
	defer closeSource()

	if err := src.InsertMessage(ctx, *messageID, thread, path, []string{*tag}); err != nil {
		logger.Error("Failed to index message", "id", *messageID, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Indexed %s (%s)\n", *messageID, path)
}
