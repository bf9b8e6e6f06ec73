package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"flavour-scraper/internal/browser"
	"flavour-scraper/internal/config"
	"flavour-scraper/internal/scraper"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, browser.Launch))
}

// run performs one scrape and returns the process exit code.
func run(args []string, stdout io.Writer, launch browser.Launcher) int {
	// Parse config
	cfg, err := config.Load(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		logger := newLogger(false)
		logger.Error("Failed to load config", zap.Error(err))
		_ = logger.Sync()
		return 2
	}

	logger := newLogger(cfg.Debug)
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid config", zap.Error(err))
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GlobalTimeout)
	defer cancel()

	metrics := scraper.NewMetrics()

	logger.Info("Starting scraping process",
		zap.String("url", cfg.URL),
		zap.String("driver", cfg.Backend),
		zap.Bool("headless", cfg.Headless),
	)

	// Run scraper; the browser is closed before Run returns
	record, err := scraper.Run(ctx, launch, cfg, logger, metrics)
	writeMetrics(logger, cfg.MetricsFile, metrics)
	if err != nil {
		logger.Error("Scraping failed", zap.Error(err), zap.String("error_type", scraper.ErrorType(err)))
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		logger.Error("Failed to write record", zap.Error(err))
		return 1
	}

	logger.Info("Scraping completed successfully", zap.Int("flavours", len(record.FlavourOffers)))
	return 0
}

func newLogger(debug bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

func writeMetrics(logger *zap.Logger, path string, metrics *scraper.Metrics) {
	if path == "" {
		return
	}
	if err := metrics.WriteTextfile(path); err != nil {
		logger.Warn("Failed to write metrics", zap.String("path", path), zap.Error(err))
	}
}
