package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beatforge/beatbridge/internal/api"
	"github.com/beatforge/beatbridge/internal/archive"
	"github.com/beatforge/beatbridge/internal/beatstars"
	"github.com/beatforge/beatbridge/internal/browser"
	"github.com/beatforge/beatbridge/internal/config"
	"github.com/beatforge/beatbridge/internal/session"
	"github.com/beatforge/beatbridge/internal/storage"
	"github.com/beatforge/beatbridge/internal/verify"
	"github.com/beatforge/beatbridge/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "beatbridge_config.json", "Path to the config file")
		selection  = flag.String("select", "all", "Which beats to process: all, first:N or range:A-B")
		headless   = flag.Bool("headless", false, "Run the browser headless (manual login checkpoints need a visible window)")
		retry      = flag.Bool("retry-incomplete", true, "Finish the run with a retry pass over incomplete folders")
		retryOnly  = flag.Bool("retry-only", false, "Skip the fresh scrape and only repair incomplete folders")
		listen     = flag.String("listen", "", "Serve the status API on this address (e.g. :8787), off when empty")
		verbose    = flag.Bool("verbose", false, "Debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Verbose = true
	}

	log := logger.New(cfg.EffectiveLogLevel(), cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err, "config", *configPath)
		os.Exit(1)
	}

	sel, err := beatstars.ParseSelection(*selection)
	if err != nil {
		log.Error("invalid -select value", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received, finishing the current beat")
		cancel()
	}()

	opts := browser.DefaultOptions()
	opts.Headless = *headless || cfg.BeatStars.Headless()
	opts.DownloadDir = cfg.DownloadDir

	b, err := browser.New(opts)
	if err != nil {
		log.Error("failed to start browser, run 'npx playwright install chromium' if missing", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	sessions := session.NewBeatStarsStore("", log)
	selectors, err := storage.NewSelectorStore(storage.DefaultSelectorsFile)
	if err != nil {
		log.Error("failed to open selectors file", "error", err)
		os.Exit(1)
	}
	progress, err := storage.NewProgressStore(storage.DefaultProgressFile, log)
	if err != nil {
		log.Error("failed to open progress file", "error", err)
		os.Exit(1)
	}

	scraper := beatstars.NewScraper(cfg, b, sessions, selectors, progress, log)
	scraper.SetRetryPass(*retry)

	if *listen != "" {
		mappings, err := storage.NewMappingStore(storage.DefaultMappingFile)
		if err != nil {
			log.Error("failed to open mapping file", "error", err)
			os.Exit(1)
		}
		checker := verify.NewChecker(archive.NewNormalizer(archive.DefaultRegistry(), log), log)
		handlers := api.NewHandlers(progress, mappings, checker, cfg.BeatsFolder, log)

		server := &http.Server{
			Addr:         *listen,
			Handler:      handlers.Router(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Info("status API listening", "addr", *listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("status API failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error("status API shutdown failed", "error", err)
			}
		}()
	}

	if *retryOnly {
		summary, err := scraper.RetryOnly(ctx)
		if err != nil {
			log.Error("retry pass failed", "error", err)
			os.Exit(1)
		}
		log.Info("retry pass finished",
			"swept", summary.Swept, "incomplete", summary.Incomplete,
			"repaired", summary.Repaired, "unmatched", summary.Unmatched)
		for _, name := range summary.StillIncomplete {
			log.Warn("still incomplete", "beat", name)
		}
		return
	}

	summary, err := scraper.Run(ctx, sel)
	if err != nil {
		log.Error("scrape run failed", "error", err)
		os.Exit(1)
	}

	log.Info("done",
		"scanned", summary.Scanned, "selected", summary.Selected,
		"already_complete", summary.AlreadyComplete, "completed", summary.Completed,
		"failed", summary.Failed, "repaired", summary.Repaired)
	for _, name := range summary.StillIncomplete {
		log.Warn("still incomplete after retries", "beat", name)
	}
}
