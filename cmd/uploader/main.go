package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/beatforge/beatbridge/internal/browser"
	"github.com/beatforge/beatbridge/internal/config"
	"github.com/beatforge/beatbridge/internal/delivery"
	"github.com/beatforge/beatbridge/internal/models"
	"github.com/beatforge/beatbridge/internal/session"
	"github.com/beatforge/beatbridge/internal/shopify"
	"github.com/beatforge/beatbridge/internal/storage"
	"github.com/beatforge/beatbridge/internal/uploader"
	"github.com/beatforge/beatbridge/pkg/logger"
)

func main() {
	var (
		configPath  = flag.String("config", "beatbridge_config.json", "Path to the config file")
		beat        = flag.String("beat", "", "Publish a single beat folder instead of the whole beats root")
		skipDigital = flag.Bool("skip-digital", false, "Create products without attaching digital downloads")
		verbose     = flag.Bool("verbose", false, "Debug logging")
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
	if err := cfg.RequireShopify(); err != nil {
		log.Error("store credentials missing", "error", err, "config", *configPath)
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

	client := shopify.NewClient(cfg, log)
	mappings, err := storage.NewMappingStore(storage.DefaultMappingFile)
	if err != nil {
		log.Error("failed to open mapping file", "error", err)
		os.Exit(1)
	}

	up := uploader.New(cfg, client, mappings, log)

	if cfg.AutoUploadDigitalDownloads() && !*skipDigital {
		b, page, err := openAdminSession(ctx, cfg, log)
		if err != nil {
			log.Error("digital downloads need an admin browser session", "error", err)
			os.Exit(1)
		}
		defer b.Close()
		up.EnableDelivery(delivery.NewAttacher(cfg, log), page)
	} else {
		log.Info("digital downloads attach disabled, products get a mapping entry only")
	}

	if *beat != "" {
		up.Prepare(ctx)
		result := up.PublishFolder(ctx, *beat)
		log.Info("beat processed", "title", result.Title, "outcome", result.Outcome, "reason", result.Reason, "product", result.ProductID)
		if result.Outcome == models.OutcomeFailed {
			os.Exit(1)
		}
		return
	}

	if _, err := up.Run(ctx); err != nil {
		log.Error("upload run failed", "error", err)
		os.Exit(1)
	}
}

// openAdminSession starts a browser seeded with the saved Shopify session
// and makes sure the admin is reachable, stopping for a manual login when it
// is not. The fresh state is saved back for the next run.
func openAdminSession(ctx context.Context, cfg *config.Config, log *slog.Logger) (*browser.Browser, playwright.Page, error) {
	store := session.NewShopifyStore("", log)
	if cfg.Shopify.ForceFreshLogin {
		if err := store.Clear(); err != nil {
			log.Warn("failed to clear saved session", "error", err)
		}
	}

	opts := browser.DefaultOptions()
	opts.Headless = cfg.Shopify.Headless()
	if path, ok := store.StatePath(); ok {
		opts.StorageStatePath = path
	}

	b, err := browser.New(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}

	page, err := b.NewPage()
	if err != nil {
		b.Close()
		return nil, nil, fmt.Errorf("failed to open page: %w", err)
	}

	adminURL := session.AdminURL(cfg.StoreURL)
	if err := b.NavigateWithRetry(page, adminURL, 3); err != nil {
		b.Close()
		return nil, nil, fmt.Errorf("failed to open admin: %w", err)
	}
	if err := browser.Sleep(ctx, 3*time.Second); err != nil {
		b.Close()
		return nil, nil, err
	}

	if !store.Valid(page) {
		if err := waitForAdminLogin(ctx, cfg, store, page, log); err != nil {
			b.Close()
			return nil, nil, err
		}
	}

	if err := store.Save(b.Context()); err != nil {
		log.Warn("failed to save admin session", "error", err)
	}
	return b, page, nil
}

// waitForAdminLogin blocks until the admin URL shape says the human finished
// logging in, following the same checkpoint protocol as the scraper login.
func waitForAdminLogin(ctx context.Context, cfg *config.Config, store *session.ShopifyStore, page playwright.Page, log *slog.Logger) error {
	timeout := cfg.Timeouts.Login()
	deadline := time.Now().Add(timeout)

	log.Info("waiting for manual admin login", "timeout", timeout)
	fmt.Fprintln(os.Stderr, "Log in to the Shopify admin in the browser window. Press Enter here once you are done.")

	entered := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
		close(entered)
	}()

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-entered:
			entered = nil
			if store.Valid(page) {
				return nil
			}
			log.Warn("admin URL still looks logged out, still waiting")
		case <-ticker.C:
			if store.Valid(page) {
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("admin login not completed within %s", timeout)
			}
		}
	}
}
