package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/beatforge/beatbridge/internal/archive"
	"github.com/beatforge/beatbridge/internal/config"
	"github.com/beatforge/beatbridge/internal/verify"
	"github.com/beatforge/beatbridge/pkg/logger"
)

// verify is the offline completeness report: no browser, no store calls,
// exit 0 even when folders are incomplete.
func main() {
	var (
		configPath = flag.String("config", "beatbridge_config.json", "Path to the config file")
		deep       = flag.Bool("deep", false, "Open stems archives and check the WAV is really inside")
		cleanTemp  = flag.Bool("clean-temp", false, "Remove leftover temp extraction directories first")
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	checker := verify.NewChecker(archive.NewNormalizer(archive.DefaultRegistry(), log), log)

	reports, err := checker.ScanRoot(cfg.BeatsFolder)
	if err != nil {
		log.Error("failed to scan beats folder", "error", err, "root", cfg.BeatsFolder)
		os.Exit(1)
	}

	if *cleanTemp {
		removed := 0
		for _, report := range reports {
			n, err := verify.CleanTempDirs(report.Folder)
			if err != nil {
				log.Warn("temp cleanup failed", "folder", report.Name, "error", err)
				continue
			}
			removed += n
		}
		log.Info("temp extraction directories removed", "count", removed)
	}

	if *deep {
		printDeep(ctx, checker, cfg.BeatsFolder, log)
		return
	}
	printCheap(reports)
}

func printCheap(reports []verify.FolderReport) {
	complete := 0
	for _, report := range reports {
		if report.Status.Complete {
			complete++
			fmt.Printf("  ok       %s\n", report.Name)
			continue
		}
		missing := make([]string, len(report.Status.Missing))
		for i, format := range report.Status.Missing {
			missing[i] = string(format)
		}
		fmt.Printf("  missing  %-40s  %s\n", report.Name, strings.Join(missing, ", "))
	}
	fmt.Printf("\n%d/%d folders complete\n", complete, len(reports))
}

func printDeep(ctx context.Context, checker *verify.Checker, root string, log *slog.Logger) {
	reports, err := checker.DeepSweep(ctx, root)
	if err != nil {
		log.Error("deep sweep failed", "error", err, "root", root)
		os.Exit(1)
	}

	complete := 0
	for _, report := range reports {
		if report.Status.Complete {
			complete++
			fmt.Printf("  ok       %s\n", report.Name)
			continue
		}
		problems := make([]string, len(report.Status.Problems))
		for i, p := range report.Status.Problems {
			problems[i] = fmt.Sprintf("%s: %s", p.Slot, p.Reason)
		}
		fmt.Printf("  problem  %-40s  %s\n", report.Name, strings.Join(problems, "; "))
	}
	fmt.Printf("\n%d/%d folders pass the deep check\n", complete, len(reports))
}
