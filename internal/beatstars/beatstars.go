// Package beatstars drives the studio dashboard: logging in, scanning the
// track listing and downloading each beat's deliverables into its canonical
// folder. All scrape-phase DOM interaction lives here; completeness
// decisions are delegated to the verify package.
package beatstars

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/playwright-community/playwright-go"

	"github.com/beatforge/beatbridge/internal/archive"
	"github.com/beatforge/beatbridge/internal/browser"
	"github.com/beatforge/beatbridge/internal/config"
	"github.com/beatforge/beatbridge/internal/parser"
	"github.com/beatforge/beatbridge/internal/ratelimit"
	"github.com/beatforge/beatbridge/internal/session"
	"github.com/beatforge/beatbridge/internal/storage"
	"github.com/beatforge/beatbridge/internal/verify"
)

// Pacing between beats. The backoff pacer stretches these when downloads
// start failing.
const (
	beatPaceMin = 2 * time.Second
	beatPaceMax = 4 * time.Second
)

// Scraper owns one browser session against the studio dashboard.
// It is not safe for concurrent use; the dashboard is shared mutable state
// and every operation assumes it has the page to itself.
type Scraper struct {
	cfg        *config.Config
	browser    *browser.Browser
	parser     *parser.BeatStarsParser
	checker    *verify.Checker
	normalizer *archive.Normalizer
	sessions   *session.BeatStarsStore
	selectors  *storage.SelectorStore
	progress   *storage.ProgressStore
	pacer      *ratelimit.BackoffPacer
	http       *resty.Client
	logger     *slog.Logger
	retryPass  bool
}

func NewScraper(cfg *config.Config, b *browser.Browser, sessions *session.BeatStarsStore, selectors *storage.SelectorStore, progress *storage.ProgressStore, logger *slog.Logger) *Scraper {
	normalizer := archive.NewNormalizer(archive.DefaultRegistry(), logger)
	return &Scraper{
		cfg:        cfg,
		browser:    b,
		parser:     parser.NewBeatStarsParser(),
		checker:    verify.NewChecker(normalizer, logger),
		normalizer: normalizer,
		sessions:   sessions,
		selectors:  selectors,
		progress:   progress,
		pacer:      ratelimit.NewBackoffPacer(beatPaceMin, beatPaceMax),
		http:       resty.New().SetTimeout(30 * time.Second).SetRetryCount(2),
		logger:     logger.With("component", "beatstars"),
		retryPass:  true,
	}
}

// SetRetryPass toggles the consolidated retry sweep at the end of Run.
func (s *Scraper) SetRetryPass(enabled bool) {
	s.retryPass = enabled
}

// Selection narrows a run to part of the listing. The zero value selects
// everything.
type Selection struct {
	mode     string
	n        int
	from, to int
}

// SelectAll is the whole-listing selection.
var SelectAll = Selection{mode: "all"}

// ParseSelection parses "all", "first:N" or "range:A-B" (1-based, inclusive).
func ParseSelection(s string) (Selection, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch {
	case s == "" || s == "all":
		return SelectAll, nil
	case strings.HasPrefix(s, "first:"):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "first:"))
		if err != nil || n < 1 {
			return Selection{}, fmt.Errorf("invalid selection %q: first:N needs N >= 1", s)
		}
		return Selection{mode: "first", n: n}, nil
	case strings.HasPrefix(s, "range:"):
		parts := strings.SplitN(strings.TrimPrefix(s, "range:"), "-", 2)
		if len(parts) != 2 {
			return Selection{}, fmt.Errorf("invalid selection %q: want range:A-B", s)
		}
		from, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		to, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil || from < 1 || to < from {
			return Selection{}, fmt.Errorf("invalid selection %q: want range:A-B with 1 <= A <= B", s)
		}
		return Selection{mode: "range", from: from, to: to}, nil
	default:
		return Selection{}, fmt.Errorf("unrecognized selection %q (want all, first:N or range:A-B)", s)
	}
}

// Includes reports whether the 1-based listing index is selected.
func (s Selection) Includes(index int) bool {
	switch s.mode {
	case "first":
		return index <= s.n
	case "range":
		return index >= s.from && index <= s.to
	default:
		return true
	}
}

func (s Selection) String() string {
	switch s.mode {
	case "first":
		return fmt.Sprintf("first %d", s.n)
	case "range":
		return fmt.Sprintf("range %d-%d", s.from, s.to)
	default:
		return "all"
	}
}

// RunSummary is the outcome of one scrape run.
type RunSummary struct {
	Scanned         int
	Selected        int
	AlreadyComplete int
	Completed       int
	Failed          int
	Repaired        int
	StillIncomplete []string
}

// Run executes the full scrape pipeline: log in, load the listing, classify
// every selected beat against its folder, download what is missing and
// finish with a consolidated retry pass over everything still incomplete.
func (s *Scraper) Run(ctx context.Context, sel Selection) (*RunSummary, error) {
	if err := s.ensureDirs(); err != nil {
		return nil, err
	}

	page, err := s.browser.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	if err := s.EnsureLoggedIn(ctx, page); err != nil {
		return nil, err
	}
	if err := s.OpenStudio(ctx, page); err != nil {
		return nil, err
	}

	beats, err := s.CollectListing(page)
	if err != nil {
		return nil, err
	}
	if len(beats) == 0 {
		return nil, errors.New("no beats found in the studio listing")
	}

	plan := s.BuildPlan(beats, sel)
	s.logger.Info("scan summary",
		"scanned", len(beats), "selected", len(plan.Entries), "selection", sel.String(),
		"complete", plan.Complete, "partial", plan.Partial, "absent", plan.Absent)

	summary := &RunSummary{
		Scanned:         len(beats),
		Selected:        len(plan.Entries),
		AlreadyComplete: plan.Complete,
	}

	if err := s.progress.StartRun(); err != nil {
		s.logger.Warn("failed to stamp progress run", "error", err)
	}

	for _, entry := range plan.Pending() {
		if err := s.pacer.Wait(ctx); err != nil {
			return summary, err
		}

		status, err := s.AcquireBeat(ctx, page, entry.Beat)
		if err != nil {
			return summary, err
		}
		if status.Complete {
			summary.Completed++
			s.pacer.RecordSuccess()
		} else {
			summary.Failed++
			s.pacer.RecordError()
		}
	}

	s.closeStrayPages(page)

	if s.retryPass {
		retry, err := s.RetryIncomplete(ctx, page)
		if err != nil {
			return summary, err
		}
		summary.Repaired = retry.Repaired
		summary.StillIncomplete = retry.StillIncomplete
	}

	s.logger.Info("scrape run finished",
		"completed", summary.Completed, "failed", summary.Failed,
		"repaired", summary.Repaired, "still_incomplete", len(summary.StillIncomplete))
	return summary, nil
}

// RetryOnly skips the fresh scrape and runs just the consolidated retry pass
// over incomplete folders, reusing or re-establishing the session as needed.
func (s *Scraper) RetryOnly(ctx context.Context) (*RetrySummary, error) {
	if err := s.ensureDirs(); err != nil {
		return nil, err
	}

	page, err := s.browser.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	if err := s.EnsureLoggedIn(ctx, page); err != nil {
		return nil, err
	}
	return s.RetryIncomplete(ctx, page)
}

func (s *Scraper) ensureDirs() error {
	if err := os.MkdirAll(s.cfg.BeatsFolder, 0755); err != nil {
		return fmt.Errorf("failed to create beats folder: %w", err)
	}
	if err := os.MkdirAll(s.cfg.DownloadDir, 0755); err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}
	return nil
}

// closeStrayPages closes every page except keep. Failed player tabs can
// leave windows behind; they would confuse the next row lookup.
func (s *Scraper) closeStrayPages(keep playwright.Page) {
	for _, p := range s.browser.Context().Pages() {
		if p == keep {
			continue
		}
		if err := p.Close(); err != nil {
			s.logger.Debug("failed to close stray page", "error", err)
		}
	}
	if err := keep.BringToFront(); err != nil {
		s.logger.Debug("failed to refocus main page", "error", err)
	}
}
