package beatstars

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/beatforge/beatbridge/internal/browser"
	"github.com/beatforge/beatbridge/internal/models"
	"github.com/beatforge/beatbridge/internal/session"
	"github.com/beatforge/beatbridge/internal/verify"
)

// listingRowSelector matches one track row in the studio list view.
const listingRowSelector = "studio-list-item"

const (
	listViewButton = "button.btn-switcher.switcher-list"
	listViewIcon   = "button.btn-switcher.switcher-list i.vb-icon-bars-m-regular"
)

// The listing virtualizes rows; scrolling stops once the row count holds
// still for scrollSettleRounds consecutive polls.
const (
	maxScrollRounds    = 30
	scrollSettleRounds = 3
	scrollPause        = 2 * time.Second
)

// OpenStudio navigates to the uploaded-tracks listing and loads every row:
// switch to list view, scroll the virtualized table to the end, then return
// to the top so row indexes match a fresh parse.
func (s *Scraper) OpenStudio(ctx context.Context, page playwright.Page) error {
	if err := s.browser.NavigateWithRetry(page, session.StudioURL, 3); err != nil {
		return fmt.Errorf("failed to open studio listing: %w", err)
	}
	if err := browser.Sleep(ctx, 3*time.Second); err != nil {
		return err
	}
	browser.DismissPopups(page)

	if err := s.ensureListView(ctx, page); err != nil {
		return err
	}
	return s.autoScroll(ctx, page)
}

// ensureListView switches the dashboard from grid to list layout. The rows
// the scraper clicks through only exist in list view. A missing toggle is
// not fatal; some accounts land in list view already.
func (s *Scraper) ensureListView(ctx context.Context, page playwright.Page) error {
	class, err := browser.Attribute(page, listViewIcon, "class", 4*time.Second)
	if err != nil {
		class, err = browser.Attribute(page, listViewButton+" i", "class", 2*time.Second)
	}
	if err != nil {
		s.logger.Warn("list view toggle not found, assuming list layout", "error", err)
		return nil
	}
	if strings.Contains(class, "selected") {
		s.logger.Debug("already in list view")
		return nil
	}

	if err := browser.Click(page, listViewButton, 4*time.Second); err != nil {
		s.logger.Warn("failed to switch to list view", "error", err)
		return nil
	}
	return browser.Sleep(ctx, 2*time.Second)
}

// stallCounter implements the scroll stop rule: done once the observed row
// count is unchanged for scrollSettleRounds consecutive observations.
type stallCounter struct {
	last   int
	streak int
}

func (c *stallCounter) observe(count int) bool {
	if count == c.last {
		c.streak++
	} else {
		c.last, c.streak = count, 0
	}
	return c.streak >= scrollSettleRounds
}

func (s *Scraper) autoScroll(ctx context.Context, page playwright.Page) error {
	var stall stallCounter
	rows := 0

	for i := 0; i < maxScrollRounds; i++ {
		count, err := page.Locator(listingRowSelector).Count()
		if err != nil {
			return fmt.Errorf("failed to count listing rows: %w", err)
		}
		rows = count
		if stall.observe(count) {
			break
		}

		if _, err := page.Evaluate("window.scrollTo(0, document.body.scrollHeight)"); err != nil {
			return fmt.Errorf("failed to scroll listing: %w", err)
		}
		if err := browser.Sleep(ctx, scrollPause); err != nil {
			return err
		}
	}

	if _, err := page.Evaluate("window.scrollTo(0, 0)"); err != nil {
		s.logger.Debug("failed to scroll back to top", "error", err)
	}
	if err := browser.Sleep(ctx, time.Second); err != nil {
		return err
	}

	s.logger.Info("listing fully loaded", "rows", rows)
	return nil
}

// CollectListing parses the currently loaded listing into beat records.
func (s *Scraper) CollectListing(page playwright.Page) ([]*models.BeatRecord, error) {
	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read listing page: %w", err)
	}
	beats, err := s.parser.ParseListing(html)
	if err != nil {
		return nil, err
	}
	s.logger.Info("listing parsed", "beats", len(beats))
	return beats, nil
}

// PlanEntry pairs a listed beat with the state of its folder on disk.
type PlanEntry struct {
	Beat    *models.BeatRecord
	State   verify.State
	Missing []models.Format
}

// Plan is the classified work list for one run.
type Plan struct {
	Entries  []PlanEntry
	Complete int
	Partial  int
	Absent   int
}

// Pending returns the entries that still need downloads, in listing order.
func (p *Plan) Pending() []PlanEntry {
	var out []PlanEntry
	for _, e := range p.Entries {
		if e.State != verify.StateComplete {
			out = append(out, e)
		}
	}
	return out
}

// BuildPlan classifies every selected beat against its folder under the
// beats root. Completeness is always re-derived from folder contents, never
// from the progress file.
func (s *Scraper) BuildPlan(beats []*models.BeatRecord, sel Selection) *Plan {
	plan := &Plan{}
	for _, beat := range beats {
		if !sel.Includes(beat.Index) {
			continue
		}

		folder := filepath.Join(s.cfg.BeatsFolder, beat.Title)
		status := s.checker.Assess(folder, beat.Title)
		state := s.checker.Classify(s.cfg.BeatsFolder, beat.Title)

		switch state {
		case verify.StateComplete:
			plan.Complete++
		case verify.StatePartial:
			plan.Partial++
		default:
			plan.Absent++
		}

		plan.Entries = append(plan.Entries, PlanEntry{
			Beat:    beat,
			State:   state,
			Missing: status.Missing,
		})
	}
	return plan
}
