package beatstars

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/beatforge/beatbridge/internal/match"
	"github.com/beatforge/beatbridge/internal/models"
	"github.com/beatforge/beatbridge/internal/verify"
)

// RetrySummary is the outcome of the consolidated retry pass.
type RetrySummary struct {
	Swept           int
	Incomplete      int
	Repaired        int
	Unmatched       int
	StillIncomplete []string
}

// RetryIncomplete is the consolidated end-of-run retry: deep-sweep every
// beat folder, then re-locate each incomplete beat in the live listing by
// fuzzy title match and re-download exactly what its folder is missing.
func (s *Scraper) RetryIncomplete(ctx context.Context, page playwright.Page) (*RetrySummary, error) {
	reports, err := s.checker.DeepSweep(ctx, s.cfg.BeatsFolder)
	if err != nil {
		return nil, err
	}

	summary := &RetrySummary{Swept: len(reports)}
	var incomplete []verify.DeepFolderReport
	for _, r := range reports {
		if !r.Status.Complete {
			incomplete = append(incomplete, r)
		}
	}
	summary.Incomplete = len(incomplete)
	if len(incomplete) == 0 {
		s.logger.Info("deep sweep found nothing to retry", "folders", len(reports))
		return summary, nil
	}

	s.logger.Info("retrying incomplete beats", "count", len(incomplete))

	if err := s.ensureStudioReady(ctx, page); err != nil {
		return summary, err
	}
	beats, err := s.CollectListing(page)
	if err != nil {
		return summary, err
	}
	titles := make([]string, len(beats))
	for i, b := range beats {
		titles[i] = b.Title
	}

	for _, report := range incomplete {
		if err := s.pacer.Wait(ctx); err != nil {
			return summary, err
		}

		idx, score, ok := match.BestMatch(report.Name, titles)
		if !ok {
			s.logger.Warn("beat not found in current listing", "beat", report.Name, "best_score", score)
			summary.Unmatched++
			summary.StillIncomplete = append(summary.StillIncomplete, report.Name)
			continue
		}

		rec := *beats[idx]
		rec.Title = report.Name // keep downloads landing in the existing folder
		s.logger.Info("re-located beat in listing",
			"beat", report.Name, "row", rec.Index, "listed_as", beats[idx].Title, "score", score)

		if err := s.repairFolder(ctx, page, &rec, report); err != nil {
			return summary, err
		}

		final := s.checker.Verify(ctx, report.Folder, report.Name)
		if final.Complete {
			summary.Repaired++
			s.pacer.RecordSuccess()
			if err := s.progress.MarkCompleted(report.Name); err != nil {
				s.logger.Warn("failed to record progress", "beat", report.Name, "error", err)
			}
			s.logger.Info("beat repaired", "beat", report.Name)
		} else {
			summary.StillIncomplete = append(summary.StillIncomplete, report.Name)
			s.pacer.RecordError()
			s.logger.Warn("beat still incomplete after retry", "beat", report.Name)
		}
	}

	s.closeStrayPages(page)
	return summary, nil
}

// repairFolder fixes one folder's reported problems: re-download missing and
// corrupt slots, then normalize so the WAV ends up inside the archive.
func (s *Scraper) repairFolder(ctx context.Context, page playwright.Page, beat *models.BeatRecord, report verify.DeepFolderReport) error {
	wavRetried := false

	for _, problem := range report.Status.Problems {
		switch problem.Reason {
		case verify.ReasonMissing:
			if problem.Slot == models.FormatWAV {
				wavRetried = true
			}
			if err := s.retryDownload(ctx, page, beat, problem.Slot, report.Folder); err != nil {
				return err
			}
		case verify.ReasonStemsCorrupt:
			if path, ok := verify.SlotFile(report.Folder, report.Name, models.FormatStems); ok {
				if err := os.Remove(path); err != nil {
					s.logger.Warn("failed to remove corrupt archive", "file", filepath.Base(path), "error", err)
				}
			}
			if err := s.retryDownload(ctx, page, beat, models.FormatStems, report.Folder); err != nil {
				return err
			}
		case verify.ReasonWAVInArchive:
			// fixed by the normalization below
		}
	}

	s.normalizeStems(ctx, report.Folder, report.Name, wavRetried)
	return nil
}

func (s *Scraper) retryDownload(ctx context.Context, page playwright.Page, beat *models.BeatRecord, format models.Format, folder string) error {
	if err := s.downloadFormat(ctx, page, beat, format, folder); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("retry download failed", "beat", beat.Title, "format", format, "error", err)
		return s.recoverListing(ctx, page)
	}
	return nil
}

// ensureStudioReady reuses the live listing when the page is still on the
// studio with rows loaded; anything else gets a full reload.
func (s *Scraper) ensureStudioReady(ctx context.Context, page playwright.Page) error {
	url := strings.ToLower(page.URL())
	if strings.Contains(url, "beatstars.com") && strings.Contains(url, "studio") {
		if count, err := page.Locator(listingRowSelector).Count(); err == nil && count > 0 {
			return nil
		}
	}
	return s.OpenStudio(ctx, page)
}
