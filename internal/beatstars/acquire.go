package beatstars

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/beatforge/beatbridge/internal/browser"
	"github.com/beatforge/beatbridge/internal/models"
	"github.com/beatforge/beatbridge/internal/parser"
	"github.com/beatforge/beatbridge/internal/verify"
)

// Learned-selector action keys.
const (
	actionMenuButton     = "menu_button"
	actionDownloadOption = "download_option"
	actionFormatPrefix   = "format_"
)

var menuButtonSelectors = []string{
	"xpath=.//studio-button-item-menu//button",
	"xpath=.//button[.//i[contains(@class, 'icon-more')]]",
}

var downloadOptionSelectors = []string{
	"xpath=//button[.//span[contains(text(), 'Download')]]",
	"xpath=//div[contains(@class, 'mat-menu-content')]//button[contains(., 'Download')]",
}

// formatDialogSelectors addresses the format button by its 1-based position
// in the download dialog. The dialog buttons carry no usable text or ids.
func formatDialogSelectors(position int) []string {
	return []string{
		fmt.Sprintf("xpath=//mat-dialog-container//bs-dialog//div[2]/div/div[%d]/bs-square-button/button", position),
		fmt.Sprintf("xpath=//mat-dialog-container//bs-square-button[%d]//button", position),
	}
}

var artworkExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// AcquireBeat downloads everything the beat's folder is missing: formats,
// artwork and the metadata file, then normalizes the stems archive and
// immediately retries any slot the re-check still reports missing.
func (s *Scraper) AcquireBeat(ctx context.Context, page playwright.Page, beat *models.BeatRecord) (verify.Status, error) {
	folder := filepath.Join(s.cfg.BeatsFolder, beat.Title)
	if err := os.MkdirAll(folder, 0755); err != nil {
		return verify.Status{}, fmt.Errorf("failed to create beat folder: %w", err)
	}

	status := s.checker.Assess(folder, beat.Title)
	if status.Complete {
		s.logger.Info("beat already complete", "beat", beat.Title)
		return status, nil
	}

	s.logger.Info("acquiring beat",
		"beat", beat.Title, "index", beat.Index, "missing", formatNames(status.Missing))

	if err := s.downloadFormats(ctx, page, beat, folder, status.Missing); err != nil {
		return status, err
	}

	if err := s.downloadArtwork(ctx, beat, folder); err != nil {
		s.logger.Warn("artwork download failed", "beat", beat.Title, "error", err)
	}
	if err := s.writeMetadata(beat, folder); err != nil {
		s.logger.Warn("failed to write metadata", "beat", beat.Title, "error", err)
	}

	s.normalizeStems(ctx, folder, beat.Title, false)

	status = s.checker.Assess(folder, beat.Title)
	if !status.Complete {
		s.logger.Warn("beat incomplete after first pass, retrying now",
			"beat", beat.Title, "missing", formatNames(status.Missing))

		retried := status.Missing
		if err := s.downloadFormats(ctx, page, beat, folder, retried); err != nil {
			return status, err
		}
		s.normalizeStems(ctx, folder, beat.Title, containsFormat(retried, models.FormatWAV))
		status = s.checker.Assess(folder, beat.Title)
	}

	s.closeStrayPages(page)

	if status.Complete {
		if err := s.progress.MarkCompleted(beat.Title); err != nil {
			s.logger.Warn("failed to record progress", "beat", beat.Title, "error", err)
		}
		s.logger.Info("beat complete", "beat", beat.Title)
	} else {
		s.logger.Warn("beat still incomplete", "beat", beat.Title, "missing", formatNames(status.Missing))
	}
	return status, nil
}

// downloadFormats runs the per-format flow for each slot, recovering the
// listing after a failed attempt so the next format starts clean.
func (s *Scraper) downloadFormats(ctx context.Context, page playwright.Page, beat *models.BeatRecord, folder string, formats []models.Format) error {
	for _, format := range formats {
		if err := s.downloadFormat(ctx, page, beat, format, folder); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("format download failed", "beat", beat.Title, "format", format, "error", err)
			if err := s.recoverListing(ctx, page); err != nil {
				return err
			}
			continue
		}
		if err := browser.Sleep(ctx, time.Second); err != nil {
			return err
		}
	}
	return nil
}

// downloadFormat walks one format through the dashboard's download flow:
// row menu, Download option, format dialog button, then watch the download
// directory for the new file and move it into the beat folder.
func (s *Scraper) downloadFormat(ctx context.Context, page playwright.Page, beat *models.BeatRecord, format models.Format, folder string) error {
	row, err := s.listingRow(page, beat.Index)
	if err != nil {
		return err
	}
	if err := row.ScrollIntoViewIfNeeded(); err != nil {
		s.logger.Debug("failed to scroll row into view", "index", beat.Index, "error", err)
	}
	if err := browser.Sleep(ctx, 500*time.Millisecond); err != nil {
		return err
	}

	if _, err := s.clickCascade(func(sel string) playwright.Locator { return row.Locator(sel) },
		actionMenuButton, menuButtonSelectors, 3*time.Second); err != nil {
		return fmt.Errorf("row menu: %w", err)
	}
	if err := browser.Sleep(ctx, time.Second); err != nil {
		return err
	}

	if _, err := s.clickCascade(func(sel string) playwright.Locator { return page.Locator(sel) },
		actionDownloadOption, downloadOptionSelectors, 4*time.Second); err != nil {
		return fmt.Errorf("download option: %w", err)
	}
	if err := browser.Sleep(ctx, 1500*time.Millisecond); err != nil {
		return err
	}

	// snapshot the download dir before anything can start arriving
	watcher, err := browser.NewWatcher(s.cfg.DownloadDir, s.logger)
	if err != nil {
		return err
	}
	pagesBefore := len(page.Context().Pages())

	if _, err := s.clickCascade(func(sel string) playwright.Locator { return page.Locator(sel) },
		actionFormatPrefix+string(format), formatDialogSelectors(s.menuPosition(format)), 4*time.Second); err != nil {
		return fmt.Errorf("format dialog: %w", err)
	}
	if err := browser.Sleep(ctx, 1500*time.Millisecond); err != nil {
		return err
	}

	if format != models.FormatStems {
		if err := s.redirectMediaTab(ctx, page, pagesBefore); err != nil {
			s.logger.Debug("player tab handling", "format", format, "error", err)
		}
	}

	downloaded, err := watcher.Wait(ctx, s.cfg.Timeouts.Download())
	if err != nil {
		return err
	}

	return s.finishDownload(downloaded, beat.Title, format, folder)
}

func (s *Scraper) listingRow(page playwright.Page, index int) (playwright.Locator, error) {
	rows := page.Locator(listingRowSelector)
	count, err := rows.Count()
	if err != nil {
		return nil, fmt.Errorf("failed to count listing rows: %w", err)
	}
	if index < 1 || index > count {
		return nil, fmt.Errorf("row %d is not on the page (%d rows loaded): %w", index, count, browser.ErrNotFound)
	}
	return rows.Nth(index - 1), nil
}

func (s *Scraper) menuPosition(format models.Format) int {
	switch format {
	case models.FormatWAV:
		return s.cfg.MenuPositions.WAV
	case models.FormatStems:
		return s.cfg.MenuPositions.Stems
	default:
		return s.cfg.MenuPositions.MP3
	}
}

// clickCascade tries the remembered selectors for an action before the
// defaults, clicks the first visible match and re-records the winner.
func (s *Scraper) clickCascade(locate func(string) playwright.Locator, action string, defaults []string, perAttempt time.Duration) (string, error) {
	for _, sel := range s.selectors.Ranked(action, defaults) {
		loc := locate(sel).First()
		err := loc.WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateVisible,
			Timeout: playwright.Float(float64(perAttempt.Milliseconds())),
		})
		if err != nil {
			if errors.Is(err, playwright.ErrTimeout) {
				continue
			}
			return "", fmt.Errorf("%s: %w", action, err)
		}
		if err := loc.Click(); err != nil {
			s.logger.Debug("selector matched but click failed", "action", action, "selector", sel, "error", err)
			continue
		}
		if err := s.selectors.RecordSuccess(action, sel); err != nil {
			s.logger.Debug("failed to persist learned selector", "action", action, "error", err)
		}
		return sel, nil
	}
	return "", fmt.Errorf("%s: no selector matched: %w", action, browser.ErrNotFound)
}

// redirectMediaTab handles formats that open an in-browser player instead of
// downloading: grab the media source in the new tab, synthesize a download
// anchor for it, then close the tab and refocus the listing.
func (s *Scraper) redirectMediaTab(ctx context.Context, page playwright.Page, pagesBefore int) error {
	pages := page.Context().Pages()
	if len(pages) <= pagesBefore {
		return nil
	}
	tab := pages[len(pages)-1]
	defer func() {
		if err := tab.Close(); err != nil {
			s.logger.Debug("failed to close player tab", "error", err)
		}
		if err := page.BringToFront(); err != nil {
			s.logger.Debug("failed to refocus listing", "error", err)
		}
	}()

	s.logger.Debug("player tab opened, extracting media source")

	media := tab.Locator("audio, video").First()
	if err := media.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(15000),
	}); err != nil {
		return fmt.Errorf("no media element in player tab: %w", err)
	}

	result, err := tab.Evaluate(downloadAnchorJS)
	if err != nil {
		return fmt.Errorf("failed to trigger media download: %w", err)
	}
	if ok, _ := result.(bool); !ok {
		return errors.New("player media has no source URL")
	}

	// let the download register before the tab goes away
	return browser.Sleep(ctx, 2*time.Second)
}

const downloadAnchorJS = `() => {
	const media = document.querySelector('audio, video');
	if (!media) return false;
	const src = media.currentSrc || media.src;
	if (!src) return false;
	const a = document.createElement('a');
	a.href = src;
	a.setAttribute('download', '');
	document.body.appendChild(a);
	a.click();
	a.remove();
	return true;
}`

// finishDownload validates the file's extension for the format and moves it
// into the beat folder under its canonical name, replacing any previous
// attempt.
func (s *Scraper) finishDownload(downloaded, title string, format models.Format, folder string) error {
	ext := strings.ToLower(filepath.Ext(downloaded))
	if !validExtension(ext, format) {
		os.Remove(downloaded)
		return fmt.Errorf("downloaded %q is not a valid %s file", filepath.Base(downloaded), format)
	}

	dest := filepath.Join(folder, targetFilename(title, format, ext))
	if err := moveFile(downloaded, dest); err != nil {
		return fmt.Errorf("failed to move download into beat folder: %w", err)
	}

	s.logger.Info("format downloaded", "file", filepath.Base(dest))
	return nil
}

// targetFilename is the canonical in-folder name for a downloaded format.
// Stems keep whatever archive extension the site served.
func targetFilename(title string, format models.Format, ext string) string {
	if format == models.FormatStems {
		return title + "_stems" + ext
	}
	return title + "." + string(format)
}

func validExtension(ext string, format models.Format) bool {
	for _, valid := range format.ValidExtensions() {
		if ext == valid {
			return true
		}
	}
	return false
}

// downloadArtwork fetches the row's cover image into <title>_artwork.<ext>.
// Skipped when the folder already has one.
func (s *Scraper) downloadArtwork(ctx context.Context, beat *models.BeatRecord, folder string) error {
	if beat.ArtworkURL == "" {
		return nil
	}
	if hasArtwork(folder, beat.Title) {
		return nil
	}

	resp, err := s.http.R().SetContext(ctx).Get(beat.ArtworkURL)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("artwork fetch returned %s", resp.Status())
	}

	dest := filepath.Join(folder, beat.Title+"_artwork"+artworkExt(beat.ArtworkURL))
	if err := os.WriteFile(dest, resp.Body(), 0644); err != nil {
		return err
	}
	s.logger.Debug("artwork saved", "file", filepath.Base(dest))
	return nil
}

func hasArtwork(folder, title string) bool {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return false
	}
	prefix := title + "_artwork."
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			return true
		}
	}
	return false
}

// artworkExt picks the artwork extension from the URL path, defaulting to
// .jpg for CDN URLs without a usable suffix.
func artworkExt(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ".jpg"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if artworkExtensions[ext] {
		return ext
	}
	return ".jpg"
}

// writeMetadata writes <title>_metadata.csv. The CSV carries a digits-only
// BPM column; the "N/A" placeholder becomes an empty field.
func (s *Scraper) writeMetadata(beat *models.BeatRecord, folder string) error {
	rec := *beat
	if rec.BPM == "N/A" {
		rec.BPM = ""
	}
	return parser.WriteMetadataCSV(filepath.Join(folder, rec.Title+"_metadata.csv"), &rec)
}

// normalizeStems embeds the standalone WAV into the stems archive when both
// are present. refreshWAV forces a rebuild, for when the WAV was just
// re-downloaded and the archive may hold a stale copy.
func (s *Scraper) normalizeStems(ctx context.Context, folder, title string, refreshWAV bool) {
	if _, ok := verify.SlotFile(folder, title, models.FormatWAV); !ok {
		return
	}
	if _, ok := verify.SlotFile(folder, title, models.FormatStems); !ok {
		return
	}

	var err error
	if refreshWAV {
		_, err = s.normalizer.RefreshWAV(ctx, folder, title)
	} else {
		_, err = s.normalizer.EnsureWAVEmbedded(ctx, folder, title)
	}
	if err != nil {
		s.logger.Warn("stems normalization failed", "beat", title, "error", err)
	}
}

// recoverListing backs out of whatever dialog or menu a failed attempt left
// open. A page that drifted off the studio listing is reloaded in full.
func (s *Scraper) recoverListing(ctx context.Context, page playwright.Page) error {
	browser.PressEscape(page)
	if err := browser.Sleep(ctx, time.Second); err != nil {
		return err
	}

	url := strings.ToLower(page.URL())
	if strings.Contains(url, "beatstars.com") && strings.Contains(url, "studio") {
		return nil
	}
	s.logger.Warn("page drifted off the listing, reloading", "url", page.URL())
	return s.OpenStudio(ctx, page)
}

func formatNames(formats []models.Format) []string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return names
}

func containsFormat(formats []models.Format, f models.Format) bool {
	for _, x := range formats {
		if x == f {
			return true
		}
	}
	return false
}

// moveFile renames src to dst, falling back to copy and remove when the
// rename fails, typically across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
