// Package uploader publishes complete beat folders to the store: one product
// per folder with licensing variants, metafields, artwork and preview audio,
// then optionally the digital-download attachments through the app UI.
package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/beatforge/beatbridge/internal/audio"
	"github.com/beatforge/beatbridge/internal/config"
	"github.com/beatforge/beatbridge/internal/delivery"
	"github.com/beatforge/beatbridge/internal/models"
	"github.com/beatforge/beatbridge/internal/parser"
	"github.com/beatforge/beatbridge/internal/ratelimit"
	"github.com/beatforge/beatbridge/internal/shopify"
	"github.com/beatforge/beatbridge/internal/storage"
)

const metadataSuffix = "_metadata.csv"

// artworkPriority orders the accepted artwork extensions; the first match
// wins when a folder somehow holds more than one image.
var artworkPriority = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

type Uploader struct {
	cfg      *config.Config
	client   *shopify.Client
	mappings *storage.MappingStore
	pacer    ratelimit.Pacer
	logger   *slog.Logger

	collection string

	// delivery pass, wired only when digital downloads are enabled
	attacher *delivery.Attacher
	page     playwright.Page
}

func New(cfg *config.Config, client *shopify.Client, mappings *storage.MappingStore, logger *slog.Logger) *Uploader {
	return &Uploader{
		cfg:        cfg,
		client:     client,
		mappings:   mappings,
		pacer:      ratelimit.NewFixedPacer(2*time.Second, 3*time.Second),
		logger:     logger.With("component", "uploader"),
		collection: cfg.CollectionID,
	}
}

// EnableDelivery wires the browser page the Digital Downloads pass runs on.
// Without it products are still created and the mapping file records which
// files belong to which variant for a later manual attach.
func (u *Uploader) EnableDelivery(attacher *delivery.Attacher, page playwright.Page) {
	u.attacher = attacher
	u.page = page
}

// Prepare runs the once-per-run store setup: metafield definitions and the
// collection ID sanity check. A malformed collection ID disables collection
// adds for the run instead of failing it.
func (u *Uploader) Prepare(ctx context.Context) {
	if err := u.client.EnsureMetafieldDefinitions(ctx); err != nil {
		u.logger.Warn("failed to ensure metafield definitions", "error", err)
	}

	if u.collection == "" {
		return
	}
	if err := shopify.ValidateCollectionID(u.collection); err != nil {
		u.logger.Warn("collection adds disabled for this run", "error", err)
		u.collection = ""
	}
}

// Run publishes every beat folder under the configured root that carries a
// metadata file, newest-looking folders first (reverse name order). One
// folder's failure never stops the batch.
func (u *Uploader) Run(ctx context.Context) ([]models.UploadResult, error) {
	folders, err := u.discoverFolders()
	if err != nil {
		return nil, err
	}
	if len(folders) == 0 {
		u.logger.Info("no beat folders with metadata found", "root", u.cfg.BeatsFolder)
		return nil, nil
	}

	u.logger.Info("upload run starting", "folders", len(folders))
	u.Prepare(ctx)

	results := make([]models.UploadResult, 0, len(folders))
	for i, folder := range folders {
		if err := u.pacer.Wait(ctx); err != nil {
			return results, err
		}
		result := u.PublishFolder(ctx, folder)
		results = append(results, result)
		u.logger.Info("beat processed",
			"n", i+1, "of", len(folders),
			"title", result.Title, "outcome", result.Outcome, "reason", result.Reason)
	}

	created, skipped, failed := tally(results)
	u.logger.Info("upload run finished", "created", created, "skipped", skipped, "failed", failed)
	return results, nil
}

// PublishFolder publishes a single beat folder and reports what happened.
// Data-quality problems come back as skipped or failed with a reason; only
// the outcome distinguishes them, the batch always continues.
func (u *Uploader) PublishFolder(ctx context.Context, folder string) models.UploadResult {
	result := models.UploadResult{Folder: folder, Outcome: models.OutcomeFailed}

	metaPath := findMetadataFile(folder)
	if metaPath == "" {
		result.Reason = "no metadata file"
		return result
	}
	meta, err := parser.ReadMetadataCSV(metaPath)
	if err != nil {
		result.Reason = fmt.Sprintf("unreadable metadata: %v", err)
		return result
	}

	title := strings.TrimSpace(meta.Title)
	result.Title = title
	if title == "" {
		result.Outcome = models.OutcomeSkipped
		result.Reason = "missing_metadata: title"
		return result
	}
	bpm := parser.ParseBPM(meta.BPM)
	if bpm == "N/A" {
		result.Outcome = models.OutcomeSkipped
		result.Reason = "missing_metadata: bpm"
		return result
	}

	u.logger.Info("publishing beat", "title", title, "folder", filepath.Base(folder))

	productID, exists, err := u.client.FindProductByTitle(ctx, title)
	if err != nil {
		result.Reason = fmt.Sprintf("product lookup failed: %v", err)
		return result
	}
	if exists {
		result.Outcome = models.OutcomeSkipped
		result.ProductID = productID
		result.Reason = "already_exists"
		u.logger.Info("product already exists, skipping", "title", title)
		return result
	}

	artwork := findArtwork(folder)
	if artwork == "" {
		result.Reason = "no artwork found"
		return result
	}

	mp3 := u.previewMP3(folder)
	duration := audio.DefaultDuration
	if mp3 != "" {
		duration = audio.DurationString(mp3)
	} else {
		u.logger.Warn("no mp3 in folder, product gets no audio preview", "title", title)
	}

	productID, err = u.client.CreateProduct(ctx, shopify.NewProduct{
		Title:        title,
		Tags:         mergeTags(meta.Tags, u.cfg.DefaultTags),
		BPM:          bpm,
		Duration:     duration,
		CreationDate: meta.CreationDate,
	})
	if err != nil {
		result.Reason = fmt.Sprintf("product creation failed: %v", err)
		return result
	}
	result.ProductID = productID
	result.Outcome = models.OutcomeCreated

	// From here on the product exists; everything else enriches it and
	// failures downgrade to warnings.
	if mp3 != "" {
		if _, err := u.client.UploadAudioPreview(ctx, productID, mp3); err != nil {
			u.logger.Warn("audio preview not attached", "title", title, "error", err)
		}
	}
	if _, err := u.client.ReplaceVariants(ctx, productID); err != nil {
		u.logger.Warn("variants not replaced", "title", title, "error", err)
	}
	if err := u.client.AttachProductImage(ctx, productID, artwork); err != nil {
		u.logger.Warn("artwork not attached", "title", title, "error", err)
	}
	u.client.PublishEverywhere(ctx, productID)
	if u.collection != "" {
		if err := u.client.AddToCollection(ctx, u.collection, productID); err != nil {
			u.logger.Warn("not added to collection", "title", title, "error", err)
		}
	}

	entry := models.MappingEntry{
		ProductID:    productID,
		ProductTitle: title,
		Folder:       folder,
		Variants:     u.variantFiles(folder),
	}
	if err := u.mappings.Append(entry); err != nil {
		u.logger.Warn("mapping not recorded", "title", title, "error", err)
	}

	if u.deliveryEnabled() {
		attached, err := u.attacher.AttachFiles(ctx, u.page, productID, title, folder)
		switch {
		case err != nil:
			u.logger.Warn("product created but digital downloads failed", "title", title, "error", err)
		case !attached:
			u.logger.Warn("no digital files attached", "title", title)
		}
	}

	return result
}

func (u *Uploader) deliveryEnabled() bool {
	return u.attacher != nil && u.page != nil && u.cfg.AutoUploadDigitalDownloads()
}

// discoverFolders lists the beat folders that carry a metadata file, sorted
// by lowercased name in reverse so recent scrapes (date-prefixed or simply
// later in the alphabet) go first.
func (u *Uploader) discoverFolders() ([]string, error) {
	entries, err := os.ReadDir(u.cfg.BeatsFolder)
	if err != nil {
		return nil, fmt.Errorf("failed to read beats folder: %w", err)
	}

	var folders []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(u.cfg.BeatsFolder, entry.Name())
		if findMetadataFile(path) == "" {
			continue
		}
		folders = append(folders, path)
	}

	sort.Slice(folders, func(i, j int) bool {
		return strings.ToLower(filepath.Base(folders[i])) > strings.ToLower(filepath.Base(folders[j]))
	})
	return folders, nil
}

// variantFiles resolves, per configured variant, the files its tiers
// entitle. Recorded in the mapping even when the UI attach is disabled or
// fails, so the files can be attached manually later.
func (u *Uploader) variantFiles(folder string) map[string][]string {
	resolved := make(map[string][]string, len(u.cfg.Variants))
	for _, v := range u.cfg.Variants {
		files := delivery.FilesForVariant(folder, v.DigitalFiles, u.cfg.FilePatterns)
		if files == nil {
			files = []string{}
		}
		resolved[v.Name] = files
	}
	return resolved
}

func (u *Uploader) previewMP3(folder string) string {
	files := delivery.FilesForVariant(folder, []string{"mp3"}, u.cfg.FilePatterns)
	if len(files) == 0 {
		return ""
	}
	return files[0]
}

func findMetadataFile(folder string) string {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(entry.Name()), metadataSuffix) {
			return filepath.Join(folder, entry.Name())
		}
	}
	return ""
}

func findArtwork(folder string) string {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return ""
	}
	for _, ext := range artworkPriority {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if strings.EqualFold(filepath.Ext(entry.Name()), ext) {
				return filepath.Join(folder, entry.Name())
			}
		}
	}
	return ""
}

// mergeTags combines scraped tags with the configured defaults,
// de-duplicating case-insensitively while keeping the first casing seen.
func mergeTags(scraped, defaults []string) []string {
	seen := make(map[string]bool, len(scraped)+len(defaults))
	merged := make([]string, 0, len(scraped)+len(defaults))
	for _, tag := range append(append([]string{}, scraped...), defaults...) {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, tag)
	}
	return merged
}

func tally(results []models.UploadResult) (created, skipped, failed int) {
	for _, r := range results {
		switch r.Outcome {
		case models.OutcomeCreated:
			created++
		case models.OutcomeSkipped:
			skipped++
		default:
			failed++
		}
	}
	return created, skipped, failed
}
