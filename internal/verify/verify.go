// Package verify decides whether a beat folder holds everything the pipeline
// promised to download. The cheap check looks at filenames only; the deep
// check also opens the stems archive to confirm the WAV made it inside.
package verify

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/beatforge/beatbridge/internal/archive"
	"github.com/beatforge/beatbridge/internal/models"
)

// Problem reasons reported by the deep check.
const (
	ReasonMissing      = "missing"
	ReasonStemsCorrupt = "stems-corrupt"
	ReasonWAVInArchive = "wav-in-archive"
)

// State classifies a beat folder for the scan summary.
type State string

const (
	StateComplete State = "complete"
	StatePartial  State = "partial"
	StateAbsent   State = "absent"
)

// Status is the cheap assessment: which of the three download slots are
// filled, judged by filename alone.
type Status struct {
	Complete bool
	Missing  []models.Format
}

// Problem is one defect found by the deep check.
type Problem struct {
	Slot   models.Format
	Reason string
}

// DeepStatus is the deep assessment: missing slots plus archive-level
// defects the cheap check cannot see.
type DeepStatus struct {
	Complete bool
	Problems []Problem
}

// FolderReport pairs a beat folder with its cheap assessment.
type FolderReport struct {
	Folder string
	Name   string
	Status Status
}

// DeepFolderReport pairs a beat folder with its deep assessment.
type DeepFolderReport struct {
	Folder string
	Name   string
	Status DeepStatus
}

// Checker evaluates beat folders against the canonical layout.
type Checker struct {
	normalizer *archive.Normalizer
	logger     *slog.Logger
}

func NewChecker(normalizer *archive.Normalizer, logger *slog.Logger) *Checker {
	return &Checker{
		normalizer: normalizer,
		logger:     logger.With("component", "verify"),
	}
}

// Assess reports which download slots the folder fills. A file fills a slot
// only when its extension belongs to the slot and its stem case-insensitively
// equals the canonical name (stems: canonical name plus "_stems"), so a stray
// artwork or log file never masquerades as a deliverable.
func (c *Checker) Assess(folder, canonicalName string) Status {
	var missing []models.Format
	for _, format := range models.AllFormats() {
		if _, ok := SlotFile(folder, canonicalName, format); !ok {
			missing = append(missing, format)
		}
	}
	return Status{Complete: len(missing) == 0, Missing: missing}
}

// Verify runs the cheap assessment and then opens the stems archive to
// confirm the standalone WAV is embedded. An unreadable archive is reported
// as stems-corrupt, a readable one without the WAV as wav-in-archive.
func (c *Checker) Verify(ctx context.Context, folder, canonicalName string) DeepStatus {
	status := c.Assess(folder, canonicalName)

	var problems []Problem
	for _, slot := range status.Missing {
		problems = append(problems, Problem{Slot: slot, Reason: ReasonMissing})
	}

	if archivePath, ok := SlotFile(folder, canonicalName, models.FormatStems); ok {
		wavName := canonicalName + ".wav"
		err := c.normalizer.VerifyWAVInside(ctx, archivePath, wavName)
		switch {
		case err == nil:
		case errors.Is(err, archive.ErrWAVNotEmbedded):
			problems = append(problems, Problem{Slot: models.FormatStems, Reason: ReasonWAVInArchive})
		default:
			c.logger.Warn("stems archive unreadable",
				"folder", filepath.Base(folder), "error", err)
			problems = append(problems, Problem{Slot: models.FormatStems, Reason: ReasonStemsCorrupt})
		}
	}

	return DeepStatus{Complete: len(problems) == 0, Problems: problems}
}

// Classify buckets a beat by folder state for the scan summary: absent when
// the folder is missing or fills no slot, partial when some slots are
// filled, complete when all are.
func (c *Checker) Classify(root, canonicalName string) State {
	folder := filepath.Join(root, canonicalName)
	if info, err := os.Stat(folder); err != nil || !info.IsDir() {
		return StateAbsent
	}
	status := c.Assess(folder, canonicalName)
	switch {
	case status.Complete:
		return StateComplete
	case len(status.Missing) == len(models.AllFormats()):
		return StateAbsent
	default:
		return StatePartial
	}
}

// ScanRoot assesses every beat folder under root with the cheap check.
// Reports are ordered by folder name.
func (c *Checker) ScanRoot(root string) ([]FolderReport, error) {
	folders, err := beatFolders(root)
	if err != nil {
		return nil, err
	}

	reports := make([]FolderReport, 0, len(folders))
	for _, name := range folders {
		folder := filepath.Join(root, name)
		reports = append(reports, FolderReport{
			Folder: folder,
			Name:   name,
			Status: c.Assess(folder, name),
		})
	}
	return reports, nil
}

// DeepSweep runs the deep check over every beat folder under root. Leftover
// temp extraction directories from an interrupted normalization are removed
// first so they cannot shadow a later corrupt-state diagnosis.
func (c *Checker) DeepSweep(ctx context.Context, root string) ([]DeepFolderReport, error) {
	folders, err := beatFolders(root)
	if err != nil {
		return nil, err
	}

	reports := make([]DeepFolderReport, 0, len(folders))
	for _, name := range folders {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		folder := filepath.Join(root, name)
		if removed, err := CleanTempDirs(folder); err != nil {
			c.logger.Warn("failed to clean temp dirs", "folder", name, "error", err)
		} else if removed > 0 {
			c.logger.Info("removed leftover extraction dirs", "folder", name, "count", removed)
		}
		reports = append(reports, DeepFolderReport{
			Folder: folder,
			Name:   name,
			Status: c.Verify(ctx, folder, name),
		})
	}
	return reports, nil
}

// CleanTempDirs removes extraction directories a crashed normalization left
// behind and reports how many were deleted.
func CleanTempDirs(folder string) (int, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasSuffix(entry.Name(), archive.TempDirSuffix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(folder, entry.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// SlotFile returns the path of the file filling the given slot, if any.
// mp3/wav match <canonical>.<ext>; stems match <canonical>_stems<archive ext>
// for any known archive extension.
func SlotFile(folder, canonicalName string, format models.Format) (string, bool) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if format == models.FormatStems {
			stem, suffix := archive.SplitArchiveSuffix(name)
			if suffix != "" && strings.EqualFold(stem, canonicalName+"_stems") {
				return filepath.Join(folder, name), true
			}
			continue
		}
		ext := filepath.Ext(name)
		if !matchesExtension(ext, format) {
			continue
		}
		if strings.EqualFold(strings.TrimSuffix(name, ext), canonicalName) {
			return filepath.Join(folder, name), true
		}
	}
	return "", false
}

func matchesExtension(ext string, format models.Format) bool {
	lower := strings.ToLower(ext)
	for _, valid := range format.ValidExtensions() {
		if lower == valid {
			return true
		}
	}
	return false
}

func beatFolders(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names, nil
}
