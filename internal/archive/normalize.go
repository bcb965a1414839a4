package archive

import (
	"archive/zip"
	"compress/flate"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// TempDirSuffix names the private extraction directory the normalizer uses
// inside a beat folder. A leftover directory with this suffix is the trace
// of an interrupted run and is cleaned by the deep sweep.
const TempDirSuffix = "_stems_temp"

// Normalizer guarantees a beat's stems archive embeds its standalone WAV,
// rebuilding the archive as a zip when it does not.
type Normalizer struct {
	registry *Registry
	logger   *slog.Logger
}

func NewNormalizer(registry *Registry, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		registry: registry,
		logger:   logger.With("component", "normalizer"),
	}
}

// EnsureWAVEmbedded checks the folder's stems archive for
// <canonicalName>.wav and rebuilds the archive around it when missing.
// It returns true when the folder ends up with a WAV-embedding archive.
// The original archive is never removed before its replacement zip has been
// fully written, and the temp extraction directory is removed on every exit
// path.
func (n *Normalizer) EnsureWAVEmbedded(ctx context.Context, folder, canonicalName string) (bool, error) {
	return n.embed(ctx, folder, canonicalName, false)
}

// RefreshWAV rebuilds the stems archive around the current standalone WAV
// even when a same-named copy is already embedded. Use it after re-downloading
// the WAV, when the archive may still carry a stale copy under the same name.
func (n *Normalizer) RefreshWAV(ctx context.Context, folder, canonicalName string) (bool, error) {
	return n.embed(ctx, folder, canonicalName, true)
}

func (n *Normalizer) embed(ctx context.Context, folder, canonicalName string, force bool) (bool, error) {
	archivePath, found := FindStemsArchive(folder)
	if !found {
		n.logger.Debug("no stems archive to normalize", "folder", folder)
		return false, nil
	}

	wavName := canonicalName + ".wav"
	wavPath := filepath.Join(folder, wavName)
	if _, err := os.Stat(wavPath); err != nil {
		return false, fmt.Errorf("standalone wav %s not found: %w", wavName, err)
	}

	if !force && strings.EqualFold(filepath.Ext(archivePath), ".zip") {
		embedded, err := zipContains(archivePath, wavName)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrArchiveCorrupt, err)
		}
		if embedded {
			n.logger.Debug("wav already embedded", "archive", filepath.Base(archivePath))
			return true, nil
		}
	}

	extractor, err := n.registry.For(archivePath)
	if err != nil {
		return false, err
	}

	tempDir := filepath.Join(folder, canonicalName+TempDirSuffix)
	if err := os.RemoveAll(tempDir); err != nil {
		return false, fmt.Errorf("failed to clear stale temp dir: %w", err)
	}
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return false, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	if err := extractor.Extract(ctx, archivePath, tempDir); err != nil {
		return false, fmt.Errorf("extraction failed, original archive kept: %w", err)
	}

	if err := copyFile(wavPath, filepath.Join(tempDir, wavName)); err != nil {
		return false, fmt.Errorf("failed to stage wav: %w", err)
	}

	newArchive := filepath.Join(folder, canonicalName+"_stems.zip")
	partial := newArchive + ".partial"
	if err := buildZip(ctx, tempDir, partial); err != nil {
		os.Remove(partial)
		return false, fmt.Errorf("failed to rebuild stems zip: %w", err)
	}

	if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		os.Remove(partial)
		return false, fmt.Errorf("failed to remove original archive: %w", err)
	}
	if err := os.Rename(partial, newArchive); err != nil {
		os.Remove(partial)
		return false, fmt.Errorf("failed to move rebuilt archive into place: %w", err)
	}

	n.logger.Info("stems archive rebuilt with wav embedded",
		"archive", filepath.Base(newArchive), "replaced", filepath.Base(archivePath))
	return true, nil
}

// VerifyWAVInside confirms the archive embeds a file named wavName.
// It returns ErrArchiveCorrupt when the archive cannot be read and
// ErrWAVNotEmbedded when it reads fine but lacks the WAV.
func (n *Normalizer) VerifyWAVInside(ctx context.Context, archivePath, wavName string) error {
	if strings.EqualFold(filepath.Ext(archivePath), ".zip") {
		embedded, err := zipContains(archivePath, wavName)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrArchiveCorrupt, err)
		}
		if !embedded {
			return ErrWAVNotEmbedded
		}
		return nil
	}

	extractor, err := n.registry.For(archivePath)
	if err != nil {
		return err
	}

	tempDir, err := os.MkdirTemp("", "beatbridge-verify-")
	if err != nil {
		return fmt.Errorf("failed to create verify temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	if err := extractor.Extract(ctx, archivePath, tempDir); err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveCorrupt, err)
	}

	found := false
	walkErr := filepath.WalkDir(tempDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(d.Name(), wavName) {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("failed to scan extracted contents: %w", walkErr)
	}
	if !found {
		return ErrWAVNotEmbedded
	}
	return nil
}

// FindStemsArchive locates the folder's stems archive: a file whose name
// contains "stems" and carries a known archive extension. Whether the
// registry can actually extract it is a separate question, answered by
// Registry.For with ErrUnsupportedFormat.
func FindStemsArchive(folder string) (string, bool) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.Contains(strings.ToLower(name), "stems") {
			continue
		}
		if strings.HasSuffix(name, ".partial") {
			continue
		}
		if HasArchiveSuffix(name) {
			return filepath.Join(folder, name), true
		}
	}
	return "", false
}

func zipContains(archivePath, wavName string) (bool, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		if zr != nil {
			zr.Close()
		}
		return false, err
	}
	defer zr.Close()

	for _, entry := range zr.File {
		if strings.EqualFold(filepath.Base(filepath.FromSlash(entry.Name)), wavName) {
			return true, nil
		}
	}
	return false, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// buildZip packs the full contents of srcDir into a zip at dst using
// maximum deflate compression.
func buildZip(ctx context.Context, srcDir, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, in)
		in.Close()
		return err
	})
	if err != nil {
		zw.Close()
		return err
	}

	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}
