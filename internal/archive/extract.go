// Package archive extracts stems archives and rebuilds them with the
// standalone WAV embedded. Format support is provided through a registry of
// extractors so a missing capability surfaces as ErrUnsupportedFormat
// instead of a scattered feature flag.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode"
	"github.com/ulikunitz/xz"
)

var (
	// ErrUnsupportedFormat marks an archive extension no registered
	// extractor can handle.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	// ErrArchiveCorrupt marks an archive that exists but cannot be read.
	ErrArchiveCorrupt = errors.New("archive is corrupt or unreadable")
	// ErrWAVNotEmbedded marks a readable stems archive that does not
	// contain the expected WAV.
	ErrWAVNotEmbedded = errors.New("wav not embedded in stems archive")
)

// Extractor unpacks one family of archive formats into a directory.
type Extractor interface {
	// Extensions lists the filename suffixes this extractor handles,
	// longest first (".tar.gz" before ".gz").
	Extensions() []string
	Extract(ctx context.Context, src, destDir string) error
}

// Registry resolves an archive filename to the extractor responsible for it.
type Registry struct {
	extractors []Extractor
}

// NewRegistry builds a registry from the given providers. Order matters only
// for overlapping extensions; first registration wins.
func NewRegistry(extractors ...Extractor) *Registry {
	return &Registry{extractors: extractors}
}

// DefaultRegistry returns a registry with every built-in format provider.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&zipExtractor{},
		&tarExtractor{},
		&rarExtractor{},
		&sevenZipExtractor{},
		&gzipExtractor{},
		&bzip2Extractor{},
		&xzExtractor{},
	)
}

// For returns the extractor for the filename, or ErrUnsupportedFormat.
func (r *Registry) For(filename string) (Extractor, error) {
	name := strings.ToLower(filepath.Base(filename))
	// longest suffix across all providers wins, so foo.tar.gz goes to the
	// tar provider rather than the bare gzip one
	var (
		best    Extractor
		bestLen int
	)
	for _, ex := range r.extractors {
		for _, ext := range ex.Extensions() {
			if strings.HasSuffix(name, ext) && len(ext) > bestLen {
				best, bestLen = ex, len(ext)
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
	return best, nil
}

// Supported reports whether any provider can handle the filename.
func (r *Registry) Supported(filename string) bool {
	_, err := r.For(filename)
	return err == nil
}

// Extensions returns every suffix the registry can handle.
func (r *Registry) Extensions() []string {
	var out []string
	for _, ex := range r.extractors {
		out = append(out, ex.Extensions()...)
	}
	return out
}

// knownArchiveSuffixes lists every archive extension the pipeline treats as
// a stems candidate, longest first so foo.tar.gz is split before .gz.
var knownArchiveSuffixes = []string{
	".tar.bz2", ".tar.gz", ".tar.xz",
	".tgz", ".zip", ".rar", ".tar", ".bz2",
	".7z", ".gz", ".xz",
}

// HasArchiveSuffix reports whether the filename ends in a known archive
// extension.
func HasArchiveSuffix(name string) bool {
	_, suffix := SplitArchiveSuffix(name)
	return suffix != ""
}

// SplitArchiveSuffix splits a filename into its logical stem and the known
// archive suffix, matching the longest suffix. The suffix is empty when the
// name carries no known archive extension.
func SplitArchiveSuffix(filename string) (string, string) {
	name := filepath.Base(filename)
	lower := strings.ToLower(name)
	for _, suffix := range knownArchiveSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return name[:len(name)-len(suffix)], name[len(name)-len(suffix):]
		}
	}
	return name, ""
}

// securePath joins an archive entry name onto destDir, rejecting entries
// that would escape it.
func securePath(destDir, entryName string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(destDir, filepath.FromSlash(entryName)))
	if cleaned != destDir && !strings.HasPrefix(cleaned, destDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes extraction directory", entryName)
	}
	return cleaned, nil
}

func writeEntry(path string, mode os.FileMode, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return err
	}
	return f.Close()
}

type zipExtractor struct{}

func (e *zipExtractor) Extensions() []string { return []string{".zip"} }

func (e *zipExtractor) Extract(ctx context.Context, src, destDir string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		if zr != nil {
			zr.Close()
		}
		return fmt.Errorf("failed to open zip %s: %w", src, err)
	}
	defer zr.Close()

	for _, entry := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := securePath(destDir, entry.Name)
		if err != nil {
			return err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0755); err != nil {
				return err
			}
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("failed to open zip entry %s: %w", entry.Name, err)
		}
		err = writeEntry(path, 0644, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("failed to extract %s: %w", entry.Name, err)
		}
	}
	return nil
}

type tarExtractor struct{}

func (e *tarExtractor) Extensions() []string {
	return []string{".tar", ".tar.gz", ".tgz", ".tar.bz2", ".tar.xz"}
}

func (e *tarExtractor) Extract(ctx context.Context, src, destDir string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open tar %s: %w", src, err)
	}
	defer f.Close()

	var reader io.Reader = f
	lower := strings.ToLower(src)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to read gzip stream: %w", err)
		}
		defer gz.Close()
		reader = gz
	case strings.HasSuffix(lower, ".tar.bz2"):
		reader = bzip2.NewReader(f)
	case strings.HasSuffix(lower, ".tar.xz"):
		xzr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to read xz stream: %w", err)
		}
		reader = xzr
	}

	tr := tar.NewReader(reader)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}
		path, err := securePath(destDir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(path, 0644, tr); err != nil {
				return fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
			}
		}
	}
}

type rarExtractor struct{}

func (e *rarExtractor) Extensions() []string { return []string{".rar"} }

func (e *rarExtractor) Extract(ctx context.Context, src, destDir string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open rar %s: %w", src, err)
	}
	defer f.Close()

	rr, err := rardecode.NewReader(f, "")
	if err != nil {
		return fmt.Errorf("failed to read rar %s: %w", src, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := rr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read rar entry: %w", err)
		}
		path, err := securePath(destDir, hdr.Name)
		if err != nil {
			return err
		}
		if hdr.IsDir {
			if err := os.MkdirAll(path, 0755); err != nil {
				return err
			}
			continue
		}
		if err := writeEntry(path, 0644, rr); err != nil {
			return fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
		}
	}
}

type sevenZipExtractor struct{}

func (e *sevenZipExtractor) Extensions() []string { return []string{".7z"} }

func (e *sevenZipExtractor) Extract(ctx context.Context, src, destDir string) error {
	rc, err := sevenzip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open 7z %s: %w", src, err)
	}
	defer rc.Close()

	for _, entry := range rc.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := securePath(destDir, entry.Name)
		if err != nil {
			return err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0755); err != nil {
				return err
			}
			continue
		}
		er, err := entry.Open()
		if err != nil {
			return fmt.Errorf("failed to open 7z entry %s: %w", entry.Name, err)
		}
		err = writeEntry(path, 0644, er)
		er.Close()
		if err != nil {
			return fmt.Errorf("failed to extract %s: %w", entry.Name, err)
		}
	}
	return nil
}

// gzipExtractor handles a bare .gz holding a single payload file.
type gzipExtractor struct{}

func (e *gzipExtractor) Extensions() []string { return []string{".gz"} }

func (e *gzipExtractor) Extract(ctx context.Context, src, destDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open gz %s: %w", src, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read gzip stream: %w", err)
	}
	defer gz.Close()

	return extractSinglePayload(src, ".gz", destDir, gz)
}

type bzip2Extractor struct{}

func (e *bzip2Extractor) Extensions() []string { return []string{".bz2"} }

func (e *bzip2Extractor) Extract(ctx context.Context, src, destDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open bz2 %s: %w", src, err)
	}
	defer f.Close()

	return extractSinglePayload(src, ".bz2", destDir, bzip2.NewReader(f))
}

type xzExtractor struct{}

func (e *xzExtractor) Extensions() []string { return []string{".xz"} }

func (e *xzExtractor) Extract(ctx context.Context, src, destDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open xz %s: %w", src, err)
	}
	defer f.Close()

	xzr, err := xz.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read xz stream: %w", err)
	}
	return extractSinglePayload(src, ".xz", destDir, xzr)
}

func extractSinglePayload(src, suffix, destDir string, r io.Reader) error {
	name := filepath.Base(src)
	if strings.HasSuffix(strings.ToLower(name), suffix) {
		name = name[:len(name)-len(suffix)]
	}
	if name == "" {
		name = "payload"
	}
	path, err := securePath(destDir, name)
	if err != nil {
		return err
	}
	if err := writeEntry(path, 0644, r); err != nil {
		return fmt.Errorf("failed to extract %s: %w", name, err)
	}
	return nil
}
