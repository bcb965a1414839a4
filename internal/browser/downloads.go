package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrDownloadTimeout means no new file appeared within the wait.
	ErrDownloadTimeout = errors.New("no download appeared")
	// ErrDownloadRejected means the new file was an error page served
	// instead of media. The file is deleted before this is returned.
	ErrDownloadRejected = errors.New("download rejected")
)

// tempSuffixes mark in-flight downloads that must not count as new files.
var tempSuffixes = []string{".crdownload", ".part", ".tmp"}

// rejectedExtensions identify error pages masquerading as downloads.
var rejectedExtensions = map[string]bool{
	".svg":  true,
	".html": true,
	".htm":  true,
}

const downloadPollInterval = 500 * time.Millisecond

// Watcher detects a completed download by filename-set difference: snapshot
// the directory before the action, then poll for a file that was not there
// before. Safe only because the pipeline is the directory's sole writer.
type Watcher struct {
	dir    string
	before map[string]bool
	logger *slog.Logger
}

// NewWatcher snapshots dir. Create it immediately before triggering the
// download so unrelated files never count as results.
func NewWatcher(dir string, logger *slog.Logger) (*Watcher, error) {
	before, err := snapshotDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot download dir: %w", err)
	}
	return &Watcher{
		dir:    dir,
		before: before,
		logger: logger.With("component", "downloads"),
	}, nil
}

// Wait polls until a new stable file appears and returns its path. A new
// file with a rejected extension is deleted and reported as
// ErrDownloadRejected; nothing within the timeout is ErrDownloadTimeout.
func (w *Watcher) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		name, err := w.newFile()
		if err != nil {
			return "", err
		}
		if name != "" {
			ext := strings.ToLower(filepath.Ext(name))
			path := filepath.Join(w.dir, name)
			if rejectedExtensions[ext] {
				w.logger.Warn("rejecting error-page download", "file", name)
				os.Remove(path)
				return "", fmt.Errorf("%w: %s", ErrDownloadRejected, name)
			}
			// settle wait so a just-renamed file is fully flushed
			if err := Sleep(ctx, time.Second); err != nil {
				return "", err
			}
			w.logger.Debug("download detected", "file", name)
			return path, nil
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w within %s", ErrDownloadTimeout, timeout)
		}
		if err := Sleep(ctx, downloadPollInterval); err != nil {
			return "", err
		}
	}
}

// newFile returns the first stable filename not present in the snapshot.
func (w *Watcher) newFile() (string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return "", fmt.Errorf("failed to read download dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if w.before[name] || isTempFile(name) {
			continue
		}
		return name, nil
	}
	return "", nil
}

func isTempFile(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range tempSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func snapshotDir(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	snapshot := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			snapshot[entry.Name()] = true
		}
	}
	return snapshot, nil
}
