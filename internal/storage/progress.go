package storage

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beatforge/beatbridge/internal/models"
)

// ProgressStore appends completed beat titles to the scrape-progress file.
// The file is an audit trail only: nothing reads it to decide whether a beat
// should be skipped or retried.
type ProgressStore struct {
	mu       sync.RWMutex
	progress models.Progress
	filename string
	logger   *slog.Logger
}

func NewProgressStore(filename string, logger *slog.Logger) (*ProgressStore, error) {
	ps := &ProgressStore{
		filename: filename,
		logger:   logger.With("component", "progress"),
	}

	if err := ps.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if ps.progress.RunID == "" {
		ps.reset()
	}

	return ps, nil
}

// StartRun stamps a fresh run ID and start time, keeping prior completed
// entries as history.
func (ps *ProgressStore) StartRun() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.progress.RunID = uuid.NewString()
	ps.progress.StartedAt = time.Now()
	return ps.save()
}

// MarkCompleted appends a completion entry for the beat title.
func (ps *ProgressStore) MarkCompleted(title string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.progress.Completed = append(ps.progress.Completed, models.ProgressEntry{
		Title:       title,
		CompletedAt: time.Now(),
	})
	return ps.save()
}

// Snapshot returns a copy of the current progress state.
func (ps *ProgressStore) Snapshot() models.Progress {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	snap := ps.progress
	snap.Completed = make([]models.ProgressEntry, len(ps.progress.Completed))
	copy(snap.Completed, ps.progress.Completed)
	return snap
}

// RunID returns the identifier of the current run.
func (ps *ProgressStore) RunID() string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.progress.RunID
}

func (ps *ProgressStore) reset() {
	ps.progress = models.Progress{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Completed: make([]models.ProgressEntry, 0),
	}
}

func (ps *ProgressStore) save() error {
	return saveJSON(ps.filename, ps.progress)
}

func (ps *ProgressStore) load() error {
	data, err := os.ReadFile(ps.filename)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, &ps.progress); err != nil {
		ps.logger.Warn("progress file is malformed, starting fresh", "file", ps.filename, "error", err)
		ps.reset()
	}
	return nil
}
