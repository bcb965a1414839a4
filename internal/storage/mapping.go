package storage

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/beatforge/beatbridge/internal/models"
)

// MappingStore holds the append-only digital-downloads mapping: one entry
// per created product with the file paths resolved for each variant.
// Entries are never updated in place.
type MappingStore struct {
	mu       sync.RWMutex
	entries  []models.MappingEntry
	filename string
}

func NewMappingStore(filename string) (*MappingStore, error) {
	ms := &MappingStore{
		entries:  make([]models.MappingEntry, 0),
		filename: filename,
	}

	if err := ms.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return ms, nil
}

// Append adds one product entry and rewrites the file.
func (ms *MappingStore) Append(entry models.MappingEntry) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	ms.entries = append(ms.entries, entry)
	return ms.save()
}

// Entries returns a copy of all recorded entries in append order.
func (ms *MappingStore) Entries() []models.MappingEntry {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]models.MappingEntry, len(ms.entries))
	copy(out, ms.entries)
	return out
}

// Stats summarizes the mapping for the status API.
func (ms *MappingStore) Stats() map[string]interface{} {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	stats := map[string]interface{}{
		"total": len(ms.entries),
	}
	if n := len(ms.entries); n > 0 {
		stats["last_product"] = ms.entries[n-1].ProductTitle
		stats["last_created_at"] = ms.entries[n-1].CreatedAt
	}
	return stats
}

func (ms *MappingStore) save() error {
	return saveJSON(ms.filename, ms.entries)
}

func (ms *MappingStore) load() error {
	data, err := os.ReadFile(ms.filename)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &ms.entries)
}
