package storage

import (
	"encoding/json"
	"os"
	"sync"
)

// maxSelectorsPerAction caps how many remembered selectors are kept per
// logical UI action.
const maxSelectorsPerAction = 10

// SelectorStore remembers which DOM selectors last worked for each logical
// UI action ("menu_button", "download_button", ...). It is an optimization
// and a diagnostic aid; losing the file costs nothing but a slower cascade.
type SelectorStore struct {
	mu        sync.RWMutex
	selectors map[string][]string
	filename  string
}

func NewSelectorStore(filename string) (*SelectorStore, error) {
	ss := &SelectorStore{
		selectors: make(map[string][]string),
		filename:  filename,
	}

	if err := ss.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return ss, nil
}

// RecordSuccess moves the selector to the front of the action's list,
// deduplicating and keeping only the most recent entries.
func (ss *SelectorStore) RecordSuccess(action, selector string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	ranked := []string{selector}
	for _, s := range ss.selectors[action] {
		if s != selector {
			ranked = append(ranked, s)
		}
	}
	if len(ranked) > maxSelectorsPerAction {
		ranked = ranked[:maxSelectorsPerAction]
	}
	ss.selectors[action] = ranked

	return ss.save()
}

// Ranked returns the selectors to try for an action: remembered ones first,
// then the defaults that are not already present.
func (ss *SelectorStore) Ranked(action string, defaults []string) []string {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, s := range ss.selectors[action] {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range defaults {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (ss *SelectorStore) save() error {
	return saveJSON(ss.filename, ss.selectors)
}

func (ss *SelectorStore) load() error {
	data, err := os.ReadFile(ss.filename)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, &ss.selectors); err != nil {
		// A broken selectors file is only a lost optimization.
		ss.selectors = make(map[string][]string)
	}
	return nil
}
