// Package storage persists the pipeline's working-directory state files:
// learned selectors, scrape progress and the digital-downloads mapping.
// Every store writes through a temp file plus rename so a crash never leaves
// a half-written state file behind.
package storage

import (
	"encoding/json"
	"os"
)

// Default state file names, scoped to the current working directory.
const (
	DefaultSelectorsFile = "learned_selectors.json"
	DefaultProgressFile  = "scrape_progress.json"
	DefaultMappingFile   = "digital_downloads_mapping.json"
)

func saveJSON(filename string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpFile, filename)
}
