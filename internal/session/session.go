// Package session persists and restores authenticated browser state for the
// two sites the pipeline drives. BeatStars keeps cookies plus a freshness
// window; Shopify keeps full storage state because the admin SPA relies on
// more than cookies.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrNoSession means no session file exists on disk.
	ErrNoSession = errors.New("no saved session")
	// ErrSessionStale means the saved session exceeded its freshness window.
	ErrSessionStale = errors.New("saved session is too old")
)

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
