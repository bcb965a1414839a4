package parser

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/beatforge/beatbridge/internal/models"
)

// BeatMetadata is the parsed form of a <name>_metadata.csv file.
type BeatMetadata struct {
	Title        string
	BPM          string
	Tags         []string
	CreationDate string
}

// WriteMetadataCSV writes the beat's metadata file: a header row
// title,bpm,tags,creation_date followed by one data row. Tags are joined
// with ", ".
func WriteMetadataCSV(path string, beat *models.BeatRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"title", "bpm", "tags", "creation_date"}); err != nil {
		return fmt.Errorf("failed to write metadata header: %w", err)
	}
	row := []string{beat.Title, beat.BPM, strings.Join(beat.Tags, ", "), beat.CreationDate}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("failed to write metadata row: %w", err)
	}
	w.Flush()
	return w.Error()
}

// ReadMetadataCSV parses a metadata file written by WriteMetadataCSV.
// Columns are resolved by header name so column order does not matter.
func ReadMetadataCSV(path string) (*BeatMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse metadata file: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("metadata file %s has no data row", path)
	}

	cols := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	row := records[1]
	field := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	meta := &BeatMetadata{
		Title:        field("title"),
		BPM:          field("bpm"),
		CreationDate: field("creation_date"),
	}
	for _, tag := range strings.Split(field("tags"), ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			meta.Tags = append(meta.Tags, tag)
		}
	}

	return meta, nil
}
