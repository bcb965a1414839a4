package models

import (
	"time"
)

// BeatRecord is one scraped track as seen in the dashboard listing. Records
// are rebuilt fresh on every scrape pass; the sanitized title doubles as the
// folder name and is the only identity that survives a run.
type BeatRecord struct {
	Index        int      `json:"index"`
	Title        string   `json:"title"`
	RawTitle     string   `json:"raw_title"`
	Tags         []string `json:"tags"`
	BPM          string   `json:"bpm"`
	CreationDate string   `json:"creation_date,omitempty"`
	ArtworkURL   string   `json:"artwork_url,omitempty"`
}

func NewBeatRecord(index int, rawTitle string) *BeatRecord {
	return &BeatRecord{
		Index:    index,
		RawTitle: rawTitle,
		BPM:      "N/A",
		Tags:     make([]string, 0),
	}
}

func (b *BeatRecord) Validate() []string {
	var errors []string

	if b.Title == "" {
		errors = append(errors, "Title is required")
	}

	if b.Index < 1 {
		errors = append(errors, "Index must be 1-based")
	}

	return errors
}

// Format is one of the three deliverables downloaded per beat.
type Format string

const (
	FormatMP3   Format = "mp3"
	FormatWAV   Format = "wav"
	FormatStems Format = "stems"
)

// AllFormats lists the formats in acquisition order, which mirrors the
// download menu's top-to-bottom layout.
func AllFormats() []Format {
	return []Format{FormatMP3, FormatWAV, FormatStems}
}

// ValidExtensions returns the file extensions accepted for the format.
// Anything else that lands in the download directory for this format is
// treated as a failed attempt.
func (f Format) ValidExtensions() []string {
	switch f {
	case FormatWAV:
		return []string{".wav"}
	case FormatStems:
		return []string{".zip", ".rar", ".7z", ".tar", ".gz"}
	default:
		return []string{".mp3"}
	}
}

// MappingEntry records one created product and the absolute file paths
// resolved for each of its variants. The mapping file is append-only.
type MappingEntry struct {
	ProductID    string              `json:"product_id"`
	ProductTitle string              `json:"product_title"`
	Folder       string              `json:"folder"`
	CreatedAt    time.Time           `json:"created_at"`
	Variants     map[string][]string `json:"variants"`
}

// ProgressEntry marks one beat as completed during a scrape run. The
// progress file is an audit trail only; skip and retry decisions are always
// re-derived from folder contents.
type ProgressEntry struct {
	Title       string    `json:"title"`
	CompletedAt time.Time `json:"completed_at"`
}

// Progress is the persisted scrape-progress state.
type Progress struct {
	RunID     string          `json:"run_id"`
	StartedAt time.Time       `json:"started_at"`
	Completed []ProgressEntry `json:"completed"`
}

// UploadOutcome classifies the result of publishing one beat folder.
type UploadOutcome string

const (
	OutcomeCreated UploadOutcome = "created"
	OutcomeSkipped UploadOutcome = "skipped"
	OutcomeFailed  UploadOutcome = "failed"
)

// UploadResult is the per-folder result of an upload run.
type UploadResult struct {
	Folder    string        `json:"folder"`
	Title     string        `json:"title"`
	ProductID string        `json:"product_id,omitempty"`
	Outcome   UploadOutcome `json:"outcome"`
	Reason    string        `json:"reason,omitempty"`
}
