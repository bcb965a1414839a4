package parser

import (
	"github.com/beatforge/beatbridge/internal/models"
)

// Parser extracts beat records from dashboard listing HTML.
type Parser interface {
	ParseListing(html string) ([]*models.BeatRecord, error)
}