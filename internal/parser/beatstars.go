package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/beatforge/beatbridge/internal/models"
)

// title candidates this short are noise (icons, counters), never beat names
const minTitleLength = 4

// BeatStarsParser extracts beat records from studio dashboard listing HTML.
// Field lookups are cascades because the dashboard markup has shifted
// between releases; the icon-anchored pairs are the most stable.
type BeatStarsParser struct {
	titleSelectors []string
	bpmPattern     *regexp.Regexp
	datePattern    *regexp.Regexp
}

func NewBeatStarsParser() *BeatStarsParser {
	return &BeatStarsParser{
		titleSelectors: []string{
			"span.title",
			"span[data-cy^='title-span-']",
		},
		bpmPattern:  regexp.MustCompile(`(?i)(\d+)\s*BPM`),
		datePattern: regexp.MustCompile(`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\s+\d{1,2},?\s+\d{4}\b`),
	}
}

// ParseListing extracts one BeatRecord per studio-list-item row. A row whose
// title cannot be located still yields a record with a positional fallback
// name, keeping record indexes aligned with on-page row positions.
func (p *BeatStarsParser) ParseListing(html string) ([]*models.BeatRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing HTML: %w", err)
	}

	var beats []*models.BeatRecord
	doc.Find("studio-list-item").Each(func(i int, row *goquery.Selection) {
		index := i + 1
		rawTitle := p.extractTitle(row)

		beat := models.NewBeatRecord(index, rawTitle)
		if rawTitle == "" {
			beat.Title = fmt.Sprintf("Beat_%d", index)
		} else {
			title, tags := ParseTitleAndTags(rawTitle)
			beat.Title = SanitizeFilename(title)
			beat.Tags = tags
		}

		beat.BPM = p.extractBPM(row)
		beat.CreationDate = p.extractDate(row)
		beat.ArtworkURL = p.extractArtwork(row)

		beats = append(beats, beat)
	})

	return beats, nil
}

func (p *BeatStarsParser) extractTitle(row *goquery.Selection) string {
	for _, sel := range p.titleSelectors {
		var found string
		row.Find(sel).EachWithBreak(func(i int, span *goquery.Selection) bool {
			text := strings.TrimSpace(span.Text())
			if len(text) >= minTitleLength {
				found = text
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}

	// anchor text shaped like "Title - tag x tag" is the next best source
	var fromLink string
	row.Find("a").EachWithBreak(func(i int, link *goquery.Selection) bool {
		text := strings.TrimSpace(link.Text())
		if len(text) > 10 && strings.Contains(text, "-") && !containsStatusWord(text) {
			fromLink = text
			return false
		}
		return true
	})
	if fromLink != "" {
		return fromLink
	}

	for _, line := range strings.Split(row.Text(), "\n") {
		line = strings.TrimSpace(line)
		if len(line) > 10 && strings.Contains(line, "-") && !containsRowNoise(line) {
			return line
		}
	}
	return ""
}

// extractBPM reads the value span next to the BPM icon, falling back to any
// "<digits> BPM" text in the row. Returns "N/A" when nothing matches.
func (p *BeatStarsParser) extractBPM(row *goquery.Selection) string {
	if value := iconValue(row, "i.icon-bpm"); value != "" {
		return ParseBPM(value)
	}
	if m := p.bpmPattern.FindStringSubmatch(row.Text()); m != nil {
		return ParseBPM(m[1])
	}
	return "N/A"
}

// extractDate reads the value span next to the clock icon, falling back to a
// month-name date pattern anywhere in the row's columns.
func (p *BeatStarsParser) extractDate(row *goquery.Selection) string {
	if value := iconValue(row, "i.icon-clock"); value != "" {
		return value
	}

	var found string
	row.Find(".table-column").EachWithBreak(func(i int, col *goquery.Selection) bool {
		if m := p.datePattern.FindString(col.Text()); m != "" {
			found = m
			return false
		}
		return true
	})
	if found != "" {
		return found
	}
	return p.datePattern.FindString(row.Text())
}

func (p *BeatStarsParser) extractArtwork(row *goquery.Selection) string {
	var url string
	row.Find("img").EachWithBreak(func(i int, img *goquery.Selection) bool {
		src, ok := img.Attr("src")
		if !ok || src == "" {
			return true
		}
		if strings.HasPrefix(src, "data:") {
			return true
		}
		url = src
		return false
	})
	return url
}

// iconValue returns the text of the value span sharing a parent with the
// given icon, the studio's standard "icon + value" column layout.
func iconValue(row *goquery.Selection, iconSelector string) string {
	parent := row.Find(iconSelector).First().Parent()
	if parent.Length() == 0 {
		return ""
	}
	if value := strings.TrimSpace(parent.Find("span.value").First().Text()); value != "" {
		return value
	}
	return strings.TrimSpace(parent.Find("span").First().Text())
}

func containsStatusWord(text string) bool {
	upper := strings.ToUpper(text)
	for _, word := range []string{"PUBLISHED", "DRAFT", "HTTP"} {
		if strings.Contains(upper, word) {
			return true
		}
	}
	return false
}

func containsRowNoise(text string) bool {
	upper := strings.ToUpper(text)
	for _, word := range []string{"PUBLISHED", "DRAFT", "BPM", "MP3", "WAV", "RAR", "ZIP"} {
		if strings.Contains(upper, word) {
			return true
		}
	}
	return false
}
