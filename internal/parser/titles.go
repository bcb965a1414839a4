package parser

import (
	"regexp"
	"strings"
)

const maxFilenameLength = 200

var (
	forbiddenChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	digitsOnly     = regexp.MustCompile(`[^\d]`)
)

// SanitizeFilename turns a beat title into a safe folder and file name:
// filesystem-reserved characters become underscores, leading and trailing
// dots and spaces are stripped, and the result is capped at 200 characters.
func SanitizeFilename(title string) string {
	s := forbiddenChars.ReplaceAllString(title, "_")
	s = strings.Trim(s, ". ")
	if runes := []rune(s); len(runes) > maxFilenameLength {
		s = strings.Trim(string(runes[:maxFilenameLength]), ". ")
	}
	return s
}

// ParseTitleAndTags splits the dashboard's "Title - tag1 x tag2" convention
// into the display title and an ordered list of lowercase tags. The filler
// phrase "type beat" is removed from tag text.
func ParseTitleAndTags(fullTitle string) (string, []string) {
	title := strings.TrimSpace(fullTitle)
	tags := []string{}

	if idx := strings.Index(fullTitle, " - "); idx >= 0 {
		title = strings.TrimSpace(fullTitle[:idx])
		for _, raw := range strings.Split(fullTitle[idx+3:], " x ") {
			tag := strings.ToLower(strings.TrimSpace(raw))
			tag = strings.TrimSpace(strings.ReplaceAll(tag, "type beat", ""))
			if tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	return title, tags
}

// ParseBPM strips everything but digits from a BPM text. "N/A" marks an
// unextractable value.
func ParseBPM(raw string) string {
	bpm := digitsOnly.ReplaceAllString(raw, "")
	if bpm == "" {
		return "N/A"
	}
	return bpm
}
