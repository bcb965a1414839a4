package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain title unchanged",
			input:    "Midnight Drive",
			expected: "Midnight Drive",
		},
		{
			name:     "reserved characters replaced",
			input:    `Hot: "Fire" <Beat>/2024\|?*`,
			expected: "Hot_ _Fire_ _Beat__2024____",
		},
		{
			name:     "leading and trailing dots and spaces stripped",
			input:    " . Cold World . ",
			expected: "Cold World",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFilename(tt.input))
		})
	}
}

func TestSanitizeFilenameProperties(t *testing.T) {
	inputs := []string{
		"Normal Title",
		`<>:"/\|?*`,
		strings.Repeat("a", 300),
		strings.Repeat("b", 199) + ".",
		"  .leading and trailing.  ",
		"ünïcödé — títle with áccents",
	}

	for _, in := range inputs {
		got := SanitizeFilename(in)
		assert.LessOrEqual(t, len([]rune(got)), 200, "input %q", in)
		assert.NotContains(t, got, "<")
		assert.NotContains(t, got, ">")
		assert.NotContains(t, got, ":")
		assert.NotContains(t, got, `"`)
		assert.NotContains(t, got, "/")
		assert.NotContains(t, got, `\`)
		assert.NotContains(t, got, "|")
		assert.NotContains(t, got, "?")
		assert.NotContains(t, got, "*")
		if got != "" {
			assert.NotEqual(t, byte('.'), got[0], "leading dot in %q", got)
			assert.NotEqual(t, byte(' '), got[0], "leading space in %q", got)
			assert.NotEqual(t, byte('.'), got[len(got)-1], "trailing dot in %q", got)
			assert.NotEqual(t, byte(' '), got[len(got)-1], "trailing space in %q", got)
		}
	}
}

func TestParseTitleAndTags(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		expectedTitle string
		expectedTags  []string
	}{
		{
			name:          "title with three tags",
			input:         "Midnight Drive - trap x drill x 808",
			expectedTitle: "Midnight Drive",
			expectedTags:  []string{"trap", "drill", "808"},
		},
		{
			name:          "type beat phrase removed from tags",
			input:         "Cold World - Drake Type Beat x melodic",
			expectedTitle: "Cold World",
			expectedTags:  []string{"drake", "melodic"},
		},
		{
			name:          "no separator means no tags",
			input:         "Solo Cut",
			expectedTitle: "Solo Cut",
			expectedTags:  []string{},
		},
		{
			name:          "tags lowercased and trimmed",
			input:         "Heat - TRAP  x  Boom Bap ",
			expectedTitle: "Heat",
			expectedTags:  []string{"trap", "boom bap"},
		},
		{
			name:          "tag reduced to nothing is dropped",
			input:         "Night - type beat x lofi",
			expectedTitle: "Night",
			expectedTags:  []string{"lofi"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, tags := ParseTitleAndTags(tt.input)
			assert.Equal(t, tt.expectedTitle, title)
			assert.Equal(t, tt.expectedTags, tags)
		})
	}
}

func TestParseBPM(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain number", input: "140", expected: "140"},
		{name: "with label", input: "140 BPM", expected: "140"},
		{name: "mixed text", input: "bpm: 95", expected: "95"},
		{name: "no digits", input: "unknown", expected: "N/A"},
		{name: "empty", input: "", expected: "N/A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseBPM(tt.input))
		})
	}
}
