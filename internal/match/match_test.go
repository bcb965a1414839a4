package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "lowercases", input: "MIDNIGHT Drive", expected: "midnight drive"},
		{name: "strips diacritics", input: "Café Noir", expected: "cafe noir"},
		{name: "collapses whitespace", input: "  cold \t world  ", expected: "cold world"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		min  float64
		max  float64
	}{
		{name: "exact after normalization", a: "Midnight Drive", b: "  midnight   DRIVE ", min: 1, max: 1},
		{name: "containment", a: "Midnight", b: "Midnight Drive", min: 0.8, max: 0.9},
		{name: "three of four tokens", a: "dark trap beat hard", b: "dark trap beat soft", min: 0.75, max: 0.75},
		{name: "disjoint", a: "dark trap", b: "soft lofi", min: 0, max: 0},
		{name: "empty side", a: "", b: "anything", min: 0, max: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := Score(tt.a, tt.b)
			assert.GreaterOrEqual(t, score, tt.min)
			assert.LessOrEqual(t, score, tt.max)
		})
	}
}

func TestBestMatch(t *testing.T) {
	candidates := []string{
		"Cold World",
		"Midnight Drive",
		"Midnight Drive Remix",
	}

	idx, score, ok := BestMatch("Midnight Drive (Hard)", candidates)
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Greater(t, score, MinScore)
}

func TestBestMatchRejectsWeakCandidates(t *testing.T) {
	idx, _, ok := BestMatch("Completely Different", []string{"Cold World", "Midnight Drive"})
	assert.False(t, ok)
	assert.Equal(t, -1, idx)
}

func TestBestMatchExactWinsOverContainment(t *testing.T) {
	candidates := []string{"Midnight Drive Extended", "Midnight Drive"}

	idx, score, ok := BestMatch("midnight drive", candidates)
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 1.0, score)
}

func TestBestMatchTieBrokenBySimilarity(t *testing.T) {
	candidates := []string{
		"midnight god beat one",
		"midnight drive beat one",
	}

	idx, score, ok := BestMatch("midnight driver beat one", candidates)
	assert.True(t, ok)
	assert.Equal(t, 1, idx, "near-tie should go to the closer string")
	assert.InDelta(t, 0.75, score, 0.001)
}

func TestBestMatchEmptyCandidates(t *testing.T) {
	idx, _, ok := BestMatch("anything", nil)
	assert.False(t, ok)
	assert.Equal(t, -1, idx)
}

func TestKeyWords(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "plus is a separator", input: "WAV + Stems", expected: []string{"wav", "stems"}},
		{name: "short tokens dropped", input: "Up To MP3", expected: []string{"mp3"}},
		{name: "all tokens too short", input: "A + B", expected: nil},
		{name: "multi word", input: "Premium WAV Lease", expected: []string{"premium", "wav", "lease"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KeyWords(tt.input))
		})
	}
}

func TestLabelMatch(t *testing.T) {
	tests := []struct {
		name     string
		variant  string
		label    string
		expected bool
	}{
		{
			name:     "all key words present",
			variant:  "WAV + Stems",
			label:    "Upload files for Wav Lease and STEMS package",
			expected: true,
		},
		{
			name:     "one key word missing",
			variant:  "MP3 Lease",
			label:    "mp3 file upload",
			expected: false,
		},
		{
			name:     "substring containment counts",
			variant:  "WAV Lease",
			label:    "wavlease-input-4",
			expected: true,
		},
		{
			name:     "no usable key words",
			variant:  "A + B",
			label:    "a b",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, LabelMatch(tt.variant, tt.label))
		})
	}
}
