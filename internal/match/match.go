// Package match holds the fuzzy matching used to re-locate beats in a
// reloaded listing and to map upload form inputs to configured variants.
// The heuristics live here, isolated from any DOM interaction, so their
// thresholds can be tuned and tested on their own.
package match

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MinScore is the confidence gate: candidates at or below it are not
// considered matches.
const MinScore = 0.7

var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, strips diacritics and collapses runs of whitespace.
func Normalize(s string) string {
	if folded, _, err := transform.String(stripDiacritics, s); err == nil {
		s = folded
	}
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Score returns a confidence in [0,1] that a and b name the same beat.
// Exact normalized equality scores 1. Containment scores in (0.8, 0.9],
// scaled by length ratio. Everything else scores by token overlap.
func Score(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		shorter, longer := len(na), len(nb)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		return 0.8 + 0.1*float64(shorter)/float64(longer)
	}

	return tokenOverlap(na, nb)
}

// BestMatch scores target against every candidate and returns the index of
// the best one. ok is false when no candidate clears MinScore. Near-ties are
// broken by Jaro-Winkler similarity on the normalized strings, which favors
// shared prefixes.
func BestMatch(target string, candidates []string) (int, float64, bool) {
	const tieEpsilon = 0.01

	bestIdx, bestScore := -1, 0.0
	nt := Normalize(target)

	for i, c := range candidates {
		score := Score(target, c)
		if score < bestScore-tieEpsilon {
			continue
		}
		switch {
		case score > bestScore+tieEpsilon:
			bestIdx, bestScore = i, score
		case bestIdx >= 0:
			// close call: prefer the candidate with higher string similarity
			cur := matchr.JaroWinkler(nt, Normalize(candidates[bestIdx]), false)
			alt := matchr.JaroWinkler(nt, Normalize(c), false)
			if alt > cur {
				bestIdx, bestScore = i, score
			}
		default:
			bestIdx, bestScore = i, score
		}
	}

	if bestIdx < 0 || bestScore <= MinScore {
		return -1, bestScore, false
	}
	return bestIdx, bestScore, true
}

func tokenOverlap(na, nb string) float64 {
	ta, tb := strings.Fields(na), strings.Fields(nb)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	set := make(map[string]bool, len(ta))
	for _, tok := range ta {
		set[tok] = true
	}
	shared := 0
	for _, tok := range tb {
		if set[tok] {
			shared++
			delete(set, tok)
		}
	}

	longer := len(ta)
	if len(tb) > longer {
		longer = len(tb)
	}
	return float64(shared) / float64(longer)
}

// KeyWords extracts the tokens of a variant name used for label matching:
// '+' acts as a separator and only tokens longer than two characters count.
func KeyWords(variantName string) []string {
	cleaned := strings.ReplaceAll(strings.ToLower(variantName), "+", " ")
	var words []string
	for _, w := range strings.Fields(cleaned) {
		if len(w) > 2 {
			words = append(words, w)
		}
	}
	return words
}

// LabelMatch reports whether a form label belongs to the named variant:
// every key word of the variant name must appear as a substring of the
// lowercased label text.
func LabelMatch(variantName, labelText string) bool {
	words := KeyWords(variantName)
	if len(words) == 0 {
		return false
	}
	label := strings.ToLower(labelText)
	for _, w := range words {
		if !strings.Contains(label, w) {
			return false
		}
	}
	return true
}
