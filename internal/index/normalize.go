// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package index

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes to NFD, removes combining marks, and recomposes,
// so "Schrödinger" and "Schrodinger" normalize identically.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeTitle folds a title to its comparison form: accents stripped,
// case folded, punctuation dropped, whitespace collapsed.
func NormalizeTitle(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case !space:
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// normalizeName folds an author display name the same way titles are
// folded; byline comparison should not hinge on accents or punctuation.
func normalizeName(s string) string {
	return NormalizeTitle(s)
}

// similarity is the Jaccard index of the two name sets: the size of the
// intersection over the size of the union. Empty sets score zero.
func similarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, n := range a {
		setA[normalizeName(n)] = true
	}
	setB := make(map[string]bool, len(b))
	for _, n := range b {
		setB[normalizeName(n)] = true
	}

	var both int
	for n := range setA {
		if setB[n] {
			both++
		}
	}
	union := len(setA) + len(setB) - both
	if union == 0 {
		return 0
	}
	return float64(both) / float64(union)
}
