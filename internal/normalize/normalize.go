// Package normalize holds the pure text and payload normalization helpers
// shared by the extraction adapter, the duplicate matcher and finalize.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonAlnum   = regexp.MustCompile(`[^a-z0-9]+`)
	punct      = regexp.MustCompile(`[^a-z0-9\s]+`)
	whitespace = regexp.MustCompile(`\s+`)
	yearToken  = regexp.MustCompile(`^(19|20)[0-9]{2}$`)
)

// monthTokens are English and Spanish month names and abbreviations,
// already accent-folded and lowercased.
var monthTokens = map[string]struct{}{}

func init() {
	for _, m := range []string{
		"january", "february", "march", "april", "may", "june", "july",
		"august", "september", "october", "november", "december",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept",
		"oct", "nov", "dec",
		"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio",
		"agosto", "septiembre", "setiembre", "octubre", "noviembre", "diciembre",
		"ene", "abr", "ago", "dic",
	} {
		monthTokens[m] = struct{}{}
	}
}

// Fold strips diacritics ("Querétaro" -> "Queretaro").
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Token is the comparison form of a free-text value: accent-folded,
// lowercased, whitespace collapsed and non-alphanumerics stripped
// ("P.E.T." -> "pet").
func Token(s string) string {
	s = strings.ToLower(Fold(s))
	s = punct.ReplaceAllString(s, "")
	return Clean(s)
}

// ConceptKey drops month names and four-digit years (1900-2099) from s before
// taking its Token, so period variants of the same stream share a key.
// Punctuation inside a word also separates periods ("PET-Enero-2026" -> "pet").
// A value made only of period words keeps its plain token.
func ConceptKey(s string) string {
	tok := Token(s)
	if tok == "" {
		return ""
	}
	var kept []string
	for _, word := range strings.Fields(strings.ToLower(Fold(s))) {
		var b strings.Builder
		for _, p := range nonAlnum.Split(word, -1) {
			if isPeriod(p) {
				continue
			}
			b.WriteString(p)
		}
		if b.Len() > 0 {
			kept = append(kept, b.String())
		}
	}
	if len(kept) == 0 {
		return tok
	}
	return strings.Join(kept, " ")
}

func isPeriod(p string) bool {
	if _, ok := monthTokens[p]; ok {
		return true
	}
	return yearToken.MatchString(p)
}

// Clean trims and collapses whitespace but keeps case and accents; it is the
// display form persisted in normalized payloads.
func Clean(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// Truncate cuts s to at most n runes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// LocationKey is the identity of a location used when grouping staged rows.
func LocationKey(name, city, state string) string {
	return Token(name) + "|" + Token(city) + "|" + Token(state)
}
