// Package tokenizer provides text tokenisation for the search engine.
// It lower-cases input and extracts maximal runs of word characters
// (letters, numbers and underscore). No stemming or stop-word removal is
// applied, so every indexed term is exactly what a query can name.
package tokenizer

import (
	"strings"
	"unicode"
)

// Tokenize breaks text into an ordered slice of case-folded terms.
func Tokenize(text string) []string {
	if text == "" {
		return []string{}
	}
	return strings.FieldsFunc(strings.ToLower(text), isSeparator)
}

// QueryTerms splits a free-text query on whitespace and lower-cases each
// piece. Queries are not run through Tokenize: a query word containing
// punctuation simply matches nothing.
func QueryTerms(query string) []string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		terms = append(terms, strings.ToLower(f))
	}
	return terms
}

// DistinctTerms returns terms with duplicates removed, keeping first-seen
// order.
func DistinctTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '_'
}
