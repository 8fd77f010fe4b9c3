// Package vocab assigns and checks the dense term_index of a vocabulary.
package vocab

import (
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/record"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
)

// Assign sorts the document frequencies by term and numbers them 0..n-1.
// A term seen more than once keeps its first df.
func Assign(dfs []record.DocFreq) []store.VocabularyEntry {
	sorted := make([]record.DocFreq, len(dfs))
	copy(sorted, dfs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Term < sorted[j].Term
	})

	out := make([]store.VocabularyEntry, 0, len(sorted))
	for _, d := range sorted {
		if n := len(out); n > 0 && out[n-1].Term == d.Term {
			continue
		}
		out = append(out, store.VocabularyEntry{
			Term:      d.Term,
			DF:        d.DF,
			TermIndex: len(out),
		})
	}
	return out
}

// Validate checks that term_index values cover 0..len(entries)-1 exactly
// once. It returns a map from term to entry for lookups.
func Validate(entries []store.VocabularyEntry) (map[string]store.VocabularyEntry, error) {
	seen := make([]bool, len(entries))
	byTerm := make(map[string]store.VocabularyEntry, len(entries))
	for _, e := range entries {
		if e.TermIndex < 0 || e.TermIndex >= len(entries) {
			return nil, fmt.Errorf("%w: term %q has index %d outside [0, %d)",
				apperrors.ErrVocabularyIndex, e.Term, e.TermIndex, len(entries))
		}
		if seen[e.TermIndex] {
			return nil, fmt.Errorf("%w: index %d assigned twice", apperrors.ErrVocabularyIndex, e.TermIndex)
		}
		if _, dup := byTerm[e.Term]; dup {
			return nil, fmt.Errorf("%w: term %q listed twice", apperrors.ErrVocabularyIndex, e.Term)
		}
		seen[e.TermIndex] = true
		byTerm[e.Term] = e
	}
	return byTerm, nil
}
