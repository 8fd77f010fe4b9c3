// Package emitter is the map stage of the index build. It turns one raw
// document into a term-frequency record per distinct term plus a document
// record carrying the title and token length.
package emitter

import (
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/record"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
)

// Document is a raw corpus record.
type Document struct {
	DocID string
	Title string
	Text  string
}

// Output is everything the mapper emits for one document.
type Output struct {
	Meta  record.DocMeta
	Terms []record.TermFreq
}

// ParseDocument parses a `doc_id\ttitle\ttext` input line.
func ParseDocument(line string) (Document, error) {
	parts := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(parts) != 3 {
		return Document{}, &apperrors.ParseError{
			Input:  line,
			Reason: "expected 3 fields (doc_id, title, text)",
		}
	}
	if strings.TrimSpace(parts[0]) == "" {
		return Document{}, &apperrors.ParseError{Input: line, Reason: "empty doc_id"}
	}
	return Document{DocID: parts[0], Title: parts[1], Text: parts[2]}, nil
}

// Emit tokenizes the document text and counts each distinct term. Term
// records come back sorted by term so output is deterministic.
func Emit(doc Document) Output {
	tokens := tokenizer.Tokenize(doc.Text)
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}

	terms := make([]record.TermFreq, 0, len(counts))
	for term, tf := range counts {
		terms = append(terms, record.TermFreq{
			Term:      term,
			DocID:     doc.DocID,
			TF:        tf,
			DocLength: len(tokens),
		})
	}
	sort.Slice(terms, func(i, j int) bool {
		return terms[i].Term < terms[j].Term
	})

	return Output{
		Meta: record.DocMeta{
			DocID:  doc.DocID,
			Title:  doc.Title,
			Length: len(tokens),
		},
		Terms: terms,
	}
}
