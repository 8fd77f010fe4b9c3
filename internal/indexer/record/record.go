// Package record defines the records exchanged between the map and reduce
// stages of the index build and their tab-separated pipe encoding.
//
// Every record kind is its own type. Consumers switch on the concrete type
// instead of inferring the kind from the number of fields on a line.
package record

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
)

// MetaTag prefixes document records in the map output stream.
const MetaTag = "!META!"

// Record is implemented by TermFreq, DocFreq and DocMeta only.
type Record interface {
	// Encode renders the record as one pipe line without the trailing newline.
	Encode() string
	record()
}

// TermFreq is one (term, document) occurrence count emitted by the mapper.
// DocLength repeats the document's total token count on every record.
type TermFreq struct {
	Term      string
	DocID     string
	TF        int
	DocLength int
}

// DocFreq is the vocabulary record emitted by the reducer for each term.
type DocFreq struct {
	Term string
	DF   int
}

// DocMeta carries a document's title and token length through the pipeline.
type DocMeta struct {
	DocID  string
	Title  string
	Length int
}

func (TermFreq) record() {}
func (DocFreq) record()  {}
func (DocMeta) record()  {}

func (r TermFreq) Encode() string {
	return fmt.Sprintf("%s\t%s\t%d\t%d", r.Term, r.DocID, r.TF, r.DocLength)
}

func (r DocFreq) Encode() string {
	return fmt.Sprintf("%s\t%d", r.Term, r.DF)
}

func (r DocMeta) Encode() string {
	return fmt.Sprintf("%s\t%s\t%s\t%d", MetaTag, r.DocID, sanitize(r.Title), r.Length)
}

// Validate checks the field contract the reducer relies on.
func (r TermFreq) Validate() error {
	switch {
	case r.Term == "":
		return fmt.Errorf("empty term")
	case r.DocID == "":
		return fmt.Errorf("empty doc_id")
	case r.TF < 1:
		return fmt.Errorf("tf must be >= 1, got %d", r.TF)
	case r.DocLength < 0:
		return fmt.Errorf("doc_length must be >= 0, got %d", r.DocLength)
	}
	return nil
}

// Less orders term-frequency records by term, then doc_id. This is the
// order the sort boundary delivers to the reducer.
func Less(a, b TermFreq) bool {
	if a.Term != b.Term {
		return a.Term < b.Term
	}
	return a.DocID < b.DocID
}

// ParseTermFreq parses a `term\tdoc_id\ttf\tdoc_length` line.
func ParseTermFreq(line string) (TermFreq, error) {
	parts := split(line)
	if len(parts) != 4 {
		return TermFreq{}, parseErr(line, fmt.Sprintf("expected 4 fields, got %d", len(parts)))
	}
	tf, err := strconv.Atoi(parts[2])
	if err != nil {
		return TermFreq{}, parseErr(line, "tf is not an integer")
	}
	length, err := strconv.Atoi(parts[3])
	if err != nil {
		return TermFreq{}, parseErr(line, "doc_length is not an integer")
	}
	rec := TermFreq{Term: parts[0], DocID: parts[1], TF: tf, DocLength: length}
	if err := rec.Validate(); err != nil {
		return TermFreq{}, parseErr(line, err.Error())
	}
	return rec, nil
}

// ParseDocFreq parses a `term\tdf` line.
func ParseDocFreq(line string) (DocFreq, error) {
	parts := split(line)
	if len(parts) != 2 {
		return DocFreq{}, parseErr(line, fmt.Sprintf("expected 2 fields, got %d", len(parts)))
	}
	df, err := strconv.Atoi(parts[1])
	if err != nil {
		return DocFreq{}, parseErr(line, "df is not an integer")
	}
	if parts[0] == "" || df < 0 {
		return DocFreq{}, parseErr(line, "empty term or negative df")
	}
	return DocFreq{Term: parts[0], DF: df}, nil
}

// ParseMapOutput parses one line of mapper output, which carries either a
// TermFreq or a DocMeta record.
func ParseMapOutput(line string) (Record, error) {
	parts := split(line)
	if len(parts) > 0 && parts[0] == MetaTag {
		if len(parts) != 4 {
			return nil, parseErr(line, fmt.Sprintf("expected 4 fields in document record, got %d", len(parts)))
		}
		length, err := strconv.Atoi(parts[3])
		if err != nil || length < 0 {
			return nil, parseErr(line, "length is not a non-negative integer")
		}
		if parts[1] == "" {
			return nil, parseErr(line, "empty doc_id")
		}
		return DocMeta{DocID: parts[1], Title: parts[2], Length: length}, nil
	}
	rec, err := ParseTermFreq(line)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func split(line string) []string {
	return strings.Split(strings.TrimRight(line, "\r\n"), "\t")
}

// sanitize keeps a title on one pipe line.
func sanitize(s string) string {
	return strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(s)
}

func parseErr(line, reason string) error {
	return &apperrors.ParseError{Input: line, Reason: reason}
}
