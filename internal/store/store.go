// Package store defines the persisted index model and the storage port the
// indexer and searchers talk to. Implementations live in sub-packages:
// postgres for the shared database and memory for local snapshots and tests.
package store

import (
	"context"
	"time"
)

// GlobalStatsID is the primary key of the singleton corpus_stats row.
const GlobalStatsID = "global"

// Document is one row of document_metadata.
type Document struct {
	DocID            string    `json:"doc_id"`
	Title            string    `json:"title"`
	Length           int       `json:"length"`
	Vector           []float64 `json:"vector,omitempty"`
	VectorGeneration string    `json:"vector_generation,omitempty"`
}

// Posting is one row of term_index, unique per (term, doc_id).
type Posting struct {
	Term      string `json:"term"`
	DocID     string `json:"doc_id"`
	TF        int    `json:"tf"`
	DocLength int    `json:"doc_length"`
}

// VocabularyEntry is one row of vocabulary.
type VocabularyEntry struct {
	Term      string `json:"term"`
	DF        int    `json:"df"`
	TermIndex int    `json:"term_index"`
}

// CorpusStats is the singleton corpus_stats row. Generation identifies the
// build that produced the current postings and vocabulary. VectorsBuiltAt
// is zero until vectors have been built for that generation.
type CorpusStats struct {
	AvgDocLength   float64   `json:"avg_doc_length"`
	TotalDocs      int       `json:"total_docs"`
	Generation     string    `json:"generation"`
	BuiltAt        time.Time `json:"built_at"`
	VectorsBuiltAt time.Time `json:"vectors_built_at,omitempty"`
}

// DocumentVector is a TF-IDF vector stamped with the vocabulary generation
// it was built against.
type DocumentVector struct {
	DocID      string
	Vector     []float64
	Generation string
}

// IndexWriter persists the output of an index build.
type IndexWriter interface {
	// ResetIndex removes all postings and vocabulary ahead of a full
	// rebuild. Document rows are kept and upserted by WriteDocuments.
	ResetIndex(ctx context.Context) error
	WriteDocuments(ctx context.Context, docs []Document) error
	WritePostings(ctx context.Context, postings []Posting) error
	WriteVocabulary(ctx context.Context, entries []VocabularyEntry) error
	WriteCorpusStats(ctx context.Context, stats CorpusStats) error
}

// IndexReader answers the lookups scoring needs. Batch methods return only
// the keys that exist; absent keys are simply missing from the result.
type IndexReader interface {
	// CorpusStats returns ok=false when no build has been persisted.
	CorpusStats(ctx context.Context) (stats CorpusStats, ok bool, err error)
	VocabularyFor(ctx context.Context, terms []string) (map[string]VocabularyEntry, error)
	Vocabulary(ctx context.Context) ([]VocabularyEntry, error)
	PostingsFor(ctx context.Context, terms []string) (map[string][]Posting, error)
	ScanPostings(ctx context.Context, fn func(Posting) error) error
	DocumentsByID(ctx context.Context, ids []string) (map[string]Document, error)
	// ScanDocuments visits every document. Vectors are only loaded when
	// withVectors is set.
	ScanDocuments(ctx context.Context, withVectors bool, fn func(Document) error) error
}

// VectorWriter stores TF-IDF vectors alongside their documents.
type VectorWriter interface {
	WriteVectors(ctx context.Context, vectors []DocumentVector) error
	// MarkVectorsBuilt stamps VectorsBuiltAt on the stats row, but only
	// while it still belongs to generation.
	MarkVectorsBuilt(ctx context.Context, generation string, at time.Time) error
}

// Store is the full storage port.
type Store interface {
	IndexWriter
	IndexReader
	VectorWriter
	Ping(ctx context.Context) error
	Close() error
}
