package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/corpus"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/emitter"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/record"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/reducer"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
)

// The functions in this file run single stages over line streams, so the
// build can also be driven by an external sort:
//
//	searchctl map < corpus.tsv | LC_ALL=C sort -t$'\t' -k1,1 -k2,2 | searchctl reduce | searchctl load

// MapStats counts the map stage of a streamed build.
type MapStats struct {
	Documents int
	Skipped   int
	Records   int
}

// MapStream writes a document record and the term records of every
// document in src to w. A repeated doc_id is skipped, as in Build.
func MapStream(src corpus.Source, w io.Writer) (MapStats, error) {
	logger := slog.Default().With("component", "map-stream")
	out := record.NewWriter(w)
	var st MapStats
	seen := make(map[string]struct{})
	for {
		doc, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, apperrors.ErrParse) {
			st.Skipped++
			logger.Warn("skipping malformed document", "error", err)
			continue
		}
		if err != nil {
			return st, fmt.Errorf("reading corpus: %w", err)
		}
		if _, dup := seen[doc.DocID]; dup {
			st.Skipped++
			logger.Warn("skipping repeated doc_id", "doc_id", doc.DocID)
			continue
		}
		seen[doc.DocID] = struct{}{}
		emitted := emitter.Emit(doc)
		if err := out.Write(emitted.Meta); err != nil {
			return st, err
		}
		for _, tf := range emitted.Terms {
			if err := out.Write(tf); err != nil {
				return st, err
			}
		}
		st.Documents++
		st.Records += len(emitted.Terms)
	}
	if err := out.Flush(); err != nil {
		return st, fmt.Errorf("flushing map output: %w", err)
	}
	return st, nil
}

// writerSink streams reducer output as pipe lines.
type writerSink struct {
	w *record.Writer
}

func (s writerSink) Posting(p record.TermFreq) error   { return s.w.Write(p) }
func (s writerSink) Vocabulary(v record.DocFreq) error { return s.w.Write(v) }

// ReduceStream reduces sorted map output from r onto w. Document records
// pass through unchanged wherever they appear; unparseable lines are
// counted as rejected.
func ReduceStream(r io.Reader, w io.Writer) (reducer.Stats, error) {
	logger := slog.Default().With("component", "reduce-stream")
	out := record.NewWriter(w)
	red := reducer.New(writerSink{w: out})
	sc := record.NewScanner(r, record.ParseMapOutput)
	parseRejects := 0

	for sc.Next() {
		rec, err := sc.Record()
		if err != nil {
			parseRejects++
			logger.Warn("rejecting line", "error", err)
			continue
		}
		switch rec := rec.(type) {
		case record.DocMeta:
			if err := out.Write(rec); err != nil {
				return red.Stats(), err
			}
		case record.TermFreq:
			if err := red.Consume(rec); err != nil {
				return red.Stats(), err
			}
		default:
			return red.Stats(), fmt.Errorf("unexpected %T in map output", rec)
		}
	}
	if err := sc.Err(); err != nil {
		return red.Stats(), fmt.Errorf("reading map output: %w", err)
	}
	if err := red.Finish(); err != nil {
		return red.Stats(), err
	}
	if err := out.Flush(); err != nil {
		return red.Stats(), fmt.Errorf("flushing reduce output: %w", err)
	}
	st := red.Stats()
	st.Rejected += parseRejects
	return st, nil
}

// Load persists reducer output read from r as a new index generation,
// exactly as Build does after its reduce phase. Only the first document
// record of a doc_id is kept; repeats are counted as rejected.
func (b *Builder) Load(ctx context.Context, r io.Reader) (*Report, error) {
	generation := b.newGeneration()
	report := &Report{Generation: generation}
	out := &built{}
	seen := make(map[string]struct{})
	sc := record.NewScanner(r, record.ParseReduceOutput)
	for sc.Next() {
		rec, err := sc.Record()
		if err != nil {
			report.RecordsRejected++
			b.logger.Warn("rejecting line", "error", err)
			continue
		}
		switch rec := rec.(type) {
		case record.DocMeta:
			if _, dup := seen[rec.DocID]; dup {
				report.RecordsRejected++
				b.logger.Warn("rejecting repeated document record", "doc_id", rec.DocID)
				continue
			}
			seen[rec.DocID] = struct{}{}
			out.docs = append(out.docs, rec)
		case record.TermFreq:
			out.postings = append(out.postings, toPosting(rec))
		case record.DocFreq:
			out.dfs = append(out.dfs, rec)
		}
	}
	if err := sc.Err(); err != nil {
		return report, fmt.Errorf("reading reduce output: %w", err)
	}
	if len(out.docs) == 0 {
		return report, fmt.Errorf("no document records in input: %w", apperrors.ErrEmptyCorpus)
	}
	report.DocumentsRead = len(out.docs)
	report.Postings = len(out.postings)
	if err := b.persist(ctx, out, report); err != nil {
		return report, err
	}
	b.announce(ctx, report)
	return report, nil
}
