// Package reducer is the reduce stage of the index build. It consumes
// term-frequency records grouped by term, flushes each finished group as
// postings plus one vocabulary record, and fails loudly when the input is
// not grouped.
package reducer

import (
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/record"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
)

// State is the reducer's position in its lifecycle.
type State int

const (
	StateWaitingFirstKey State = iota
	StateAccumulating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateWaitingFirstKey:
		return "waiting-first-key"
	case StateAccumulating:
		return "accumulating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Sink receives the reducer's output. An error from the sink aborts the
// reduction.
type Sink interface {
	Posting(p record.TermFreq) error
	Vocabulary(v record.DocFreq) error
}

// SortOrderError reports a key that arrived after a later key had already
// been accumulated.
type SortOrderError struct {
	Previous string
	Got      string
}

func (e *SortOrderError) Error() string {
	return fmt.Sprintf("sort order violation: term %q arrived after %q", e.Got, e.Previous)
}

func (e *SortOrderError) Is(target error) bool {
	return target == apperrors.ErrSortOrder
}

// Stats counts what the reducer has seen.
type Stats struct {
	Consumed   int
	Rejected   int
	Postings   int
	Groups     int
	Duplicates int
}

// Reducer holds one active term group at a time.
type Reducer struct {
	sink    Sink
	state   State
	current string
	group   []record.TermFreq
	stats   Stats
	err     error
	logger  *slog.Logger
}

func New(sink Sink) *Reducer {
	return &Reducer{
		sink:   sink,
		state:  StateWaitingFirstKey,
		logger: slog.Default().With("component", "postings-reducer"),
	}
}

// Consume adds one record. Invalid records are counted and skipped; a term
// smaller than the active one moves the reducer to StateFailed.
func (r *Reducer) Consume(rec record.TermFreq) error {
	switch r.state {
	case StateDone:
		return fmt.Errorf("reducer already finished")
	case StateFailed:
		return r.err
	}
	if err := rec.Validate(); err != nil {
		r.stats.Rejected++
		r.logger.Warn("rejecting record", "term", rec.Term, "doc_id", rec.DocID, "reason", err)
		return nil
	}
	r.stats.Consumed++

	switch {
	case r.state == StateWaitingFirstKey:
		r.current = rec.Term
		r.state = StateAccumulating
	case rec.Term == r.current:
	case rec.Term < r.current:
		return r.fail(&SortOrderError{Previous: r.current, Got: rec.Term})
	default:
		if err := r.flush(); err != nil {
			return err
		}
		r.current = rec.Term
	}
	r.group = append(r.group, rec)
	return nil
}

// Finish flushes the last group. It must be called once at end of stream.
func (r *Reducer) Finish() error {
	switch r.state {
	case StateFailed:
		return r.err
	case StateDone:
		return nil
	case StateAccumulating:
		if err := r.flush(); err != nil {
			return err
		}
	}
	r.state = StateDone
	return nil
}

func (r *Reducer) State() State {
	return r.state
}

func (r *Reducer) Stats() Stats {
	return r.stats
}

func (r *Reducer) flush() error {
	seen := make(map[string]struct{}, len(r.group))
	for _, p := range r.group {
		if err := r.sink.Posting(p); err != nil {
			return r.fail(fmt.Errorf("emitting posting %s/%s: %w", p.Term, p.DocID, err))
		}
		r.stats.Postings++
		if _, dup := seen[p.DocID]; dup {
			r.stats.Duplicates++
			r.logger.Warn("duplicate posting in group, excluded from df",
				"term", p.Term,
				"doc_id", p.DocID,
			)
			continue
		}
		seen[p.DocID] = struct{}{}
	}
	if err := r.sink.Vocabulary(record.DocFreq{Term: r.current, DF: len(seen)}); err != nil {
		return r.fail(fmt.Errorf("emitting vocabulary for %s: %w", r.current, err))
	}
	r.stats.Groups++
	r.group = r.group[:0]
	return nil
}

func (r *Reducer) fail(err error) error {
	r.state = StateFailed
	r.err = err
	r.logger.Error("reducer failed", "error", err)
	return err
}
