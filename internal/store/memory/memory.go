// Package memory is an in-process implementation of store.Store. When
// opened with a path it loads from and persists to a JSON snapshot file,
// which gives the CLI a working local mode without a database.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/store"
)

// snapshot is the on-disk layout.
type snapshot struct {
	Documents  []store.Document        `json:"documents"`
	Postings   []store.Posting         `json:"postings"`
	Vocabulary []store.VocabularyEntry `json:"vocabulary"`
	Stats      *store.CorpusStats      `json:"corpus_stats,omitempty"`
}

type postingKey struct {
	term  string
	docID string
}

// Store keeps every table in maps guarded by one RWMutex.
type Store struct {
	mu       sync.RWMutex
	docs     map[string]store.Document
	postings map[postingKey]store.Posting
	byTerm   map[string]map[string]struct{}
	vocab    map[string]store.VocabularyEntry
	stats    *store.CorpusStats
	path     string
	dirty    bool
	logger   *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New returns an empty store that is never persisted.
func New() *Store {
	return &Store{
		docs:     make(map[string]store.Document),
		postings: make(map[postingKey]store.Posting),
		byTerm:   make(map[string]map[string]struct{}),
		vocab:    make(map[string]store.VocabularyEntry),
		logger:   slog.Default().With("component", "memory-store"),
	}
}

// Open loads the snapshot at path if it exists. Close writes it back when
// anything changed.
func Open(path string) (*Store, error) {
	s := New()
	s.path = path
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("no snapshot found, starting empty", "path", path)
			return s, nil
		}
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	for _, d := range snap.Documents {
		s.docs[d.DocID] = d
	}
	for _, p := range snap.Postings {
		s.putPosting(p)
	}
	for _, v := range snap.Vocabulary {
		s.vocab[v.Term] = v
	}
	s.stats = snap.Stats
	s.logger.Info("snapshot loaded",
		"path", path,
		"documents", len(s.docs),
		"postings", len(s.postings),
		"terms", len(s.vocab),
	)
	return s, nil
}

func (s *Store) ResetIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postings = make(map[postingKey]store.Posting)
	s.byTerm = make(map[string]map[string]struct{})
	s.vocab = make(map[string]store.VocabularyEntry)
	s.dirty = true
	return nil
}

// WriteDocuments upserts title and length, leaving any stored vector alone.
func (s *Store) WriteDocuments(ctx context.Context, docs []store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		existing, ok := s.docs[d.DocID]
		if ok {
			existing.Title = d.Title
			existing.Length = d.Length
			s.docs[d.DocID] = existing
			continue
		}
		s.docs[d.DocID] = store.Document{DocID: d.DocID, Title: d.Title, Length: d.Length}
	}
	s.dirty = true
	return nil
}

func (s *Store) WritePostings(ctx context.Context, postings []store.Posting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range postings {
		s.putPosting(p)
	}
	s.dirty = true
	return nil
}

func (s *Store) WriteVocabulary(ctx context.Context, entries []store.VocabularyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range entries {
		s.vocab[v.Term] = v
	}
	s.dirty = true
	return nil
}

func (s *Store) WriteCorpusStats(ctx context.Context, stats store.CorpusStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := stats
	s.stats = &st
	s.dirty = true
	return nil
}

func (s *Store) WriteVectors(ctx context.Context, vectors []store.DocumentVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vectors {
		d, ok := s.docs[v.DocID]
		if !ok {
			return fmt.Errorf("writing vector: document %s not found", v.DocID)
		}
		d.Vector = append([]float64(nil), v.Vector...)
		d.VectorGeneration = v.Generation
		s.docs[v.DocID] = d
	}
	s.dirty = true
	return nil
}

func (s *Store) MarkVectorsBuilt(ctx context.Context, generation string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats == nil || s.stats.Generation != generation {
		return nil
	}
	s.stats.VectorsBuiltAt = at
	s.dirty = true
	return nil
}

func (s *Store) CorpusStats(ctx context.Context) (store.CorpusStats, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stats == nil {
		return store.CorpusStats{}, false, nil
	}
	return *s.stats, true, nil
}

func (s *Store) VocabularyFor(ctx context.Context, terms []string) (map[string]store.VocabularyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]store.VocabularyEntry, len(terms))
	for _, t := range terms {
		if v, ok := s.vocab[t]; ok {
			out[t] = v
		}
	}
	return out, nil
}

func (s *Store) Vocabulary(ctx context.Context) ([]store.VocabularyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.VocabularyEntry, 0, len(s.vocab))
	for _, v := range s.vocab {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TermIndex < out[j].TermIndex
	})
	return out, nil
}

func (s *Store) PostingsFor(ctx context.Context, terms []string) (map[string][]store.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]store.Posting, len(terms))
	for _, t := range terms {
		docs, ok := s.byTerm[t]
		if !ok {
			continue
		}
		list := make([]store.Posting, 0, len(docs))
		for docID := range docs {
			list = append(list, s.postings[postingKey{term: t, docID: docID}])
		}
		sort.Slice(list, func(i, j int) bool {
			return list[i].DocID < list[j].DocID
		})
		out[t] = list
	}
	return out, nil
}

// ScanPostings visits postings ordered by doc_id, then term.
func (s *Store) ScanPostings(ctx context.Context, fn func(store.Posting) error) error {
	s.mu.RLock()
	list := make([]store.Posting, 0, len(s.postings))
	for _, p := range s.postings {
		list = append(list, p)
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		if list[i].DocID != list[j].DocID {
			return list[i].DocID < list[j].DocID
		}
		return list[i].Term < list[j].Term
	})
	for _, p := range list {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DocumentsByID(ctx context.Context, ids []string) (map[string]store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]store.Document, len(ids))
	for _, id := range ids {
		if d, ok := s.docs[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

// ScanDocuments visits documents ordered by doc_id.
func (s *Store) ScanDocuments(ctx context.Context, withVectors bool, fn func(store.Document) error) error {
	s.mu.RLock()
	list := make([]store.Document, 0, len(s.docs))
	for _, d := range s.docs {
		if !withVectors {
			d.Vector = nil
		}
		list = append(list, d)
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		return list[i].DocID < list[j].DocID
	})
	for _, d := range list {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close persists the snapshot if the store was opened with a path.
func (s *Store) Close() error {
	return s.Flush()
}

// Flush atomically rewrites the snapshot file: it writes a .tmp file,
// syncs it and renames it over the old one.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" || !s.dirty {
		return nil
	}
	snap := snapshot{
		Documents:  make([]store.Document, 0, len(s.docs)),
		Postings:   make([]store.Posting, 0, len(s.postings)),
		Vocabulary: make([]store.VocabularyEntry, 0, len(s.vocab)),
		Stats:      s.stats,
	}
	for _, d := range s.docs {
		snap.Documents = append(snap.Documents, d)
	}
	sort.Slice(snap.Documents, func(i, j int) bool { return snap.Documents[i].DocID < snap.Documents[j].DocID })
	for _, p := range s.postings {
		snap.Postings = append(snap.Postings, p)
	}
	sort.Slice(snap.Postings, func(i, j int) bool {
		if snap.Postings[i].Term != snap.Postings[j].Term {
			return snap.Postings[i].Term < snap.Postings[j].Term
		}
		return snap.Postings[i].DocID < snap.Postings[j].DocID
	})
	for _, v := range s.vocab {
		snap.Vocabulary = append(snap.Vocabulary, v)
	}
	sort.Slice(snap.Vocabulary, func(i, j int) bool { return snap.Vocabulary[i].TermIndex < snap.Vocabulary[j].TermIndex })

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmpPath := s.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp snapshot file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("renaming snapshot: %w", err)
	}
	s.dirty = false
	s.logger.Info("snapshot written", "path", s.path, "bytes", len(data))
	return nil
}

func (s *Store) putPosting(p store.Posting) {
	s.postings[postingKey{term: p.Term, docID: p.DocID}] = p
	docs, ok := s.byTerm[p.Term]
	if !ok {
		docs = make(map[string]struct{})
		s.byTerm[p.Term] = docs
	}
	docs[p.DocID] = struct{}{}
}
