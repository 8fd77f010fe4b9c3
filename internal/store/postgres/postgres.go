// Package postgres implements store.Store on PostgreSQL. Writes are batched
// through unnest() over pq arrays and re-keyed with ON CONFLICT, so writing
// the same (term, doc_id) twice replaces the earlier row.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/store"
	"github.com/Adithya-Monish-Kumar-K/search-index/migrations"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
	pkgpostgres "github.com/Adithya-Monish-Kumar-K/search-index/pkg/postgres"
)

type Store struct {
	client *pkgpostgres.Client
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

func New(client *pkgpostgres.Client) *Store {
	return &Store{
		client: client,
		logger: slog.Default().With("component", "postgres-store"),
	}
}

// EnsureSchema applies the embedded schema. It is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.client.DB.ExecContext(ctx, migrations.Schema); err != nil {
		return apperrors.Storage("applying schema", err)
	}
	return nil
}

func (s *Store) ResetIndex(ctx context.Context) error {
	if _, err := s.client.DB.ExecContext(ctx, `TRUNCATE term_index, vocabulary`); err != nil {
		return apperrors.Storage("truncating index tables", err)
	}
	s.logger.Info("index tables truncated")
	return nil
}

func (s *Store) WriteDocuments(ctx context.Context, docs []store.Document) error {
	if len(docs) == 0 {
		return nil
	}
	docs = dedupeDocuments(docs)
	ids := make([]string, len(docs))
	titles := make([]string, len(docs))
	lengths := make([]int64, len(docs))
	for i, d := range docs {
		ids[i], titles[i], lengths[i] = d.DocID, d.Title, int64(d.Length)
	}
	_, err := s.client.DB.ExecContext(ctx,
		`INSERT INTO document_metadata (doc_id, title, length)
		SELECT * FROM unnest($1::text[], $2::text[], $3::int[])
		ON CONFLICT (doc_id) DO UPDATE SET title = EXCLUDED.title, length = EXCLUDED.length`,
		pq.Array(ids), pq.Array(titles), pq.Array(lengths),
	)
	if err != nil {
		return apperrors.Storage("writing documents", err)
	}
	return nil
}

func (s *Store) WritePostings(ctx context.Context, postings []store.Posting) error {
	if len(postings) == 0 {
		return nil
	}
	postings = dedupePostings(postings)
	terms := make([]string, len(postings))
	docIDs := make([]string, len(postings))
	tfs := make([]int64, len(postings))
	lengths := make([]int64, len(postings))
	for i, p := range postings {
		terms[i], docIDs[i] = p.Term, p.DocID
		tfs[i], lengths[i] = int64(p.TF), int64(p.DocLength)
	}
	_, err := s.client.DB.ExecContext(ctx,
		`INSERT INTO term_index (term, doc_id, tf, doc_length)
		SELECT * FROM unnest($1::text[], $2::text[], $3::int[], $4::int[])
		ON CONFLICT (term, doc_id) DO UPDATE SET tf = EXCLUDED.tf, doc_length = EXCLUDED.doc_length`,
		pq.Array(terms), pq.Array(docIDs), pq.Array(tfs), pq.Array(lengths),
	)
	if err != nil {
		return apperrors.Storage("writing postings", err)
	}
	return nil
}

func (s *Store) WriteVocabulary(ctx context.Context, entries []store.VocabularyEntry) error {
	if len(entries) == 0 {
		return nil
	}
	terms := make([]string, len(entries))
	dfs := make([]int64, len(entries))
	indexes := make([]int64, len(entries))
	for i, v := range entries {
		terms[i], dfs[i], indexes[i] = v.Term, int64(v.DF), int64(v.TermIndex)
	}
	_, err := s.client.DB.ExecContext(ctx,
		`INSERT INTO vocabulary (term, df, term_index)
		SELECT * FROM unnest($1::text[], $2::int[], $3::int[])
		ON CONFLICT (term) DO UPDATE SET df = EXCLUDED.df, term_index = EXCLUDED.term_index`,
		pq.Array(terms), pq.Array(dfs), pq.Array(indexes),
	)
	if err != nil {
		return apperrors.Storage("writing vocabulary", err)
	}
	return nil
}

func (s *Store) WriteCorpusStats(ctx context.Context, stats store.CorpusStats) error {
	builtAt := stats.BuiltAt
	if builtAt.IsZero() {
		builtAt = time.Now().UTC()
	}
	_, err := s.client.DB.ExecContext(ctx,
		`INSERT INTO corpus_stats (id, avg_doc_length, total_docs, generation, built_at, vectors_built_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			avg_doc_length = EXCLUDED.avg_doc_length,
			total_docs = EXCLUDED.total_docs,
			generation = EXCLUDED.generation,
			built_at = EXCLUDED.built_at,
			vectors_built_at = EXCLUDED.vectors_built_at`,
		store.GlobalStatsID, stats.AvgDocLength, stats.TotalDocs, stats.Generation, builtAt,
		sql.NullTime{Time: stats.VectorsBuiltAt, Valid: !stats.VectorsBuiltAt.IsZero()},
	)
	if err != nil {
		return apperrors.Storage("writing corpus stats", err)
	}
	return nil
}

func (s *Store) MarkVectorsBuilt(ctx context.Context, generation string, at time.Time) error {
	_, err := s.client.DB.ExecContext(ctx,
		`UPDATE corpus_stats SET vectors_built_at = $1 WHERE id = $2 AND generation = $3`,
		at, store.GlobalStatsID, generation,
	)
	if err != nil {
		return apperrors.Storage("marking vectors built", err)
	}
	return nil
}

// WriteVectors updates one row per vector inside a single transaction.
func (s *Store) WriteVectors(ctx context.Context, vectors []store.DocumentVector) error {
	if len(vectors) == 0 {
		return nil
	}
	err := s.client.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE document_metadata SET vector = $1, vector_generation = $2 WHERE doc_id = $3`)
		if err != nil {
			return fmt.Errorf("preparing vector update: %w", err)
		}
		defer stmt.Close()
		for _, v := range vectors {
			if _, err := stmt.ExecContext(ctx, pq.Array(v.Vector), v.Generation, v.DocID); err != nil {
				return fmt.Errorf("updating vector for %s: %w", v.DocID, err)
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.Storage("writing vectors", err)
	}
	return nil
}

func (s *Store) CorpusStats(ctx context.Context) (store.CorpusStats, bool, error) {
	var st store.CorpusStats
	var vectorsAt sql.NullTime
	err := s.client.DB.QueryRowContext(ctx,
		`SELECT avg_doc_length, total_docs, generation, built_at, vectors_built_at FROM corpus_stats WHERE id = $1`,
		store.GlobalStatsID,
	).Scan(&st.AvgDocLength, &st.TotalDocs, &st.Generation, &st.BuiltAt, &vectorsAt)
	if err == sql.ErrNoRows {
		return store.CorpusStats{}, false, nil
	}
	if err != nil {
		return store.CorpusStats{}, false, apperrors.Storage("reading corpus stats", err)
	}
	if vectorsAt.Valid {
		st.VectorsBuiltAt = vectorsAt.Time
	}
	return st, true, nil
}

func (s *Store) VocabularyFor(ctx context.Context, terms []string) (map[string]store.VocabularyEntry, error) {
	out := make(map[string]store.VocabularyEntry, len(terms))
	if len(terms) == 0 {
		return out, nil
	}
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT term, df, term_index FROM vocabulary WHERE term = ANY($1)`, pq.Array(terms))
	if err != nil {
		return nil, apperrors.Storage("querying vocabulary", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v store.VocabularyEntry
		if err := rows.Scan(&v.Term, &v.DF, &v.TermIndex); err != nil {
			return nil, apperrors.Storage("scanning vocabulary row", err)
		}
		out[v.Term] = v
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("iterating vocabulary", err)
	}
	return out, nil
}

func (s *Store) Vocabulary(ctx context.Context) ([]store.VocabularyEntry, error) {
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT term, df, term_index FROM vocabulary ORDER BY term_index`)
	if err != nil {
		return nil, apperrors.Storage("querying vocabulary", err)
	}
	defer rows.Close()
	var out []store.VocabularyEntry
	for rows.Next() {
		var v store.VocabularyEntry
		if err := rows.Scan(&v.Term, &v.DF, &v.TermIndex); err != nil {
			return nil, apperrors.Storage("scanning vocabulary row", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("iterating vocabulary", err)
	}
	return out, nil
}

func (s *Store) PostingsFor(ctx context.Context, terms []string) (map[string][]store.Posting, error) {
	out := make(map[string][]store.Posting, len(terms))
	if len(terms) == 0 {
		return out, nil
	}
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT term, doc_id, tf, doc_length FROM term_index WHERE term = ANY($1) ORDER BY term, doc_id`,
		pq.Array(terms))
	if err != nil {
		return nil, apperrors.Storage("querying postings", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p store.Posting
		if err := rows.Scan(&p.Term, &p.DocID, &p.TF, &p.DocLength); err != nil {
			return nil, apperrors.Storage("scanning posting row", err)
		}
		out[p.Term] = append(out[p.Term], p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("iterating postings", err)
	}
	return out, nil
}

func (s *Store) ScanPostings(ctx context.Context, fn func(store.Posting) error) error {
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT term, doc_id, tf, doc_length FROM term_index ORDER BY doc_id, term`)
	if err != nil {
		return apperrors.Storage("scanning postings", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p store.Posting
		if err := rows.Scan(&p.Term, &p.DocID, &p.TF, &p.DocLength); err != nil {
			return apperrors.Storage("scanning posting row", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return apperrors.Storage("iterating postings", err)
	}
	return nil
}

func (s *Store) DocumentsByID(ctx context.Context, ids []string) (map[string]store.Document, error) {
	out := make(map[string]store.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT doc_id, title, length FROM document_metadata WHERE doc_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, apperrors.Storage("querying documents", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d store.Document
		if err := rows.Scan(&d.DocID, &d.Title, &d.Length); err != nil {
			return nil, apperrors.Storage("scanning document row", err)
		}
		out[d.DocID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("iterating documents", err)
	}
	return out, nil
}

func (s *Store) ScanDocuments(ctx context.Context, withVectors bool, fn func(store.Document) error) error {
	query := `SELECT doc_id, title, length FROM document_metadata ORDER BY doc_id`
	if withVectors {
		query = `SELECT doc_id, title, length, vector, vector_generation FROM document_metadata ORDER BY doc_id`
	}
	rows, err := s.client.DB.QueryContext(ctx, query)
	if err != nil {
		return apperrors.Storage("scanning documents", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d store.Document
		if withVectors {
			var vec pq.Float64Array
			var gen sql.NullString
			if err := rows.Scan(&d.DocID, &d.Title, &d.Length, &vec, &gen); err != nil {
				return apperrors.Storage("scanning document row", err)
			}
			d.Vector = []float64(vec)
			d.VectorGeneration = gen.String
		} else if err := rows.Scan(&d.DocID, &d.Title, &d.Length); err != nil {
			return apperrors.Storage("scanning document row", err)
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return apperrors.Storage("iterating documents", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx); err != nil {
		return apperrors.Storage("ping", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// dedupePostings keeps the last posting per (term, doc_id); a single
// INSERT ... ON CONFLICT cannot touch the same key twice.
func dedupePostings(postings []store.Posting) []store.Posting {
	idx := make(map[[2]string]int, len(postings))
	out := make([]store.Posting, 0, len(postings))
	for _, p := range postings {
		key := [2]string{p.Term, p.DocID}
		if i, ok := idx[key]; ok {
			out[i] = p
			continue
		}
		idx[key] = len(out)
		out = append(out, p)
	}
	return out
}

func dedupeDocuments(docs []store.Document) []store.Document {
	idx := make(map[string]int, len(docs))
	out := make([]store.Document, 0, len(docs))
	for _, d := range docs {
		if i, ok := idx[d.DocID]; ok {
			out[i] = d
			continue
		}
		idx[d.DocID] = len(out)
		out = append(out, d)
	}
	return out
}
