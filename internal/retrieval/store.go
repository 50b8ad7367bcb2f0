// Package retrieval answers "which policy passages are relevant to this
// question" against a PostgreSQL + pgvector corpus.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

// Result is one retrieved policy passage with its cosine similarity score.
type Result struct {
	Content  string
	Category *string
	Section  *string
	Score    float64
}

// Querier is the slice of pgxpool.Pool the store needs. Defined here, on the
// consumer side, so tests can substitute a fake without a database.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Embedder turns a question into the vector the corpus was indexed with.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store runs scoped vector searches over the policy corpus.
type Store struct {
	db        Querier
	embedder  Embedder
	topK      int
	threshold float64
	logger    *slog.Logger
}

// New builds a Store. topK bounds how many passages a search may return;
// threshold is the similarity floor below which passages are discarded.
func New(db Querier, embedder Embedder, topK int, threshold float64, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:        db,
		embedder:  embedder,
		topK:      topK,
		threshold: threshold,
		logger:    logger.With(slog.String("subsystem", "retrieval")),
	}
}

// Search embeds the question and returns the most similar passages, optionally
// restricted to a category and section. Passages scoring below the threshold
// are dropped even when the database returned them, so callers can treat an
// empty slice as "the corpus has nothing relevant".
func (s *Store) Search(ctx context.Context, question string, category, section *string) ([]Result, error) {
	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed question: %w", err)
	}

	query, args := s.buildQuery(pgvector.NewVector(vector), category, section)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search: %w", err)
	}
	defer rows.Close()

	var results []Result
	dropped := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Content, &r.Category, &r.Section, &r.Score); err != nil {
			return nil, fmt.Errorf("retrieval: scan row: %w", err)
		}
		if r.Score < s.threshold {
			dropped++
			continue
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("retrieval: iterate rows: %w", err)
	}

	if dropped > 0 {
		s.logger.DebugContext(ctx, "dropped passages below relevance floor",
			slog.Int("dropped", dropped),
			slog.Float64("threshold", s.threshold))
	}
	return results, nil
}

// buildQuery assembles the vector search statement. Cosine distance is what
// the corpus index was built for; score is its similarity complement.
func (s *Store) buildQuery(vector pgvector.Vector, category, section *string) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT content, category, section, 1 - (embedding <=> $1) AS score FROM policy_chunks`)

	args := []any{vector}
	var conditions []string
	if category != nil {
		args = append(args, *category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if section != nil {
		args = append(args, *section)
		conditions = append(conditions, fmt.Sprintf("section = $%d", len(args)))
	}
	if len(conditions) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conditions, " AND "))
	}

	args = append(args, s.topK)
	fmt.Fprintf(&sb, " ORDER BY embedding <=> $1 LIMIT $%d", len(args))
	return sb.String(), args
}
