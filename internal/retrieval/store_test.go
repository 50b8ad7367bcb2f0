package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vector, f.err
}

type fakeQuerier struct {
	rows    *fakeRows
	err     error
	lastSQL string
	args    []any
}

func (f *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.lastSQL = sql
	f.args = args
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

// fakeRows replays canned rows of (content, category, section, score).
type fakeRows struct {
	rows [][]any
	idx  int
	err  error
}

func (f *fakeRows) Close()                                       {}
func (f *fakeRows) Err() error                                   { return f.err }
func (f *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (f *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (f *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (f *fakeRows) RawValues() [][]byte                          { return nil }
func (f *fakeRows) Conn() *pgx.Conn                              { return nil }

func (f *fakeRows) Next() bool {
	f.idx++
	return f.idx <= len(f.rows)
}

func (f *fakeRows) Scan(dest ...any) error {
	row := f.rows[f.idx-1]
	for i, d := range dest {
		switch target := d.(type) {
		case *string:
			*target = row[i].(string)
		case **string:
			if row[i] == nil {
				*target = nil
			} else {
				value := row[i].(string)
				*target = &value
			}
		case *float64:
			*target = row[i].(float64)
		}
	}
	return nil
}

func TestSearchFiltersByRelevanceFloor(t *testing.T) {
	db := &fakeQuerier{rows: &fakeRows{rows: [][]any{
		{"Checkout is at 11 AM.", "policy", nil, 0.92},
		{"Breakfast runs 7 to 10.", "dining", "hours", 0.74},
		{"Unrelated passage.", nil, nil, 0.41},
	}}}
	store := New(db, &fakeEmbedder{vector: []float32{0.1, 0.2}}, 3, 0.7, nil)

	results, err := store.Search(context.Background(), "when is checkout", nil, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 passages above floor, got %d", len(results))
	}
	if results[0].Content != "Checkout is at 11 AM." || results[0].Score != 0.92 {
		t.Fatalf("unexpected first result: %#v", results[0])
	}
	if results[1].Section == nil || *results[1].Section != "hours" {
		t.Fatalf("expected section metadata to survive, got %#v", results[1])
	}
}

func TestSearchAppliesScopeFilters(t *testing.T) {
	db := &fakeQuerier{rows: &fakeRows{}}
	store := New(db, &fakeEmbedder{vector: []float32{0.5}}, 5, 0.7, nil)

	category := "policy"
	section := "billing"
	if _, err := store.Search(context.Background(), "deposit refund", &category, &section); err != nil {
		t.Fatalf("search: %v", err)
	}

	if !strings.Contains(db.lastSQL, "category = $2") || !strings.Contains(db.lastSQL, "section = $3") {
		t.Fatalf("expected scope predicates in query, got %q", db.lastSQL)
	}
	if !strings.Contains(db.lastSQL, "LIMIT $4") {
		t.Fatalf("expected bound limit, got %q", db.lastSQL)
	}
	if len(db.args) != 4 || db.args[1] != "policy" || db.args[2] != "billing" || db.args[3] != 5 {
		t.Fatalf("unexpected args: %#v", db.args)
	}
}

func TestSearchUnscopedQueryHasNoWhereClause(t *testing.T) {
	db := &fakeQuerier{rows: &fakeRows{}}
	store := New(db, &fakeEmbedder{vector: []float32{0.5}}, 3, 0.7, nil)

	if _, err := store.Search(context.Background(), "parking", nil, nil); err != nil {
		t.Fatalf("search: %v", err)
	}
	if strings.Contains(db.lastSQL, "WHERE") {
		t.Fatalf("expected no predicates for unscoped search, got %q", db.lastSQL)
	}
	if len(db.args) != 2 {
		t.Fatalf("expected vector and limit args only, got %#v", db.args)
	}
}

func TestSearchPropagatesEmbedderError(t *testing.T) {
	store := New(&fakeQuerier{}, &fakeEmbedder{err: errors.New("quota exceeded")}, 3, 0.7, nil)

	if _, err := store.Search(context.Background(), "checkout", nil, nil); err == nil {
		t.Fatalf("expected embedder error to propagate")
	}
}

func TestSearchPropagatesQueryError(t *testing.T) {
	db := &fakeQuerier{err: errors.New("connection refused")}
	store := New(db, &fakeEmbedder{vector: []float32{0.5}}, 3, 0.7, nil)

	if _, err := store.Search(context.Background(), "checkout", nil, nil); err == nil {
		t.Fatalf("expected query error to propagate")
	}
}

func TestSearchPropagatesRowsErr(t *testing.T) {
	db := &fakeQuerier{rows: &fakeRows{err: errors.New("stream interrupted")}}
	store := New(db, &fakeEmbedder{vector: []float32{0.5}}, 3, 0.7, nil)

	if _, err := store.Search(context.Background(), "checkout", nil, nil); err == nil {
		t.Fatalf("expected rows error to propagate")
	}
}
