package postgres

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
)

// fakeRows replays scripted row values through the pgx.Rows interface.
type fakeRows struct {
	rows    [][]any
	pos     int
	scanErr error
	rowsErr error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.rowsErr }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool                                   { r.pos++; return r.pos <= len(r.rows) }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.rows[r.pos-1]
	if len(row) != len(dest) {
		return fmt.Errorf("scan arity: %d values, %d targets", len(row), len(dest))
	}
	for i, v := range row {
		if v == nil {
			continue
		}
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

// fakeDB returns scripted rows and records the SQL it saw.
type fakeDB struct {
	rows     pgx.Rows
	queryErr error
	gotSQL   string
	gotArgs  []any
}

func (db *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	db.gotSQL = sql
	db.gotArgs = args
	if db.queryErr != nil {
		return nil, db.queryErr
	}
	return db.rows, nil
}

func TestLookupSQLFilters(t *testing.T) {
	t.Parallel()

	sql, args := lookupSQL(domain.PatternFilters{})
	assert.NotContains(t, sql, "WHERE")
	assert.Contains(t, sql, "ORDER BY quality_score DESC")
	assert.Equal(t, []any{defaultLookupLimit}, args)

	sql, args = lookupSQL(domain.PatternFilters{
		Kind:     "idiom",
		Domain:   "messaging",
		Language: "go",
		Keywords: []string{"retry", "backoff"},
		Limit:    5,
	})
	assert.Contains(t, sql, "kind = $1")
	assert.Contains(t, sql, "domain = $2")
	assert.Contains(t, sql, "language = $3")
	assert.Contains(t, sql, "keywords && $4")
	assert.Contains(t, sql, "LIMIT $5")
	require.Len(t, args, 5)
	assert.Equal(t, []string{"retry", "backoff"}, args[3])
	assert.Equal(t, 5, args[4])

	sql, args = lookupSQL(domain.PatternFilters{ID: "pat-7"})
	assert.Contains(t, sql, "id = $1")
	assert.Equal(t, "pat-7", args[0])
}

func TestLookupMapsRows(t *testing.T) {
	t.Parallel()

	parent := "pat-0"
	lang := "go"
	updated := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	db := &fakeDB{rows: &fakeRows{rows: [][]any{
		{"pat-1", &parent, "retry-loop", "idiom", (*string)(nil), &lang,
			[]string{"retry"}, 0.9, 0.8, int64(12), map[string]string{"tier": "core"}, &updated},
	}}}

	patterns, err := New(db).Lookup(context.Background(), domain.PatternFilters{Language: "go"})
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	p := patterns[0]
	assert.Equal(t, "pat-1", p.ID)
	assert.Equal(t, "pat-0", p.ParentID)
	assert.Equal(t, "retry-loop", p.Name)
	assert.Empty(t, p.Domain, "NULL column stays zero")
	assert.Equal(t, "go", p.Language)
	assert.InDelta(t, 0.9, p.QualityScore, 1e-9)
	assert.EqualValues(t, 12, p.UsageCount)
	assert.Equal(t, "core", p.Attributes["tier"])
	assert.Equal(t, updated, p.UpdatedAt)
}

func TestLookupClassifiesErrors(t *testing.T) {
	t.Parallel()

	_, err := New(&fakeDB{queryErr: context.DeadlineExceeded}).
		Lookup(context.Background(), domain.PatternFilters{})
	assert.ErrorIs(t, err, domain.ErrTimeout)

	_, err = New(&fakeDB{queryErr: fmt.Errorf("connection refused")}).
		Lookup(context.Background(), domain.PatternFilters{})
	assert.ErrorIs(t, err, domain.ErrExternalService)
}

func TestIntrospectGroupsColumns(t *testing.T) {
	t.Parallel()

	db := &fakeDB{rows: &fakeRows{rows: [][]any{
		{"public", "patterns", "id", "text", "NO"},
		{"public", "patterns", "quality_score", "double precision", "NO"},
		{"public", "outcomes", "event_id", "text", "NO"},
		{"public", "outcomes", "note", "text", "YES"},
	}}}

	catalog, err := New(db).Introspect(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "public", catalog.Scope, "empty scope falls back to public")
	assert.Equal(t, []any{"public"}, db.gotArgs)

	require.Len(t, catalog.Tables, 2)
	assert.Equal(t, "patterns", catalog.Tables[0].Name)
	require.Len(t, catalog.Tables[0].Columns, 2)
	assert.False(t, catalog.Tables[0].Columns[0].Nullable)
	assert.Equal(t, "outcomes", catalog.Tables[1].Name)
	assert.True(t, catalog.Tables[1].Columns[1].Nullable)
}
