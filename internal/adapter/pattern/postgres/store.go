package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
)

// defaultLookupLimit caps unbounded lookups.
const defaultLookupLimit = 50

// querier is the slice of pgxpool.Pool the store needs.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store is the relational PatternStore and SchemaStore.
type Store struct {
	db querier
}

// New wraps a pgx pool (or anything query-compatible).
func New(db querier) *Store {
	return &Store{db: db}
}

// lookupSQL builds the filtered pattern query. Filters are ANDed; keyword
// matching means array overlap.
func lookupSQL(filters domain.PatternFilters) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, parent_id, name, kind, domain, language, keywords,
		quality_score, success_rate, usage_count, attributes, updated_at
		FROM patterns`)

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filters.ID != "" {
		conds = append(conds, "id = "+arg(filters.ID))
	}
	if filters.Kind != "" {
		conds = append(conds, "kind = "+arg(filters.Kind))
	}
	if filters.Domain != "" {
		conds = append(conds, "domain = "+arg(filters.Domain))
	}
	if filters.Language != "" {
		conds = append(conds, "language = "+arg(filters.Language))
	}
	if len(filters.Keywords) > 0 {
		conds = append(conds, "keywords && "+arg(filters.Keywords))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultLookupLimit
	}
	sb.WriteString(" ORDER BY quality_score DESC, usage_count DESC")
	sb.WriteString(" LIMIT " + arg(limit))
	return sb.String(), args
}

// Lookup returns stored patterns matching the filters, best first.
func (s *Store) Lookup(ctx context.Context, filters domain.PatternFilters) ([]domain.Pattern, error) {
	sql, args := lookupSQL(filters)
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, storeErr("pattern lookup", err)
	}
	defer rows.Close()

	var patterns []domain.Pattern
	for rows.Next() {
		var (
			p         domain.Pattern
			parentID  *string
			dom       *string
			lang      *string
			updatedAt *time.Time
		)
		if err := rows.Scan(&p.ID, &parentID, &p.Name, &p.Kind, &dom, &lang, &p.Keywords,
			&p.QualityScore, &p.SuccessRate, &p.UsageCount, &p.Attributes, &updatedAt); err != nil {
			return nil, storeErr("pattern scan", err)
		}
		if parentID != nil {
			p.ParentID = *parentID
		}
		if dom != nil {
			p.Domain = *dom
		}
		if lang != nil {
			p.Language = *lang
		}
		if updatedAt != nil {
			p.UpdatedAt = *updatedAt
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("pattern lookup", err)
	}
	return patterns, nil
}

// storeErr maps database failures onto the error taxonomy: deadline
// expiration is a timeout, everything else an external service error.
func storeErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", domain.ErrTimeout, op)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrExternalService, op, err)
}
