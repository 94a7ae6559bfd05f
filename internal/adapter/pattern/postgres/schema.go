package postgres

import (
	"context"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
)

// defaultSchemaScope is introspected when the request names none.
const defaultSchemaScope = "public"

const introspectSQL = `SELECT table_schema, table_name, column_name, data_type, is_nullable
	FROM information_schema.columns
	WHERE table_schema = $1
	ORDER BY table_schema, table_name, ordinal_position`

// columnRow is one information_schema.columns row.
type columnRow struct {
	schema   string
	table    string
	column   string
	dataType string
	nullable string
}

// Introspect reads the relational catalog for one schema scope.
func (s *Store) Introspect(ctx context.Context, scope string) (domain.SchemaCatalog, error) {
	if scope == "" {
		scope = defaultSchemaScope
	}
	rows, err := s.db.Query(ctx, introspectSQL, scope)
	if err != nil {
		return domain.SchemaCatalog{}, storeErr("schema introspect", err)
	}
	defer rows.Close()

	var cols []columnRow
	for rows.Next() {
		var c columnRow
		if err := rows.Scan(&c.schema, &c.table, &c.column, &c.dataType, &c.nullable); err != nil {
			return domain.SchemaCatalog{}, storeErr("schema scan", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return domain.SchemaCatalog{}, storeErr("schema introspect", err)
	}
	return domain.SchemaCatalog{Scope: scope, Tables: groupColumns(cols)}, nil
}

// groupColumns folds ordered catalog rows into per-table column lists. Input
// order (schema, table, ordinal) is preserved.
func groupColumns(cols []columnRow) []domain.SchemaTable {
	var tables []domain.SchemaTable
	for _, c := range cols {
		n := len(tables)
		if n == 0 || tables[n-1].Schema != c.schema || tables[n-1].Name != c.table {
			tables = append(tables, domain.SchemaTable{Schema: c.schema, Name: c.table})
			n++
		}
		tables[n-1].Columns = append(tables[n-1].Columns, domain.SchemaColumn{
			Name:     c.column,
			DataType: c.dataType,
			Nullable: c.nullable == "YES",
		})
	}
	return tables
}
