package storage

import (
	"fmt"
	"strings"
)

// dialect captures the SQL differences between the SQLite and Postgres stores
type dialect struct {
	placeholder func(n int) string // n is 1-based
	trueLiteral string
}

var (
	sqliteDialect = dialect{
		placeholder: func(int) string { return "?" },
		trueLiteral: "1",
	}
	postgresDialect = dialect{
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		trueLiteral: "TRUE",
	}
)

// clauseBuilder accumulates WHERE conditions and their arguments
type clauseBuilder struct {
	d     dialect
	conds []string
	args  []interface{}
}

func newClauseBuilder(d dialect, args ...interface{}) *clauseBuilder {
	return &clauseBuilder{d: d, args: args}
}

// arg appends v and returns its placeholder
func (b *clauseBuilder) arg(v interface{}) string {
	b.args = append(b.args, v)
	return b.d.placeholder(len(b.args))
}

// where adds a condition. Each %s in cond is filled with one placeholder per value.
func (b *clauseBuilder) where(cond string, values ...interface{}) {
	phs := make([]interface{}, len(values))
	for i, v := range values {
		phs[i] = b.arg(v)
	}
	b.conds = append(b.conds, fmt.Sprintf(cond, phs...))
}

// filter applies the Filter scope to alias-qualified columns
func (b *clauseBuilder) filter(alias string, f Filter) {
	if f.CodeSystem != "" {
		b.where(alias+".code_system = %s", f.CodeSystem)
	}
	if f.CountryCode != "" {
		b.where(alias+".country_code = %s", f.CountryCode)
	}
	if f.EntityType != "" {
		// Rows without a declared type are eligible for any entity type
		b.where("("+alias+".entity_type = %s OR "+alias+".entity_type = '')", string(f.EntityType))
	}
	if !f.IncludeInactive {
		b.conds = append(b.conds, alias+".active = "+b.d.trueLiteral)
	}
}

// after applies a keyset cursor on (code_value, id)
func (b *clauseBuilder) after(alias string, c Cursor) {
	if c.IsZero() {
		return
	}
	b.where("("+alias+".code_value > %s OR ("+alias+".code_value = %s AND "+alias+".id > %s))",
		c.CodeValue, c.CodeValue, c.ID)
}

// sql renders the accumulated conditions as a WHERE clause
func (b *clauseBuilder) sql() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

// entryColumns is the column list scanned into types.CodeEntry, in order
const entryColumns = `e.id, e.code_system, e.code_value, e.country_code, e.display_name, e.search_text,
	e.normalized_text, e.embedding, e.embedding_model, e.embedded_at, e.entity_type, e.active,
	e.created_at, e.updated_at`

// rowScanner is implemented by *sql.Row, *sql.Rows and pgx.Row
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// clampLimit bounds a scan page size
func clampLimit(limit int) int {
	if limit <= 0 || limit > DefaultPageSize {
		return DefaultPageSize
	}
	return limit
}
