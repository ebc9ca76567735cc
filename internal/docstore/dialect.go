package docstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"reel-go/internal/docstore/migrations"
)

// dialect holds the SQL differences between the supported databases.
// Statements are written with "?" placeholders and rebound per dialect.
type dialect interface {
	name() string
	rebind(stmt string) string
	// fieldExpr selects a top-level JSON field for comparison.
	fieldExpr(field string) string
	// orderExpr selects a top-level JSON field for ordering.
	orderExpr(field string) string
	idExpr() string
	fieldsColumn() string
	jsonValue() string
	lockClause() string
	// arg converts a filter or cursor value to what fieldExpr compares against.
	arg(v any) any
}

func dialectFor(name string) (dialect, error) {
	switch name {
	case migrations.SQLite:
		return sqliteDialect{}, nil
	case migrations.Postgres:
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unknown sql dialect: %s", name)
	}
}

type sqliteDialect struct{}

func (sqliteDialect) name() string              { return migrations.SQLite }
func (sqliteDialect) rebind(stmt string) string { return stmt }
func (sqliteDialect) idExpr() string            { return "id" }
func (sqliteDialect) fieldsColumn() string      { return "fields" }
func (sqliteDialect) jsonValue() string         { return "?" }
func (sqliteDialect) lockClause() string        { return "" }

func (sqliteDialect) fieldExpr(field string) string {
	return fmt.Sprintf("json_extract(fields, '$.%s')", field)
}

func (d sqliteDialect) orderExpr(field string) string {
	return d.fieldExpr(field)
}

// json_extract yields 1/0 for JSON booleans and native numbers.
func (sqliteDialect) arg(v any) any {
	switch val := v.(type) {
	case bool:
		if val {
			return 1
		}
		return 0
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	default:
		return v
	}
}

type postgresDialect struct{}

func (postgresDialect) name() string         { return migrations.Postgres }
func (postgresDialect) idExpr() string       { return `id COLLATE "C"` }
func (postgresDialect) fieldsColumn() string { return "fields::text" }
func (postgresDialect) jsonValue() string    { return "CAST(? AS JSONB)" }
func (postgresDialect) lockClause() string   { return " FOR UPDATE" }

func (postgresDialect) rebind(stmt string) string {
	var b strings.Builder
	n := 0
	for _, r := range stmt {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (postgresDialect) fieldExpr(field string) string {
	return fmt.Sprintf("(fields->>'%s')", field)
}

// Byte order matches the lexical order of the stored timestamp format.
func (d postgresDialect) orderExpr(field string) string {
	return d.fieldExpr(field) + ` COLLATE "C"`
}

// ->> yields text, so compare against the text form of the value.
func (postgresDialect) arg(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
