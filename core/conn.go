package core

import (
	"context"
	"database/sql"
	"database/sql/driver"

	"github.com/jackc/pgx/v5"
	"github.com/qbloq/pathql/core/internal/dialect"
)

// Row is one result row keyed by column alias.
type Row map[string]any

type RawResult struct {
	RowCount int
	Rows     []Row
}

// Conn runs a statement with named placeholders (:name) and returns its rows.
type Conn interface {
	Raw(c context.Context, query string, params map[string]any) (*RawResult, error)
}

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(c context.Context, query string, args ...any) (*sql.Rows, error)
}

// PgxQuerier is satisfied by *pgx.Conn, *pgxpool.Pool and pgx.Tx.
type PgxQuerier interface {
	Query(c context.Context, sql string, args ...any) (pgx.Rows, error)
}

// SQLConn runs statements on a database/sql connection.
type SQLConn struct {
	q Querier
	d dialect.Dialect
}

func NewSQLConn(q Querier) *SQLConn {
	return &SQLConn{q: q, d: &dialect.PostgresDialect{}}
}

func (sc *SQLConn) Raw(c context.Context, query string, params map[string]any) (*RawResult, error) {
	q, args, err := sc.d.BindNamed(query, params)
	if err != nil {
		return nil, err
	}

	rows, err := sc.q.QueryContext(c, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &RawResult{Rows: []Row{}}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = normalize(vals[i])
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res.RowCount = len(res.Rows)
	return res, nil
}

// PgxConn runs statements on a pgx connection or pool.
type PgxConn struct {
	q PgxQuerier
	d dialect.Dialect
}

func NewPgxConn(q PgxQuerier) *PgxConn {
	return &PgxConn{q: q, d: &dialect.PostgresDialect{}}
}

func (pc *PgxConn) Raw(c context.Context, query string, params map[string]any) (*RawResult, error) {
	q, args, err := pc.d.BindNamed(query, params)
	if err != nil {
		return nil, err
	}

	rows, err := pc.q.Query(c, q, args...)
	if err != nil {
		return nil, err
	}

	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}

	res := &RawResult{Rows: make([]Row, len(maps)), RowCount: len(maps)}
	for i, m := range maps {
		for k, v := range m {
			m[k] = normalize(v)
		}
		res.Rows[i] = Row(m)
	}
	return res, nil
}

// normalize turns driver specific values into plain ones: text columns
// scanned as bytes become strings, valuers such as pgtype.Numeric are
// reduced to their driver value.
func normalize(v any) any {
	if dv, ok := v.(driver.Valuer); ok {
		if x, err := dv.Value(); err == nil {
			v = x
		}
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
