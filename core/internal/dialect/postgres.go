package dialect

import (
	"strconv"
	"strings"
)

type PostgresDialect struct{}

func (d *PostgresDialect) Name() string {
	return "postgres"
}

func (d *PostgresDialect) QuoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func (d *PostgresDialect) BindVar(i int) string {
	return "$" + strconv.Itoa(i)
}

func (d *PostgresDialect) RenderLimit(ctx Context, limit, offset *int) {
	if limit != nil {
		_, _ = ctx.WriteString(` LIMIT `)
		_, _ = ctx.WriteString(strconv.Itoa(*limit))
	}
	if offset != nil {
		_, _ = ctx.WriteString(` OFFSET `)
		_, _ = ctx.WriteString(strconv.Itoa(*offset))
	}
}

func (d *PostgresDialect) BindNamed(query string, params map[string]any) (string, []any, error) {
	return bindNamed(query, params, d.BindVar)
}
