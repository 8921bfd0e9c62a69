package psql

import "strings"

func (c *compilerContext) alias(alias string) {
	c.w.WriteString(` AS `)
	c.quoted(alias)
}

func (c *compilerContext) colWithTable(table, col string) {
	c.quoted(table)
	c.w.WriteString(`.`)
	c.quoted(col)
}

func (c *compilerContext) quoted(identifier string) {
	c.w.WriteString(c.dialect.QuoteIdentifier(identifier))
}

func (c *compilerContext) squoted(s string) {
	c.w.WriteByte('\'')
	c.w.WriteString(strings.ReplaceAll(s, `'`, `''`))
	c.w.WriteByte('\'')
}
