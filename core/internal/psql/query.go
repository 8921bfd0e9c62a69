// Package psql renders join plans into parameterized SQL.
package psql

import (
	"bytes"

	"github.com/qbloq/pathql/core/internal/dialect"
	"github.com/qbloq/pathql/core/internal/qcode"
)

type Param struct {
	Name string
}

type Metadata struct {
	params []Param
	pindex map[string]int
}

// Params returns the named parameters in order of first appearance.
func (md Metadata) Params() []Param {
	return md.params
}

type compilerContext struct {
	md  *Metadata
	w   *bytes.Buffer
	err error
	*Compiler
}

type Config struct {
	DBType string
}

type Compiler struct {
	dialect dialect.Dialect
}

func NewCompiler(conf Config) *Compiler {
	var d dialect.Dialect
	switch conf.DBType {
	default:
		d = &dialect.PostgresDialect{}
	}
	return &Compiler{dialect: d}
}

func (co *Compiler) GetDialect() dialect.Dialect {
	return co.dialect
}

func (co *Compiler) CompileEx(p *qcode.Plan) (Metadata, []byte, error) {
	var w bytes.Buffer

	if md, err := co.Compile(&w, p); err != nil {
		return md, nil, err
	} else {
		return md, w.Bytes(), nil
	}
}

// Compile writes the SQL for p into w. The same plan always renders to the
// same bytes.
func (co *Compiler) Compile(w *bytes.Buffer, p *qcode.Plan) (Metadata, error) {
	md := Metadata{pindex: make(map[string]int)}
	c := compilerContext{
		md:       &md,
		w:        w,
		Compiler: co,
	}
	c.renderPlan(p)
	return md, c.err
}

func (c *compilerContext) renderPlan(p *qcode.Plan) {
	c.w.WriteString(`SELECT `)
	if len(p.Select) == 0 {
		c.w.WriteString(`*`)
	}
	for i, s := range p.Select {
		if i != 0 {
			c.w.WriteString(`, `)
		}
		c.renderExp(s.Exp, false)
		c.alias(s.Alias)
	}

	c.w.WriteString(` FROM `)
	c.quoted(p.Table)
	c.alias(p.Entry)

	for _, j := range p.Joins {
		c.renderJoin(j)
	}

	c.w.WriteString(` WHERE `)
	if p.Filter != nil {
		c.renderExp(p.Filter, false)
	} else {
		c.w.WriteString(`TRUE`)
	}

	if len(p.GroupBy) != 0 {
		c.w.WriteString(` GROUP BY `)
		for i, g := range p.GroupBy {
			if i != 0 {
				c.w.WriteString(`, `)
			}
			c.renderExp(g, false)
		}
	}

	if len(p.OrderBy) != 0 {
		c.w.WriteString(` ORDER BY `)
		for i, o := range p.OrderBy {
			if i != 0 {
				c.w.WriteString(`, `)
			}
			c.renderExp(o.Exp, false)
			if o.Desc {
				c.w.WriteString(` DESC`)
			} else {
				c.w.WriteString(` ASC`)
			}
		}
	}

	c.dialect.RenderLimit(c.w, p.Limit, p.Offset)
}

func (c *compilerContext) renderJoin(j *qcode.Join) {
	c.w.WriteString(` `)
	c.w.WriteString(j.Type.String())
	c.w.WriteString(` JOIN `)

	switch j.Kind {
	case qcode.JoinInline:
		c.quoted(j.Table)
	case qcode.JoinSubquery:
		c.w.WriteString(`(`)
		c.renderPlan(j.Plan)
		c.w.WriteString(`)`)
	}
	c.alias(j.Path.Key())

	c.w.WriteString(` ON `)
	c.renderExp(j.On, false)

	for _, cj := range j.Joins {
		c.renderJoin(cj)
	}
}
