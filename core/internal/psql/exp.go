package psql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/qbloq/pathql/core/internal/qcode"
)

// renderExp writes one plan expression. Nested operator expressions are
// wrapped in parentheses.
func (c *compilerContext) renderExp(ex qcode.Exp, nested bool) {
	if c.err != nil {
		return
	}

	switch v := ex.(type) {
	case qcode.Alias:
		c.colWithTable(v.Table().Key(), v.Column())

	case qcode.Literal:
		c.renderLiteral(v.Value)

	case qcode.Variable:
		c.renderParam(Param{Name: v.Name})

	case qcode.Array:
		c.renderList(v.Elems)

	case qcode.In:
		if nested {
			c.w.WriteString(`(`)
		}
		c.renderExp(v.Lookup, true)
		c.w.WriteString(` `)
		c.w.WriteString(strings.ToUpper(v.Op))
		c.w.WriteString(` (`)
		c.renderPlan(v.Plan)
		c.w.WriteString(`)`)
		if nested {
			c.w.WriteString(`)`)
		}

	case qcode.Function:
		c.renderFunction(v, nested)

	default:
		c.err = fmt.Errorf("unknown plan expression %T", ex)
	}
}

func (c *compilerContext) renderList(elems []qcode.Exp) {
	c.w.WriteString(`(`)
	for i, e := range elems {
		if i != 0 {
			c.w.WriteString(`, `)
		}
		c.renderExp(e, false)
	}
	c.w.WriteString(`)`)
}

func (c *compilerContext) renderLiteral(val any) {
	switch v := val.(type) {
	case nil:
		c.w.WriteString(`NULL`)
	case bool:
		if v {
			c.w.WriteString(`TRUE`)
		} else {
			c.w.WriteString(`FALSE`)
		}
	case int:
		c.w.WriteString(strconv.Itoa(v))
	case int32:
		c.w.WriteString(strconv.FormatInt(int64(v), 10))
	case int64:
		c.w.WriteString(strconv.FormatInt(v, 10))
	case float32:
		c.w.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	case float64:
		c.w.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	case string:
		c.squoted(v)
	default:
		c.err = fmt.Errorf("unsupported literal of type %T", val)
	}
}

func (c *compilerContext) renderParam(p Param) {
	if _, ok := c.md.pindex[p.Name]; !ok {
		c.md.pindex[p.Name] = len(c.md.params)
		c.md.params = append(c.md.params, p)
	}
	c.w.WriteString(`:`)
	c.w.WriteString(p.Name)
}
