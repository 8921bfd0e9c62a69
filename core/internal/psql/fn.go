package psql

import (
	"fmt"
	"strings"

	"github.com/qbloq/pathql/core/internal/qcode"
)

var infixOps = map[string]string{
	"=":      "=",
	"is":     "=",
	"!=":     "<>",
	"is not": "<>",
	"<":      "<",
	"<=":     "<=",
	">":      ">",
	">=":     ">=",
	"+":      "+",
	"-":      "-",
	"*":      "*",
	"/":      "/",
	"like":   "LIKE",
}

var sqlFuncs = map[string]string{
	"count":  "count",
	"sum":    "sum",
	"min":    "min",
	"max":    "max",
	"avg":    "avg",
	"lower":  "lower",
	"upper":  "upper",
	"length": "char_length",
	"concat": "concat",
	"now":    "now",
}

func (c *compilerContext) renderFunction(f qcode.Function, nested bool) {
	name := strings.ToLower(f.Name)

	switch name {
	case "and", "or":
		if len(f.Args) == 0 {
			c.err = fmt.Errorf("function '%s' needs arguments", f.Name)
			return
		}
		c.open(nested)
		for i, a := range f.Args {
			if i != 0 {
				c.w.WriteString(` `)
				c.w.WriteString(strings.ToUpper(name))
				c.w.WriteString(` `)
			}
			c.renderExp(a, true)
		}
		c.close(nested)
		return

	case "not":
		if len(f.Args) != 1 {
			c.err = fmt.Errorf("function 'not' takes one argument")
			return
		}
		c.open(nested)
		c.w.WriteString(`NOT `)
		c.renderExp(f.Args[0], true)
		c.close(nested)
		return

	case "in", "not in":
		if len(f.Args) != 2 {
			c.err = fmt.Errorf("function '%s' takes two arguments", f.Name)
			return
		}
		c.open(nested)
		c.renderExp(f.Args[0], true)
		c.w.WriteString(` `)
		c.w.WriteString(strings.ToUpper(name))
		c.w.WriteString(` `)
		switch rhs := f.Args[1].(type) {
		case qcode.Array:
			c.renderList(rhs.Elems)
		default:
			c.w.WriteString(`(`)
			c.renderExp(rhs, false)
			c.w.WriteString(`)`)
		}
		c.close(nested)
		return
	}

	if op, ok := infixOps[name]; ok {
		if len(f.Args) != 2 {
			c.err = fmt.Errorf("function '%s' takes two arguments", f.Name)
			return
		}
		c.renderInfix(op, f.Args[0], f.Args[1], nested)
		return
	}

	if fn, ok := sqlFuncs[name]; ok {
		c.w.WriteString(fn)
		c.w.WriteString(`(`)
		for i, a := range f.Args {
			if i != 0 {
				c.w.WriteString(`, `)
			}
			c.renderExp(a, false)
		}
		c.w.WriteString(`)`)
		return
	}

	c.err = fmt.Errorf("unknown function '%s'", f.Name)
}

func (c *compilerContext) renderInfix(op string, lhs, rhs qcode.Exp, nested bool) {
	if op == "=" || op == "<>" {
		switch {
		case isNull(rhs):
			c.renderIsNull(op, lhs, nested)
			return
		case isNull(lhs):
			c.renderIsNull(op, rhs, nested)
			return
		}
	}

	c.open(nested)
	c.renderExp(lhs, true)
	c.w.WriteString(` `)
	c.w.WriteString(op)
	c.w.WriteString(` `)
	c.renderExp(rhs, true)
	c.close(nested)
}

func (c *compilerContext) renderIsNull(op string, ex qcode.Exp, nested bool) {
	c.open(nested)
	c.renderExp(ex, true)
	if op == "=" {
		c.w.WriteString(` IS NULL`)
	} else {
		c.w.WriteString(` IS NOT NULL`)
	}
	c.close(nested)
}

func isNull(ex qcode.Exp) bool {
	l, ok := ex.(qcode.Literal)
	return ok && l.Value == nil
}

func (c *compilerContext) open(nested bool) {
	if nested {
		c.w.WriteString(`(`)
	}
}

func (c *compilerContext) close(nested bool) {
	if nested {
		c.w.WriteString(`)`)
	}
}
