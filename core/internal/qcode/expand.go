package qcode

import (
	"github.com/qbloq/pathql/core/internal/sdata"
)

// Expand inlines every computed member reference in e. A computed's
// expression is rebased onto the path that reached it and expanded again,
// so computeds may build on other computeds.
func (co *Compiler) Expand(e sdata.Expr) sdata.Expr {
	switch v := e.(type) {
	case nil:
		return nil

	case sdata.Literal, sdata.Variable, sdata.AggregateCall:
		return v

	case sdata.IdentifierPath:
		leaf := v.Leaf()
		if leaf.Ref.Kind != sdata.RefComputed {
			return v
		}
		c := co.def.Computed(leaf.Ref)
		if c.Exp == nil {
			invariantf("computed '%s' has no expression", c.Name)
		}
		prefix := v.Path[:len(v.Path)-1]
		return co.Expand(rebase(c.Exp, prefix))

	case sdata.FunctionCall:
		args := make([]sdata.Expr, len(v.Args))
		for i, a := range v.Args {
			args[i] = co.Expand(a)
		}
		return sdata.FunctionCall{Name: v.Name, Args: args, T: v.T}

	case sdata.Array:
		elems := make([]sdata.Expr, len(v.Elems))
		for i, a := range v.Elems {
			elems[i] = co.Expand(a)
		}
		return sdata.Array{Elems: elems, T: v.T}

	case sdata.InSubquery:
		v.Lookup = co.Expand(v.Lookup)
		return v

	case sdata.HookCall:
		invariantf("hook '%s' can not be evaluated by the database", v.Name)

	default:
		invariantf("unknown expression %T", e)
	}
	return nil
}

// ExpandQuery returns a copy of q with filter, select and order by expanded.
func (co *Compiler) ExpandQuery(q *sdata.QueryDef) *sdata.QueryDef {
	eq := *q
	eq.Filter = co.Expand(q.Filter)

	eq.Select = make([]sdata.SelectItem, len(q.Select))
	for i, s := range q.Select {
		if s.Kind == sdata.SelectExpr {
			s.Exp = co.Expand(s.Exp)
		}
		eq.Select[i] = s
	}

	eq.OrderBy = make([]sdata.OrderBy, len(q.OrderBy))
	for i, o := range q.OrderBy {
		eq.OrderBy[i] = sdata.OrderBy{Exp: co.Expand(o.Exp), Desc: o.Desc}
	}
	return &eq
}

// rebase moves an expression written against a model's root onto prefix,
// the path that reached the model. New nodes are built, e is never modified.
func rebase(e sdata.Expr, prefix []sdata.IdentifierRef) sdata.Expr {
	switch v := e.(type) {
	case sdata.IdentifierPath:
		p := make([]sdata.IdentifierRef, 0, len(prefix)+len(v.Path)-1)
		p = append(p, prefix...)
		p = append(p, v.Path[1:]...)
		return sdata.IdentifierPath{Path: p, T: v.T}

	case sdata.AggregateCall:
		v.SourcePath = rebasePath(v.SourcePath, prefix)
		return v

	case sdata.InSubquery:
		v.Lookup = rebase(v.Lookup, prefix)
		return v

	case sdata.FunctionCall:
		args := make([]sdata.Expr, len(v.Args))
		for i, a := range v.Args {
			args[i] = rebase(a, prefix)
		}
		return sdata.FunctionCall{Name: v.Name, Args: args, T: v.T}

	case sdata.Array:
		elems := make([]sdata.Expr, len(v.Elems))
		for i, a := range v.Elems {
			elems[i] = rebase(a, prefix)
		}
		return sdata.Array{Elems: elems, T: v.T}
	}
	return e
}

func rebasePath(p sdata.NamePath, prefix []sdata.IdentifierRef) sdata.NamePath {
	np := make(sdata.NamePath, 0, len(prefix)+len(p)-1)
	for _, s := range prefix {
		np = append(np, s.Name)
	}
	return append(np, p[1:]...)
}
