package qcode

import (
	"sort"
	"strings"

	"github.com/qbloq/pathql/core/internal/sdata"
)

type AtomKind uint8

const (
	AtomTable AtomKind = iota
	AtomAggregate
)

// Atom is one unit of work a query needs from the join planner: a table
// namespace to join, or an aggregate to evaluate in a correlated subquery.
type Atom struct {
	Kind   AtomKind
	Path   sdata.NamePath
	Fn     string
	Source sdata.NamePath
	Target sdata.NamePath
}

func (a Atom) Key() string {
	if a.Kind == AtomAggregate {
		return AggregateAlias(a.Fn, a.Source, a.Target).Key()
	}
	return a.Path.Key()
}

// AggregateAlias names the subquery join evaluating fn over target
// for every entity reached by source.
func AggregateAlias(fn string, source, target sdata.NamePath) sdata.NamePath {
	return source.Append(strings.ToUpper(fn)).Append(target...)
}

type atomSet map[string]Atom

func (s atomSet) addPath(p sdata.NamePath) {
	for i := 2; i <= len(p); i++ {
		k := p[:i].Key()
		if _, ok := s[k]; ok {
			continue
		}
		s[k] = Atom{Kind: AtomTable, Path: p[:i].Append()}
	}
}

func (s atomSet) addAggregate(v sdata.AggregateCall) {
	s.addPath(v.SourcePath)
	a := Atom{Kind: AtomAggregate, Fn: v.Fn, Source: v.SourcePath, Target: v.TargetPath}
	s[a.Key()] = a
}

func (s atomSet) sorted() []Atom {
	atoms := make([]Atom, 0, len(s))
	for _, a := range s {
		atoms = append(atoms, a)
	}
	sort.Slice(atoms, func(i, j int) bool {
		return atoms[i].Key() < atoms[j].Key()
	})
	return atoms
}

// CollectAtoms returns the deduplicated atoms of the expanded query, sorted
// by key so that every path comes before the paths extending it.
func (co *Compiler) CollectAtoms(q *sdata.QueryDef) (atoms []Atom, err error) {
	defer RecoverInvariant(&err)
	return co.collectAtoms(co.ExpandQuery(q)), nil
}

func (co *Compiler) collectAtoms(q *sdata.QueryDef) []Atom {
	s := make(atomSet)
	s.addPath(q.FromPath)

	co.collect(s, q.Filter)
	for _, item := range q.Select {
		if item.Kind == sdata.SelectExpr {
			co.collect(s, item.Exp)
		}
	}
	for _, o := range q.OrderBy {
		co.collect(s, o.Exp)
	}
	return s.sorted()
}

func (co *Compiler) collect(s atomSet, e sdata.Expr) {
	switch v := e.(type) {
	case nil, sdata.Literal, sdata.Variable:

	case sdata.IdentifierPath:
		s.addPath(v.NamePath().Initial())

	case sdata.FunctionCall:
		for _, a := range v.Args {
			co.collect(s, a)
		}

	case sdata.Array:
		for _, a := range v.Elems {
			co.collect(s, a)
		}

	case sdata.AggregateCall:
		s.addAggregate(v)

	case sdata.InSubquery:
		co.collect(s, v.Lookup)

	case sdata.HookCall:
		invariantf("hook '%s' can not be evaluated by the database", v.Name)

	default:
		invariantf("unknown expression %T", e)
	}
}
