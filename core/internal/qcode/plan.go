package qcode

import (
	"github.com/qbloq/pathql/core/internal/sdata"
)

// BuildPlan turns a query into a join plan. Invariant violations found
// while planning are returned as errors wrapping ErrInvariant.
func (co *Compiler) BuildPlan(q *sdata.QueryDef) (p *Plan, err error) {
	defer RecoverInvariant(&err)
	return co.buildPlan(co.ExpandQuery(q), false), nil
}

// buildPlan plans an expanded query. With allLeft set every join is a
// left join, aggregate subqueries must keep entities with no matches.
func (co *Compiler) buildPlan(q *sdata.QueryDef, allLeft bool) *Plan {
	m, ok := co.def.Model(q.Root())
	if !ok {
		invariantf("unknown model '%s'", q.Root())
	}

	p := &Plan{
		Entry:    m.Name,
		Table:    m.Table,
		FromPath: q.FromPath,
		Limit:    q.Limit,
		Offset:   q.Offset,
	}
	p.Joins = co.planJoins(co.collectAtoms(q), q.FromPath, allLeft)

	if q.Filter != nil {
		p.Filter = co.compileExp(q.Filter)
	}
	for _, item := range q.Select {
		if item.Kind != sdata.SelectExpr {
			continue
		}
		p.Select = append(p.Select, SelectExp{Alias: item.Alias, Exp: co.compileExp(item.Exp)})
	}
	for _, o := range q.OrderBy {
		p.OrderBy = append(p.OrderBy, OrderExp{Exp: co.compileExp(o.Exp), Desc: o.Desc})
	}
	return p
}

func (co *Compiler) planJoins(atoms []Atom, fromPath sdata.NamePath, allLeft bool) []*Join {
	var top []*Join
	joins := make(map[string]*Join, len(atoms))

	for _, a := range atoms {
		var j *Join
		var parent sdata.NamePath

		switch a.Kind {
		case AtomTable:
			j = co.tableJoin(a.Path)
			parent = a.Path.Initial()
			if !allLeft && fromPath.HasPrefix(a.Path) {
				j.Type = JoinInner
			} else {
				j.Type = JoinLeft
			}

		case AtomAggregate:
			j = co.aggregateJoin(a)
			parent = a.Source

		default:
			invariantf("unknown atom kind %d", a.Kind)
		}

		if pj, ok := joins[parent.Key()]; ok {
			pj.Joins = append(pj.Joins, j)
		} else {
			top = append(top, j)
		}
		joins[a.Key()] = j
	}
	return top
}

func (co *Compiler) tableJoin(path sdata.NamePath) *Join {
	refs := co.resolve(path)
	parent := path.Initial()
	owner, ok := co.def.Target(refs[len(refs)-2])
	if !ok {
		invariantf("path '%s' does not traverse models", path)
	}
	leaf := refs[len(refs)-1]

	switch leaf.Kind {
	case sdata.RefReference:
		r := co.def.Reference(leaf)
		tm := co.def.ModelAt(r.To)
		return &Join{
			Kind:  JoinInline,
			Table: tm.Table,
			Path:  path,
			On: eq(
				column(parent, co.def.Field(r.Field).DBName),
				column(path, co.def.IDField(r.To).DBName)),
		}

	case sdata.RefRelation:
		rel := co.def.Relation(leaf)
		tm := co.def.ModelAt(rel.To)
		through := co.def.Reference(rel.Through)
		return &Join{
			Kind:  JoinInline,
			Table: tm.Table,
			Path:  path,
			On: eq(
				column(parent, co.def.IDField(owner).DBName),
				column(path, co.def.Field(through.Field).DBName)),
		}

	case sdata.RefQuery:
		mq := co.def.ModelQuery(leaf)
		return &Join{
			Kind: JoinSubquery,
			Plan: co.queryMemberPlan(mq),
			Path: path,
			On: eq(
				column(parent, co.def.IDField(owner).DBName),
				column(path, JoinConnection)),
		}
	}

	invariantf("path '%s' ends on a %s, expected a reference, relation or query", path, leaf.Kind)
	return nil
}

// queryMemberPlan selects every field of the query's target model plus the
// id of the model owning the query as the join connection.
func (co *Compiler) queryMemberPlan(mq *sdata.ModelQuery) *Plan {
	q := co.ExpandQuery(mq.Query)
	tm := co.def.ModelAt(mq.To)

	sel := make([]sdata.SelectItem, 0, len(tm.Fields)+1)
	for _, f := range tm.Fields {
		sel = append(sel, sdata.SelectItem{
			Alias: f.DBName,
			Exp:   co.identifier(q.FromPath.Append(f.Name)),
		})
	}
	sel = append(sel, sdata.SelectItem{
		Alias: JoinConnection,
		Exp:   co.identifier(sdata.NamePath{q.Root(), "id"}),
	})
	q.Select = sel
	return co.buildPlan(q, false)
}

// aggregateJoin plans fn(target) grouped by the entity source ends on and
// left joins it back on that entity's id.
func (co *Compiler) aggregateJoin(a Atom) *Join {
	entry := co.target(a.Source)
	em := co.def.ModelAt(entry)
	id := co.def.IDField(entry).DBName
	root := sdata.NamePath{em.Name}

	q := &sdata.QueryDef{
		Name:     a.Key(),
		FromPath: root.Append(a.Target.Initial()...),
		Select: []sdata.SelectItem{
			{Alias: JoinConnection, Exp: co.identifier(root.Append("id"))},
			{Alias: ResultColumn, Exp: sdata.Fn(a.Fn, co.identifier(root.Append(a.Target...)))},
		},
	}
	p := co.buildPlan(q, true)
	p.GroupBy = []Exp{column(root, id)}

	alias := AggregateAlias(a.Fn, a.Source, a.Target)
	return &Join{
		Kind: JoinSubquery,
		Type: JoinLeft,
		Plan: p,
		Path: alias,
		On:   eq(column(a.Source, id), column(alias, JoinConnection)),
	}
}

// inPlan selects the values of target reachable from source. The plan
// starts at the root of source so every join along the path is inner.
func (co *Compiler) inPlan(v sdata.InSubquery) *Plan {
	q := &sdata.QueryDef{
		Name:     "in",
		FromPath: v.SourcePath.Append(v.TargetPath.Initial()...),
		Select: []sdata.SelectItem{
			{Alias: ResultColumn, Exp: co.identifier(v.SourcePath.Append(v.TargetPath...))},
		},
	}
	return co.buildPlan(q, false)
}

func (co *Compiler) resolve(p sdata.NamePath) []sdata.Ref {
	refs, err := co.def.ResolvePath(p)
	if err != nil {
		invariantf("%s", err)
	}
	return refs
}

func (co *Compiler) target(p sdata.NamePath) int32 {
	t, err := co.def.PathTarget(p)
	if err != nil {
		invariantf("%s", err)
	}
	return t
}

func (co *Compiler) identifier(p sdata.NamePath) sdata.IdentifierPath {
	ip, err := co.def.Identifier(p)
	if err != nil {
		invariantf("%s", err)
	}
	return ip
}

func column(table sdata.NamePath, col string) Alias {
	return Alias{Path: table.Append(col)}
}

func eq(a, b Exp) Exp {
	return Function{Name: "=", Args: []Exp{a, b}}
}
