package core

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/qbloq/pathql/core/internal/qcode"
	"github.com/qbloq/pathql/core/internal/sdata"
)

// QueryTree is a query with only its database evaluable select items left
// and the nested queries and hooks it had split into child trees.
type QueryTree struct {
	Name  string `json:"name" yaml:"name"`
	Alias string `json:"alias" yaml:"alias"`

	// Query is what runs for this node. Child queries filter their root id
	// by the parent ids and select it as the join connection.
	Query *QueryDef `json:"-" yaml:"-"`

	// QueryIDAlias is the column children are correlated by. Empty when
	// the node has neither nested queries nor hooks.
	QueryIDAlias string `json:"query_id_alias,omitempty" yaml:"query_id_alias,omitempty"`

	Related []*QueryTree `json:"related,omitempty" yaml:"related,omitempty"`
	Hooks   []HookTree   `json:"hooks,omitempty" yaml:"hooks,omitempty"`
}

type HookTree struct {
	// Alias the hook result is stored under in each row
	Alias string        `json:"alias" yaml:"alias"`
	Hook  string        `json:"hook" yaml:"hook"`
	Code  HookCode      `json:"code" yaml:"code"`
	Args  []HookArgTree `json:"args,omitempty" yaml:"args,omitempty"`
}

type HookArgTree struct {
	Name string     `json:"name" yaml:"name"`
	Tree *QueryTree `json:"tree" yaml:"tree"`
}

func (pe *pathqlEngine) buildQueryTree(q *QueryDef) (t *QueryTree, err error) {
	defer func() {
		if errors.Is(err, ErrInvariant) {
			pe.log.Errorw("query tree build failed", "query", q.Name, "error", err)
		}
	}()
	defer qcode.RecoverInvariant(&err)
	return pe.queryTree(q, q.Name)
}

func (pe *pathqlEngine) queryTree(q *QueryDef, alias string) (*QueryTree, error) {
	idPath := q.FromPath.Append("id")

	sel := make([]SelectItem, 0, len(q.Select)+1)
	var hasID, nested bool
	for _, s := range q.Select {
		if s.Kind != sdata.SelectExpr {
			nested = true
			continue
		}
		sel = append(sel, s)
		if s.Alias == "id" {
			if ip, ok := s.Exp.(sdata.IdentifierPath); ok && ip.NamePath().Equal(idPath) {
				hasID = true
			}
		}
	}

	t := &QueryTree{Name: q.Name, Alias: alias}
	if hasID {
		t.QueryIDAlias = "id"
	}

	if nested && !hasID {
		ip, err := pe.def.Identifier(idPath)
		if err != nil {
			return nil, err
		}
		sel = append(sel, SelectItem{Kind: sdata.SelectExpr, Alias: syntheticID, Exp: ip})
		t.QueryIDAlias = syntheticID
	}

	query := *q
	query.Select = sel
	t.Query = &query

	for _, s := range q.Select {
		switch s.Kind {
		case sdata.SelectQuery:
			child, err := pe.childTree(s.Query, s.Alias)
			if err != nil {
				return nil, err
			}
			t.Related = append(t.Related, child)

		case sdata.SelectHook:
			h := pe.def.Hook(s.Hook)
			ht := HookTree{Alias: s.Alias, Hook: h.Name, Code: h.Code}
			for _, a := range h.Args {
				at, err := pe.childTree(a.Query, a.Name)
				if err != nil {
					return nil, err
				}
				ht.Args = append(ht.Args, HookArgTree{Name: a.Name, Tree: at})
			}
			t.Hooks = append(t.Hooks, ht)
		}
	}
	return t, nil
}

func (pe *pathqlEngine) childTree(q *QueryDef, alias string) (*QueryTree, error) {
	dq, err := pe.decorate(q)
	if err != nil {
		return nil, err
	}
	return pe.queryTree(dq, alias)
}

// decorate restricts a nested query to the parent ids bound at run time
// and selects its root id as the join connection.
func (pe *pathqlEngine) decorate(q *QueryDef) (*QueryDef, error) {
	rootID, err := pe.def.Identifier(NamePath{q.Root(), "id"})
	if err != nil {
		return nil, err
	}

	var filter Expr = sdata.Fn("in", rootID,
		sdata.Var(contextIDsVar, sdata.Type{Kind: sdata.TypeList}))
	if q.Filter != nil {
		filter = sdata.Fn("and", filter, q.Filter)
	}

	dq := *q
	dq.Filter = filter
	dq.Select = make([]SelectItem, 0, len(q.Select)+1)
	dq.Select = append(dq.Select, q.Select...)
	dq.Select = append(dq.Select, SelectItem{
		Kind:  sdata.SelectExpr,
		Alias: qcode.JoinConnection,
		Exp:   rootID,
	})
	return &dq, nil
}

// QueryParts describes an ad-hoc query.
type QueryParts struct {
	Name     string
	FromPath NamePath
	Filter   Expr
	Select   []SelectItem
	OrderBy  []OrderBy
	Limit    *int
	Offset   *int
}

// QueryFromParts builds a top-level query with the cardinality its from
// path implies. Without select items every field of the target model is
// selected.
func QueryFromParts(def *Definition, parts QueryParts) (*QueryDef, error) {
	if len(parts.FromPath) == 0 {
		return nil, fmt.Errorf("query '%s': from path is required", parts.Name)
	}
	target, err := def.PathTarget(parts.FromPath)
	if err != nil {
		return nil, fmt.Errorf("query '%s': %w", parts.Name, err)
	}
	c, err := sdata.PathCardinality(def, parts.FromPath, true)
	if err != nil {
		return nil, fmt.Errorf("query '%s': %w", parts.Name, err)
	}

	sel := parts.Select
	if len(sel) == 0 {
		for _, f := range def.ModelAt(target).Fields {
			ip, err := def.Identifier(parts.FromPath.Append(f.Name))
			if err != nil {
				return nil, fmt.Errorf("query '%s': %w", parts.Name, err)
			}
			sel = append(sel, SelectItem{Kind: sdata.SelectExpr, Alias: f.Name, Exp: ip})
		}
	}

	return &QueryDef{
		Name:        parts.Name,
		FromPath:    parts.FromPath,
		Filter:      parts.Filter,
		Select:      sel,
		OrderBy:     parts.OrderBy,
		Limit:       parts.Limit,
		Offset:      parts.Offset,
		Cardinality: c,
	}, nil
}
