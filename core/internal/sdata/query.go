package sdata

import "fmt"

type Cardinality string

const (
	CardinalityOne        Cardinality = "one"
	CardinalityNullable   Cardinality = "nullable"
	CardinalityCollection Cardinality = "collection"
)

func (c Cardinality) Valid() bool {
	switch c {
	case CardinalityOne, CardinalityNullable, CardinalityCollection:
		return true
	}
	return false
}

type QueryDef struct {
	Name        string
	FromPath    NamePath
	Filter      Expr
	Select      []SelectItem
	OrderBy     []OrderBy
	Limit       *int
	Offset      *int
	Cardinality Cardinality
}

// Root is the model name the query is rooted at.
func (q *QueryDef) Root() string {
	return q.FromPath[0]
}

type SelectKind uint8

const (
	SelectExpr SelectKind = iota
	SelectQuery
	SelectHook
)

type SelectItem struct {
	Kind  SelectKind
	Alias string
	Exp   Expr
	Query *QueryDef
	Hook  Ref
}

type OrderBy struct {
	Exp  Expr
	Desc bool
}

// PathCardinality computes how many rows a traversal yields. A rooted path
// starts from every row of its model. Otherwise the traversal starts from
// a single row of the first segment's model.
func PathCardinality(d *Definition, p NamePath, rooted bool) (Cardinality, error) {
	refs, err := d.ResolvePath(p)
	if err != nil {
		return "", err
	}
	if rooted {
		return CardinalityCollection, nil
	}

	c := CardinalityOne
	for _, r := range refs[1:] {
		var step Cardinality
		switch r.Kind {
		case RefReference:
			if d.Reference(r).Nullable {
				step = CardinalityNullable
			} else {
				step = CardinalityOne
			}
		case RefRelation:
			if d.Relation(r).Unique {
				step = CardinalityNullable
			} else {
				step = CardinalityCollection
			}
		case RefQuery:
			step = d.ModelQuery(r).Query.Cardinality
		default:
			return "", fmt.Errorf("path '%s': '%s' is a %s, not a traversal", p, d.memberName(r), r.Kind)
		}
		c = combine(c, step)
	}
	return c, nil
}

func combine(a, b Cardinality) Cardinality {
	if a == CardinalityCollection || b == CardinalityCollection {
		return CardinalityCollection
	}
	if a == CardinalityNullable || b == CardinalityNullable {
		return CardinalityNullable
	}
	return CardinalityOne
}

func (d *Definition) memberName(r Ref) string {
	switch r.Kind {
	case RefModel:
		return d.Models[r.Model].Name
	case RefField:
		return d.Field(r).Name
	case RefReference:
		return d.Reference(r).Name
	case RefRelation:
		return d.Relation(r).Name
	case RefQuery:
		return d.ModelQuery(r).Name
	case RefComputed:
		return d.Computed(r).Name
	case RefHook:
		return d.Hook(r).Name
	}
	return ""
}
