package core

import (
	"context"
	"fmt"

	"github.com/qbloq/pathql/core/internal/qcode"
	"github.com/qbloq/pathql/core/internal/sdata"
	"github.com/rs/xid"
	"github.com/spf13/cast"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// tstate is the state of one query tree execution
type tstate struct {
	pe   *pathqlEngine
	conn Conn
	vars Vars
	rid  string
}

func (pe *pathqlEngine) newState(conn Conn, vars Vars) *tstate {
	return &tstate{pe: pe, conn: conn, vars: vars, rid: xid.New().String()}
}

func (pe *pathqlEngine) executeQueryTree(c context.Context,
	conn Conn,
	tree *QueryTree,
	vars Vars,
	contextIDs []any,
) ([]Row, error) {
	s := pe.newState(conn, vars)

	c1, span := pe.spanStart(c, "Execute Query Tree", queryAttrs(tree.Query))
	defer span.End()

	rows, err := s.executeTree(c1, tree, contextIDs)
	if err != nil {
		spanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("query.rows", len(rows)))
	return rows, nil
}

func (s *tstate) executeQuery(c context.Context, q *QueryDef, contextIDs []any) ([]Row, error) {
	pe := s.pe

	cq, err := pe.compileQuery(q)
	if err != nil {
		return nil, err
	}

	args, err := argMap(cq.md, s.vars, contextIDs)
	if err != nil {
		return nil, err
	}

	c1, span := pe.spanStart(c, "Execute Query", queryAttrs(q))
	defer span.End()

	if pe.conf.Debug {
		s.debugLogStmt(q, cq, args)
	}

	res, err := s.conn.Raw(c1, cq.sql, args)
	if err != nil {
		spanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("query.rows", len(res.Rows)))

	rows := res.Rows
	if rows == nil {
		rows = []Row{}
	}
	coerceNumeric(rows, cq.numeric)
	return rows, nil
}

func (s *tstate) debugLogStmt(q *QueryDef, cq *compiledQuery, args map[string]any) {
	kv := []any{
		"request_id", s.rid,
		"query", q.Name,
		"sql", cq.sql,
		"params", cq.paramNames(),
	}
	if s.pe.conf.LogVars {
		kv = append(kv, "vars", args)
	}
	s.pe.log.Debugw("executing query", kv...)
}

func (s *tstate) executeTree(c context.Context, t *QueryTree, contextIDs []any) ([]Row, error) {
	rows, err := s.executeQuery(c, t.Query, contextIDs)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return rows, nil
	}

	if len(t.Related) != 0 || len(t.Hooks) != 0 {
		if t.QueryIDAlias == "" {
			return nil, fmt.Errorf("%w: query '%s' has nested queries but no id alias",
				ErrInternal, t.Name)
		}
		ids, err := distinctIDs(rows, t.QueryIDAlias)
		if err != nil {
			return nil, err
		}
		if err := s.stitchRelated(c, t, rows, ids); err != nil {
			return nil, err
		}
		if err := s.runHooks(c, t, rows, ids); err != nil {
			return nil, err
		}
	}

	if t.QueryIDAlias == syntheticID {
		for _, r := range rows {
			delete(r, syntheticID)
		}
	}
	return rows, nil
}

// stitchRelated runs every child query once for all parent ids and stores
// each parent's share of the result under the child's alias.
func (s *tstate) stitchRelated(c context.Context, t *QueryTree, rows []Row, ids []any) error {
	results, err := s.fetchAll(c, t.Related, ids)
	if err != nil {
		return err
	}

	for i, child := range t.Related {
		groups, err := groupByConnection(results[i])
		if err != nil {
			return err
		}
		used := make(map[string]bool, len(ids))
		for _, r := range rows {
			k := idKey(r[t.QueryIDAlias])
			g := groups[k]
			// parents sharing an id each get their own copy
			if used[k] {
				g = cloneRows(g)
			}
			used[k] = true

			v, err := castRows(g, child)
			if err != nil {
				return err
			}
			r[child.Alias] = v
		}
	}
	return nil
}

// runHooks fetches every hook argument once for all parent ids and then
// calls the hook for each row, in row order.
func (s *tstate) runHooks(c context.Context, t *QueryTree, rows []Row, ids []any) error {
	for _, h := range t.Hooks {
		trees := make([]*QueryTree, len(h.Args))
		for i, a := range h.Args {
			trees[i] = a.Tree
		}

		results, err := s.fetchAll(c, trees, ids)
		if err != nil {
			return err
		}

		groups := make([]map[string][]Row, len(h.Args))
		for i := range h.Args {
			if groups[i], err = groupByConnection(results[i]); err != nil {
				return err
			}
		}

		for _, r := range rows {
			key := idKey(r[t.QueryIDAlias])
			args := make(map[string]any, len(h.Args))
			for i, a := range h.Args {
				v, err := castRows(groups[i][key], a.Tree)
				if err != nil {
					return err
				}
				args[a.Name] = v
			}

			v, err := s.executeHook(c, h, args)
			if err != nil {
				return err
			}
			r[h.Alias] = v
		}
	}
	return nil
}

func (s *tstate) executeHook(c context.Context, h HookTree, args map[string]any) (any, error) {
	c1, span := s.pe.spanStart(c, "Execute Hook")
	defer span.End()
	span.SetAttributes(
		attribute.String("hook.name", h.Hook),
		attribute.String("hook.code", h.Code.String()))

	v, err := s.pe.hooks.ExecuteHook(c1, s.pe.def, h.Code, args)
	if err != nil {
		spanError(span, err)
		return nil, err
	}
	return v, nil
}

// fetchAll runs the trees for the same parent ids. Results are indexed like
// trees whether they run one after another or concurrently.
func (s *tstate) fetchAll(c context.Context, trees []*QueryTree, ids []any) ([][]Row, error) {
	results := make([][]Row, len(trees))

	if !s.pe.conf.ParallelFetch || len(trees) < 2 {
		for i, t := range trees {
			rows, err := s.executeTree(c, t, ids)
			if err != nil {
				return nil, err
			}
			results[i] = rows
		}
		return results, nil
	}

	g, c1 := errgroup.WithContext(c)
	for i, t := range trees {
		g.Go(func() error {
			rows, err := s.executeTree(c1, t, ids)
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func castRows(rows []Row, t *QueryTree) (any, error) {
	v, err := CastToCardinality(rows, t.Query.Cardinality)
	if ce, ok := err.(*CardinalityError); ok {
		ce.Query = t.Name
	}
	return v, err
}

// distinctIDs returns the values of the id column in first seen order.
func distinctIDs(rows []Row, alias string) ([]any, error) {
	seen := make(map[string]struct{}, len(rows))
	ids := make([]any, 0, len(rows))

	for _, r := range rows {
		v, ok := r[alias]
		if !ok {
			return nil, fmt.Errorf("%w: row has no '%s' column", ErrInternal, alias)
		}
		k := idKey(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		ids = append(ids, v)
	}
	return ids, nil
}

// groupByConnection splits child rows by parent id and drops the
// connection column from them.
func groupByConnection(rows []Row) (map[string][]Row, error) {
	groups := make(map[string][]Row)
	for _, r := range rows {
		v, ok := r[qcode.JoinConnection]
		if !ok {
			return nil, fmt.Errorf("%w: row has no '%s' column", ErrInternal, qcode.JoinConnection)
		}
		delete(r, qcode.JoinConnection)
		k := idKey(v)
		groups[k] = append(groups[k], r)
	}
	return groups, nil
}

func cloneRows(rows []Row) []Row {
	if rows == nil {
		return nil
	}
	cp := make([]Row, len(rows))
	for i, r := range rows {
		cp[i] = cloneRow(r)
	}
	return cp
}

func cloneRow(r Row) Row {
	cp := make(Row, len(r))
	for k, v := range r {
		switch v := v.(type) {
		case Row:
			cp[k] = cloneRow(v)
		case []Row:
			cp[k] = cloneRows(v)
		default:
			cp[k] = v
		}
	}
	return cp
}

// idKey makes ids comparable across drivers that scan the same column
// into different Go types.
func idKey(v any) string {
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

// coerceNumeric converts numeric columns the driver returned as text.
func coerceNumeric(rows []Row, numeric map[string]sdata.TypeKind) {
	if len(numeric) == 0 {
		return
	}
	for _, r := range rows {
		for col, kind := range numeric {
			var s string
			switch v := r[col].(type) {
			case string:
				s = v
			case []byte:
				s = string(v)
			default:
				continue
			}

			if kind == sdata.TypeInteger {
				if n, err := cast.ToInt64E(s); err == nil {
					r[col] = n
					continue
				}
			}
			if f, err := cast.ToFloat64E(s); err == nil {
				r[col] = f
			}
		}
	}
}

func (pe *pathqlEngine) findIDBy(c context.Context,
	conn Conn,
	fromPath, targetPath NamePath,
	value any,
) (any, error) {
	target, err := pe.def.Identifier(fromPath.Append(targetPath...))
	if err != nil {
		return nil, err
	}
	id, err := pe.def.Identifier(fromPath.Append("id"))
	if err != nil {
		return nil, err
	}

	limit := 1
	q := &QueryDef{
		Name:     "find_id_by",
		FromPath: fromPath,
		Filter:   sdata.Fn("=", target, sdata.Var(findValueVar, target.T)),
		Select: []SelectItem{
			{Kind: sdata.SelectExpr, Alias: "id", Exp: id},
		},
		Limit:       &limit,
		Cardinality: CardinalityNullable,
	}

	s := pe.newState(conn, Vars{findValueVar: value})
	rows, err := s.executeQuery(c, q, nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0]["id"], nil
}
