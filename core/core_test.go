package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/qbloq/pathql/core/internal/sdata"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDefinition = `
models:
  - name: Org
    fields:
      - {name: name, type: string}
    relations:
      - {name: repos, to: Repo, through: org}
    hooks:
      - name: shout
        args:
          - name: top_repo
            query:
              from: repos
              cardinality: nullable
              select:
                - {exp: {path: Org.repos.name}}
        code: {inline: "return args.top_repo ? args.top_repo.name.toUpperCase() : null"}
  - name: Repo
    fields:
      - {name: name, type: string}
      - {name: stars, type: integer}
    references:
      - {name: org, to: Org}
queries:
  - name: orgs
    from: Org
    select:
      - {exp: {path: Org.id}}
      - {exp: {path: Org.name}}
      - alias: repos
        query:
          from: repos
          select:
            - {exp: {path: Org.repos.id}}
            - {exp: {path: Org.repos.name}}
  - name: org_names
    from: Org
    select:
      - {exp: {path: Org.name}}
      - alias: repos
        query:
          from: repos
          select:
            - {exp: {path: Org.repos.name}}
  - name: org_full
    from: Org
    select:
      - {exp: {path: Org.id}}
      - alias: repos
        query:
          from: repos
          select:
            - {exp: {path: Org.repos.name}}
      - alias: starred
        query:
          from: repos
          filter: {fn: ">", args: [{path: Org.repos.stars}, {lit: 100}]}
          select:
            - {exp: {path: Org.repos.name}}
  - name: shouting
    from: Org
    select:
      - {exp: {path: Org.id}}
      - {alias: loud, hook: shout}
  - name: repo_owner
    from: Repo
    select:
      - {exp: {path: Repo.id}}
      - alias: owner
        query:
          from: org
          cardinality: one
          select:
            - {exp: {path: Repo.org.name}}
`

func newTestEngine(t *testing.T, conf *Config, opts ...Option) *Engine {
	t.Helper()
	def, err := ParseDefinition([]byte(testDefinition))
	require.NoError(t, err)

	opts = append([]Option{OptionSetFS(afero.NewMemMapFs())}, opts...)
	e, err := NewEngine(def, conf, opts...)
	require.NoError(t, err)
	return e
}

type stubCall struct {
	query  string
	params map[string]any
}

// stubConn records every statement and answers it with fn.
type stubConn struct {
	mu    sync.Mutex
	calls []stubCall
	fn    func(query string, params map[string]any) ([]Row, error)
}

func (sc *stubConn) Raw(c context.Context, query string, params map[string]any) (*RawResult, error) {
	sc.mu.Lock()
	sc.calls = append(sc.calls, stubCall{query: query, params: params})
	sc.mu.Unlock()

	rows, err := sc.fn(query, params)
	if err != nil {
		return nil, err
	}
	return &RawResult{RowCount: len(rows), Rows: rows}, nil
}

func (sc *stubConn) count() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.calls)
}

func contextIDs(params map[string]any) ([]any, bool) {
	v, ok := params[contextIDsVar]
	if !ok {
		return nil, false
	}
	return v.([]any), true
}

func orgRows(n int, idAlias string) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{idAlias: int64(i + 1), "name": fmt.Sprintf("org%d", i+1)}
	}
	return rows
}

// repoRows returns two repos per parent id, the later parent first.
func repoRows(ids []any) []Row {
	var rows []Row
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i].(int64)
		for j := int64(1); j <= 2; j++ {
			rows = append(rows, Row{
				"id":                id*10 + j,
				"name":              fmt.Sprintf("repo%d", id*10+j),
				"__join_connection": id,
			})
		}
	}
	return rows
}

func TestExecuteQueryTreeBatches(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		t.Run(fmt.Sprintf("orgs=%d", n), func(t *testing.T) {
			e := newTestEngine(t, nil)

			var gotIDs []any
			conn := &stubConn{fn: func(query string, params map[string]any) ([]Row, error) {
				if ids, ok := contextIDs(params); ok {
					gotIDs = ids
					return repoRows(ids), nil
				}
				return orgRows(n, "id"), nil
			}}

			rows, err := e.ExecuteByName(context.Background(), conn, "orgs", nil)
			require.NoError(t, err)
			require.NotNil(t, rows)
			require.Len(t, rows, n)

			if n == 0 {
				assert.Equal(t, 1, conn.count(), "no child query without parents")
				return
			}
			assert.Equal(t, 2, conn.count(), "one query per tree node")
			assert.Len(t, gotIDs, n)

			for i, r := range rows {
				id := int64(i + 1)
				assert.Equal(t, id, r["id"])

				repos, ok := r["repos"].([]Row)
				require.True(t, ok)
				require.Len(t, repos, 2)
				for j, rr := range repos {
					assert.Equal(t, id*10+int64(j+1), rr["id"])
					assert.NotContains(t, rr, "__join_connection")
				}
			}
		})
	}
}

func TestExecuteQueryTreeSyntheticID(t *testing.T) {
	e := newTestEngine(t, nil)

	conn := &stubConn{fn: func(query string, params map[string]any) ([]Row, error) {
		if ids, ok := contextIDs(params); ok {
			return repoRows(ids[:1]), nil
		}
		assert.Contains(t, query, `AS "__id"`)
		return orgRows(2, "__id"), nil
	}}

	rows, err := e.ExecuteByName(context.Background(), conn, "org_names", nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	for _, r := range rows {
		assert.NotContains(t, r, "__id")
	}
	assert.Len(t, rows[0]["repos"], 2)
	assert.Equal(t, []Row{}, rows[1]["repos"], "parents without children get an empty collection")
}

func TestExecuteQueryTreeSharedParentID(t *testing.T) {
	e := newTestEngine(t, nil)

	conn := &stubConn{fn: func(query string, params map[string]any) ([]Row, error) {
		if ids, ok := contextIDs(params); ok {
			return repoRows(ids), nil
		}
		return []Row{{"id": int64(1), "name": "a"}, {"id": int64(1), "name": "b"}}, nil
	}}

	rows, err := e.ExecuteByName(context.Background(), conn, "orgs", nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first := rows[0]["repos"].([]Row)
	second := rows[1]["repos"].([]Row)
	require.Len(t, first, 2)
	assert.Equal(t, first, second)

	first[0]["name"] = "changed"
	first[1] = Row{}
	assert.Equal(t, "repo11", second[0]["name"])
	assert.Equal(t, int64(12), second[1]["id"])
}

func TestExecuteQueryTreeCardinality(t *testing.T) {
	e := newTestEngine(t, nil)

	conn := &stubConn{fn: func(query string, params map[string]any) ([]Row, error) {
		if _, ok := contextIDs(params); ok {
			return []Row{{"name": "acme", "__join_connection": int64(1)}}, nil
		}
		return []Row{{"id": int64(1)}, {"id": int64(2)}}, nil
	}}

	_, err := e.ExecuteByName(context.Background(), conn, "repo_owner", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCardinality)

	var ce *CardinalityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "owner", ce.Query)
	assert.Equal(t, 0, ce.Rows)
}

func TestExecuteQueryTreeParallelFetch(t *testing.T) {
	e := newTestEngine(t, &Config{ParallelFetch: true})

	conn := &stubConn{fn: func(query string, params map[string]any) ([]Row, error) {
		ids, ok := contextIDs(params)
		switch {
		case !ok:
			return orgRows(3, "id"), nil
		case strings.Contains(query, "> 100"):
			return []Row{{"name": "popular", "__join_connection": ids[0]}}, nil
		default:
			return repoRows(ids), nil
		}
	}}

	rows, err := e.ExecuteByName(context.Background(), conn, "org_full", nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 3, conn.count())

	assert.Equal(t, []Row{{"name": "popular"}}, rows[0]["starred"])
	assert.Equal(t, []Row{}, rows[1]["starred"])
	for _, r := range rows {
		assert.Len(t, r["repos"], 2)
	}
}

func TestExecuteQueryTreeDriverError(t *testing.T) {
	e := newTestEngine(t, nil)
	dbErr := fmt.Errorf("connection reset")

	conn := &stubConn{fn: func(query string, params map[string]any) ([]Row, error) {
		if _, ok := contextIDs(params); ok {
			return nil, dbErr
		}
		return orgRows(1, "id"), nil
	}}

	_, err := e.ExecuteByName(context.Background(), conn, "orgs", nil)
	assert.Equal(t, dbErr, err)
}

func TestExecuteQueryTreeHooks(t *testing.T) {
	e := newTestEngine(t, nil)

	conn := &stubConn{fn: func(query string, params map[string]any) ([]Row, error) {
		if _, ok := contextIDs(params); ok {
			return []Row{{"name": "alpha", "__join_connection": int64(1)}}, nil
		}
		return orgRows(2, "id"), nil
	}}

	rows, err := e.ExecuteByName(context.Background(), conn, "shouting", nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, conn.count(), "hook arguments are fetched once")

	assert.Equal(t, "ALPHA", rows[0]["loud"])
	assert.Nil(t, rows[1]["loud"])
}

type recordingHooks struct {
	calls []map[string]any
}

func (rh *recordingHooks) ExecuteHook(c context.Context, def *Definition, code HookCode, args map[string]any) (any, error) {
	rh.calls = append(rh.calls, args)
	return len(rh.calls), nil
}

func TestExecuteQueryTreeHookOrder(t *testing.T) {
	hooks := &recordingHooks{}
	e := newTestEngine(t, nil, OptionSetHookExecutor(hooks))

	conn := &stubConn{fn: func(query string, params map[string]any) ([]Row, error) {
		if _, ok := contextIDs(params); ok {
			return []Row{
				{"name": "b", "__join_connection": int64(2)},
				{"name": "a", "__join_connection": int64(1)},
			}, nil
		}
		return orgRows(3, "id"), nil
	}}

	rows, err := e.ExecuteByName(context.Background(), conn, "shouting", nil)
	require.NoError(t, err)

	require.Len(t, hooks.calls, 3)
	assert.Equal(t, Row{"name": "a"}, hooks.calls[0]["top_repo"])
	assert.Equal(t, Row{"name": "b"}, hooks.calls[1]["top_repo"])
	assert.Nil(t, hooks.calls[2]["top_repo"])

	for i, r := range rows {
		assert.Equal(t, i+1, r["loud"])
	}
}

func TestFindIDBy(t *testing.T) {
	e := newTestEngine(t, nil)

	var found bool
	conn := &stubConn{fn: func(query string, params map[string]any) ([]Row, error) {
		assert.Contains(t, query, `WHERE "Repo"."name" = :@value`)
		assert.Contains(t, query, "LIMIT 1")
		if found {
			return []Row{{"id": int64(42)}}, nil
		}
		return nil, nil
	}}

	id, err := e.FindIDBy(context.Background(), conn, NamePath{"Repo"}, NamePath{"name"}, "pathql")
	require.NoError(t, err)
	assert.Nil(t, id)

	found = true
	id, err = e.FindIDBy(context.Background(), conn, NamePath{"Repo"}, NamePath{"name"}, "pathql")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "pathql", conn.calls[1].params["@value"])
}

func TestExecuteQueryNumericCoercion(t *testing.T) {
	e := newTestEngine(t, nil)

	q, err := QueryFromParts(e.Definition(), QueryParts{Name: "repos", FromPath: NamePath{"Repo"}})
	require.NoError(t, err)

	conn := &stubConn{fn: func(query string, params map[string]any) ([]Row, error) {
		return []Row{{"id": "3", "name": "7", "stars": []byte("12"), "org_id": int64(1)}}, nil
	}}

	rows, err := e.ExecuteQuery(context.Background(), conn, q, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, int64(3), rows[0]["id"])
	assert.Equal(t, "7", rows[0]["name"], "string columns are left alone")
	assert.Equal(t, int64(12), rows[0]["stars"])
	assert.Equal(t, int64(1), rows[0]["org_id"])
}

func TestExecuteQueryMissingVariable(t *testing.T) {
	e := newTestEngine(t, nil)

	name, err := e.Definition().Identifier(NamePath{"Org", "name"})
	require.NoError(t, err)

	q, err := QueryFromParts(e.Definition(), QueryParts{
		Name:     "by_name",
		FromPath: NamePath{"Org"},
		Filter:   sdata.Fn("=", name, sdata.Var("org.name", sdata.Type{Kind: sdata.TypeString})),
	})
	require.NoError(t, err)

	conn := &stubConn{fn: func(string, map[string]any) ([]Row, error) { return nil, nil }}

	_, err = e.ExecuteQuery(context.Background(), conn, q, nil, nil)
	assert.EqualError(t, err, "required variable 'org.name' must be set")
	assert.Equal(t, 0, conn.count())

	_, err = e.ExecuteQuery(context.Background(), conn, q, Vars{"org": map[string]any{"name": "acme"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "acme", conn.calls[0].params["org.name"])
}

func TestEngineSQLCache(t *testing.T) {
	e := newTestEngine(t, nil)
	q, err := e.Query("orgs")
	require.NoError(t, err)

	sql1, params, err := e.SQL(q)
	require.NoError(t, err)
	assert.Empty(t, params)
	assert.Equal(t, `SELECT "Org"."id" AS "id", "Org"."name" AS "name" FROM "org" AS "Org" WHERE TRUE`, sql1)

	sql2, _, err := e.SQL(q)
	require.NoError(t, err)
	assert.Equal(t, sql1, sql2)
	assert.Equal(t, 1, e.engine().cache.Len())

	off := newTestEngine(t, &Config{PlanCacheSize: -1})
	_, _, err = off.SQL(q)
	require.NoError(t, err)
	assert.Equal(t, 0, off.engine().cache.Len())
}

func TestEngineQueryNotFound(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Query("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngineReload(t *testing.T) {
	e := newTestEngine(t, nil)

	def, err := ParseDefinition([]byte(`
models:
  - name: Team
    fields:
      - {name: name, type: string}
queries:
  - name: teams
    from: Team
    select:
      - {exp: {path: Team.name}}
`))
	require.NoError(t, err)
	require.NoError(t, e.Reload(def))

	_, err = e.Query("orgs")
	assert.ErrorIs(t, err, ErrNotFound)

	q, err := e.Query("teams")
	require.NoError(t, err)
	sql, _, err := e.SQL(q)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "Team"."name" AS "name" FROM "team" AS "Team" WHERE TRUE`, sql)
}

func TestNewEngineErrors(t *testing.T) {
	_, err := NewEngine(nil, nil)
	assert.Error(t, err)

	def, err := ParseDefinition([]byte(testDefinition))
	require.NoError(t, err)
	_, err = NewEngine(def, &Config{PlanCacheSize: -5})
	assert.Error(t, err)

	_, err = NewEngine(def, nil, OptionSetLogger(nil))
	assert.Error(t, err)
}
