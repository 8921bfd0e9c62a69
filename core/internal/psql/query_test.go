package psql

import (
	"testing"

	"github.com/qbloq/pathql/core/internal/qcode"
	"github.com/qbloq/pathql/core/internal/sdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
models:
  - name: Org
    fields:
      - {name: name, type: string}
      - {name: slug, type: string, nullable: true}
    relations:
      - {name: repos, to: Repo, through: org}
  - name: Repo
    fields:
      - {name: name, type: string}
    references:
      - {name: org, to: Org}
    relations:
      - {name: issues, to: Issue, through: repo}
  - name: Issue
    fields:
      - {name: title, type: string}
    references:
      - {name: repo, to: Repo}
`

type testEnv struct {
	def *sdata.Definition
	qc  *qcode.Compiler
	pc  *Compiler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	d, err := sdata.ParseDefinition([]byte(testSchema))
	require.NoError(t, err)
	return &testEnv{def: d, qc: qcode.NewCompiler(d), pc: NewCompiler(Config{})}
}

func (e *testEnv) ident(t *testing.T, path string) sdata.IdentifierPath {
	t.Helper()
	ip, err := e.def.Identifier(sdata.ParsePath(path))
	require.NoError(t, err)
	return ip
}

func (e *testEnv) compile(t *testing.T, q *sdata.QueryDef) (Metadata, string) {
	t.Helper()
	p, err := e.qc.BuildPlan(q)
	require.NoError(t, err)
	md, sql, err := e.pc.CompileEx(p)
	require.NoError(t, err)
	return md, string(sql)
}

func sel(alias string, e sdata.Expr) sdata.SelectItem {
	return sdata.SelectItem{Kind: sdata.SelectExpr, Alias: alias, Exp: e}
}

func TestCompileSimple(t *testing.T) {
	e := newTestEnv(t)

	md, sql := e.compile(t, &sdata.QueryDef{
		FromPath: sdata.NamePath{"Org"},
		Select:   []sdata.SelectItem{sel("id", e.ident(t, "Org.id"))},
	})
	assert.Equal(t, `SELECT "Org"."id" AS "id" FROM "org" AS "Org" WHERE TRUE`, sql)
	assert.Empty(t, md.Params())
}

func TestCompileSelectAll(t *testing.T) {
	e := newTestEnv(t)

	_, sql := e.compile(t, &sdata.QueryDef{FromPath: sdata.NamePath{"Org", "repos"}})
	assert.Equal(t, `SELECT * FROM "org" AS "Org" `+
		`INNER JOIN "repo" AS "Org.repos" ON "Org"."id" = "Org.repos"."org_id" WHERE TRUE`, sql)
}

func TestCompileAggregate(t *testing.T) {
	e := newTestEnv(t)

	count := sdata.AggregateCall{
		Fn:         "count",
		SourcePath: sdata.NamePath{"Org", "repos"},
		TargetPath: sdata.NamePath{"issues", "id"},
		T:          sdata.Type{Kind: sdata.TypeInteger},
	}
	_, sql := e.compile(t, &sdata.QueryDef{
		FromPath: sdata.NamePath{"Org"},
		Select: []sdata.SelectItem{
			sel("id", e.ident(t, "Org.id")),
			sel("issue_count", count),
		},
	})

	want := `SELECT "Org"."id" AS "id", "Org.repos.COUNT.issues.id"."result" AS "issue_count" ` +
		`FROM "org" AS "Org" ` +
		`LEFT JOIN "repo" AS "Org.repos" ON "Org"."id" = "Org.repos"."org_id" ` +
		`LEFT JOIN (SELECT "Repo"."id" AS "__join_connection", count("Repo.issues"."id") AS "result" ` +
		`FROM "repo" AS "Repo" ` +
		`LEFT JOIN "issue" AS "Repo.issues" ON "Repo"."id" = "Repo.issues"."repo_id" ` +
		`WHERE TRUE GROUP BY "Repo"."id") AS "Org.repos.COUNT.issues.id" ` +
		`ON "Org.repos"."id" = "Org.repos.COUNT.issues.id"."__join_connection" ` +
		`WHERE TRUE`
	assert.Equal(t, want, sql)
}

func TestCompileAggregateFilter(t *testing.T) {
	e := newTestEnv(t)

	count := sdata.AggregateCall{
		Fn:         "count",
		SourcePath: sdata.NamePath{"Org"},
		TargetPath: sdata.NamePath{"repos", "id"},
		T:          sdata.Type{Kind: sdata.TypeInteger},
	}
	_, sql := e.compile(t, &sdata.QueryDef{
		FromPath: sdata.NamePath{"Org"},
		Filter:   sdata.Fn(">", count, sdata.Lit(int64(1))),
		Select:   []sdata.SelectItem{sel("id", e.ident(t, "Org.id"))},
	})

	want := `SELECT "Org"."id" AS "id" FROM "org" AS "Org" ` +
		`LEFT JOIN (SELECT "Org"."id" AS "__join_connection", count("Org.repos"."id") AS "result" ` +
		`FROM "org" AS "Org" ` +
		`LEFT JOIN "repo" AS "Org.repos" ON "Org"."id" = "Org.repos"."org_id" ` +
		`WHERE TRUE GROUP BY "Org"."id") AS "Org.COUNT.repos.id" ` +
		`ON "Org"."id" = "Org.COUNT.repos.id"."__join_connection" ` +
		`WHERE "Org.COUNT.repos.id"."result" > 1`
	assert.Equal(t, want, sql)
}

func TestCompileContextIDs(t *testing.T) {
	e := newTestEnv(t)

	md, sql := e.compile(t, &sdata.QueryDef{
		FromPath: sdata.NamePath{"Org", "repos"},
		Filter: sdata.Fn("in",
			e.ident(t, "Org.id"),
			sdata.Var("@context_ids", sdata.Type{Kind: sdata.TypeList})),
		Select: []sdata.SelectItem{
			sel("id", e.ident(t, "Org.repos.id")),
			sel("__join_connection", e.ident(t, "Org.id")),
		},
	})

	want := `SELECT "Org.repos"."id" AS "id", "Org"."id" AS "__join_connection" ` +
		`FROM "org" AS "Org" ` +
		`INNER JOIN "repo" AS "Org.repos" ON "Org"."id" = "Org.repos"."org_id" ` +
		`WHERE "Org"."id" IN (:@context_ids)`
	assert.Equal(t, want, sql)
	assert.Equal(t, []Param{{Name: "@context_ids"}}, md.Params())
}

func TestCompileOperators(t *testing.T) {
	e := newTestEnv(t)

	filter := sdata.Fn("and",
		sdata.Fn("is not", e.ident(t, "Org.slug"), sdata.Lit(nil)),
		sdata.Fn("=", e.ident(t, "Org.name"), sdata.Lit("O'Reilly")),
		sdata.Fn("not", sdata.Fn("in", e.ident(t, "Org.id"),
			sdata.Array{Elems: []sdata.Expr{sdata.Lit(int64(1)), sdata.Lit(int64(2))}})),
		sdata.Fn("or",
			sdata.Fn("=", e.ident(t, "Org.id"), sdata.Var("user.org_id", sdata.Type{Kind: sdata.TypeInteger})),
			sdata.Fn("!=", sdata.Fn("lower", e.ident(t, "Org.name")), sdata.Var("name", sdata.Type{Kind: sdata.TypeString}))))

	ten, five := 10, 5
	md, sql := e.compile(t, &sdata.QueryDef{
		FromPath: sdata.NamePath{"Org"},
		Filter:   filter,
		Select: []sdata.SelectItem{
			sel("len", sdata.Fn("length", e.ident(t, "Org.name"))),
			sel("next", sdata.Fn("+", e.ident(t, "Org.id"), sdata.Lit(int64(1)))),
		},
		OrderBy: []sdata.OrderBy{{Exp: e.ident(t, "Org.name"), Desc: true}, {Exp: e.ident(t, "Org.id")}},
		Limit:   &ten,
		Offset:  &five,
	})

	want := `SELECT char_length("Org"."name") AS "len", "Org"."id" + 1 AS "next" ` +
		`FROM "org" AS "Org" ` +
		`WHERE ("Org"."slug" IS NOT NULL) AND ("Org"."name" = 'O''Reilly') ` +
		`AND (NOT ("Org"."id" IN (1, 2))) ` +
		`AND (("Org"."id" = :user.org_id) OR (lower("Org"."name") <> :name)) ` +
		`ORDER BY "Org"."name" DESC, "Org"."id" ASC LIMIT 10 OFFSET 5`
	assert.Equal(t, want, sql)
	assert.Equal(t, []Param{{Name: "user.org_id"}, {Name: "name"}}, md.Params())
}

func TestCompileInSubquery(t *testing.T) {
	e := newTestEnv(t)

	_, sql := e.compile(t, &sdata.QueryDef{
		FromPath: sdata.NamePath{"Org"},
		Filter: sdata.InSubquery{
			Op:         "in",
			Lookup:     e.ident(t, "Org.id"),
			SourcePath: sdata.NamePath{"Repo"},
			TargetPath: sdata.NamePath{"org", "id"},
		},
		Select: []sdata.SelectItem{sel("id", e.ident(t, "Org.id"))},
	})

	want := `SELECT "Org"."id" AS "id" FROM "org" AS "Org" ` +
		`WHERE "Org"."id" IN (SELECT "Repo.org"."id" AS "result" FROM "repo" AS "Repo" ` +
		`INNER JOIN "org" AS "Repo.org" ON "Repo"."org_id" = "Repo.org"."id" WHERE TRUE)`
	assert.Equal(t, want, sql)
}

func TestCompileInSubqueryTraversal(t *testing.T) {
	e := newTestEnv(t)

	_, sql := e.compile(t, &sdata.QueryDef{
		FromPath: sdata.NamePath{"Issue"},
		Filter: sdata.InSubquery{
			Op:         "in",
			Lookup:     e.ident(t, "Issue.title"),
			SourcePath: sdata.NamePath{"Org", "repos"},
			TargetPath: sdata.NamePath{"name"},
		},
		Select: []sdata.SelectItem{sel("id", e.ident(t, "Issue.id"))},
	})

	want := `SELECT "Issue"."id" AS "id" FROM "issue" AS "Issue" ` +
		`WHERE "Issue"."title" IN (SELECT "Org.repos"."name" AS "result" FROM "org" AS "Org" ` +
		`INNER JOIN "repo" AS "Org.repos" ON "Org"."id" = "Org.repos"."org_id" WHERE TRUE)`
	assert.Equal(t, want, sql)
}

func TestCompileDeterministic(t *testing.T) {
	e := newTestEnv(t)

	q := &sdata.QueryDef{
		FromPath: sdata.NamePath{"Org"},
		Filter:   sdata.Fn(">", sdata.AggregateCall{Fn: "count", SourcePath: sdata.NamePath{"Org"}, TargetPath: sdata.NamePath{"repos", "id"}}, sdata.Lit(int64(1))),
		Select: []sdata.SelectItem{
			sel("title", e.ident(t, "Org.repos.issues.title")),
			sel("name", e.ident(t, "Org.repos.name")),
			sel("n", sdata.AggregateCall{Fn: "max", SourcePath: sdata.NamePath{"Org", "repos"}, TargetPath: sdata.NamePath{"issues", "id"}}),
		},
	}

	_, first := e.compile(t, q)
	for i := 0; i < 10; i++ {
		_, sql := e.compile(t, q)
		require.Equal(t, first, sql)
	}
}

func TestCompileUnknownFunction(t *testing.T) {
	e := newTestEnv(t)

	p, err := e.qc.BuildPlan(&sdata.QueryDef{
		FromPath: sdata.NamePath{"Org"},
		Select:   []sdata.SelectItem{sel("x", sdata.Fn("soundex", e.ident(t, "Org.name")))},
	})
	require.NoError(t, err)

	_, _, err = e.pc.CompileEx(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown function 'soundex'")
}
