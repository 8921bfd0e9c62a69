package sdata

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
models:
  - name: Org
    fields:
      - {name: name, type: string}
      - {name: slug, type: string, unique: true}
    relations:
      - {name: repos, to: Repo, through: org}
      - {name: profile, to: Profile, through: org}
    computeds:
      - name: repo_count
        exp: {agg: count, source: Org, target: repos.id}
      - name: busy
        exp: {fn: ">", args: [{path: Org.repo_count}, {lit: 1}]}
    queries:
      - name: public_repos
        from: repos
        filter: {fn: "=", args: [{path: Org.repos.is_public}, {lit: true}]}
  - name: Profile
    fields:
      - {name: bio, type: string, nullable: true}
    references:
      - {name: org, to: Org, unique: true}
  - name: Repo
    fields:
      - {name: name, type: string}
      - {name: is_public, type: boolean}
    references:
      - {name: org, to: Org}
    relations:
      - {name: issues, to: Issue, through: repo}
    computeds:
      - name: org_name
        exp: {path: Repo.org.name}
    hooks:
      - name: summary
        args:
          - name: top_issue
            query:
              from: issues
              cardinality: nullable
              select:
                - {alias: title, exp: {path: Repo.issues.title}}
        code: {inline: "return args.top_issue"}
  - name: Issue
    table: issues
    fields:
      - {name: title, type: string, db_name: issue_title}
    references:
      - {name: repo, to: Repo, nullable: true}
queries:
  - name: orgs
    from: Org
    filter: {fn: "is not", args: [{path: Org.slug}, {lit: null}]}
    select:
      - {exp: {path: Org.id}}
      - {alias: name, exp: {path: Org.name}}
      - alias: repos
        query:
          from: repos
          select:
            - {alias: id, exp: {path: Org.repos.id}}
      - alias: profile
        query:
          from: profile
    order_by:
      - {exp: {path: Org.name}, desc: true}
    limit: 10
`

func loadTestSchema(t *testing.T) *Definition {
	t.Helper()
	d, err := ParseDefinition([]byte(testSchema))
	require.NoError(t, err)
	return d
}

func TestParseDefinitionModels(t *testing.T) {
	d := loadTestSchema(t)
	require.Len(t, d.Models, 4)

	org, ok := d.Model("Org")
	require.True(t, ok)
	assert.Equal(t, "org", org.Table)
	assert.Equal(t, "id", org.Fields[0].Name, "id is added when missing")

	issue, ok := d.Model("Issue")
	require.True(t, ok)
	assert.Equal(t, "issues", issue.Table)

	r, ok := d.Member(issue.ID, "repo_id")
	require.True(t, ok, "reference field is generated")
	assert.Equal(t, RefField, r.Kind)
	assert.True(t, d.Field(r).Type.Nullable)

	title, _ := d.Member(issue.ID, "title")
	assert.Equal(t, "issue_title", d.Field(title).DBName)

	rel, ok := d.Member(org.ID, "profile")
	require.True(t, ok)
	assert.True(t, d.Relation(rel).Unique)
}

func TestResolvePath(t *testing.T) {
	d := loadTestSchema(t)

	refs, err := d.ResolvePath(NamePath{"Org", "repos", "issues", "title"})
	require.NoError(t, err)
	assert.Equal(t, []RefKind{RefModel, RefRelation, RefRelation, RefField},
		[]RefKind{refs[0].Kind, refs[1].Kind, refs[2].Kind, refs[3].Kind})

	_, err = d.ResolvePath(NamePath{"Nope"})
	assert.Error(t, err)

	_, err = d.ResolvePath(NamePath{"Org", "name", "x"})
	assert.Error(t, err, "fields are not traversable")

	_, err = d.ResolvePath(NamePath{"Org", "missing"})
	assert.Error(t, err)
}

func TestIdentifierTypes(t *testing.T) {
	d := loadTestSchema(t)

	ip, err := d.Identifier(NamePath{"Org", "name"})
	require.NoError(t, err)
	assert.Equal(t, Type{Kind: TypeString}, ip.T)

	ip, err = d.Identifier(NamePath{"Repo", "issues", "title"})
	require.NoError(t, err)
	assert.True(t, ip.T.Nullable, "relations make the leaf nullable")

	ip, err = d.Identifier(NamePath{"Org", "repo_count"})
	require.NoError(t, err)
	assert.Equal(t, TypeInteger, ip.T.Kind)

	ip, err = d.Identifier(NamePath{"Org", "busy"})
	require.NoError(t, err)
	assert.Equal(t, TypeBoolean, ip.T.Kind)
}

func TestPathCardinality(t *testing.T) {
	d := loadTestSchema(t)

	tests := []struct {
		path   NamePath
		rooted bool
		want   Cardinality
	}{
		{NamePath{"Org"}, true, CardinalityCollection},
		{NamePath{"Org"}, false, CardinalityOne},
		{NamePath{"Org", "repos"}, false, CardinalityCollection},
		{NamePath{"Org", "profile"}, false, CardinalityNullable},
		{NamePath{"Repo", "org"}, false, CardinalityOne},
		{NamePath{"Issue", "repo"}, false, CardinalityNullable},
		{NamePath{"Issue", "repo", "org"}, false, CardinalityNullable},
		{NamePath{"Org", "public_repos"}, false, CardinalityCollection},
	}

	for _, tt := range tests {
		t.Run(tt.path.Key(), func(t *testing.T) {
			c, err := PathCardinality(d, tt.path, tt.rooted)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c)
		})
	}

	_, err := PathCardinality(d, NamePath{"Org", "name"}, false)
	assert.Error(t, err)
}

func TestParseDefinitionQueries(t *testing.T) {
	d := loadTestSchema(t)

	q, ok := d.Query("orgs")
	require.True(t, ok)
	assert.Equal(t, NamePath{"Org"}, q.FromPath)
	assert.Equal(t, CardinalityCollection, q.Cardinality)
	require.NotNil(t, q.Limit)
	assert.Equal(t, 10, *q.Limit)

	require.Len(t, q.Select, 4)
	assert.Equal(t, "id", q.Select[0].Alias, "alias defaults to the leaf name")

	f, ok := q.Filter.(FunctionCall)
	require.True(t, ok)
	lit, ok := f.Args[1].(Literal)
	require.True(t, ok)
	assert.Nil(t, lit.Value)
	assert.Equal(t, TypeNull, lit.T.Kind)

	repos := q.Select[2]
	assert.Equal(t, SelectQuery, repos.Kind)
	assert.Equal(t, NamePath{"Org", "repos"}, repos.Query.FromPath)
	assert.Equal(t, CardinalityCollection, repos.Query.Cardinality)
	assert.Equal(t, "repos", repos.Query.Name)

	profile := q.Select[3]
	assert.Equal(t, CardinalityNullable, profile.Query.Cardinality)

	assert.True(t, q.OrderBy[0].Desc)
}

func TestParseDefinitionHooks(t *testing.T) {
	d := loadTestSchema(t)
	repo, _ := d.Model("Repo")

	r, ok := d.Member(repo.ID, "summary")
	require.True(t, ok)
	h := d.Hook(r)
	require.Len(t, h.Args, 1)
	assert.Equal(t, "top_issue", h.Args[0].Name)
	assert.Equal(t, NamePath{"Repo", "issues"}, h.Args[0].Query.FromPath)
	assert.Equal(t, CardinalityNullable, h.Args[0].Query.Cardinality)
	assert.Equal(t, "return args.top_issue", h.Code.Inline)
}

func TestParseDefinitionErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown reference target", `
models:
  - name: A
    references: [{name: b, to: B}]
`},
		{"relation through non reference", `
models:
  - name: A
    relations: [{name: bs, to: B, through: name}]
  - name: B
    fields: [{name: name}]
`},
		{"self referencing computed", `
models:
  - name: A
    computeds:
      - {name: x, exp: {path: A.x}}
`},
		{"query path with wrong root", `
models:
  - name: A
  - name: B
queries:
  - name: q
    from: A
    select: [{alias: id, exp: {path: B.id}}]
`},
		{"unknown field type", `
models:
  - name: A
    fields: [{name: x, type: money}]
`},
		{"duplicate member", `
models:
  - name: A
    fields: [{name: x}, {name: x}]
`},
		{"aggregate on reference", `
models:
  - name: A
    references: [{name: b, to: B}]
    computeds:
      - {name: c, exp: {agg: count, source: A, target: b}}
  - name: B
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadDefinition(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/conf/definition.yml", []byte(testSchema), 0o644))

	d, err := LoadDefinition(fs, "/conf/definition.yml")
	require.NoError(t, err)
	assert.Len(t, d.Queries, 1)

	_, err = LoadDefinition(fs, "/conf/missing.yml")
	assert.Error(t, err)
}

func TestNamePath(t *testing.T) {
	p := NamePath{"Org", "repos", "id"}
	assert.Equal(t, "Org.repos.id", p.Key())
	assert.Equal(t, NamePath{"Org", "repos"}, p.Initial())
	assert.Equal(t, "id", p.Leaf())
	assert.True(t, p.HasPrefix(NamePath{"Org", "repos"}))
	assert.True(t, p.HasPrefix(p))
	assert.False(t, p.HasPrefix(NamePath{"Org", "issues"}))

	q := p.Initial().Append("name")
	assert.Equal(t, NamePath{"Org", "repos", "name"}, q)
	assert.Equal(t, NamePath{"Org", "repos", "id"}, p, "append never modifies the receiver")
}
