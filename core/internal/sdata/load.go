package sdata

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

type defDoc struct {
	Models  []modelDoc `yaml:"models"`
	Queries []queryDoc `yaml:"queries"`
}

type modelDoc struct {
	Name       string         `yaml:"name"`
	Table      string         `yaml:"table"`
	Fields     []fieldDoc     `yaml:"fields"`
	References []referenceDoc `yaml:"references"`
	Relations  []relationDoc  `yaml:"relations"`
	Computeds  []computedDoc  `yaml:"computeds"`
	Queries    []queryDoc     `yaml:"queries"`
	Hooks      []hookDoc      `yaml:"hooks"`
}

type fieldDoc struct {
	Name     string `yaml:"name"`
	DBName   string `yaml:"db_name"`
	Type     string `yaml:"type"`
	Nullable bool   `yaml:"nullable"`
	Unique   bool   `yaml:"unique"`
}

type referenceDoc struct {
	Name     string `yaml:"name"`
	To       string `yaml:"to"`
	Field    string `yaml:"field"`
	Nullable bool   `yaml:"nullable"`
	Unique   bool   `yaml:"unique"`
}

type relationDoc struct {
	Name    string `yaml:"name"`
	To      string `yaml:"to"`
	Through string `yaml:"through"`
}

type computedDoc struct {
	Name string `yaml:"name"`
	Exp  expDoc `yaml:"exp"`
}

type queryDoc struct {
	Name        string      `yaml:"name"`
	From        string      `yaml:"from"`
	Filter      *expDoc     `yaml:"filter"`
	Select      []selectDoc `yaml:"select"`
	OrderBy     []orderDoc  `yaml:"order_by"`
	Limit       *int        `yaml:"limit"`
	Offset      *int        `yaml:"offset"`
	Cardinality string      `yaml:"cardinality"`
}

type selectDoc struct {
	Alias string    `yaml:"alias"`
	Exp   *expDoc   `yaml:"exp"`
	Query *queryDoc `yaml:"query"`
	Hook  string    `yaml:"hook"`
}

type orderDoc struct {
	Exp  expDoc `yaml:"exp"`
	Desc bool   `yaml:"desc"`
}

type hookDoc struct {
	Name string       `yaml:"name"`
	Args []hookArgDoc `yaml:"args"`
	Code HookCode     `yaml:"code"`
}

type hookArgDoc struct {
	Name  string   `yaml:"name"`
	Query queryDoc `yaml:"query"`
}

type inDoc struct {
	Op     string `yaml:"op"`
	Lookup expDoc `yaml:"lookup"`
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

type expDoc struct {
	Path   string   `yaml:"path"`
	Fn     string   `yaml:"fn"`
	Args   []expDoc `yaml:"args"`
	Array  []expDoc `yaml:"array"`
	Agg    string   `yaml:"agg"`
	Source string   `yaml:"source"`
	Target string   `yaml:"target"`
	Var    string   `yaml:"var"`
	Type   string   `yaml:"type"`
	In     *inDoc   `yaml:"in"`
	Hook   string   `yaml:"hook"`

	lit     *yaml.Node
	isLit   bool
	isArray bool
	line    int
}

func (e *expDoc) UnmarshalYAML(n *yaml.Node) error {
	type plain expDoc
	if err := n.Decode((*plain)(e)); err != nil {
		return err
	}
	e.line = n.Line
	for i := 0; i+1 < len(n.Content); i += 2 {
		switch n.Content[i].Value {
		case "lit":
			e.isLit = true
			e.lit = n.Content[i+1]
		case "array":
			e.isArray = true
		}
	}
	return nil
}

// LoadDefinition reads a YAML definition document from fs.
func LoadDefinition(fs afero.Fs, path string) (*Definition, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	d, err := ParseDefinition(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// ParseDefinition decodes a YAML definition and resolves every path in it.
func ParseDefinition(b []byte) (*Definition, error) {
	var doc defDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	l := &loader{
		d:       &Definition{},
		doc:     doc,
		loading: make(map[Ref]bool),
		loaded:  make(map[Ref]bool),
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l.d, nil
}

type loader struct {
	d       *Definition
	doc     defDoc
	loading map[Ref]bool
	loaded  map[Ref]bool
}

func (l *loader) load() error {
	d := l.d
	for i, md := range l.doc.Models {
		if md.Name == "" {
			return fmt.Errorf("model %d: missing name", i)
		}
		m := Model{ID: int32(i), Name: md.Name, Table: md.Table}
		if m.Table == "" {
			m.Table = defaultTable(md.Name)
		}
		d.Models = append(d.Models, m)
	}
	d.index()
	if len(d.models) != len(d.Models) {
		return fmt.Errorf("duplicate model names")
	}

	for i, md := range l.doc.Models {
		if err := l.fields(int32(i), md); err != nil {
			return err
		}
	}
	for i, md := range l.doc.Models {
		if err := l.references(int32(i), md); err != nil {
			return err
		}
	}
	for i, md := range l.doc.Models {
		if err := l.relations(int32(i), md); err != nil {
			return err
		}
	}
	for i, md := range l.doc.Models {
		if err := l.declare(int32(i), md); err != nil {
			return err
		}
	}

	for i, md := range l.doc.Models {
		m := &d.Models[i]
		for j := range md.Computeds {
			if err := l.computed(Ref{Kind: RefComputed, Model: int32(i), Index: int32(j)}); err != nil {
				return err
			}
		}
		for j, qd := range md.Queries {
			mq := &m.Queries[j]
			if err := l.queryBody(mq.Query, qd); err != nil {
				return fmt.Errorf("model '%s': query '%s': %w", m.Name, qd.Name, err)
			}
			if qd.Cardinality == "" {
				c, err := PathCardinality(d, mq.Query.FromPath, false)
				if err != nil {
					return err
				}
				mq.Query.Cardinality = c
			}
		}
		for j, hd := range md.Hooks {
			h := &m.Hooks[j]
			for _, ad := range hd.Args {
				q, err := l.query(ad.Query, NamePath{m.Name}.Append(ParsePath(ad.Query.From)...), false)
				if err != nil {
					return fmt.Errorf("model '%s': hook '%s': arg '%s': %w", m.Name, hd.Name, ad.Name, err)
				}
				if q.Name == "" {
					q.Name = ad.Name
				}
				h.Args = append(h.Args, HookArg{Name: ad.Name, Query: q})
			}
		}
	}

	for _, qd := range l.doc.Queries {
		q, err := l.query(qd, ParsePath(qd.From), true)
		if err != nil {
			return fmt.Errorf("query '%s': %w", qd.Name, err)
		}
		d.Queries = append(d.Queries, q)
	}
	d.index()
	return nil
}

func (l *loader) fields(mi int32, md modelDoc) error {
	m := &l.d.Models[mi]
	hasID := false
	for _, fd := range md.Fields {
		if fd.Name == "id" {
			hasID = true
		}
	}
	if !hasID {
		m.Fields = append(m.Fields, Field{Name: "id", DBName: "id", Type: Type{Kind: TypeInteger}, Unique: true})
		if err := m.addMember("id", Ref{Kind: RefField, Model: mi, Index: 0}); err != nil {
			return err
		}
	}
	for _, fd := range md.Fields {
		k, err := typeKind(fd.Type)
		if err != nil {
			return fmt.Errorf("model '%s': field '%s': %w", m.Name, fd.Name, err)
		}
		f := Field{Name: fd.Name, DBName: fd.DBName, Type: Type{Kind: k, Nullable: fd.Nullable}, Unique: fd.Unique}
		if f.DBName == "" {
			f.DBName = fd.Name
		}
		if err := m.addMember(f.Name, Ref{Kind: RefField, Model: mi, Index: int32(len(m.Fields))}); err != nil {
			return err
		}
		m.Fields = append(m.Fields, f)
	}
	return nil
}

func (l *loader) references(mi int32, md modelDoc) error {
	m := &l.d.Models[mi]
	for _, rd := range md.References {
		to, ok := l.d.models[rd.To]
		if !ok {
			return fmt.Errorf("model '%s': reference '%s': unknown model '%s'", m.Name, rd.Name, rd.To)
		}
		fname := rd.Field
		if fname == "" {
			fname = rd.Name + "_id"
		}

		fr, ok := m.members[fname]
		switch {
		case !ok:
			fr = Ref{Kind: RefField, Model: mi, Index: int32(len(m.Fields))}
			m.Fields = append(m.Fields, Field{
				Name:   fname,
				DBName: fname,
				Type:   Type{Kind: TypeInteger, Nullable: rd.Nullable},
				Unique: rd.Unique,
			})
			if err := m.addMember(fname, fr); err != nil {
				return err
			}
		case fr.Kind != RefField:
			return fmt.Errorf("model '%s': reference '%s': '%s' is not a field", m.Name, rd.Name, fname)
		}

		r := Ref{Kind: RefReference, Model: mi, Index: int32(len(m.References))}
		if err := m.addMember(rd.Name, r); err != nil {
			return err
		}
		m.References = append(m.References, Reference{
			Name:     rd.Name,
			Field:    fr,
			To:       to,
			Nullable: rd.Nullable,
			Unique:   rd.Unique,
		})
	}
	return nil
}

func (l *loader) relations(mi int32, md modelDoc) error {
	m := &l.d.Models[mi]
	for _, rd := range md.Relations {
		to, ok := l.d.models[rd.To]
		if !ok {
			return fmt.Errorf("model '%s': relation '%s': unknown model '%s'", m.Name, rd.Name, rd.To)
		}
		through, ok := l.d.Member(to, rd.Through)
		if !ok || through.Kind != RefReference {
			return fmt.Errorf("model '%s': relation '%s': '%s.%s' is not a reference",
				m.Name, rd.Name, rd.To, rd.Through)
		}
		ref := l.d.Reference(through)
		if ref.To != mi {
			return fmt.Errorf("model '%s': relation '%s': '%s.%s' does not reference '%s'",
				m.Name, rd.Name, rd.To, rd.Through, m.Name)
		}

		r := Ref{Kind: RefRelation, Model: mi, Index: int32(len(m.Relations))}
		if err := m.addMember(rd.Name, r); err != nil {
			return err
		}
		m.Relations = append(m.Relations, Relation{Name: rd.Name, To: to, Through: through, Unique: ref.Unique})
	}
	return nil
}

// declare registers computeds, queries and hooks so paths can resolve
// through them before their bodies are loaded.
func (l *loader) declare(mi int32, md modelDoc) error {
	m := &l.d.Models[mi]
	for _, cd := range md.Computeds {
		r := Ref{Kind: RefComputed, Model: mi, Index: int32(len(m.Computeds))}
		if err := m.addMember(cd.Name, r); err != nil {
			return err
		}
		m.Computeds = append(m.Computeds, Computed{Name: cd.Name})
	}

	for _, qd := range md.Queries {
		fp := NamePath{m.Name}.Append(ParsePath(qd.From)...)
		to, err := l.d.PathTarget(fp)
		if err != nil {
			return fmt.Errorf("model '%s': query '%s': %w", m.Name, qd.Name, err)
		}
		q := &QueryDef{Name: qd.Name, FromPath: fp}
		if qd.Cardinality != "" {
			q.Cardinality = Cardinality(qd.Cardinality)
		}
		r := Ref{Kind: RefQuery, Model: mi, Index: int32(len(m.Queries))}
		if err := m.addMember(qd.Name, r); err != nil {
			return err
		}
		m.Queries = append(m.Queries, ModelQuery{Name: qd.Name, To: to, Query: q})
	}

	for _, hd := range md.Hooks {
		r := Ref{Kind: RefHook, Model: mi, Index: int32(len(m.Hooks))}
		if err := m.addMember(hd.Name, r); err != nil {
			return err
		}
		m.Hooks = append(m.Hooks, Hook{Name: hd.Name, Code: hd.Code})
	}
	return nil
}

func (l *loader) computed(r Ref) error {
	if l.loaded[r] {
		return nil
	}
	m := &l.d.Models[r.Model]
	c := &m.Computeds[r.Index]
	if l.loading[r] {
		return fmt.Errorf("model '%s': computed '%s' references itself", m.Name, c.Name)
	}
	l.loading[r] = true
	defer delete(l.loading, r)

	cd := l.doc.Models[r.Model].Computeds[r.Index]
	e, err := l.exp(&cd.Exp)
	if err != nil {
		return fmt.Errorf("model '%s': computed '%s': %w", m.Name, c.Name, err)
	}
	c.Exp = e
	l.loaded[r] = true
	return nil
}

func (l *loader) query(qd queryDoc, fp NamePath, rooted bool) (*QueryDef, error) {
	if len(fp) == 0 {
		return nil, fmt.Errorf("missing 'from'")
	}
	q := &QueryDef{Name: qd.Name, FromPath: fp}
	if err := l.queryBody(q, qd); err != nil {
		return nil, err
	}
	if qd.Cardinality != "" {
		q.Cardinality = Cardinality(qd.Cardinality)
	} else {
		c, err := PathCardinality(l.d, fp, rooted)
		if err != nil {
			return nil, err
		}
		q.Cardinality = c
	}
	if !q.Cardinality.Valid() {
		return nil, fmt.Errorf("invalid cardinality '%s'", q.Cardinality)
	}
	return q, nil
}

func (l *loader) queryBody(q *QueryDef, qd queryDoc) (err error) {
	target, err := l.d.PathTarget(q.FromPath)
	if err != nil {
		return err
	}
	tm := l.d.ModelAt(target)

	if qd.Filter != nil {
		if q.Filter, err = l.exp(qd.Filter); err != nil {
			return err
		}
		if err = checkRoot(q.Filter, q.Root()); err != nil {
			return err
		}
	}

	for _, sd := range qd.Select {
		var item SelectItem
		switch {
		case sd.Query != nil:
			fp := NamePath{tm.Name}.Append(ParsePath(sd.Query.From)...)
			child, err := l.query(*sd.Query, fp, false)
			if err != nil {
				return fmt.Errorf("select '%s': %w", sd.Alias, err)
			}
			item = SelectItem{Kind: SelectQuery, Alias: sd.Alias, Query: child}
			if item.Alias == "" {
				item.Alias = fp.Leaf()
			}
			if child.Name == "" {
				child.Name = item.Alias
			}

		case sd.Hook != "":
			r, ok := l.d.Member(target, sd.Hook)
			if !ok || r.Kind != RefHook {
				return fmt.Errorf("select '%s': model '%s' has no hook '%s'", sd.Alias, tm.Name, sd.Hook)
			}
			item = SelectItem{Kind: SelectHook, Alias: sd.Alias, Hook: r}
			if item.Alias == "" {
				item.Alias = sd.Hook
			}

		case sd.Exp != nil:
			e, err := l.exp(sd.Exp)
			if err != nil {
				return fmt.Errorf("select '%s': %w", sd.Alias, err)
			}
			if err := checkRoot(e, q.Root()); err != nil {
				return err
			}
			item = SelectItem{Kind: SelectExpr, Alias: sd.Alias, Exp: e}
			if item.Alias == "" {
				ip, ok := e.(IdentifierPath)
				if !ok {
					return fmt.Errorf("select item needs an alias")
				}
				item.Alias = ip.Leaf().Name
			}

		default:
			return fmt.Errorf("select '%s': empty select item", sd.Alias)
		}
		q.Select = append(q.Select, item)
	}

	for _, od := range qd.OrderBy {
		e, err := l.exp(&od.Exp)
		if err != nil {
			return fmt.Errorf("order by: %w", err)
		}
		if err := checkRoot(e, q.Root()); err != nil {
			return err
		}
		q.OrderBy = append(q.OrderBy, OrderBy{Exp: e, Desc: od.Desc})
	}

	q.Limit = qd.Limit
	q.Offset = qd.Offset
	return nil
}

func (l *loader) exp(e *expDoc) (Expr, error) {
	switch {
	case e.isLit:
		v, err := literal(e.lit)
		if err != nil {
			return nil, err
		}
		return Lit(v), nil

	case e.Path != "":
		return l.identifier(ParsePath(e.Path))

	case e.Fn != "":
		args := make([]Expr, len(e.Args))
		for i := range e.Args {
			a, err := l.exp(&e.Args[i])
			if err != nil {
				return nil, err
			}
			args[i] = a
		}
		return Fn(e.Fn, args...), nil

	case e.isArray:
		elems := make([]Expr, len(e.Array))
		for i := range e.Array {
			a, err := l.exp(&e.Array[i])
			if err != nil {
				return nil, err
			}
			elems[i] = a
		}
		return Array{Elems: elems, T: Type{Kind: TypeList}}, nil

	case e.Agg != "":
		fn := strings.ToLower(e.Agg)
		switch fn {
		case "count", "sum", "min", "max", "avg":
		default:
			return nil, fmt.Errorf("line %d: unknown aggregate function '%s'", e.line, e.Agg)
		}
		source, target := ParsePath(e.Source), ParsePath(e.Target)
		f, err := l.aggTarget(source, target)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", e.line, err)
		}
		return AggregateCall{Fn: fn, SourcePath: source, TargetPath: target, T: aggType(fn, f.Type)}, nil

	case e.Var != "":
		k := TypeUnknown
		if e.Type != "" {
			var err error
			if k, err = typeKind(e.Type); err != nil {
				return nil, err
			}
		}
		return Var(e.Var, Type{Kind: k, Nullable: true}), nil

	case e.In != nil:
		lookup, err := l.exp(&e.In.Lookup)
		if err != nil {
			return nil, err
		}
		source, target := ParsePath(e.In.Source), ParsePath(e.In.Target)
		if _, err := l.aggTarget(source, target); err != nil {
			return nil, fmt.Errorf("line %d: %w", e.line, err)
		}
		op := strings.ToLower(e.In.Op)
		if op == "" {
			op = "in"
		}
		if op != "in" && op != "not in" {
			return nil, fmt.Errorf("line %d: unknown in operator '%s'", e.line, e.In.Op)
		}
		return InSubquery{Op: op, Lookup: lookup, SourcePath: source, TargetPath: target, T: Type{Kind: TypeBoolean}}, nil

	case e.Hook != "":
		p := ParsePath(e.Hook)
		refs, err := l.d.ResolvePath(p)
		if err != nil {
			return nil, err
		}
		leaf := refs[len(refs)-1]
		if leaf.Kind != RefHook {
			return nil, fmt.Errorf("line %d: '%s' is not a hook", e.line, e.Hook)
		}
		return HookCall{Name: p.Leaf(), Hook: leaf, T: Type{Kind: TypeUnknown, Nullable: true}}, nil
	}
	return nil, fmt.Errorf("line %d: empty expression", e.line)
}

func (l *loader) identifier(p NamePath) (Expr, error) {
	refs, err := l.d.ResolvePath(p)
	if err != nil {
		return nil, err
	}
	leaf := refs[len(refs)-1]
	switch leaf.Kind {
	case RefField:
	case RefComputed:
		if err := l.computed(leaf); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("path '%s' ends on a %s", p, leaf.Kind)
	}
	return l.d.Identifier(p)
}

func (l *loader) aggTarget(source, target NamePath) (*Field, error) {
	sm, err := l.d.PathTarget(source)
	if err != nil {
		return nil, err
	}
	if len(target) == 0 {
		return nil, fmt.Errorf("missing aggregate target")
	}
	full := NamePath{l.d.Models[sm].Name}.Append(target...)
	refs, err := l.d.ResolvePath(full)
	if err != nil {
		return nil, err
	}
	leaf := refs[len(refs)-1]
	if leaf.Kind != RefField {
		return nil, fmt.Errorf("aggregate target '%s' must end on a field", target)
	}
	return l.d.Field(leaf), nil
}

// checkRoot verifies that every path of a query expression starts at the
// query's root model.
func checkRoot(e Expr, root string) error {
	switch v := e.(type) {
	case IdentifierPath:
		if v.Path[0].Name != root {
			return fmt.Errorf("path '%s' must start at '%s'", v.NamePath(), root)
		}
	case AggregateCall:
		if v.SourcePath[0] != root {
			return fmt.Errorf("aggregate source '%s' must start at '%s'", v.SourcePath, root)
		}
	case FunctionCall:
		for _, a := range v.Args {
			if err := checkRoot(a, root); err != nil {
				return err
			}
		}
	case Array:
		for _, a := range v.Elems {
			if err := checkRoot(a, root); err != nil {
				return err
			}
		}
	case InSubquery:
		return checkRoot(v.Lookup, root)
	}
	return nil
}

func literal(n *yaml.Node) (any, error) {
	switch n.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!bool":
		var v bool
		err := n.Decode(&v)
		return v, err
	case "!!int":
		var v int64
		err := n.Decode(&v)
		return v, err
	case "!!float":
		var v float64
		err := n.Decode(&v)
		return v, err
	case "!!str":
		return n.Value, nil
	}
	return nil, fmt.Errorf("line %d: unsupported literal", n.Line)
}

func typeKind(s string) (TypeKind, error) {
	switch strings.ToLower(s) {
	case "integer", "int":
		return TypeInteger, nil
	case "float", "number":
		return TypeFloat, nil
	case "string", "text", "":
		return TypeString, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	}
	return "", fmt.Errorf("unknown type '%s'", s)
}
