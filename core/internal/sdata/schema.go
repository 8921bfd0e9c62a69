package sdata

import (
	"fmt"
	"strings"
)

type RefKind uint8

const (
	RefNone RefKind = iota
	RefModel
	RefField
	RefReference
	RefRelation
	RefQuery
	RefComputed
	RefHook
)

func (k RefKind) String() string {
	switch k {
	case RefModel:
		return "model"
	case RefField:
		return "field"
	case RefReference:
		return "reference"
	case RefRelation:
		return "relation"
	case RefQuery:
		return "query"
	case RefComputed:
		return "computed"
	case RefHook:
		return "hook"
	}
	return "none"
}

// Ref is a resolved handle into the definition. Model indexes Definition.Models
// and Index indexes the member slice selected by Kind.
type Ref struct {
	Kind  RefKind
	Model int32
	Index int32
}

func (r Ref) IsZero() bool {
	return r.Kind == RefNone
}

type Definition struct {
	Models  []Model
	Queries []*QueryDef

	models  map[string]int32
	queries map[string]int32
}

type Model struct {
	ID         int32
	Name       string
	Table      string
	Fields     []Field
	References []Reference
	Relations  []Relation
	Queries    []ModelQuery
	Computeds  []Computed
	Hooks      []Hook

	members map[string]Ref
}

type Field struct {
	Name   string
	DBName string
	Type   Type
	Unique bool
}

type Reference struct {
	Name     string
	Field    Ref
	To       int32
	Nullable bool
	Unique   bool
}

type Relation struct {
	Name    string
	To      int32
	Through Ref
	Unique  bool
}

type ModelQuery struct {
	Name  string
	To    int32
	Query *QueryDef
}

type Computed struct {
	Name string
	Exp  Expr
}

type Hook struct {
	Name string
	Args []HookArg
	Code HookCode
}

type HookArg struct {
	Name  string
	Query *QueryDef
}

// HookCode is either inline source or a runtime/file/target triple
// resolved by the hook runtime.
type HookCode struct {
	Inline  string `yaml:"inline,omitempty"`
	Runtime string `yaml:"runtime,omitempty"`
	File    string `yaml:"file,omitempty"`
	Target  string `yaml:"target,omitempty"`
}

func (hc HookCode) String() string {
	if hc.Inline != "" {
		return "inline"
	}
	return fmt.Sprintf("%s:%s#%s", hc.Runtime, hc.File, hc.Target)
}

// Model returns the model with the given name.
func (d *Definition) Model(name string) (*Model, bool) {
	i, ok := d.models[name]
	if !ok {
		return nil, false
	}
	return &d.Models[i], true
}

func (d *Definition) ModelAt(i int32) *Model {
	return &d.Models[i]
}

// Query returns a top-level named query.
func (d *Definition) Query(name string) (*QueryDef, bool) {
	i, ok := d.queries[name]
	if !ok {
		return nil, false
	}
	return d.Queries[i], true
}

// Member looks up a member of a model by name.
func (d *Definition) Member(model int32, name string) (Ref, bool) {
	r, ok := d.Models[model].members[name]
	return r, ok
}

func (d *Definition) Field(r Ref) *Field {
	d.mustKind(r, RefField)
	return &d.Models[r.Model].Fields[r.Index]
}

func (d *Definition) Reference(r Ref) *Reference {
	d.mustKind(r, RefReference)
	return &d.Models[r.Model].References[r.Index]
}

func (d *Definition) Relation(r Ref) *Relation {
	d.mustKind(r, RefRelation)
	return &d.Models[r.Model].Relations[r.Index]
}

func (d *Definition) ModelQuery(r Ref) *ModelQuery {
	d.mustKind(r, RefQuery)
	return &d.Models[r.Model].Queries[r.Index]
}

func (d *Definition) Computed(r Ref) *Computed {
	d.mustKind(r, RefComputed)
	return &d.Models[r.Model].Computeds[r.Index]
}

func (d *Definition) Hook(r Ref) *Hook {
	d.mustKind(r, RefHook)
	return &d.Models[r.Model].Hooks[r.Index]
}

// Target returns the model a traversal member leads to.
func (d *Definition) Target(r Ref) (int32, bool) {
	switch r.Kind {
	case RefModel:
		return r.Model, true
	case RefReference:
		return d.Reference(r).To, true
	case RefRelation:
		return d.Relation(r).To, true
	case RefQuery:
		return d.ModelQuery(r).To, true
	}
	return -1, false
}

// IDField returns the id field of a model.
func (d *Definition) IDField(model int32) *Field {
	r, ok := d.Member(model, "id")
	if !ok || r.Kind != RefField {
		panic(&InvariantError{Msg: fmt.Sprintf("model '%s' has no id field", d.Models[model].Name)})
	}
	return d.Field(r)
}

// ResolvePath resolves every segment of a rooted path. The first segment
// names a model, every following segment a member of the current model.
// Fields, computeds and hooks must be the last segment.
func (d *Definition) ResolvePath(p NamePath) ([]Ref, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("empty path")
	}
	mi, ok := d.models[p[0]]
	if !ok {
		return nil, fmt.Errorf("unknown model '%s'", p[0])
	}

	refs := make([]Ref, len(p))
	refs[0] = Ref{Kind: RefModel, Model: mi, Index: mi}
	cur := mi

	for i := 1; i < len(p); i++ {
		if cur == -1 {
			return nil, fmt.Errorf("path '%s': '%s' is not a traversable member", p, p[i-1])
		}
		r, ok := d.Member(cur, p[i])
		if !ok {
			return nil, fmt.Errorf("path '%s': model '%s' has no member '%s'",
				p, d.Models[cur].Name, p[i])
		}
		refs[i] = r
		if t, ok := d.Target(r); ok {
			cur = t
		} else {
			cur = -1
		}
	}
	return refs, nil
}

// Identifier resolves a rooted path into a typed identifier expression.
func (d *Definition) Identifier(p NamePath) (IdentifierPath, error) {
	refs, err := d.ResolvePath(p)
	if err != nil {
		return IdentifierPath{}, err
	}
	ip := IdentifierPath{Path: make([]IdentifierRef, len(p))}
	for i := range p {
		ip.Path[i] = IdentifierRef{Name: p[i], Ref: refs[i]}
	}
	ip.T = d.pathType(refs)
	return ip, nil
}

// PathTarget returns the model a rooted path ends on.
func (d *Definition) PathTarget(p NamePath) (int32, error) {
	refs, err := d.ResolvePath(p)
	if err != nil {
		return -1, err
	}
	t, ok := d.Target(refs[len(refs)-1])
	if !ok {
		return -1, fmt.Errorf("path '%s' does not end on a model", p)
	}
	return t, nil
}

func (d *Definition) pathType(refs []Ref) Type {
	nullable := false
	for _, r := range refs[:len(refs)-1] {
		switch r.Kind {
		case RefReference:
			nullable = nullable || d.Reference(r).Nullable
		case RefRelation, RefQuery:
			nullable = true
		}
	}

	var t Type
	leaf := refs[len(refs)-1]
	switch leaf.Kind {
	case RefField:
		t = d.Field(leaf).Type
	case RefComputed:
		if e := d.Computed(leaf).Exp; e != nil {
			t = e.ExprType()
		}
	default:
		t = Type{Kind: TypeUnknown}
	}
	t.Nullable = t.Nullable || nullable
	return t
}

func (d *Definition) mustKind(r Ref, k RefKind) {
	if r.Kind != k {
		panic(&InvariantError{Msg: fmt.Sprintf("expected %s ref, got %s", k, r.Kind)})
	}
}

func (d *Definition) index() {
	d.models = make(map[string]int32, len(d.Models))
	for i := range d.Models {
		d.models[d.Models[i].Name] = int32(i)
	}
	d.queries = make(map[string]int32, len(d.Queries))
	for i, q := range d.Queries {
		d.queries[q.Name] = int32(i)
	}
}

func (m *Model) addMember(name string, r Ref) error {
	if m.members == nil {
		m.members = make(map[string]Ref)
	}
	if _, ok := m.members[name]; ok {
		return fmt.Errorf("model '%s': duplicate member '%s'", m.Name, name)
	}
	m.members[name] = r
	return nil
}

// InvariantError reports a structure that a well formed definition can never
// produce.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "invariant violation: " + e.Msg
}

func defaultTable(name string) string {
	var sb strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i != 0 {
				sb.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
