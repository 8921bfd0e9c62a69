package sdata

import (
	"strings"
)

// NamePath is a traversal from a root model to a member.
type NamePath []string

func (p NamePath) Key() string {
	return strings.Join(p, ".")
}

func (p NamePath) String() string {
	return p.Key()
}

func (p NamePath) Initial() NamePath {
	if len(p) == 0 {
		return nil
	}
	return p[:len(p)-1]
}

func (p NamePath) Leaf() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// HasPrefix reports whether prefix is a leading part of p (or equal to it).
func (p NamePath) HasPrefix(prefix NamePath) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (p NamePath) Equal(o NamePath) bool {
	return len(p) == len(o) && p.HasPrefix(o)
}

// Append returns a new path, p is never modified.
func (p NamePath) Append(s ...string) NamePath {
	np := make(NamePath, 0, len(p)+len(s))
	np = append(np, p...)
	return append(np, s...)
}

func ParsePath(s string) NamePath {
	if s == "" {
		return nil
	}
	return NamePath(strings.Split(s, "."))
}

type TypeKind string

const (
	TypeUnknown TypeKind = "unknown"
	TypeNull    TypeKind = "null"
	TypeInteger TypeKind = "integer"
	TypeFloat   TypeKind = "float"
	TypeString  TypeKind = "string"
	TypeBoolean TypeKind = "boolean"
	TypeList    TypeKind = "list"
)

type Type struct {
	Kind     TypeKind
	Nullable bool
}

func (t Type) IsNumeric() bool {
	return t.Kind == TypeInteger || t.Kind == TypeFloat
}

// Expr is a typed, fully resolved expression node.
type Expr interface {
	ExprType() Type
	isExpr()
}

type Literal struct {
	Value any
	T     Type
}

type IdentifierRef struct {
	Name string
	Ref  Ref
}

type IdentifierPath struct {
	Path []IdentifierRef
	T    Type
}

// NamePath returns the plain segment names.
func (ip IdentifierPath) NamePath() NamePath {
	p := make(NamePath, len(ip.Path))
	for i, s := range ip.Path {
		p[i] = s.Name
	}
	return p
}

func (ip IdentifierPath) Leaf() IdentifierRef {
	return ip.Path[len(ip.Path)-1]
}

type FunctionCall struct {
	Name string
	Args []Expr
	T    Type
}

type Array struct {
	Elems []Expr
	T     Type
}

// AggregateCall evaluates Fn over TargetPath for every entity reached
// by SourcePath. SourcePath is rooted, TargetPath is relative to the
// model SourcePath ends on.
type AggregateCall struct {
	Fn         string
	SourcePath NamePath
	TargetPath NamePath
	T          Type
}

// Variable is a request scoped value addressed by its declared path.
type Variable struct {
	Path NamePath
	T    Type
}

// InSubquery tests Lookup against every TargetPath value reachable from
// SourcePath.
type InSubquery struct {
	Op         string
	Lookup     Expr
	SourcePath NamePath
	TargetPath NamePath
	T          Type
}

type HookCall struct {
	Name string
	Hook Ref
	T    Type
}

func (e Literal) ExprType() Type        { return e.T }
func (e IdentifierPath) ExprType() Type { return e.T }
func (e FunctionCall) ExprType() Type   { return e.T }
func (e Array) ExprType() Type          { return e.T }
func (e AggregateCall) ExprType() Type  { return e.T }
func (e Variable) ExprType() Type       { return e.T }
func (e InSubquery) ExprType() Type     { return e.T }
func (e HookCall) ExprType() Type       { return e.T }

func (Literal) isExpr()        {}
func (IdentifierPath) isExpr() {}
func (FunctionCall) isExpr()   {}
func (Array) isExpr()          {}
func (AggregateCall) isExpr()  {}
func (Variable) isExpr()       {}
func (InSubquery) isExpr()     {}
func (HookCall) isExpr()       {}

// Fn returns a function call typed by the function's result.
func Fn(name string, args ...Expr) FunctionCall {
	return FunctionCall{Name: name, Args: args, T: fnType(name, args)}
}

func Var(name string, t Type) Variable {
	return Variable{Path: ParsePath(name), T: t}
}

func Lit(v any) Literal {
	return Literal{Value: v, T: literalType(v)}
}

func literalType(v any) Type {
	switch v.(type) {
	case nil:
		return Type{Kind: TypeNull, Nullable: true}
	case bool:
		return Type{Kind: TypeBoolean}
	case int, int32, int64:
		return Type{Kind: TypeInteger}
	case float32, float64:
		return Type{Kind: TypeFloat}
	case string:
		return Type{Kind: TypeString}
	}
	return Type{Kind: TypeUnknown}
}

func fnType(name string, args []Expr) Type {
	anyNullable := false
	for _, a := range args {
		anyNullable = anyNullable || a.ExprType().Nullable
	}

	switch strings.ToLower(name) {
	case "=", "!=", "<", "<=", ">", ">=", "is", "is not",
		"and", "or", "not", "in", "not in", "like":
		return Type{Kind: TypeBoolean}

	case "+", "-", "*", "/":
		k := TypeInteger
		for _, a := range args {
			if a.ExprType().Kind == TypeFloat {
				k = TypeFloat
			}
		}
		return Type{Kind: k, Nullable: anyNullable}

	case "lower", "upper", "concat", "now":
		return Type{Kind: TypeString, Nullable: anyNullable}

	case "length", "count":
		return Type{Kind: TypeInteger, Nullable: anyNullable}
	}
	return Type{Kind: TypeUnknown, Nullable: true}
}

func aggType(fn string, target Type) Type {
	switch strings.ToLower(fn) {
	case "count":
		return Type{Kind: TypeInteger}
	case "avg":
		return Type{Kind: TypeFloat, Nullable: true}
	}
	return Type{Kind: target.Kind, Nullable: true}
}
