package qcode

import (
	"github.com/qbloq/pathql/core/internal/sdata"
)

// Exp is a renderable plan expression.
type Exp interface {
	isExp()
}

// Alias references a column: every segment but the last names the table
// alias, the last one the column.
type Alias struct {
	Path sdata.NamePath
}

type Function struct {
	Name string
	Args []Exp
}

type Literal struct {
	Value any
}

type Variable struct {
	Name string
}

type In struct {
	Op     string
	Lookup Exp
	Plan   *Plan
}

type Array struct {
	Elems []Exp
}

func (Alias) isExp()    {}
func (Function) isExp() {}
func (Literal) isExp()  {}
func (Variable) isExp() {}
func (In) isExp()       {}
func (Array) isExp()    {}

func (a Alias) Table() sdata.NamePath {
	return a.Path.Initial()
}

func (a Alias) Column() string {
	return a.Path.Leaf()
}

// CompileExp compiles one expanded expression.
func (co *Compiler) CompileExp(e sdata.Expr) (ex Exp, err error) {
	defer RecoverInvariant(&err)
	return co.compileExp(e), nil
}

func (co *Compiler) compileExp(e sdata.Expr) Exp {
	switch v := e.(type) {
	case sdata.IdentifierPath:
		leaf := v.Leaf()
		if leaf.Ref.Kind != sdata.RefField {
			invariantf("path '%s' ends on a %s, expected a field", v.NamePath(), leaf.Ref.Kind)
		}
		return column(v.NamePath().Initial(), co.def.Field(leaf.Ref).DBName)

	case sdata.FunctionCall:
		args := make([]Exp, len(v.Args))
		for i, a := range v.Args {
			args[i] = co.compileExp(a)
		}
		return Function{Name: v.Name, Args: args}

	case sdata.Literal:
		return Literal{Value: v.Value}

	case sdata.Variable:
		return Variable{Name: v.Path.Key()}

	case sdata.AggregateCall:
		return column(AggregateAlias(v.Fn, v.SourcePath, v.TargetPath), ResultColumn)

	case sdata.InSubquery:
		return In{Op: v.Op, Lookup: co.compileExp(v.Lookup), Plan: co.inPlan(v)}

	case sdata.Array:
		elems := make([]Exp, len(v.Elems))
		for i, a := range v.Elems {
			elems[i] = co.compileExp(a)
		}
		return Array{Elems: elems}

	case sdata.HookCall:
		invariantf("hook '%s' can not be evaluated by the database", v.Name)

	default:
		invariantf("unknown expression %T", e)
	}
	return nil
}
