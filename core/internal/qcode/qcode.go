package qcode

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/qbloq/pathql/core/internal/sdata"
)

const (
	// JoinConnection is the column correlating subquery rows to their parent id.
	JoinConnection = "__join_connection"

	// ResultColumn holds an aggregate subquery's value.
	ResultColumn = "result"
)

// ErrInvariant marks structures a resolved definition can never produce.
var ErrInvariant = errors.New("invariant violation")

type Compiler struct {
	def *sdata.Definition
}

func NewCompiler(def *sdata.Definition) *Compiler {
	return &Compiler{def: def}
}

func (co *Compiler) Definition() *sdata.Definition {
	return co.def
}

type JoinKind uint8

const (
	JoinInline JoinKind = iota
	JoinSubquery
)

type JoinType uint8

const (
	JoinInner JoinType = iota
	JoinLeft
)

func (jt JoinType) String() string {
	if jt == JoinInner {
		return "INNER"
	}
	return "LEFT"
}

type Plan struct {
	Entry    string
	Table    string
	FromPath sdata.NamePath
	Joins    []*Join
	GroupBy  []Exp
	Filter   Exp
	Select   []SelectExp
	OrderBy  []OrderExp
	Limit    *int
	Offset   *int
}

type Join struct {
	Kind  JoinKind
	Type  JoinType
	Table string
	Plan  *Plan
	Path  sdata.NamePath
	On    Exp
	Joins []*Join
}

type SelectExp struct {
	Alias string
	Exp   Exp
}

type OrderExp struct {
	Exp  Exp
	Desc bool
}

func invariantf(format string, args ...any) {
	panic(&sdata.InvariantError{Msg: fmt.Sprintf(format, args...)})
}

// RecoverInvariant turns an invariant panic into an error wrapping
// ErrInvariant. It must be deferred directly, other panics are re-raised.
func RecoverInvariant(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if ie, ok := r.(*sdata.InvariantError); ok {
		*err = errors.WithStack(fmt.Errorf("%w: %s", ErrInvariant, ie.Msg))
		return
	}
	panic(r)
}
