// Package core compiles path based query definitions into SQL and runs them
// as batched query trees against a database connection.
package core

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/qbloq/pathql/core/internal/psql"
	"github.com/qbloq/pathql/core/internal/qcode"
	"github.com/qbloq/pathql/core/internal/sdata"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	Definition  = sdata.Definition
	QueryDef    = sdata.QueryDef
	SelectItem  = sdata.SelectItem
	OrderBy     = sdata.OrderBy
	NamePath    = sdata.NamePath
	Cardinality = sdata.Cardinality
	Expr        = sdata.Expr
	HookCode    = sdata.HookCode
)

const (
	CardinalityOne        = sdata.CardinalityOne
	CardinalityNullable   = sdata.CardinalityNullable
	CardinalityCollection = sdata.CardinalityCollection
)

const (
	// syntheticID is the alias of the id column added to queries that have
	// nested queries or hooks but do not select their own id.
	syntheticID = "__id"

	// contextIDsVar binds the parent ids of a batched child query.
	contextIDsVar = "@context_ids"

	// findValueVar binds the looked up value in FindIDBy.
	findValueVar = "@value"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal consistency error")

	// ErrInvariant is wrapped by errors reporting a query structure that a
	// loaded definition can never produce.
	ErrInvariant = qcode.ErrInvariant
)

// ParseDefinition loads a definition from its YAML source.
func ParseDefinition(b []byte) (*Definition, error) {
	return sdata.ParseDefinition(b)
}

// LoadDefinition reads and loads a definition file from fs.
func LoadDefinition(fs afero.Fs, path string) (*Definition, error) {
	return sdata.LoadDefinition(fs, path)
}

// ParsePath splits a dotted path into its segments.
func ParsePath(s string) NamePath {
	return sdata.ParsePath(s)
}

// pathqlEngine holds everything a loaded definition needs to compile and run
// queries. It is never modified once built, Reload swaps in a new one.
type pathqlEngine struct {
	conf          *Config
	def           *Definition
	log           *zap.SugaredLogger
	fs            afero.Fs
	tracer        trace.Tracer
	hooks         HookExecutor
	cache         Cache
	qcodeCompiler *qcode.Compiler
	psqlCompiler  *psql.Compiler
	opts          []Option
}

// Engine is safe for concurrent use.
type Engine struct {
	atomic.Value
}

type Option func(*pathqlEngine) error

// NewEngine creates an engine for a loaded definition.
func NewEngine(def *Definition, conf *Config, options ...Option) (e *Engine, err error) {
	e = &Engine{}
	if err = e.newEngine(def, conf, options...); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) newEngine(def *Definition, conf *Config, options ...Option) (err error) {
	if def == nil {
		return errors.New("definition is required")
	}
	if conf == nil {
		conf = &Config{}
	}
	if err = conf.Validate(); err != nil {
		return err
	}

	pe := &pathqlEngine{
		conf:   conf,
		def:    def,
		log:    zap.NewNop().Sugar(),
		fs:     afero.NewOsFs(),
		tracer: otel.Tracer("github.com/qbloq/pathql"),
		opts:   options,
	}

	for _, op := range options {
		if err = op(pe); err != nil {
			return
		}
	}

	if err = pe.initCache(); err != nil {
		return
	}
	pe.initHooks()
	pe.initCompilers()

	e.Store(pe)
	return
}

func (e *Engine) engine() *pathqlEngine {
	return e.Load().(*pathqlEngine)
}

// Reload swaps in a new definition. Requests already running finish on the
// definition they started with.
func (e *Engine) Reload(def *Definition) error {
	pe := e.engine()
	return e.newEngine(def, pe.conf, pe.opts...)
}

func (pe *pathqlEngine) initCompilers() {
	pe.qcodeCompiler = qcode.NewCompiler(pe.def)
	pe.psqlCompiler = psql.NewCompiler(psql.Config{DBType: pe.conf.DBType})
}

func (pe *pathqlEngine) initHooks() {
	if pe.hooks != nil {
		return
	}
	fs := pe.fs
	if pe.conf.HooksPath != "" {
		fs = afero.NewBasePathFs(fs, pe.conf.HooksPath)
	}
	pe.hooks = NewJSRuntime(fs, NewHookRegistry(), pe.conf.hookTimeout(), pe.log)
}

// OptionSetLogger sets the logger used for debug and error output
func OptionSetLogger(log *zap.SugaredLogger) Option {
	return func(pe *pathqlEngine) error {
		if log == nil {
			return errors.New("logger is nil")
		}
		pe.log = log
		return nil
	}
}

// OptionSetTracer sets the tracer spans are started on
func OptionSetTracer(tracer trace.Tracer) Option {
	return func(pe *pathqlEngine) error {
		pe.tracer = tracer
		return nil
	}
}

// OptionSetHookExecutor replaces the default JavaScript hook runtime
func OptionSetHookExecutor(hooks HookExecutor) Option {
	return func(pe *pathqlEngine) error {
		pe.hooks = hooks
		return nil
	}
}

// OptionSetFS sets the file system hook files are read from
func OptionSetFS(fs afero.Fs) Option {
	return func(pe *pathqlEngine) error {
		pe.fs = fs
		return nil
	}
}

// Definition returns the definition the engine currently serves.
func (e *Engine) Definition() *Definition {
	return e.engine().def
}

// Query returns a named top-level query of the definition.
func (e *Engine) Query(name string) (*QueryDef, error) {
	q, ok := e.engine().def.Query(name)
	if !ok {
		return nil, fmt.Errorf("query '%s': %w", name, ErrNotFound)
	}
	return q, nil
}

// SQL returns the statement a query compiles to and the names of the
// variables it binds, in order of first appearance.
func (e *Engine) SQL(q *QueryDef) (string, []string, error) {
	cq, err := e.engine().compileQuery(q)
	if err != nil {
		return "", nil, err
	}
	return cq.sql, cq.paramNames(), nil
}

// ExecuteQuery compiles and runs a single query. Nested queries and hooks
// of q are ignored, use ExecuteQueryTree for those.
func (e *Engine) ExecuteQuery(c context.Context,
	conn Conn,
	q *QueryDef,
	vars Vars,
	contextIDs []any,
) ([]Row, error) {
	s := e.engine().newState(conn, vars)
	return s.executeQuery(c, q, contextIDs)
}

// ExecuteQueryTree runs a query tree, batching one query per nested node
// no matter how many parent rows there are.
func (e *Engine) ExecuteQueryTree(c context.Context,
	conn Conn,
	tree *QueryTree,
	vars Vars,
	contextIDs []any,
) ([]Row, error) {
	return e.engine().executeQueryTree(c, conn, tree, vars, contextIDs)
}

// Execute builds the tree of a query and runs it.
func (e *Engine) Execute(c context.Context, conn Conn, q *QueryDef, vars Vars) ([]Row, error) {
	pe := e.engine()
	tree, err := pe.buildQueryTree(q)
	if err != nil {
		return nil, err
	}
	return pe.executeQueryTree(c, conn, tree, vars, nil)
}

// ExecuteByName runs a named top-level query of the definition.
func (e *Engine) ExecuteByName(c context.Context, conn Conn, name string, vars Vars) ([]Row, error) {
	q, err := e.Query(name)
	if err != nil {
		return nil, err
	}
	return e.Execute(c, conn, q, vars)
}

// BuildQueryTree splits q into the tree of queries the executor runs.
func (e *Engine) BuildQueryTree(q *QueryDef) (*QueryTree, error) {
	return e.engine().buildQueryTree(q)
}

// BuildQueryTreeFromParts builds an ad-hoc query and its tree.
func (e *Engine) BuildQueryTreeFromParts(parts QueryParts) (*QueryDef, *QueryTree, error) {
	pe := e.engine()
	q, err := QueryFromParts(pe.def, parts)
	if err != nil {
		return nil, nil, err
	}
	tree, err := pe.buildQueryTree(q)
	if err != nil {
		return nil, nil, err
	}
	return q, tree, nil
}

// FindIDBy returns the id of the first entity of fromPath whose value at
// targetPath equals value, nil when there is none.
func (e *Engine) FindIDBy(c context.Context,
	conn Conn,
	fromPath, targetPath NamePath,
	value any,
) (any, error) {
	return e.engine().findIDBy(c, conn, fromPath, targetPath, value)
}
