package core

import (
	"context"

	"github.com/pkg/errors"
	"github.com/qbloq/pathql/core/internal/sdata"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// compileQuery plans and renders q, reusing an earlier result for a
// structurally equal query.
func (pe *pathqlEngine) compileQuery(q *QueryDef) (*compiledQuery, error) {
	key, err := queryKey(q)
	if err != nil {
		return nil, errors.Wrap(err, "hashing query")
	}
	if cq, ok := pe.cache.Get(key); ok {
		return cq, nil
	}

	p, err := pe.qcodeCompiler.BuildPlan(q)
	if err != nil {
		if errors.Is(err, ErrInvariant) {
			pe.log.Errorw("query planning failed", "query", q.Name, "error", err)
		}
		return nil, err
	}

	md, sql, err := pe.psqlCompiler.CompileEx(p)
	if err != nil {
		return nil, err
	}

	cq := &compiledQuery{
		sql:     string(sql),
		md:      md,
		numeric: numericColumns(q),
	}
	pe.cache.Set(key, cq)
	return cq, nil
}

// numericColumns maps the aliases of numeric select items to their kind.
// Drivers return some numeric types as text, these are coerced back.
func numericColumns(q *QueryDef) map[string]sdata.TypeKind {
	var m map[string]sdata.TypeKind
	for _, s := range q.Select {
		if s.Kind != sdata.SelectExpr || s.Exp == nil {
			continue
		}
		if t := s.Exp.ExprType(); t.IsNumeric() {
			if m == nil {
				m = make(map[string]sdata.TypeKind)
			}
			m[s.Alias] = t.Kind
		}
	}
	return m
}

// Starts tracing with the given name
func (pe *pathqlEngine) spanStart(c context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return pe.tracer.Start(c, name, opts...)
}

func spanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func queryAttrs(q *QueryDef) trace.SpanStartEventOption {
	return trace.WithAttributes(
		attribute.String("query.name", q.Name),
		attribute.String("query.from", q.FromPath.String()),
	)
}
