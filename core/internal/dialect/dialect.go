package dialect

import "io"

// Context is the buffer a dialect renders into.
type Context interface {
	io.StringWriter
}

type Dialect interface {
	Name() string

	QuoteIdentifier(s string) string
	BindVar(i int) string
	RenderLimit(ctx Context, limit, offset *int)

	// BindNamed rewrites named ':param' placeholders into positional
	// bind variables and returns the matching argument list.
	BindNamed(query string, params map[string]any) (string, []any, error)
}
