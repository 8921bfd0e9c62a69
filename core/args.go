package core

import (
	"fmt"
	"strings"

	"github.com/qbloq/pathql/core/internal/psql"
)

// Vars holds the values of query variables. A variable named with dots is
// looked up as is first and then by walking nested maps.
type Vars map[string]any

func (v Vars) Lookup(name string) (any, bool) {
	if val, ok := v[name]; ok {
		return val, true
	}
	if !strings.Contains(name, ".") {
		return nil, false
	}

	var cur any = map[string]any(v)
	for _, seg := range strings.Split(name, ".") {
		var m map[string]any
		switch x := cur.(type) {
		case map[string]any:
			m = x
		case Vars:
			m = x
		case Row:
			m = x
		default:
			return nil, false
		}
		val, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = val
	}
	return cur, true
}

// argMap resolves every parameter of a compiled statement. The parent ids
// of a batched query are bound to contextIDsVar.
func argMap(md psql.Metadata, vars Vars, contextIDs []any) (map[string]any, error) {
	params := md.Params()
	am := make(map[string]any, len(params))

	for _, p := range params {
		if p.Name == contextIDsVar {
			if contextIDs == nil {
				contextIDs = []any{}
			}
			am[p.Name] = contextIDs
			continue
		}
		v, ok := vars.Lookup(p.Name)
		if !ok {
			return nil, argErr(p)
		}
		am[p.Name] = v
	}
	return am, nil
}

func argErr(p psql.Param) error {
	return fmt.Errorf("required variable '%s' must be set", p.Name)
}
