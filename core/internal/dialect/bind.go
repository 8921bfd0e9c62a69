package dialect

import (
	"fmt"
	"reflect"
	"strings"
)

// bindNamed replaces ':name' placeholders outside of quoted strings and
// identifiers. A slice value expands into one bind variable per element,
// an empty slice into NULL. Scalars used more than once share a variable.
func bindNamed(query string, params map[string]any, bindVar func(int) string) (string, []any, error) {
	var sb strings.Builder
	sb.Grow(len(query))

	var args []any
	scalars := make(map[string]int)

	for i := 0; i < len(query); i++ {
		ch := query[i]

		switch ch {
		case '\'', '"':
			j := skipQuoted(query, i)
			sb.WriteString(query[i:j])
			i = j - 1
			continue

		case ':':
			if i+1 < len(query) && query[i+1] == ':' {
				sb.WriteString("::")
				i++
				continue
			}
			if i+1 >= len(query) || !isNameStart(query[i+1]) {
				break
			}

			j := i + 1
			for j < len(query) && isNameChar(query[j]) {
				j++
			}
			for query[j-1] == '.' {
				j--
			}
			name := query[i+1 : j]

			v, ok := params[name]
			if !ok {
				return "", nil, fmt.Errorf("required variable '%s' must be set", name)
			}

			if list, ok := asList(v); ok {
				if len(list) == 0 {
					sb.WriteString("NULL")
				}
				for k, e := range list {
					if k != 0 {
						sb.WriteString(", ")
					}
					args = append(args, e)
					sb.WriteString(bindVar(len(args)))
				}
			} else if n, ok := scalars[name]; ok {
				sb.WriteString(bindVar(n))
			} else {
				args = append(args, v)
				scalars[name] = len(args)
				sb.WriteString(bindVar(len(args)))
			}
			i = j - 1
			continue
		}
		sb.WriteByte(ch)
	}
	return sb.String(), args, nil
}

func skipQuoted(s string, i int) int {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		if s[j] != q {
			continue
		}
		if j+1 < len(s) && s[j+1] == q {
			j++
			continue
		}
		return j + 1
	}
	return len(s)
}

func isNameStart(c byte) bool {
	return c == '_' || c == '@' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || c == '.' || (c >= '0' && c <= '9')
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []byte:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	list := make([]any, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}
	return list, true
}
