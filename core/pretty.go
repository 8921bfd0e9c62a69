package core

import (
	"strings"
)

var clauses = []string{
	"INNER JOIN",
	"LEFT JOIN",
	"FROM",
	"WHERE",
	"GROUP BY",
	"ORDER BY",
	"LIMIT",
	"OFFSET",
}

// Prettify lays out a rendered statement with one clause per line and
// subqueries indented. Quoted strings and identifiers are copied as is.
func Prettify(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 64)

	var subs []bool
	level := 0

	for i := 0; i < len(query); i++ {
		ch := query[i]

		switch ch {
		case '\'', '"':
			j := quotedEnd(query, i)
			b.WriteString(query[i:j])
			i = j - 1
			continue

		case '(':
			sub := strings.HasPrefix(query[i+1:], "SELECT ")
			subs = append(subs, sub)
			b.WriteByte(ch)
			if sub {
				level++
				newline(&b, level)
			}
			continue

		case ')':
			if n := len(subs); n != 0 {
				if subs[n-1] {
					level--
					newline(&b, level)
				}
				subs = subs[:n-1]
			}
			b.WriteByte(ch)
			continue

		case ' ':
			if kw := clauseAt(query, i+1); kw != "" {
				newline(&b, level)
				b.WriteString(kw)
				i += len(kw)
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func newline(b *strings.Builder, level int) {
	b.WriteByte('\n')
	for i := 0; i < level; i++ {
		b.WriteString("  ")
	}
}

func clauseAt(s string, i int) string {
	for _, kw := range clauses {
		if !strings.HasPrefix(s[i:], kw) {
			continue
		}
		if end := i + len(kw); end == len(s) || s[end] == ' ' {
			return kw
		}
	}
	return ""
}

// quotedEnd returns the index after the quote closing the one at i. A
// doubled quote is an escaped one.
func quotedEnd(s string, i int) int {
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
