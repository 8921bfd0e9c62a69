package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrCardinality is wrapped by every *CardinalityError.
var ErrCardinality = errors.New("cardinality violation")

type CardinalityError struct {
	Query       string
	Cardinality Cardinality
	Rows        int
}

func (e *CardinalityError) Error() string {
	var want string
	switch e.Cardinality {
	case CardinalityOne:
		want = "exactly one row"
	default:
		want = "at most one row"
	}
	if e.Query == "" {
		return fmt.Sprintf("%s: expected %s, got %d", ErrCardinality, want, e.Rows)
	}
	return fmt.Sprintf("%s: query '%s' expected %s, got %d", ErrCardinality, e.Query, want, e.Rows)
}

func (e *CardinalityError) Unwrap() error {
	return ErrCardinality
}

// CastToCardinality shapes the rows of one parent: a single Row for "one",
// a Row or nil for "nullable" and the rows themselves, never nil, for
// "collection".
func CastToCardinality(rows []Row, c Cardinality) (any, error) {
	switch c {
	case CardinalityOne:
		if len(rows) != 1 {
			return nil, &CardinalityError{Cardinality: c, Rows: len(rows)}
		}
		return rows[0], nil

	case CardinalityNullable:
		switch len(rows) {
		case 0:
			return nil, nil
		case 1:
			return rows[0], nil
		}
		return nil, &CardinalityError{Cardinality: c, Rows: len(rows)}

	case CardinalityCollection:
		if rows == nil {
			return []Row{}, nil
		}
		return rows, nil
	}
	return nil, fmt.Errorf("%w: unknown cardinality '%s'", ErrInternal, c)
}
