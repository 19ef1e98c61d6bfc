package filter

import (
	"fmt"
	"net/url"
	"strconv"
)

// Kind says how a query parameter becomes a clause.
type Kind int

const (
	// KindEquality matches the raw string exactly.
	KindEquality Kind = iota
	// KindInteger parses the value as an integer and matches it exactly.
	KindInteger
	// KindMin is an inclusive lower bound.
	KindMin
	// KindMax is an inclusive upper bound.
	KindMax
	// KindPattern is a case-insensitive substring match.
	KindPattern
)

// Param binds a query parameter name to a record field.
type Param struct {
	Name  string
	Field string
	Kind  Kind
}

// ParamError reports a query parameter that could not be interpreted.
type ParamError struct {
	Param string
	Value string
	Err   error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s must be an integer, got %q", e.Param, e.Value)
}

func (e *ParamError) Unwrap() error { return e.Err }

// SearchParams drive GET /{resource}/search.
var SearchParams = []Param{
	{Name: "name", Field: "name", Kind: KindPattern},
	{Name: "email", Field: "email", Kind: KindEquality},
	{Name: "minAge", Field: "age", Kind: KindMin},
	{Name: "maxAge", Field: "age", Kind: KindMax},
}

// CountParams drive GET /{resource}/count.
var CountParams = []Param{
	{Name: "age", Field: "age", Kind: KindInteger},
	{Name: "email", Field: "email", Kind: KindEquality},
}

// AgeRangeParams drive GET /{resource}/search/age.
var AgeRangeParams = []Param{
	{Name: "min", Field: "age", Kind: KindMin},
	{Name: "max", Field: "age", Kind: KindMax},
}

// Build assembles a Filter from query values. Absent or empty parameters
// add no constraint. Min/Max bounds on the same field share one Range.
func Build(values url.Values, params []Param) (Filter, error) {
	var clauses []Clause
	ranges := map[string]int{}

	for _, p := range params {
		raw := values.Get(p.Name)
		if raw == "" {
			continue
		}

		switch p.Kind {
		case KindEquality:
			clauses = append(clauses, Eq(p.Field, raw))
		case KindPattern:
			clauses = append(clauses, Contains(p.Field, raw))
		case KindInteger, KindMin, KindMax:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return Filter{}, &ParamError{Param: p.Name, Value: raw, Err: err}
			}
			if p.Kind == KindInteger {
				clauses = append(clauses, Eq(p.Field, n))
				continue
			}

			i, ok := ranges[p.Field]
			if !ok {
				i = len(clauses)
				ranges[p.Field] = i
				clauses = append(clauses, Range{Field: p.Field})
			}
			r := clauses[i].(Range)
			if p.Kind == KindMin {
				r.Min = &n
			} else {
				r.Max = &n
			}
			clauses[i] = r
		}
	}

	return New(clauses...), nil
}
