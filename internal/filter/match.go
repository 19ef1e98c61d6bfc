package filter

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atinyakov/DocKeeper/internal/models"
)

// Match evaluates a compiled predicate against a record.
func Match(p Predicate, rec models.Record) bool {
	switch p := p.(type) {
	case Group:
		switch p.Op {
		case OpOr:
			for _, t := range p.Terms {
				if Match(t, rec) {
					return true
				}
			}
			return false
		case OpNor:
			for _, t := range p.Terms {
				if Match(t, rec) {
					return false
				}
			}
			return true
		default:
			for _, t := range p.Terms {
				if !Match(t, rec) {
					return false
				}
			}
			return true
		}
	case Cond:
		return matchCond(p, rec)
	}
	return false
}

func matchCond(c Cond, rec models.Record) bool {
	values, present := resolve(rec, c.Path)

	switch c.Op {
	case OpExists:
		return present == c.Value.(bool)
	case OpEq:
		return matchesEq(values, present, c.Value)
	case OpNe:
		return !matchesEq(values, present, c.Value)
	case OpIn:
		for _, want := range c.Value.([]any) {
			if matchesEq(values, present, want) {
				return true
			}
		}
		return false
	case OpNin:
		for _, want := range c.Value.([]any) {
			if matchesEq(values, present, want) {
				return false
			}
		}
		return true
	case OpRegex:
		for _, v := range expand(values) {
			if s, ok := v.(string); ok && c.re != nil && c.re.MatchString(s) {
				return true
			}
		}
		return false
	case OpGt, OpGte, OpLt, OpLte:
		for _, v := range expand(values) {
			cmp, ok := Compare(v, c.Value)
			if !ok {
				continue
			}
			switch {
			case c.Op == OpGt && cmp > 0,
				c.Op == OpGte && cmp >= 0,
				c.Op == OpLt && cmp < 0,
				c.Op == OpLte && cmp <= 0:
				return true
			}
		}
		return false
	}
	return false
}

// matchesEq follows MongoDB equality: a null query value also matches a
// missing field, and an array field matches if it equals the value or any
// element does.
func matchesEq(values []any, present bool, want any) bool {
	if want == nil && !present {
		return true
	}
	for _, v := range values {
		if Equal(v, want) {
			return true
		}
		if arr, ok := asArray(v); ok {
			for _, e := range arr {
				if Equal(e, want) {
					return true
				}
			}
		}
	}
	return false
}

// expand flattens array values one level so range and pattern operators
// can test individual elements.
func expand(values []any) []any {
	var out []any
	for _, v := range values {
		if arr, ok := asArray(v); ok {
			out = append(out, arr...)
			continue
		}
		out = append(out, v)
	}
	return out
}

// resolve returns every value reachable under a dotted path. Arrays of
// documents along the way fan out.
func resolve(rec models.Record, path string) ([]any, bool) {
	current := []any{rec}
	for _, part := range strings.Split(path, ".") {
		var next []any
		for _, v := range current {
			if d, ok := asDoc(v); ok {
				if inner, ok := d[part]; ok {
					next = append(next, inner)
				}
				continue
			}
			if arr, ok := asArray(v); ok {
				for _, e := range arr {
					if d, ok := asDoc(e); ok {
						if inner, ok := d[part]; ok {
							next = append(next, inner)
						}
					}
				}
			}
		}
		if len(next) == 0 {
			return nil, false
		}
		current = next
	}
	return current, true
}

// Lookup returns the first value under a dotted path.
func Lookup(rec models.Record, path string) (any, bool) {
	values, ok := resolve(rec, path)
	if !ok {
		return nil, false
	}
	return values[0], true
}

// Equal compares two document values. Numbers compare by value across
// integer and floating types.
func Equal(a, b any) bool {
	if cmp, ok := Compare(a, b); ok {
		return cmp == 0
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if da, ok := asDoc(a); ok {
		db, ok := asDoc(b)
		if !ok || len(da) != len(db) {
			return false
		}
		for k, v := range da {
			w, ok := db[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	if aa, ok := asArray(a); ok {
		ab, ok := asArray(b)
		if !ok || len(aa) != len(ab) {
			return false
		}
		for i := range aa {
			if !Equal(aa[i], ab[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two scalar values of the same kind. ok is false when the
// values are not comparable (different kinds, documents, arrays).
func Compare(a, b any) (cmp int, ok bool) {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		return three(x < y, x > y), true
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		return three(!x && y, x && !y), true
	case primitive.ObjectID:
		y, ok := b.(primitive.ObjectID)
		if !ok {
			return 0, false
		}
		return strings.Compare(x.Hex(), y.Hex()), true
	}
	if x, ok := toTime(a); ok {
		y, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return three(x.Before(y), x.After(y)), true
	}
	return 0, false
}

// Order is a total order over document values, following the BSON type
// order: missing/null, numbers, strings, documents, arrays, ObjectIDs,
// booleans, dates.
func Order(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return three(ra < rb, ra > rb)
	}
	if cmp, ok := Compare(a, b); ok {
		return cmp
	}
	return 0
}

func rank(v any) int {
	if v == nil {
		return 0
	}
	if _, ok := toFloat(v); ok {
		return 1
	}
	if _, ok := toTime(v); ok {
		return 7
	}
	switch v.(type) {
	case string:
		return 2
	case primitive.ObjectID:
		return 5
	case bool:
		return 6
	}
	if _, ok := asDoc(v); ok {
		return 3
	}
	if _, ok := asArray(v); ok {
		return 4
	}
	return 8
}

func three(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

// Number reports whether v is numeric and returns it as a float64.
func Number(v any) (float64, bool) {
	return toFloat(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	}
	return time.Time{}, false
}
