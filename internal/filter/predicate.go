package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atinyakov/DocKeeper/internal/models"
)

var (
	// ErrUnsupported is returned when a raw document uses an operator the
	// predicate compiler does not understand.
	ErrUnsupported = errors.New("unsupported query operator")
	// ErrForbidden is returned by CheckRaw for operators that execute code
	// on the database server.
	ErrForbidden = errors.New("forbidden query operator")
)

// Op is a comparison or logical operator of a compiled predicate.
type Op string

// Operators understood by Compile.
const (
	OpEq     Op = "$eq"
	OpNe     Op = "$ne"
	OpGt     Op = "$gt"
	OpGte    Op = "$gte"
	OpLt     Op = "$lt"
	OpLte    Op = "$lte"
	OpIn     Op = "$in"
	OpNin    Op = "$nin"
	OpExists Op = "$exists"
	OpRegex  Op = "$regex"
	OpAnd    Op = "$and"
	OpOr     Op = "$or"
	OpNor    Op = "$nor"
)

// Predicate is a node of a compiled filter.
type Predicate interface {
	isPredicate()
}

// Cond tests one field.
//
// For OpIn/OpNin Value is a []any. For OpExists it is a bool. For OpRegex it
// is the pattern source and Fold reports case-insensitive matching.
type Cond struct {
	Path  string
	Op    Op
	Value any
	Fold  bool

	re *regexp.Regexp
}

// Group combines predicates with $and, $or or $nor.
type Group struct {
	Op    Op
	Terms []Predicate
}

func (Cond) isPredicate()  {}
func (Group) isPredicate() {}

var forbidden = map[string]bool{
	"$where":       true,
	"$function":    true,
	"$accumulator": true,
}

// CheckRaw walks a caller supplied document and rejects operators that run
// JavaScript on the server.
func CheckRaw(doc bson.M) error {
	return checkValue(doc)
}

func checkValue(v any) error {
	if d, ok := asDoc(v); ok {
		for k, inner := range d {
			if forbidden[k] {
				return fmt.Errorf("%w: %s", ErrForbidden, k)
			}
			if err := checkValue(inner); err != nil {
				return err
			}
		}
		return nil
	}
	if a, ok := asArray(v); ok {
		for _, inner := range a {
			if err := checkValue(inner); err != nil {
				return err
			}
		}
	}
	return nil
}

// Compile lowers a Filter into a predicate tree. The result is always a
// Group with Op $and; an empty group matches everything.
func Compile(f Filter) (Predicate, error) {
	root := Group{Op: OpAnd}
	for _, c := range f.clauses {
		switch c := c.(type) {
		case Equality:
			root.Terms = append(root.Terms, Cond{Path: c.Field, Op: OpEq, Value: c.Value})
		case Range:
			if c.Min != nil {
				root.Terms = append(root.Terms, Cond{Path: c.Field, Op: OpGte, Value: *c.Min})
			}
			if c.Max != nil {
				root.Terms = append(root.Terms, Cond{Path: c.Field, Op: OpLte, Value: *c.Max})
			}
		case Pattern:
			cond, err := regexCond(c.Field, regexp.QuoteMeta(c.Text), "i")
			if err != nil {
				return nil, err
			}
			root.Terms = append(root.Terms, cond)
		case Raw:
			terms, err := compileDoc(c.Document)
			if err != nil {
				return nil, err
			}
			root.Terms = append(root.Terms, terms...)
		default:
			return nil, fmt.Errorf("%w: clause %T", ErrUnsupported, c)
		}
	}
	return root, nil
}

func compileDoc(doc bson.M) ([]Predicate, error) {
	var terms []Predicate
	for _, key := range sortedKeys(doc) {
		v := doc[key]
		switch {
		case key == string(OpAnd) || key == string(OpOr) || key == string(OpNor):
			g, err := compileGroup(Op(key), v)
			if err != nil {
				return nil, err
			}
			terms = append(terms, g)
		case strings.HasPrefix(key, "$"):
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, key)
		default:
			field, err := compileField(key, v)
			if err != nil {
				return nil, err
			}
			terms = append(terms, field...)
		}
	}
	return terms, nil
}

func compileGroup(op Op, v any) (Predicate, error) {
	items, ok := asArray(v)
	if !ok || len(items) == 0 {
		return nil, fmt.Errorf("%w: %s needs a non-empty array", ErrUnsupported, op)
	}
	g := Group{Op: op}
	for _, item := range items {
		d, ok := asDoc(item)
		if !ok {
			return nil, fmt.Errorf("%w: %s entries must be documents", ErrUnsupported, op)
		}
		terms, err := compileDoc(d)
		if err != nil {
			return nil, err
		}
		g.Terms = append(g.Terms, Group{Op: OpAnd, Terms: terms})
	}
	return g, nil
}

func compileField(path string, v any) ([]Predicate, error) {
	if re, ok := v.(primitive.Regex); ok {
		cond, err := regexCond(path, re.Pattern, re.Options)
		if err != nil {
			return nil, err
		}
		return []Predicate{cond}, nil
	}

	ops, ok := asDoc(v)
	if !ok || !isOperatorDoc(ops) {
		return []Predicate{Cond{Path: path, Op: OpEq, Value: v}}, nil
	}

	var terms []Predicate
	for _, key := range sortedKeys(ops) {
		arg := ops[key]
		switch op := Op(key); op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
			terms = append(terms, Cond{Path: path, Op: op, Value: arg})
		case OpIn, OpNin:
			list, ok := asArray(arg)
			if !ok {
				return nil, fmt.Errorf("%w: %s needs an array", ErrUnsupported, op)
			}
			terms = append(terms, Cond{Path: path, Op: op, Value: list})
		case OpExists:
			terms = append(terms, Cond{Path: path, Op: op, Value: truthy(arg)})
		case OpRegex:
			pattern, options, err := regexArgs(arg, ops["$options"])
			if err != nil {
				return nil, err
			}
			cond, err := regexCond(path, pattern, options)
			if err != nil {
				return nil, err
			}
			terms = append(terms, cond)
		case "$options":
			if _, ok := ops["$regex"]; !ok {
				return nil, fmt.Errorf("%w: $options without $regex", ErrUnsupported)
			}
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, key)
		}
	}
	return terms, nil
}

func regexArgs(pattern, options any) (string, string, error) {
	var p, o string
	switch t := pattern.(type) {
	case string:
		p = t
	case primitive.Regex:
		p, o = t.Pattern, t.Options
	default:
		return "", "", fmt.Errorf("%w: $regex needs a string", ErrUnsupported)
	}
	if s, ok := options.(string); ok {
		o = s
	}
	return p, o, nil
}

func regexCond(path, pattern, options string) (Cond, error) {
	fold := strings.Contains(options, "i")
	src := pattern
	if fold {
		src = "(?i)" + src
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return Cond{}, fmt.Errorf("%w: bad $regex %q: %v", ErrUnsupported, pattern, err)
	}
	return Cond{Path: path, Op: OpRegex, Value: pattern, Fold: fold, re: re}, nil
}

func isOperatorDoc(d bson.M) bool {
	if len(d) == 0 {
		return false
	}
	for k := range d {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	}
	if n, ok := toFloat(v); ok {
		return n != 0
	}
	return true
}

func asDoc(v any) (bson.M, bool) {
	switch t := v.(type) {
	case bson.M:
		return t, true
	case map[string]any:
		return bson.M(t), true
	case bson.D:
		return models.CloneValue(t).(models.Record), true
	}
	return nil, false
}

func asArray(v any) ([]any, bool) {
	switch t := v.(type) {
	case primitive.A:
		return []any(t), true
	case []any:
		return t, true
	}
	return nil, false
}
