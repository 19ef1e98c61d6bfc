// Package filter turns loosely typed request input into structured record
// predicates.
//
// A Filter is an ordered list of clauses. Each clause kind has one meaning:
//
//	Equality  exact match on a field
//	Range     inclusive integer bounds on a field, each bound optional
//	Pattern   case-insensitive, unanchored substring match
//	Raw       a caller supplied MongoDB query document, forwarded unchanged
//
// A Filter without clauses matches every record.
package filter

import (
	"regexp"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
)

// Clause is one constraint of a Filter.
type Clause interface {
	// doc renders the clause as a MongoDB query fragment.
	doc() bson.M
}

// Equality constrains Field to be exactly Value.
type Equality struct {
	Field string
	Value any
}

// Range constrains Field to Min <= value <= Max. A nil bound is open.
type Range struct {
	Field string
	Min   *int64
	Max   *int64
}

// Pattern constrains Field to contain Text, ignoring case. Text is matched
// literally; regular expression metacharacters carry no meaning.
type Pattern struct {
	Field string
	Text  string
}

// Raw is a fully formed MongoDB query document supplied by the caller.
type Raw struct {
	Document bson.M
}

func (c Equality) doc() bson.M {
	return bson.M{c.Field: c.Value}
}

func (c Range) doc() bson.M {
	bounds := bson.M{}
	if c.Min != nil {
		bounds["$gte"] = *c.Min
	}
	if c.Max != nil {
		bounds["$lte"] = *c.Max
	}
	if len(bounds) == 0 {
		return bson.M{}
	}
	return bson.M{c.Field: bounds}
}

func (c Pattern) doc() bson.M {
	return bson.M{c.Field: bson.M{"$regex": regexp.QuoteMeta(c.Text), "$options": "i"}}
}

func (c Raw) doc() bson.M {
	if c.Document == nil {
		return bson.M{}
	}
	return c.Document
}

// Eq returns an Equality clause.
func Eq(field string, value any) Equality {
	return Equality{Field: field, Value: value}
}

// Between returns a Range clause bounded on both sides.
func Between(field string, min, max int64) Range {
	return Range{Field: field, Min: &min, Max: &max}
}

// AtLeast returns a Range clause with only a lower bound.
func AtLeast(field string, min int64) Range {
	return Range{Field: field, Min: &min}
}

// AtMost returns a Range clause with only an upper bound.
func AtMost(field string, max int64) Range {
	return Range{Field: field, Max: &max}
}

// Contains returns a Pattern clause.
func Contains(field, text string) Pattern {
	return Pattern{Field: field, Text: text}
}

// Passthrough wraps a caller supplied query document.
func Passthrough(doc bson.M) Raw {
	return Raw{Document: doc}
}

// Filter is an immutable conjunction of clauses.
type Filter struct {
	clauses []Clause
}

// New returns a Filter holding the given clauses.
func New(clauses ...Clause) Filter {
	return Filter{clauses: append([]Clause(nil), clauses...)}
}

// And returns a new Filter with extra clauses appended.
func (f Filter) And(clauses ...Clause) Filter {
	out := make([]Clause, 0, len(f.clauses)+len(clauses))
	out = append(out, f.clauses...)
	out = append(out, clauses...)
	return Filter{clauses: out}
}

// Clauses returns a copy of the filter's clauses.
func (f Filter) Clauses() []Clause {
	return append([]Clause(nil), f.clauses...)
}

// IsEmpty reports whether the filter imposes no constraint at all.
func (f Filter) IsEmpty() bool {
	for _, c := range f.clauses {
		if len(c.doc()) > 0 {
			return false
		}
	}
	return true
}

// BSON renders the filter as a MongoDB query document. Clauses are merged
// into one document; if two clauses constrain the same key they are
// combined under $and instead.
func (f Filter) BSON() bson.M {
	var parts []bson.M
	for _, c := range f.clauses {
		if d := c.doc(); len(d) > 0 {
			parts = append(parts, d)
		}
	}

	merged := bson.M{}
	for _, p := range parts {
		for k, v := range p {
			if _, dup := merged[k]; dup {
				and := make(bson.A, 0, len(parts))
				for _, p := range parts {
					and = append(and, p)
				}
				return bson.M{"$and": and}
			}
			merged[k] = v
		}
	}
	return merged
}

func sortedKeys(doc bson.M) []string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
