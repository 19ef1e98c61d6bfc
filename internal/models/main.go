// Package models defines the core data structures shared by the storage,
// service and transport layers.
package models

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDField is the name of the field holding a record's identifier.
const IDField = "_id"

// Record is a schemaless document. Field names and value types are chosen
// by the caller at insert time; "_id" is assigned once the record is stored.
type Record = bson.M

// Lookup is the outcome of a single-record read. A miss is a normal result,
// not an error.
type Lookup struct {
	// Record holds the matched document when Found is true.
	Record Record
	// Found reports whether a document matched.
	Found bool
}

// Found wraps a matched record.
func Found(r Record) Lookup {
	return Lookup{Record: r, Found: true}
}

// NotFound is the Lookup returned when nothing matched.
var NotFound = Lookup{}

// UpdateResult reports how many documents an update or replace matched
// and how many of those actually changed.
type UpdateResult struct {
	Matched  int64 `json:"matchedCount"`
	Modified int64 `json:"modifiedCount"`
}

// DeleteResult reports how many documents a delete removed.
type DeleteResult struct {
	Deleted int64 `json:"deletedCount"`
}

// SortKey is one ordering term of a Query.
type SortKey struct {
	// Field is the (possibly dotted) field path to order by.
	Field string
	// Desc orders from largest to smallest.
	Desc bool
}

// SortKeys converts an ordered MongoDB sort document ({field: 1|-1}) into
// sort keys. Non-numeric directions are treated as ascending.
func SortKeys(doc bson.D) []SortKey {
	keys := make([]SortKey, 0, len(doc))
	for _, e := range doc {
		keys = append(keys, SortKey{Field: e.Key, Desc: direction(e.Value) < 0})
	}
	return keys
}

func direction(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 1
}

// Clone returns a deep copy of r with nested documents normalized to Record
// and arrays to primitive.A.
func Clone(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a single document value. bson.D and plain maps
// become Record so every consumer sees one document shape.
func CloneValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return Clone(t)
	case map[string]any:
		return Clone(Record(t))
	case bson.D:
		m := make(Record, len(t))
		for _, e := range t {
			m[e.Key] = CloneValue(e.Value)
		}
		return m
	case primitive.A:
		out := make(primitive.A, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case []any:
		out := make(primitive.A, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	}
	return v
}

// WithID returns a copy of r whose "_id" is set to id.
func WithID(r Record, id any) Record {
	out := Clone(r)
	if out == nil {
		out = Record{}
	}
	out[IDField] = id
	return out
}
