package repository

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atinyakov/DocKeeper/internal/filter"
	"github.com/atinyakov/DocKeeper/internal/identifier"
	"github.com/atinyakov/DocKeeper/internal/models"
)

// sqlBuilder renders compiled predicates into a WHERE fragment over the
// records table. $1 is always the collection name.
type sqlBuilder struct {
	args []any
}

func newSQLBuilder(collection string) *sqlBuilder {
	return &sqlBuilder{args: []any{collection}}
}

func (b *sqlBuilder) bind(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

var comparisons = map[filter.Op]string{
	filter.OpGt:  ">",
	filter.OpGte: ">=",
	filter.OpLt:  "<",
	filter.OpLte: "<=",
}

// filter compiles f and renders it.
func (b *sqlBuilder) filter(f filter.Filter) (string, error) {
	p, err := filter.Compile(f)
	if err != nil {
		return "", err
	}
	return b.where(p)
}

func (b *sqlBuilder) where(p filter.Predicate) (string, error) {
	switch p := p.(type) {
	case filter.Group:
		if len(p.Terms) == 0 {
			return "TRUE", nil
		}
		parts := make([]string, 0, len(p.Terms))
		for _, t := range p.Terms {
			s, err := b.where(t)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		switch p.Op {
		case filter.OpOr:
			return "(" + strings.Join(parts, " OR ") + ")", nil
		case filter.OpNor:
			return "NOT (" + strings.Join(parts, " OR ") + ")", nil
		}
		return "(" + strings.Join(parts, " AND ") + ")", nil
	case filter.Cond:
		if p.Path == models.IDField {
			return b.idCond(p)
		}
		return b.fieldCond(p)
	}
	return "", fmt.Errorf("%w: predicate %T", filter.ErrUnsupported, p)
}

// idCond handles conditions on _id, which lives in its own text column.
func (b *sqlBuilder) idCond(c filter.Cond) (string, error) {
	switch c.Op {
	case filter.OpExists:
		if c.Value.(bool) {
			return "TRUE", nil
		}
		return "FALSE", nil
	case filter.OpEq, filter.OpNe:
		key, ok := identifier.Normalize(c.Value)
		if !ok {
			if c.Op == filter.OpEq {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		if c.Op == filter.OpEq {
			return "id = " + b.bind(key), nil
		}
		return "id <> " + b.bind(key), nil
	case filter.OpIn, filter.OpNin:
		var keys []string
		for _, v := range c.Value.([]any) {
			if key, ok := identifier.Normalize(v); ok {
				keys = append(keys, key)
			}
		}
		// pq binds an empty array as NULL, which would make $nin match nothing.
		if len(keys) == 0 {
			if c.Op == filter.OpNin {
				return "TRUE", nil
			}
			return "FALSE", nil
		}
		in := "id = ANY(" + b.bind(pq.Array(keys)) + "::text[])"
		if c.Op == filter.OpNin {
			return "NOT " + in, nil
		}
		return in, nil
	case filter.OpGt, filter.OpGte, filter.OpLt, filter.OpLte:
		key, ok := identifier.Normalize(c.Value)
		if !ok {
			return "FALSE", nil
		}
		return "id " + comparisons[c.Op] + " " + b.bind(key), nil
	case filter.OpRegex:
		return "id " + regexOp(c.Fold) + " " + b.bind(c.Value), nil
	}
	return "", fmt.Errorf("%w: %s on _id", filter.ErrUnsupported, c.Op)
}

func (b *sqlBuilder) fieldCond(c filter.Cond) (string, error) {
	parts := strings.Split(c.Path, ".")
	// The path is bound on first use; postgres rejects parameters it
	// never sees referenced.
	var path string
	ref := func() string {
		if path == "" {
			path = b.bind(pq.Array(parts)) + "::text[]"
		}
		return "data #> " + path
	}
	text := func() string {
		ref()
		return "data #>> " + path
	}

	switch c.Op {
	case filter.OpExists:
		if c.Value.(bool) {
			return ref() + " IS NOT NULL", nil
		}
		return ref() + " IS NULL", nil
	case filter.OpEq:
		return b.eq(parts, ref, c.Value)
	case filter.OpNe:
		eq, err := b.eq(parts, ref, c.Value)
		if err != nil {
			return "", err
		}
		return "NOT COALESCE(" + eq + ", FALSE)", nil
	case filter.OpIn, filter.OpNin:
		values := c.Value.([]any)
		if len(values) == 0 {
			if c.Op == filter.OpIn {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		ors := make([]string, 0, len(values))
		for _, v := range values {
			eq, err := b.eq(parts, ref, v)
			if err != nil {
				return "", err
			}
			ors = append(ors, eq)
		}
		in := "(" + strings.Join(ors, " OR ") + ")"
		if c.Op == filter.OpNin {
			return "NOT COALESCE(" + in + ", FALSE)", nil
		}
		return in, nil
	case filter.OpGt, filter.OpGte, filter.OpLt, filter.OpLte:
		op := comparisons[c.Op]
		if n, ok := filter.Number(c.Value); ok {
			return "CASE WHEN jsonb_typeof(" + ref() + ") = 'number' THEN (" + text() + ")::numeric " +
				op + " " + b.bind(n) + "::numeric ELSE FALSE END", nil
		}
		if s, ok := c.Value.(string); ok {
			return "CASE WHEN jsonb_typeof(" + ref() + ") = 'string' THEN " + text() + " " +
				op + " " + b.bind(s) + " ELSE FALSE END", nil
		}
		return "", fmt.Errorf("%w: %s with %T on postgres", filter.ErrUnsupported, c.Op, c.Value)
	case filter.OpRegex:
		return "CASE WHEN jsonb_typeof(" + ref() + ") = 'string' THEN " + text() + " " +
			regexOp(c.Fold) + " " + b.bind(c.Value) + " ELSE FALSE END", nil
	}
	return "", fmt.Errorf("%w: %s", filter.ErrUnsupported, c.Op)
}

// eq renders equality. Scalars use containment so a value also matches
// as an element of an array field; documents and arrays compare whole.
func (b *sqlBuilder) eq(parts []string, ref func() string, v any) (string, error) {
	if v == nil {
		return "(" + ref() + " IS NULL OR " + ref() + " = 'null'::jsonb)", nil
	}
	switch v.(type) {
	case bson.M, map[string]any, bson.D, primitive.A, []any:
		enc, err := extValue(v)
		if err != nil {
			return "", err
		}
		return "COALESCE(" + ref() + " = " + b.bind(enc) + "::jsonb, FALSE)", nil
	}

	whole, err := containment(parts, v)
	if err != nil {
		return "", err
	}
	elem, err := containment(parts, primitive.A{v})
	if err != nil {
		return "", err
	}
	return "(data @> " + b.bind(whole) + "::jsonb OR data @> " + b.bind(elem) + "::jsonb)", nil
}

func (b *sqlBuilder) orderBy(sort bson.D) string {
	var terms []string
	for _, k := range models.SortKeys(sort) {
		col := "id"
		if k.Field != models.IDField {
			col = "data #> " + b.bind(pq.Array(strings.Split(k.Field, "."))) + "::text[]"
		}
		if k.Desc {
			col += " DESC"
		}
		terms = append(terms, col)
	}
	terms = append(terms, "seq")
	return " ORDER BY " + strings.Join(terms, ", ")
}

func regexOp(fold bool) string {
	if fold {
		return "~*"
	}
	return "~"
}

// containment nests v under parts: ["a","b"] -> {"a":{"b":v}}.
func containment(parts []string, v any) (string, error) {
	var doc any = v
	for i := len(parts) - 1; i >= 0; i-- {
		doc = bson.M{parts[i]: doc}
	}
	out, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return "", fmt.Errorf("encode filter value: %w", err)
	}
	return string(out), nil
}

// extValue encodes one value as relaxed Extended JSON, the same encoding
// used for the data column.
func extValue(v any) (string, error) {
	out, err := bson.MarshalExtJSON(bson.M{"v": v}, false, false)
	if err != nil {
		return "", fmt.Errorf("encode filter value: %w", err)
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(out, &wrapped); err != nil {
		return "", fmt.Errorf("encode filter value: %w", err)
	}
	return string(wrapped["v"]), nil
}

// encodeDocument renders a record for the data column. _id is kept out of
// the document because it is stored in the id column.
func encodeDocument(rec models.Record) (string, error) {
	doc := models.Clone(rec)
	if doc == nil {
		doc = models.Record{}
	}
	delete(doc, models.IDField)
	out, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(out), nil
}

// encodeSet renders the fields of a $set. Only top-level fields can be
// merged with the jsonb || operator.
func encodeSet(set models.Record) (string, error) {
	for k := range set {
		if strings.Contains(k, ".") {
			return "", fmt.Errorf("%w: nested field %q in update on postgres", filter.ErrUnsupported, k)
		}
	}
	return encodeDocument(set)
}

func decodeDocument(key string, data []byte) (models.Record, error) {
	var doc models.Record
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", key, err)
	}
	return models.WithID(doc, identifier.Restore(key)), nil
}
