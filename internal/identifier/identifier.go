// Package identifier validates and parses externally supplied record
// identifiers. Identifiers follow the MongoDB ObjectID grammar: exactly 24
// hexadecimal characters.
package identifier

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrInvalid is returned for strings that are not valid identifiers.
var ErrInvalid = errors.New("Invalid ObjectId format")

// Parse converts raw into an ObjectID. It performs no trimming or other
// normalization; anything outside the grammar yields ErrInvalid.
func Parse(raw string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	return id, nil
}

// Valid reports whether raw would parse.
func Valid(raw string) bool {
	return primitive.IsValidObjectID(raw)
}

// New generates a fresh identifier.
func New() primitive.ObjectID {
	return primitive.NewObjectID()
}

// Normalize renders an "_id" value as a string key. ObjectIDs render as
// hex, strings are returned as is. Any other type reports false.
func Normalize(v any) (string, bool) {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex(), true
	case string:
		return id, true
	}
	return "", false
}

// Restore is the inverse of Normalize for stored keys: a key that looks like
// an ObjectID comes back as one so it serializes the same way it went in.
func Restore(key string) any {
	if id, err := primitive.ObjectIDFromHex(key); err == nil {
		return id
	}
	return key
}
