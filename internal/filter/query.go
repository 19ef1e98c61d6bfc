package filter

import "go.mongodb.org/mongo-driver/bson"

// Query is a read request: which records, in what order, how many.
type Query struct {
	Filter Filter
	// Sort is an ordered {field: 1|-1} document.
	Sort bson.D
	// Limit caps the result size when positive.
	Limit int64
}
