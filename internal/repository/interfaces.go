// Package repository provides record persistence over MongoDB, PostgreSQL,
// process memory and a JSON file, all behind one collection-scoped
// interface.
package repository

import (
	"context"
	"errors"

	"github.com/atinyakov/DocKeeper/internal/filter"
	"github.com/atinyakov/DocKeeper/internal/models"
)

var (
	// ErrNotConnected is returned by a Handle whose backend is not set yet.
	ErrNotConnected = errors.New("database is not connected")
	// ErrDuplicateKey is returned when an insert reuses an existing _id.
	ErrDuplicateKey = errors.New("duplicate key")
)

// Records is the set of operations every backend supports on one
// collection. Each method is a single storage call.
type Records interface {
	InsertOne(ctx context.Context, rec models.Record) (any, error)
	InsertMany(ctx context.Context, recs []models.Record) ([]any, error)
	Find(ctx context.Context, q filter.Query) ([]models.Record, error)
	FindOne(ctx context.Context, f filter.Filter) (models.Lookup, error)
	Count(ctx context.Context, f filter.Filter) (int64, error)
	UpdateOne(ctx context.Context, f filter.Filter, set models.Record) (models.UpdateResult, error)
	UpdateMany(ctx context.Context, f filter.Filter, set models.Record) (models.UpdateResult, error)
	FindOneAndUpdate(ctx context.Context, f filter.Filter, set models.Record) (models.Lookup, error)
	ReplaceOne(ctx context.Context, f filter.Filter, rec models.Record) (models.UpdateResult, error)
	DeleteOne(ctx context.Context, f filter.Filter) (models.DeleteResult, error)
	FindOneAndDelete(ctx context.Context, f filter.Filter) (models.Lookup, error)
	DeleteMany(ctx context.Context, f filter.Filter) (models.DeleteResult, error)
	Stats(ctx context.Context) (models.Record, error)
}

// Backend hands out collection-scoped repositories over one connection.
type Backend interface {
	// Name identifies the storage engine ("mongo", "postgres", ...).
	Name() string
	// Records returns the repository for a collection.
	Records(collection string) Records
	// Close releases the underlying connection.
	Close(ctx context.Context) error
}
