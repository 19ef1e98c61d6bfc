// Package service composes identifier parsing and filter building into
// record operations, delegating persistence to a RecordRepository. Every
// operation makes at most one repository call.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/atinyakov/DocKeeper/internal/filter"
	"github.com/atinyakov/DocKeeper/internal/identifier"
	"github.com/atinyakov/DocKeeper/internal/models"
)

var (
	// ErrEmptyFilter guards bulk deletes against wiping a collection.
	ErrEmptyFilter = errors.New("filter is required")
	// ErrEmptyBatch is returned for a bulk insert without records.
	ErrEmptyBatch = errors.New("batch must contain at least one record")
	// ErrMissingUpdate is returned for a bulk update without a filter or an
	// update document.
	ErrMissingUpdate = errors.New("Both 'filter' and 'update' are required")
	// ErrOperatorField is returned for a record or update with a field name
	// (or dotted path segment) starting with '$'.
	ErrOperatorField = errors.New("field names must not start with '$'")
)

// RecordRepository defines the persistence operations needed by the
// RecordService.
type RecordRepository interface {
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

// QueryRequest is a caller supplied filter/sort/limit triple. Filter is
// forwarded without interpretation apart from rejecting server-side code.
type QueryRequest struct {
	Filter bson.M
	Sort   bson.D
	Limit  int64
}

// RecordService implements record operations for one collection.
type RecordService struct {
	repo RecordRepository
}

// NewRecordService constructs a RecordService over repo.
func NewRecordService(repo RecordRepository) *RecordService {
	return &RecordService{repo: repo}
}

func byID(raw string) (filter.Filter, error) {
	id, err := identifier.Parse(raw)
	if err != nil {
		return filter.Filter{}, err
	}
	return filter.New(filter.Eq(models.IDField, id)), nil
}

func raw(doc bson.M) (filter.Filter, error) {
	if err := filter.CheckRaw(doc); err != nil {
		return filter.Filter{}, err
	}
	return filter.New(filter.Passthrough(doc)), nil
}

// checkFields rejects operator-looking field names, which MongoDB refuses
// and the other backends would store as plain data.
func checkFields(doc models.Record) error {
	for k := range doc {
		for _, part := range strings.Split(k, ".") {
			if strings.HasPrefix(part, "$") {
				return fmt.Errorf("%w: %q", ErrOperatorField, k)
			}
		}
	}
	return nil
}

// Create inserts rec and returns the stored record, _id included.
func (s *RecordService) Create(ctx context.Context, rec models.Record) (models.Record, error) {
	if err := checkFields(rec); err != nil {
		return nil, err
	}
	id, err := s.repo.InsertOne(ctx, rec)
	if err != nil {
		return nil, err
	}
	return models.WithID(rec, id), nil
}

// CreateMany inserts recs and returns their ids in input order.
func (s *RecordService) CreateMany(ctx context.Context, recs []models.Record) ([]any, error) {
	if len(recs) == 0 {
		return nil, ErrEmptyBatch
	}
	for _, rec := range recs {
		if err := checkFields(rec); err != nil {
			return nil, err
		}
	}
	return s.repo.InsertMany(ctx, recs)
}

// List returns every record.
func (s *RecordService) List(ctx context.Context) ([]models.Record, error) {
	return s.repo.Find(ctx, filter.Query{Filter: filter.New()})
}

// Get looks a record up by its identifier.
func (s *RecordService) Get(ctx context.Context, rawID string) (models.Lookup, error) {
	f, err := byID(rawID)
	if err != nil {
		return models.NotFound, err
	}
	return s.repo.FindOne(ctx, f)
}

// Search builds a filter from values and returns it with the matching
// records.
func (s *RecordService) Search(ctx context.Context, values url.Values, params []filter.Param) (filter.Filter, []models.Record, error) {
	f, err := filter.Build(values, params)
	if err != nil {
		return filter.Filter{}, nil, err
	}
	docs, err := s.repo.Find(ctx, filter.Query{Filter: f})
	if err != nil {
		return f, nil, err
	}
	return f, docs, nil
}

// FindByField returns the first record whose field equals value.
func (s *RecordService) FindByField(ctx context.Context, field, value string) (models.Lookup, error) {
	return s.repo.FindOne(ctx, filter.New(filter.Eq(field, value)))
}

// Query runs a caller supplied query.
func (s *RecordService) Query(ctx context.Context, q QueryRequest) ([]models.Record, error) {
	f, err := raw(q.Filter)
	if err != nil {
		return nil, err
	}
	return s.repo.Find(ctx, filter.Query{Filter: f, Sort: q.Sort, Limit: q.Limit})
}

// Count builds a filter from values and counts the matching records.
func (s *RecordService) Count(ctx context.Context, values url.Values) (filter.Filter, int64, error) {
	f, err := filter.Build(values, filter.CountParams)
	if err != nil {
		return filter.Filter{}, 0, err
	}
	n, err := s.repo.Count(ctx, f)
	if err != nil {
		return f, 0, err
	}
	return f, n, nil
}

// Update merges set into the record with the given identifier.
func (s *RecordService) Update(ctx context.Context, rawID string, set models.Record) (models.UpdateResult, error) {
	f, err := byID(rawID)
	if err != nil {
		return models.UpdateResult{}, err
	}
	if err := checkFields(set); err != nil {
		return models.UpdateResult{}, err
	}
	return s.repo.UpdateOne(ctx, f, set)
}

// UpdateAndReturn merges set into the record with the given identifier and
// returns the result.
func (s *RecordService) UpdateAndReturn(ctx context.Context, rawID string, set models.Record) (models.Lookup, error) {
	f, err := byID(rawID)
	if err != nil {
		return models.NotFound, err
	}
	if err := checkFields(set); err != nil {
		return models.NotFound, err
	}
	return s.repo.FindOneAndUpdate(ctx, f, set)
}

// UpdateMany merges set into every record matching the raw filter doc.
func (s *RecordService) UpdateMany(ctx context.Context, doc bson.M, set models.Record) (models.UpdateResult, error) {
	if doc == nil || set == nil {
		return models.UpdateResult{}, ErrMissingUpdate
	}
	if err := checkFields(set); err != nil {
		return models.UpdateResult{}, err
	}
	f, err := raw(doc)
	if err != nil {
		return models.UpdateResult{}, err
	}
	return s.repo.UpdateMany(ctx, f, set)
}

// Replace swaps the record with the given identifier for rec.
func (s *RecordService) Replace(ctx context.Context, rawID string, rec models.Record) (models.UpdateResult, error) {
	f, err := byID(rawID)
	if err != nil {
		return models.UpdateResult{}, err
	}
	if err := checkFields(rec); err != nil {
		return models.UpdateResult{}, err
	}
	return s.repo.ReplaceOne(ctx, f, rec)
}

// Delete removes the record with the given identifier.
func (s *RecordService) Delete(ctx context.Context, rawID string) (models.DeleteResult, error) {
	f, err := byID(rawID)
	if err != nil {
		return models.DeleteResult{}, err
	}
	return s.repo.DeleteOne(ctx, f)
}

// DeleteAndReturn removes the record with the given identifier and returns
// it.
func (s *RecordService) DeleteAndReturn(ctx context.Context, rawID string) (models.Lookup, error) {
	f, err := byID(rawID)
	if err != nil {
		return models.NotFound, err
	}
	return s.repo.FindOneAndDelete(ctx, f)
}

// DeleteMany removes every record matching the raw filter doc. An empty
// or missing doc is refused.
func (s *RecordService) DeleteMany(ctx context.Context, doc bson.M) (models.DeleteResult, error) {
	if len(doc) == 0 {
		return models.DeleteResult{}, ErrEmptyFilter
	}
	f, err := raw(doc)
	if err != nil {
		return models.DeleteResult{}, err
	}
	if f.IsEmpty() {
		return models.DeleteResult{}, ErrEmptyFilter
	}
	return s.repo.DeleteMany(ctx, f)
}

// DeleteAll removes every record.
func (s *RecordService) DeleteAll(ctx context.Context) (models.DeleteResult, error) {
	return s.repo.DeleteMany(ctx, filter.New())
}

// Stats returns storage statistics for the collection.
func (s *RecordService) Stats(ctx context.Context) (models.Record, error) {
	return s.repo.Stats(ctx)
}
