package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/atinyakov/DocKeeper/internal/filter"
	"github.com/atinyakov/DocKeeper/internal/identifier"
	"github.com/atinyakov/DocKeeper/internal/models"
)

// MemoryBackend keeps collections in process memory. Records are kept in
// insertion order; filters are evaluated with filter.Match.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string][]models.Record
	// onChange, if set, runs under the write lock after every mutation.
	onChange func(map[string][]models.Record) error
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{collections: make(map[string][]models.Record)}
}

// Name implements Backend.
func (b *MemoryBackend) Name() string { return "memory" }

// Records implements Backend.
func (b *MemoryBackend) Records(collection string) Records {
	return &MemoryRecordRepository{backend: b, collection: collection}
}

// Close implements Backend. Memory needs no cleanup.
func (b *MemoryBackend) Close(context.Context) error { return nil }

// mutate runs fn on a collection under the write lock. The collection is
// only replaced, and onChange only fires, when fn succeeds.
func (b *MemoryBackend) mutate(collection string, fn func([]models.Record) ([]models.Record, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, had := b.collections[collection]
	next, err := fn(prev)
	if err != nil {
		return err
	}
	b.collections[collection] = next
	if b.onChange != nil {
		if err := b.onChange(b.collections); err != nil {
			if had {
				b.collections[collection] = prev
			} else {
				delete(b.collections, collection)
			}
			return err
		}
	}
	return nil
}

func (b *MemoryBackend) snapshot(collection string) []models.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.collections[collection]
}

// MemoryRecordRepository implements Records over one MemoryBackend
// collection. Returned records are deep copies.
type MemoryRecordRepository struct {
	backend    *MemoryBackend
	collection string
}

func idKey(rec models.Record) (string, bool) {
	return identifier.Normalize(rec[models.IDField])
}

func prepareMemoryInsert(rec models.Record, seen map[string]bool) (models.Record, error) {
	doc := models.Clone(rec)
	if doc == nil {
		doc = models.Record{}
	}
	if id, ok := doc[models.IDField]; !ok || id == nil {
		doc[models.IDField] = identifier.New()
	}
	key, ok := idKey(doc)
	if !ok {
		return nil, fmt.Errorf("%w: _id of type %T", filter.ErrUnsupported, doc[models.IDField])
	}
	if seen[key] {
		return nil, fmt.Errorf("insert: %w: _id %s", ErrDuplicateKey, key)
	}
	seen[key] = true
	return doc, nil
}

func keys(docs []models.Record) map[string]bool {
	out := make(map[string]bool, len(docs))
	for _, d := range docs {
		if k, ok := idKey(d); ok {
			out[k] = true
		}
	}
	return out
}

// InsertOne stores a copy of rec and returns its _id.
func (r *MemoryRecordRepository) InsertOne(ctx context.Context, rec models.Record) (any, error) {
	ids, err := r.InsertMany(ctx, []models.Record{rec})
	if err != nil {
		return nil, err
	}
	return ids[0], nil
}

// InsertMany stores copies of recs. Nothing is stored if any _id clashes.
func (r *MemoryRecordRepository) InsertMany(_ context.Context, recs []models.Record) ([]any, error) {
	var ids []any
	err := r.backend.mutate(r.collection, func(docs []models.Record) ([]models.Record, error) {
		seen := keys(docs)
		added := make([]models.Record, 0, len(recs))
		ids = make([]any, 0, len(recs))
		for _, rec := range recs {
			doc, err := prepareMemoryInsert(rec, seen)
			if err != nil {
				return nil, err
			}
			added = append(added, doc)
			ids = append(ids, doc[models.IDField])
		}
		next := make([]models.Record, 0, len(docs)+len(added))
		next = append(next, docs...)
		return append(next, added...), nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// matching returns the indexes of docs that satisfy f, in order.
func matching(docs []models.Record, f filter.Filter, limit int) ([]int, error) {
	p, err := filter.Compile(f)
	if err != nil {
		return nil, err
	}
	var idx []int
	for i, d := range docs {
		if filter.Match(p, d) {
			idx = append(idx, i)
			if limit > 0 && len(idx) == limit {
				break
			}
		}
	}
	return idx, nil
}

// Find returns copies of the records matching q.
func (r *MemoryRecordRepository) Find(_ context.Context, q filter.Query) ([]models.Record, error) {
	docs := r.backend.snapshot(r.collection)
	idx, err := matching(docs, q.Filter, 0)
	if err != nil {
		return nil, err
	}

	out := make([]models.Record, 0, len(idx))
	for _, i := range idx {
		out = append(out, models.Clone(docs[i]))
	}
	if len(q.Sort) > 0 {
		sortRecords(out, models.SortKeys(q.Sort))
	}
	if q.Limit > 0 && int64(len(out)) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func sortRecords(docs []models.Record, keys []models.SortKey) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			a, _ := filter.Lookup(docs[i], k.Field)
			b, _ := filter.Lookup(docs[j], k.Field)
			c := filter.Order(a, b)
			if c == 0 {
				continue
			}
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// FindOne returns a copy of the first record matching f.
func (r *MemoryRecordRepository) FindOne(_ context.Context, f filter.Filter) (models.Lookup, error) {
	docs := r.backend.snapshot(r.collection)
	idx, err := matching(docs, f, 1)
	if err != nil || len(idx) == 0 {
		return models.NotFound, err
	}
	return models.Found(models.Clone(docs[idx[0]])), nil
}

// Count returns the number of records matching f.
func (r *MemoryRecordRepository) Count(_ context.Context, f filter.Filter) (int64, error) {
	idx, err := matching(r.backend.snapshot(r.collection), f, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(idx)), nil
}

// UpdateOne merges set into the first record matching f.
func (r *MemoryRecordRepository) UpdateOne(_ context.Context, f filter.Filter, set models.Record) (models.UpdateResult, error) {
	res, _, err := r.update(f, 1, func(doc models.Record) models.Record { return applySet(doc, set) })
	return res, err
}

// UpdateMany merges set into every record matching f.
func (r *MemoryRecordRepository) UpdateMany(_ context.Context, f filter.Filter, set models.Record) (models.UpdateResult, error) {
	res, _, err := r.update(f, 0, func(doc models.Record) models.Record { return applySet(doc, set) })
	return res, err
}

// FindOneAndUpdate merges set into the first record matching f and returns
// the updated copy.
func (r *MemoryRecordRepository) FindOneAndUpdate(_ context.Context, f filter.Filter, set models.Record) (models.Lookup, error) {
	res, updated, err := r.update(f, 1, func(doc models.Record) models.Record { return applySet(doc, set) })
	if err != nil || res.Matched == 0 {
		return models.NotFound, err
	}
	return models.Found(updated[0]), nil
}

// ReplaceOne swaps the first record matching f for rec, keeping its _id.
func (r *MemoryRecordRepository) ReplaceOne(_ context.Context, f filter.Filter, rec models.Record) (models.UpdateResult, error) {
	res, _, err := r.update(f, 1, func(doc models.Record) models.Record {
		next := models.Clone(rec)
		if next == nil {
			next = models.Record{}
		}
		next[models.IDField] = doc[models.IDField]
		return next
	})
	return res, err
}

// update rewrites up to limit matching records (all when limit is 0) and
// returns copies of the rewritten records.
func (r *MemoryRecordRepository) update(f filter.Filter, limit int, rewrite func(models.Record) models.Record) (models.UpdateResult, []models.Record, error) {
	var res models.UpdateResult
	var updated []models.Record
	err := r.backend.mutate(r.collection, func(docs []models.Record) ([]models.Record, error) {
		idx, err := matching(docs, f, limit)
		if err != nil {
			return nil, err
		}
		next := append([]models.Record(nil), docs...)
		for _, i := range idx {
			doc := rewrite(docs[i])
			res.Matched++
			if !filter.Equal(doc, docs[i]) {
				res.Modified++
			}
			next[i] = doc
			updated = append(updated, models.Clone(doc))
		}
		return next, nil
	})
	if err != nil {
		return models.UpdateResult{}, nil, err
	}
	return res, updated, nil
}

// applySet returns a copy of doc with set merged in. Dotted keys address
// nested documents, creating them as needed. _id is never changed.
func applySet(doc, set models.Record) models.Record {
	out := models.Clone(doc)
	for k, v := range set {
		if k == models.IDField {
			continue
		}
		parts := strings.Split(k, ".")
		target := out
		for _, p := range parts[:len(parts)-1] {
			inner, ok := target[p].(models.Record)
			if !ok {
				inner = models.Record{}
				target[p] = inner
			}
			target = inner
		}
		target[parts[len(parts)-1]] = models.CloneValue(v)
	}
	return out
}

// DeleteOne removes the first record matching f.
func (r *MemoryRecordRepository) DeleteOne(_ context.Context, f filter.Filter) (models.DeleteResult, error) {
	removed, err := r.delete(f, 1)
	return models.DeleteResult{Deleted: int64(len(removed))}, err
}

// FindOneAndDelete removes the first record matching f and returns it.
func (r *MemoryRecordRepository) FindOneAndDelete(_ context.Context, f filter.Filter) (models.Lookup, error) {
	removed, err := r.delete(f, 1)
	if err != nil || len(removed) == 0 {
		return models.NotFound, err
	}
	return models.Found(removed[0]), nil
}

// DeleteMany removes every record matching f.
func (r *MemoryRecordRepository) DeleteMany(_ context.Context, f filter.Filter) (models.DeleteResult, error) {
	removed, err := r.delete(f, 0)
	return models.DeleteResult{Deleted: int64(len(removed))}, err
}

func (r *MemoryRecordRepository) delete(f filter.Filter, limit int) ([]models.Record, error) {
	var removed []models.Record
	err := r.backend.mutate(r.collection, func(docs []models.Record) ([]models.Record, error) {
		idx, err := matching(docs, f, limit)
		if err != nil {
			return nil, err
		}
		drop := make(map[int]bool, len(idx))
		for _, i := range idx {
			drop[i] = true
			removed = append(removed, models.Clone(docs[i]))
		}
		next := make([]models.Record, 0, len(docs)-len(idx))
		for i, d := range docs {
			if !drop[i] {
				next = append(next, d)
			}
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Stats reports the record count and the approximate encoded size of the
// collection.
func (r *MemoryRecordRepository) Stats(context.Context) (models.Record, error) {
	docs := r.backend.snapshot(r.collection)
	var size int64
	for _, d := range docs {
		enc, err := encodeDocument(d)
		if err != nil {
			return nil, err
		}
		size += int64(len(enc))
	}
	return collectionStats(r.collection, int64(len(docs)), size), nil
}
