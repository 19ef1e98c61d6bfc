package repository

import (
	"context"
	"sync/atomic"

	"github.com/atinyakov/DocKeeper/internal/filter"
	"github.com/atinyakov/DocKeeper/internal/models"
)

type backendRef struct {
	Backend
}

// Handle is the process-wide storage connection. It starts empty and is set
// exactly once, usually by a background connector; until then every
// repository obtained from it fails with ErrNotConnected.
type Handle struct {
	ref atomic.Pointer[backendRef]
}

// NewHandle returns an unset Handle.
func NewHandle() *Handle {
	return &Handle{}
}

// Set installs the backend. Only the first call has an effect; it reports
// whether this call won.
func (h *Handle) Set(b Backend) bool {
	return h.ref.CompareAndSwap(nil, &backendRef{Backend: b})
}

// Ready reports whether a backend has been installed.
func (h *Handle) Ready() bool {
	return h.ref.Load() != nil
}

// Backend returns the installed backend or ErrNotConnected.
func (h *Handle) Backend() (Backend, error) {
	ref := h.ref.Load()
	if ref == nil {
		return nil, ErrNotConnected
	}
	return ref.Backend, nil
}

// Close closes the installed backend, if any.
func (h *Handle) Close(ctx context.Context) error {
	b, err := h.Backend()
	if err != nil {
		return nil
	}
	return b.Close(ctx)
}

// Records returns a repository for collection that resolves the backend on
// every call.
func (h *Handle) Records(collection string) Records {
	return &deferredRecords{h: h, collection: collection}
}

type deferredRecords struct {
	h          *Handle
	collection string
}

func (d *deferredRecords) get() (Records, error) {
	b, err := d.h.Backend()
	if err != nil {
		return nil, err
	}
	return b.Records(d.collection), nil
}

func (d *deferredRecords) InsertOne(ctx context.Context, rec models.Record) (any, error) {
	r, err := d.get()
	if err != nil {
		return nil, err
	}
	return r.InsertOne(ctx, rec)
}

func (d *deferredRecords) InsertMany(ctx context.Context, recs []models.Record) ([]any, error) {
	r, err := d.get()
	if err != nil {
		return nil, err
	}
	return r.InsertMany(ctx, recs)
}

func (d *deferredRecords) Find(ctx context.Context, q filter.Query) ([]models.Record, error) {
	r, err := d.get()
	if err != nil {
		return nil, err
	}
	return r.Find(ctx, q)
}

func (d *deferredRecords) FindOne(ctx context.Context, f filter.Filter) (models.Lookup, error) {
	r, err := d.get()
	if err != nil {
		return models.NotFound, err
	}
	return r.FindOne(ctx, f)
}

func (d *deferredRecords) Count(ctx context.Context, f filter.Filter) (int64, error) {
	r, err := d.get()
	if err != nil {
		return 0, err
	}
	return r.Count(ctx, f)
}

func (d *deferredRecords) UpdateOne(ctx context.Context, f filter.Filter, set models.Record) (models.UpdateResult, error) {
	r, err := d.get()
	if err != nil {
		return models.UpdateResult{}, err
	}
	return r.UpdateOne(ctx, f, set)
}

func (d *deferredRecords) UpdateMany(ctx context.Context, f filter.Filter, set models.Record) (models.UpdateResult, error) {
	r, err := d.get()
	if err != nil {
		return models.UpdateResult{}, err
	}
	return r.UpdateMany(ctx, f, set)
}

func (d *deferredRecords) FindOneAndUpdate(ctx context.Context, f filter.Filter, set models.Record) (models.Lookup, error) {
	r, err := d.get()
	if err != nil {
		return models.NotFound, err
	}
	return r.FindOneAndUpdate(ctx, f, set)
}

func (d *deferredRecords) ReplaceOne(ctx context.Context, f filter.Filter, rec models.Record) (models.UpdateResult, error) {
	r, err := d.get()
	if err != nil {
		return models.UpdateResult{}, err
	}
	return r.ReplaceOne(ctx, f, rec)
}

func (d *deferredRecords) DeleteOne(ctx context.Context, f filter.Filter) (models.DeleteResult, error) {
	r, err := d.get()
	if err != nil {
		return models.DeleteResult{}, err
	}
	return r.DeleteOne(ctx, f)
}

func (d *deferredRecords) FindOneAndDelete(ctx context.Context, f filter.Filter) (models.Lookup, error) {
	r, err := d.get()
	if err != nil {
		return models.NotFound, err
	}
	return r.FindOneAndDelete(ctx, f)
}

func (d *deferredRecords) DeleteMany(ctx context.Context, f filter.Filter) (models.DeleteResult, error) {
	r, err := d.get()
	if err != nil {
		return models.DeleteResult{}, err
	}
	return r.DeleteMany(ctx, f)
}

func (d *deferredRecords) Stats(ctx context.Context) (models.Record, error) {
	r, err := d.get()
	if err != nil {
		return nil, err
	}
	return r.Stats(ctx)
}
