package service_test

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atinyakov/DocKeeper/internal/filter"
	"github.com/atinyakov/DocKeeper/internal/identifier"
	"github.com/atinyakov/DocKeeper/internal/models"
	"github.com/atinyakov/DocKeeper/internal/service"
)

type mockRepo struct {
	calls int

	InsertOneFunc        func(ctx context.Context, rec models.Record) (any, error)
	InsertManyFunc       func(ctx context.Context, recs []models.Record) ([]any, error)
	FindFunc             func(ctx context.Context, q filter.Query) ([]models.Record, error)
	FindOneFunc          func(ctx context.Context, f filter.Filter) (models.Lookup, error)
	CountFunc            func(ctx context.Context, f filter.Filter) (int64, error)
	UpdateOneFunc        func(ctx context.Context, f filter.Filter, set models.Record) (models.UpdateResult, error)
	UpdateManyFunc       func(ctx context.Context, f filter.Filter, set models.Record) (models.UpdateResult, error)
	FindOneAndUpdateFunc func(ctx context.Context, f filter.Filter, set models.Record) (models.Lookup, error)
	ReplaceOneFunc       func(ctx context.Context, f filter.Filter, rec models.Record) (models.UpdateResult, error)
	DeleteOneFunc        func(ctx context.Context, f filter.Filter) (models.DeleteResult, error)
	FindOneAndDeleteFunc func(ctx context.Context, f filter.Filter) (models.Lookup, error)
	DeleteManyFunc       func(ctx context.Context, f filter.Filter) (models.DeleteResult, error)
	StatsFunc            func(ctx context.Context) (models.Record, error)
}

func (m *mockRepo) InsertOne(ctx context.Context, rec models.Record) (any, error) {
	m.calls++
	return m.InsertOneFunc(ctx, rec)
}
func (m *mockRepo) InsertMany(ctx context.Context, recs []models.Record) ([]any, error) {
	m.calls++
	return m.InsertManyFunc(ctx, recs)
}
func (m *mockRepo) Find(ctx context.Context, q filter.Query) ([]models.Record, error) {
	m.calls++
	return m.FindFunc(ctx, q)
}
func (m *mockRepo) FindOne(ctx context.Context, f filter.Filter) (models.Lookup, error) {
	m.calls++
	return m.FindOneFunc(ctx, f)
}
func (m *mockRepo) Count(ctx context.Context, f filter.Filter) (int64, error) {
	m.calls++
	return m.CountFunc(ctx, f)
}
func (m *mockRepo) UpdateOne(ctx context.Context, f filter.Filter, set models.Record) (models.UpdateResult, error) {
	m.calls++
	return m.UpdateOneFunc(ctx, f, set)
}
func (m *mockRepo) UpdateMany(ctx context.Context, f filter.Filter, set models.Record) (models.UpdateResult, error) {
	m.calls++
	return m.UpdateManyFunc(ctx, f, set)
}
func (m *mockRepo) FindOneAndUpdate(ctx context.Context, f filter.Filter, set models.Record) (models.Lookup, error) {
	m.calls++
	return m.FindOneAndUpdateFunc(ctx, f, set)
}
func (m *mockRepo) ReplaceOne(ctx context.Context, f filter.Filter, rec models.Record) (models.UpdateResult, error) {
	m.calls++
	return m.ReplaceOneFunc(ctx, f, rec)
}
func (m *mockRepo) DeleteOne(ctx context.Context, f filter.Filter) (models.DeleteResult, error) {
	m.calls++
	return m.DeleteOneFunc(ctx, f)
}
func (m *mockRepo) FindOneAndDelete(ctx context.Context, f filter.Filter) (models.Lookup, error) {
	m.calls++
	return m.FindOneAndDeleteFunc(ctx, f)
}
func (m *mockRepo) DeleteMany(ctx context.Context, f filter.Filter) (models.DeleteResult, error) {
	m.calls++
	return m.DeleteManyFunc(ctx, f)
}
func (m *mockRepo) Stats(ctx context.Context) (models.Record, error) {
	m.calls++
	return m.StatsFunc(ctx)
}

func TestCreate_ReturnsRecordWithID(t *testing.T) {
	id := primitive.NewObjectID()
	repo := &mockRepo{
		InsertOneFunc: func(_ context.Context, rec models.Record) (any, error) {
			return id, nil
		},
	}
	svc := service.NewRecordService(repo)

	input := models.Record{"name": "Ann"}
	got, err := svc.Create(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, models.Record{"_id": id, "name": "Ann"}, got)
	assert.NotContains(t, input, "_id", "input must not be mutated")
}

func TestCreateMany_EmptyBatch(t *testing.T) {
	repo := &mockRepo{}
	svc := service.NewRecordService(repo)

	_, err := svc.CreateMany(context.Background(), nil)
	assert.ErrorIs(t, err, service.ErrEmptyBatch)
	assert.Zero(t, repo.calls)
}

func TestIDOperations_InvalidIDNeverReachesRepository(t *testing.T) {
	repo := &mockRepo{}
	svc := service.NewRecordService(repo)
	ctx := context.Background()
	bad := "not-an-id"

	_, err := svc.Get(ctx, bad)
	assert.ErrorIs(t, err, identifier.ErrInvalid)
	_, err = svc.Update(ctx, bad, models.Record{"a": 1})
	assert.ErrorIs(t, err, identifier.ErrInvalid)
	_, err = svc.UpdateAndReturn(ctx, bad, models.Record{"a": 1})
	assert.ErrorIs(t, err, identifier.ErrInvalid)
	_, err = svc.Replace(ctx, bad, models.Record{"a": 1})
	assert.ErrorIs(t, err, identifier.ErrInvalid)
	_, err = svc.Delete(ctx, bad)
	assert.ErrorIs(t, err, identifier.ErrInvalid)
	_, err = svc.DeleteAndReturn(ctx, bad)
	assert.ErrorIs(t, err, identifier.ErrInvalid)

	assert.Zero(t, repo.calls)
}

func TestGet_FiltersByObjectID(t *testing.T) {
	id := primitive.NewObjectID()
	repo := &mockRepo{
		FindOneFunc: func(_ context.Context, f filter.Filter) (models.Lookup, error) {
			assert.Equal(t, bson.M{"_id": id}, f.BSON())
			return models.Found(models.Record{"_id": id}), nil
		},
	}
	svc := service.NewRecordService(repo)

	l, err := svc.Get(context.Background(), id.Hex())
	require.NoError(t, err)
	assert.True(t, l.Found)
	assert.Equal(t, 1, repo.calls)
}

func TestSearch_BuildsFilter(t *testing.T) {
	repo := &mockRepo{
		FindFunc: func(_ context.Context, q filter.Query) ([]models.Record, error) {
			assert.Equal(t, bson.M{"age": bson.M{"$gte": int64(20), "$lte": int64(28)}}, q.Filter.BSON())
			return []models.Record{{"age": 25}}, nil
		},
	}
	svc := service.NewRecordService(repo)

	f, docs, err := svc.Search(context.Background(), url.Values{"minAge": {"20"}, "maxAge": {"28"}}, filter.SearchParams)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.False(t, f.IsEmpty())
}

func TestSearch_BadIntegerSkipsRepository(t *testing.T) {
	repo := &mockRepo{}
	svc := service.NewRecordService(repo)

	_, _, err := svc.Search(context.Background(), url.Values{"minAge": {"x"}}, filter.SearchParams)
	var pe *filter.ParamError
	assert.ErrorAs(t, err, &pe)
	assert.Zero(t, repo.calls)
}

func TestQuery_PassesThroughSortAndLimit(t *testing.T) {
	doc := bson.M{"age": bson.M{"$gt": 20}}
	sort := bson.D{{Key: "name", Value: 1}}
	repo := &mockRepo{
		FindFunc: func(_ context.Context, q filter.Query) ([]models.Record, error) {
			assert.Equal(t, doc, q.Filter.BSON())
			assert.Equal(t, sort, q.Sort)
			assert.Equal(t, int64(3), q.Limit)
			return nil, nil
		},
	}
	svc := service.NewRecordService(repo)

	_, err := svc.Query(context.Background(), service.QueryRequest{Filter: doc, Sort: sort, Limit: 3})
	require.NoError(t, err)
}

func TestQuery_RejectsServerSideCode(t *testing.T) {
	repo := &mockRepo{}
	svc := service.NewRecordService(repo)

	_, err := svc.Query(context.Background(), service.QueryRequest{Filter: bson.M{"$where": "sleep(1000)"}})
	assert.ErrorIs(t, err, filter.ErrForbidden)
	assert.Zero(t, repo.calls)
}

func TestCount(t *testing.T) {
	repo := &mockRepo{
		CountFunc: func(_ context.Context, f filter.Filter) (int64, error) {
			assert.Equal(t, bson.M{"age": int64(25)}, f.BSON())
			return 2, nil
		},
	}
	svc := service.NewRecordService(repo)

	_, n, err := svc.Count(context.Background(), url.Values{"age": {"25"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestUpdateMany_RequiresFilterAndUpdate(t *testing.T) {
	repo := &mockRepo{}
	svc := service.NewRecordService(repo)
	ctx := context.Background()

	_, err := svc.UpdateMany(ctx, nil, models.Record{"a": 1})
	assert.ErrorIs(t, err, service.ErrMissingUpdate)
	_, err = svc.UpdateMany(ctx, bson.M{}, nil)
	assert.ErrorIs(t, err, service.ErrMissingUpdate)
	assert.Zero(t, repo.calls)
}

func TestUpdateMany_EmptyFilterIsAllowed(t *testing.T) {
	repo := &mockRepo{
		UpdateManyFunc: func(_ context.Context, f filter.Filter, set models.Record) (models.UpdateResult, error) {
			assert.True(t, f.IsEmpty())
			return models.UpdateResult{Matched: 3, Modified: 3}, nil
		},
	}
	svc := service.NewRecordService(repo)

	res, err := svc.UpdateMany(context.Background(), bson.M{}, models.Record{"active": true})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Matched)
}

func TestDeleteMany_EmptyFilterNeverReachesRepository(t *testing.T) {
	repo := &mockRepo{}
	svc := service.NewRecordService(repo)
	ctx := context.Background()

	for _, doc := range []bson.M{nil, {}} {
		_, err := svc.DeleteMany(ctx, doc)
		assert.ErrorIs(t, err, service.ErrEmptyFilter)
	}
	assert.Zero(t, repo.calls)
}

func TestDeleteAll_UsesEmptyFilter(t *testing.T) {
	repo := &mockRepo{
		DeleteManyFunc: func(_ context.Context, f filter.Filter) (models.DeleteResult, error) {
			assert.True(t, f.IsEmpty())
			return models.DeleteResult{Deleted: 5}, nil
		},
	}
	svc := service.NewRecordService(repo)

	res, err := svc.DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Deleted)
}

func TestRepositoryErrorsPropagate(t *testing.T) {
	wantErr := errors.New("db down")
	repo := &mockRepo{
		StatsFunc: func(context.Context) (models.Record, error) { return nil, wantErr },
		FindFunc: func(context.Context, filter.Query) ([]models.Record, error) {
			return nil, wantErr
		},
	}
	svc := service.NewRecordService(repo)

	_, err := svc.Stats(context.Background())
	assert.ErrorIs(t, err, wantErr)
	_, err = svc.List(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestWrites_RejectOperatorFieldNames(t *testing.T) {
	repo := &mockRepo{}
	svc := service.NewRecordService(repo)
	ctx := context.Background()
	id := primitive.NewObjectID().Hex()

	tests := []struct {
		name string
		call func() error
	}{
		{"create", func() error {
			_, err := svc.Create(ctx, models.Record{"$inc": bson.M{"age": 1}})
			return err
		}},
		{"create many", func() error {
			_, err := svc.CreateMany(ctx, []models.Record{{"name": "Ann"}, {"$set": bson.M{}}})
			return err
		}},
		{"update", func() error {
			_, err := svc.Update(ctx, id, models.Record{"$inc": bson.M{"age": 1}})
			return err
		}},
		{"update and return", func() error {
			_, err := svc.UpdateAndReturn(ctx, id, models.Record{"address.$city": "Oslo"})
			return err
		}},
		{"update many", func() error {
			_, err := svc.UpdateMany(ctx, bson.M{}, models.Record{"$unset": bson.M{"age": ""}})
			return err
		}},
		{"replace", func() error {
			_, err := svc.Replace(ctx, id, models.Record{"$name": "Ann"})
			return err
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.call(), service.ErrOperatorField)
		})
	}
	assert.Zero(t, repo.calls)
}
