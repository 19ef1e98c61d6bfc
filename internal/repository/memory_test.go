package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atinyakov/DocKeeper/internal/filter"
	"github.com/atinyakov/DocKeeper/internal/models"
)

func seed(t *testing.T, repo Records) []any {
	t.Helper()
	ids, err := repo.InsertMany(context.Background(), []models.Record{
		{"name": "John Smith", "email": "john@x.io", "age": 18},
		{"name": "Ann Johnson", "email": "ann@x.io", "age": 25},
		{"name": "Bob", "email": "bob@x.io", "age": 30},
	})
	require.NoError(t, err)
	return ids
}

func namesOf(docs []models.Record) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d["name"].(string))
	}
	return out
}

func TestMemory_InsertAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBackend().Records("students")

	ids := seed(t, repo)
	require.Len(t, ids, 3)
	for _, id := range ids {
		_, ok := id.(primitive.ObjectID)
		assert.True(t, ok, "got %T", id)
	}

	docs, err := repo.Find(ctx, filter.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"John Smith", "Ann Johnson", "Bob"}, namesOf(docs))

	docs, err = repo.Find(ctx, filter.Query{Sort: bson.D{{Key: "age", Value: -1}}, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob", "Ann Johnson"}, namesOf(docs))
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBackend().Records("students")
	input := models.Record{"name": "Ann"}
	id, err := repo.InsertOne(ctx, input)
	require.NoError(t, err)

	input["name"] = "changed"
	l, err := repo.FindOne(ctx, filter.New(filter.Eq("_id", id)))
	require.NoError(t, err)
	require.True(t, l.Found)
	assert.Equal(t, "Ann", l.Record["name"])

	l.Record["name"] = "mutated"
	again, err := repo.FindOne(ctx, filter.New(filter.Eq("_id", id)))
	require.NoError(t, err)
	assert.Equal(t, "Ann", again.Record["name"])
}

func TestMemory_DuplicateIDIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBackend().Records("students")
	_, err := repo.InsertOne(ctx, models.Record{"_id": "a"})
	require.NoError(t, err)

	_, err = repo.InsertMany(ctx, []models.Record{{"_id": "b"}, {"_id": "a"}})
	assert.ErrorIs(t, err, ErrDuplicateKey)

	n, err := repo.Count(ctx, filter.New())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemory_UpdateCounts(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBackend().Records("students")
	ids := seed(t, repo)
	byID := filter.New(filter.Eq("_id", ids[1]))

	res, err := repo.UpdateOne(ctx, byID, models.Record{"age": 26})
	require.NoError(t, err)
	assert.Equal(t, models.UpdateResult{Matched: 1, Modified: 1}, res)

	res, err = repo.UpdateOne(ctx, byID, models.Record{"age": 26})
	require.NoError(t, err)
	assert.Equal(t, models.UpdateResult{Matched: 1, Modified: 0}, res, "same value is not a modification")

	res, err = repo.UpdateOne(ctx, filter.New(filter.Eq("_id", primitive.NewObjectID())), models.Record{"age": 1})
	require.NoError(t, err)
	assert.Equal(t, models.UpdateResult{}, res)

	res, err = repo.UpdateMany(ctx, filter.New(filter.AtLeast("age", 20)), models.Record{"status": "senior"})
	require.NoError(t, err)
	assert.Equal(t, models.UpdateResult{Matched: 2, Modified: 2}, res)
}

func TestMemory_SetKeepsIDAndSupportsDottedPaths(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBackend().Records("students")
	id, err := repo.InsertOne(ctx, models.Record{"name": "Ann"})
	require.NoError(t, err)

	l, err := repo.FindOneAndUpdate(ctx, filter.New(filter.Eq("_id", id)),
		models.Record{"_id": "other", "address.city": "Oslo"})
	require.NoError(t, err)
	require.True(t, l.Found)
	assert.Equal(t, id, l.Record["_id"])
	assert.Equal(t, models.Record{"city": "Oslo"}, l.Record["address"])
	assert.Equal(t, "Ann", l.Record["name"])
}

func TestMemory_Replace(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBackend().Records("students")
	id, err := repo.InsertOne(ctx, models.Record{"name": "Ann", "age": 25})
	require.NoError(t, err)

	res, err := repo.ReplaceOne(ctx, filter.New(filter.Eq("_id", id)), models.Record{"name": "Anna"})
	require.NoError(t, err)
	assert.Equal(t, models.UpdateResult{Matched: 1, Modified: 1}, res)

	l, err := repo.FindOne(ctx, filter.New(filter.Eq("_id", id)))
	require.NoError(t, err)
	assert.Equal(t, models.Record{"_id": id, "name": "Anna"}, l.Record)
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBackend().Records("students")
	ids := seed(t, repo)

	l, err := repo.FindOneAndDelete(ctx, filter.New(filter.Eq("_id", ids[0])))
	require.NoError(t, err)
	require.True(t, l.Found)
	assert.Equal(t, "John Smith", l.Record["name"])

	l, err = repo.FindOneAndDelete(ctx, filter.New(filter.Eq("_id", ids[0])))
	require.NoError(t, err)
	assert.False(t, l.Found)

	res, err := repo.DeleteOne(ctx, filter.New(filter.Contains("name", "zzz")))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Deleted)

	res, err = repo.DeleteMany(ctx, filter.New())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Deleted)
}

func TestMemory_UnsupportedFilter(t *testing.T) {
	repo := NewMemoryBackend().Records("students")
	_, err := repo.Count(context.Background(), filter.New(filter.Passthrough(bson.M{"$where": "1"})))
	assert.ErrorIs(t, err, filter.ErrUnsupported)
}

func TestMemory_CollectionsAreIsolated(t *testing.T) {
	b := NewMemoryBackend()
	seed(t, b.Records("students"))

	n, err := b.Records("courses").Count(context.Background(), filter.New())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemory_ConcurrentInserts(t *testing.T) {
	repo := NewMemoryBackend().Records("students")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.InsertOne(context.Background(), models.Record{"n": i})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := repo.Count(context.Background(), filter.New())
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)
}

func TestMemory_Stats(t *testing.T) {
	repo := NewMemoryBackend().Records("students")
	seed(t, repo)

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats["count"])
	assert.Greater(t, stats["size"].(int64), int64(0))
}

func TestFileBackend_PersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "usersDB.json")

	b, err := OpenFileBackend(path)
	require.NoError(t, err)
	assert.Equal(t, "file", b.Name())
	ids := seed(t, b.Records("students"))

	_, err = b.Records("students").DeleteOne(ctx, filter.New(filter.Eq("_id", ids[2])))
	require.NoError(t, err)

	reopened, err := OpenFileBackend(path)
	require.NoError(t, err)
	docs, err := reopened.Records("students").Find(ctx, filter.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"John Smith", "Ann Johnson"}, namesOf(docs))
	assert.Equal(t, ids[0], docs[0]["_id"], "ObjectIDs survive a round trip")
}

func TestFileBackend_MissingFileIsEmpty(t *testing.T) {
	b, err := OpenFileBackend(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	n, err := b.Records("students").Count(context.Background(), filter.New())
	require.NoError(t, err)
	assert.Zero(t, n)
}
