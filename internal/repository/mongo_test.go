package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/atinyakov/DocKeeper/internal/filter"
	"github.com/atinyakov/DocKeeper/internal/models"
)

func ns(mt *mtest.T) string {
	return mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func TestMongoRecordRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("insert one generates id", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		repo := NewMongoRecordRepository(mt.Coll)

		id, err := repo.InsertOne(ctx, models.Record{"name": "Ann"})
		require.NoError(mt, err)
		_, ok := id.(primitive.ObjectID)
		assert.True(mt, ok, "expected ObjectID, got %T", id)
	})

	mt.Run("insert one duplicate key", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error",
		}))
		repo := NewMongoRecordRepository(mt.Coll)

		_, err := repo.InsertOne(ctx, models.Record{"_id": "x"})
		assert.ErrorIs(mt, err, ErrDuplicateKey)
	})

	mt.Run("insert many returns every id", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		repo := NewMongoRecordRepository(mt.Coll)

		ids, err := repo.InsertMany(ctx, []models.Record{{"name": "a"}, {"name": "b"}, {"name": "c"}})
		require.NoError(mt, err)
		assert.Len(mt, ids, 3)
	})

	mt.Run("find decodes documents", func(mt *mtest.T) {
		id1, id2 := primitive.NewObjectID(), primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch,
			bson.D{{Key: "_id", Value: id1}, {Key: "name", Value: "Ann"}, {Key: "age", Value: int32(25)}},
			bson.D{{Key: "_id", Value: id2}, {Key: "name", Value: "Bob"}, {Key: "address", Value: bson.D{{Key: "city", Value: "Oslo"}}}},
		))
		repo := NewMongoRecordRepository(mt.Coll)

		docs, err := repo.Find(ctx, filter.Query{
			Filter: filter.New(filter.AtLeast("age", 18)),
			Sort:   bson.D{{Key: "name", Value: 1}},
			Limit:  10,
		})
		require.NoError(mt, err)
		require.Len(mt, docs, 2)
		assert.Equal(mt, id1, docs[0]["_id"])
		assert.Equal(mt, int32(25), docs[0]["age"])
		addr, ok := docs[1]["address"].(models.Record)
		require.True(mt, ok, "nested document should be a Record, got %T", docs[1]["address"])
		assert.Equal(mt, "Oslo", addr["city"])
	})

	mt.Run("find one miss is not an error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch))
		repo := NewMongoRecordRepository(mt.Coll)

		l, err := repo.FindOne(ctx, filter.New(filter.Eq("_id", primitive.NewObjectID())))
		require.NoError(mt, err)
		assert.False(mt, l.Found)
	})

	mt.Run("find one hit", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch,
			bson.D{{Key: "email", Value: "ann@x.io"}},
		))
		repo := NewMongoRecordRepository(mt.Coll)

		l, err := repo.FindOne(ctx, filter.New(filter.Eq("email", "ann@x.io")))
		require.NoError(mt, err)
		require.True(mt, l.Found)
		assert.Equal(mt, "ann@x.io", l.Record["email"])
	})

	mt.Run("count", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch,
			bson.D{{Key: "n", Value: int32(4)}},
		))
		repo := NewMongoRecordRepository(mt.Coll)

		n, err := repo.Count(ctx, filter.New())
		require.NoError(mt, err)
		assert.Equal(mt, int64(4), n)
	})

	mt.Run("update one reports counts", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: int32(1)},
			bson.E{Key: "nModified", Value: int32(0)},
		))
		repo := NewMongoRecordRepository(mt.Coll)

		res, err := repo.UpdateOne(ctx, filter.New(filter.Eq("_id", primitive.NewObjectID())), models.Record{"age": 31})
		require.NoError(mt, err)
		assert.Equal(mt, models.UpdateResult{Matched: 1, Modified: 0}, res)
	})

	mt.Run("find one and update returns document", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "value", Value: bson.D{{Key: "name", Value: "Ann"}, {Key: "age", Value: int32(31)}}},
		))
		repo := NewMongoRecordRepository(mt.Coll)

		l, err := repo.FindOneAndUpdate(ctx, filter.New(filter.Eq("_id", primitive.NewObjectID())), models.Record{"age": 31})
		require.NoError(mt, err)
		require.True(mt, l.Found)
		assert.Equal(mt, int32(31), l.Record["age"])
	})

	mt.Run("find one and delete miss", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}))
		repo := NewMongoRecordRepository(mt.Coll)

		l, err := repo.FindOneAndDelete(ctx, filter.New(filter.Eq("_id", primitive.NewObjectID())))
		require.NoError(mt, err)
		assert.False(mt, l.Found)
	})

	mt.Run("delete many", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: int32(3)}))
		repo := NewMongoRecordRepository(mt.Coll)

		res, err := repo.DeleteMany(ctx, filter.New())
		require.NoError(mt, err)
		assert.Equal(mt, int64(3), res.Deleted)
	})

	mt.Run("command errors are wrapped", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Message: "bad query",
			Name:    "BadValue",
		}))
		repo := NewMongoRecordRepository(mt.Coll)

		_, err := repo.DeleteOne(ctx, filter.New())
		require.Error(mt, err)
		assert.False(mt, errors.Is(err, ErrDuplicateKey))
		assert.Contains(mt, err.Error(), "delete one")
		assert.Contains(mt, err.Error(), "bad query")
	})

	mt.Run("stats", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "count", Value: int32(2)},
			bson.E{Key: "size", Value: int32(120)},
		))
		repo := NewMongoRecordRepository(mt.Coll)

		stats, err := repo.Stats(ctx)
		require.NoError(mt, err)
		assert.Equal(mt, int32(2), stats["count"])
	})
}
