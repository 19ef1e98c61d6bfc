package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atinyakov/DocKeeper/internal/filter"
	"github.com/atinyakov/DocKeeper/internal/models"
)

// MongoBackend serves collections of one MongoDB database.
type MongoBackend struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoBackend wraps a connected client. database names the database
// holding the collections.
func NewMongoBackend(client *mongo.Client, database string) *MongoBackend {
	return &MongoBackend{client: client, db: client.Database(database)}
}

// Name implements Backend.
func (b *MongoBackend) Name() string { return "mongo" }

// Records implements Backend.
func (b *MongoBackend) Records(collection string) Records {
	return NewMongoRecordRepository(b.db.Collection(collection))
}

// Close disconnects the client.
func (b *MongoBackend) Close(ctx context.Context) error {
	return b.client.Disconnect(ctx)
}

// MongoRecordRepository stores records in a MongoDB collection. Filters are
// rendered with Filter.BSON, so raw documents reach the server unchanged.
type MongoRecordRepository struct {
	// Coll is the collection all operations run against.
	Coll *mongo.Collection
}

// NewMongoRecordRepository returns a repository over coll.
func NewMongoRecordRepository(coll *mongo.Collection) *MongoRecordRepository {
	return &MongoRecordRepository{Coll: coll}
}

func mongoErr(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrDuplicateKey, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// InsertOne inserts rec and returns its _id, generated by the driver when
// rec has none.
func (r *MongoRecordRepository) InsertOne(ctx context.Context, rec models.Record) (any, error) {
	res, err := r.Coll.InsertOne(ctx, rec)
	if err != nil {
		return nil, mongoErr("insert one", err)
	}
	return res.InsertedID, nil
}

// InsertMany inserts recs in order and returns their ids.
func (r *MongoRecordRepository) InsertMany(ctx context.Context, recs []models.Record) ([]any, error) {
	docs := make([]interface{}, len(recs))
	for i, rec := range recs {
		docs[i] = rec
	}
	res, err := r.Coll.InsertMany(ctx, docs)
	if err != nil {
		return nil, mongoErr("insert many", err)
	}
	return res.InsertedIDs, nil
}

// Find returns every record matching q.
func (r *MongoRecordRepository) Find(ctx context.Context, q filter.Query) ([]models.Record, error) {
	opts := options.Find()
	if len(q.Sort) > 0 {
		opts.SetSort(q.Sort)
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}

	cur, err := r.Coll.Find(ctx, q.Filter.BSON(), opts)
	if err != nil {
		return nil, mongoErr("find", err)
	}

	var docs []models.Record
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mongoErr("find", err)
	}
	out := make([]models.Record, len(docs))
	for i, d := range docs {
		out[i] = models.Clone(d)
	}
	return out, nil
}

// FindOne returns the first record matching f.
func (r *MongoRecordRepository) FindOne(ctx context.Context, f filter.Filter) (models.Lookup, error) {
	return decodeSingle("find one", r.Coll.FindOne(ctx, f.BSON()))
}

// Count returns the number of records matching f.
func (r *MongoRecordRepository) Count(ctx context.Context, f filter.Filter) (int64, error) {
	n, err := r.Coll.CountDocuments(ctx, f.BSON())
	if err != nil {
		return 0, mongoErr("count", err)
	}
	return n, nil
}

// UpdateOne merges set into the first record matching f.
func (r *MongoRecordRepository) UpdateOne(ctx context.Context, f filter.Filter, set models.Record) (models.UpdateResult, error) {
	res, err := r.Coll.UpdateOne(ctx, f.BSON(), bson.M{"$set": set})
	if err != nil {
		return models.UpdateResult{}, mongoErr("update one", err)
	}
	return models.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

// UpdateMany merges set into every record matching f.
func (r *MongoRecordRepository) UpdateMany(ctx context.Context, f filter.Filter, set models.Record) (models.UpdateResult, error) {
	res, err := r.Coll.UpdateMany(ctx, f.BSON(), bson.M{"$set": set})
	if err != nil {
		return models.UpdateResult{}, mongoErr("update many", err)
	}
	return models.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

// FindOneAndUpdate merges set into the first record matching f and returns
// the record as it is after the update.
func (r *MongoRecordRepository) FindOneAndUpdate(ctx context.Context, f filter.Filter, set models.Record) (models.Lookup, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	return decodeSingle("find one and update", r.Coll.FindOneAndUpdate(ctx, f.BSON(), bson.M{"$set": set}, opts))
}

// ReplaceOne swaps the first record matching f for rec, keeping its _id.
func (r *MongoRecordRepository) ReplaceOne(ctx context.Context, f filter.Filter, rec models.Record) (models.UpdateResult, error) {
	res, err := r.Coll.ReplaceOne(ctx, f.BSON(), rec)
	if err != nil {
		return models.UpdateResult{}, mongoErr("replace one", err)
	}
	return models.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

// DeleteOne removes the first record matching f.
func (r *MongoRecordRepository) DeleteOne(ctx context.Context, f filter.Filter) (models.DeleteResult, error) {
	res, err := r.Coll.DeleteOne(ctx, f.BSON())
	if err != nil {
		return models.DeleteResult{}, mongoErr("delete one", err)
	}
	return models.DeleteResult{Deleted: res.DeletedCount}, nil
}

// FindOneAndDelete removes the first record matching f and returns it.
func (r *MongoRecordRepository) FindOneAndDelete(ctx context.Context, f filter.Filter) (models.Lookup, error) {
	return decodeSingle("find one and delete", r.Coll.FindOneAndDelete(ctx, f.BSON()))
}

// DeleteMany removes every record matching f.
func (r *MongoRecordRepository) DeleteMany(ctx context.Context, f filter.Filter) (models.DeleteResult, error) {
	res, err := r.Coll.DeleteMany(ctx, f.BSON())
	if err != nil {
		return models.DeleteResult{}, mongoErr("delete many", err)
	}
	return models.DeleteResult{Deleted: res.DeletedCount}, nil
}

// Stats runs collStats on the collection.
func (r *MongoRecordRepository) Stats(ctx context.Context) (models.Record, error) {
	var stats models.Record
	cmd := bson.D{{Key: "collStats", Value: r.Coll.Name()}}
	if err := r.Coll.Database().RunCommand(ctx, cmd).Decode(&stats); err != nil {
		return nil, mongoErr("collection stats", err)
	}
	return models.Clone(stats), nil
}

func decodeSingle(op string, res *mongo.SingleResult) (models.Lookup, error) {
	var doc models.Record
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.NotFound, nil
		}
		return models.NotFound, mongoErr(op, err)
	}
	return models.Found(models.Clone(doc)), nil
}
