package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/lib/pq"

	"github.com/atinyakov/DocKeeper/internal/filter"
	"github.com/atinyakov/DocKeeper/internal/identifier"
	"github.com/atinyakov/DocKeeper/internal/models"
)

// PostgresBackend keeps every collection in the records table, one JSONB
// document per row.
type PostgresBackend struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresBackend creates a backend over db. The records table must
// already exist (see db.InitPostgres).
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{DB: db}
}

// Name implements Backend.
func (b *PostgresBackend) Name() string { return "postgres" }

// Records implements Backend.
func (b *PostgresBackend) Records(collection string) Records {
	return &PostgresRecordRepository{DB: b.DB, Collection: collection}
}

// Close closes the connection pool.
func (b *PostgresBackend) Close(context.Context) error {
	return b.DB.Close()
}

// PostgresRecordRepository implements Records for one collection of the
// records table.
type PostgresRecordRepository struct {
	DB         *sql.DB
	Collection string
}

const insertRecord = `INSERT INTO records (collection, id, data) VALUES ($1, $2, $3::jsonb)`

func pgErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s: %w: %v", op, ErrDuplicateKey, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// prepareInsert picks the record key, generating an ObjectID when the
// record has no _id.
func prepareInsert(rec models.Record) (id any, key, data string, err error) {
	id, ok := rec[models.IDField]
	if !ok || id == nil {
		id = identifier.New()
	}
	key, ok = identifier.Normalize(id)
	if !ok {
		return nil, "", "", fmt.Errorf("%w: _id of type %T on postgres", filter.ErrUnsupported, id)
	}
	data, err = encodeDocument(rec)
	if err != nil {
		return nil, "", "", err
	}
	return id, key, data, nil
}

// InsertOne stores rec and returns its _id.
func (r *PostgresRecordRepository) InsertOne(ctx context.Context, rec models.Record) (any, error) {
	id, key, data, err := prepareInsert(rec)
	if err != nil {
		return nil, err
	}
	if _, err := r.DB.ExecContext(ctx, insertRecord, r.Collection, key, data); err != nil {
		return nil, pgErr("insert one", err)
	}
	return id, nil
}

// InsertMany stores recs in one transaction; either all are inserted or
// none are.
func (r *PostgresRecordRepository) InsertMany(ctx context.Context, recs []models.Record) ([]any, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ids := make([]any, 0, len(recs))
	for _, rec := range recs {
		id, key, data, err := prepareInsert(rec)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, insertRecord, r.Collection, key, data); err != nil {
			return nil, pgErr("insert many", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// Find returns the records matching q, in insertion order unless q sorts.
func (r *PostgresRecordRepository) Find(ctx context.Context, q filter.Query) ([]models.Record, error) {
	b := newSQLBuilder(r.Collection)
	where, err := b.filter(q.Filter)
	if err != nil {
		return nil, err
	}
	query := "SELECT id, data FROM records WHERE collection = $1 AND " + where + b.orderBy(q.Sort)
	if q.Limit > 0 {
		query += " LIMIT " + strconv.FormatInt(q.Limit, 10)
	}

	rows, err := r.DB.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, pgErr("find", err)
	}
	defer rows.Close()

	out := []models.Record{}
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec, err := decodeDocument(key, data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("find", err)
	}
	return out, nil
}

// FindOne returns the earliest inserted record matching f.
func (r *PostgresRecordRepository) FindOne(ctx context.Context, f filter.Filter) (models.Lookup, error) {
	b := newSQLBuilder(r.Collection)
	where, err := b.filter(f)
	if err != nil {
		return models.NotFound, err
	}
	query := "SELECT id, data FROM records WHERE collection = $1 AND " + where + " ORDER BY seq LIMIT 1"
	return r.single(ctx, "find one", query, b.args)
}

// Count returns the number of records matching f.
func (r *PostgresRecordRepository) Count(ctx context.Context, f filter.Filter) (int64, error) {
	b := newSQLBuilder(r.Collection)
	where, err := b.filter(f)
	if err != nil {
		return 0, err
	}
	var n int64
	err = r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE collection = $1 AND "+where, b.args...).Scan(&n)
	if err != nil {
		return 0, pgErr("count", err)
	}
	return n, nil
}

// UpdateOne merges set into the earliest record matching f.
func (r *PostgresRecordRepository) UpdateOne(ctx context.Context, f filter.Filter, set models.Record) (models.UpdateResult, error) {
	return r.update(ctx, "update one", f, set, true)
}

// UpdateMany merges set into every record matching f.
func (r *PostgresRecordRepository) UpdateMany(ctx context.Context, f filter.Filter, set models.Record) (models.UpdateResult, error) {
	return r.update(ctx, "update many", f, set, false)
}

func (r *PostgresRecordRepository) update(ctx context.Context, op string, f filter.Filter, set models.Record, one bool) (models.UpdateResult, error) {
	patch, err := encodeSet(set)
	if err != nil {
		return models.UpdateResult{}, err
	}
	return r.rewrite(ctx, op, f, "r.data || ", patch, one)
}

// ReplaceOne swaps the document of the earliest record matching f for rec.
// The record keeps its _id.
func (r *PostgresRecordRepository) ReplaceOne(ctx context.Context, f filter.Filter, rec models.Record) (models.UpdateResult, error) {
	doc, err := encodeDocument(rec)
	if err != nil {
		return models.UpdateResult{}, err
	}
	return r.rewrite(ctx, "replace one", f, "", doc, true)
}

// rewrite sets data to prefix||$doc on the matching rows. Rows whose data
// would not change are matched but not written.
func (r *PostgresRecordRepository) rewrite(ctx context.Context, op string, f filter.Filter, prefix, doc string, one bool) (models.UpdateResult, error) {
	b := newSQLBuilder(r.Collection)
	where, err := b.filter(f)
	if err != nil {
		return models.UpdateResult{}, err
	}
	next := prefix + b.bind(doc) + "::jsonb"

	target := "SELECT seq FROM records WHERE collection = $1 AND " + where + " ORDER BY seq"
	if one {
		target += " LIMIT 1"
	}
	query := `WITH target AS (` + target + ` FOR UPDATE),
changed AS (
	UPDATE records r SET data = ` + next + `
	FROM target t
	WHERE r.seq = t.seq AND r.data IS DISTINCT FROM (` + next + `)
	RETURNING 1
)
SELECT (SELECT COUNT(*) FROM target), (SELECT COUNT(*) FROM changed)`

	var res models.UpdateResult
	if err := r.DB.QueryRowContext(ctx, query, b.args...).Scan(&res.Matched, &res.Modified); err != nil {
		return models.UpdateResult{}, pgErr(op, err)
	}
	return res, nil
}

// FindOneAndUpdate merges set into the earliest record matching f and
// returns the updated record.
func (r *PostgresRecordRepository) FindOneAndUpdate(ctx context.Context, f filter.Filter, set models.Record) (models.Lookup, error) {
	patch, err := encodeSet(set)
	if err != nil {
		return models.NotFound, err
	}
	b := newSQLBuilder(r.Collection)
	where, err := b.filter(f)
	if err != nil {
		return models.NotFound, err
	}
	query := "UPDATE records SET data = data || " + b.bind(patch) + "::jsonb WHERE seq IN (" +
		"SELECT seq FROM records WHERE collection = $1 AND " + where + " ORDER BY seq LIMIT 1 FOR UPDATE" +
		") RETURNING id, data"
	return r.single(ctx, "find one and update", query, b.args)
}

// DeleteOne removes the earliest record matching f.
func (r *PostgresRecordRepository) DeleteOne(ctx context.Context, f filter.Filter) (models.DeleteResult, error) {
	return r.delete(ctx, "delete one", f, true)
}

// DeleteMany removes every record matching f.
func (r *PostgresRecordRepository) DeleteMany(ctx context.Context, f filter.Filter) (models.DeleteResult, error) {
	return r.delete(ctx, "delete many", f, false)
}

func (r *PostgresRecordRepository) delete(ctx context.Context, op string, f filter.Filter, one bool) (models.DeleteResult, error) {
	b := newSQLBuilder(r.Collection)
	where, err := b.filter(f)
	if err != nil {
		return models.DeleteResult{}, err
	}
	query := "DELETE FROM records WHERE collection = $1 AND " + where
	if one {
		query = "DELETE FROM records WHERE seq IN (SELECT seq FROM records WHERE collection = $1 AND " +
			where + " ORDER BY seq LIMIT 1)"
	}
	res, err := r.DB.ExecContext(ctx, query, b.args...)
	if err != nil {
		return models.DeleteResult{}, pgErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.DeleteResult{}, pgErr(op, err)
	}
	return models.DeleteResult{Deleted: n}, nil
}

// FindOneAndDelete removes the earliest record matching f and returns it.
func (r *PostgresRecordRepository) FindOneAndDelete(ctx context.Context, f filter.Filter) (models.Lookup, error) {
	b := newSQLBuilder(r.Collection)
	where, err := b.filter(f)
	if err != nil {
		return models.NotFound, err
	}
	query := "DELETE FROM records WHERE seq IN (SELECT seq FROM records WHERE collection = $1 AND " +
		where + " ORDER BY seq LIMIT 1) RETURNING id, data"
	return r.single(ctx, "find one and delete", query, b.args)
}

// Stats reports the record count and the stored size of the collection.
func (r *PostgresRecordRepository) Stats(ctx context.Context) (models.Record, error) {
	var count, size int64
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(pg_column_size(data)), 0) FROM records WHERE collection = $1`,
		r.Collection,
	).Scan(&count, &size)
	if err != nil {
		return nil, pgErr("collection stats", err)
	}
	return collectionStats(r.Collection, count, size), nil
}

func (r *PostgresRecordRepository) single(ctx context.Context, op, query string, args []any) (models.Lookup, error) {
	var key string
	var data []byte
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&key, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NotFound, nil
	}
	if err != nil {
		return models.NotFound, pgErr(op, err)
	}
	rec, err := decodeDocument(key, data)
	if err != nil {
		return models.NotFound, err
	}
	return models.Found(rec), nil
}

// collectionStats shapes storage statistics like MongoDB's collStats so
// clients see the same fields from every backend.
func collectionStats(collection string, count, size int64) models.Record {
	var avg int64
	if count > 0 {
		avg = size / count
	}
	return models.Record{
		"ns":         collection,
		"count":      count,
		"size":       size,
		"avgObjSize": avg,
	}
}
