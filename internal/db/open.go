package db

import (
	"context"
	"fmt"
	"time"

	"github.com/atinyakov/DocKeeper/internal/config"
	"github.com/atinyakov/DocKeeper/internal/repository"
)

// OpenerFor returns the Opener of the backend selected by opts.Storage.
func OpenerFor(opts *config.Options) (Opener, error) {
	switch opts.Storage {
	case config.StorageMongo:
		uri, database, timeout := opts.MongoURI(), opts.MongoDatabase, opts.ConnectTimeout
		return func(ctx context.Context) (repository.Backend, error) {
			client, err := InitMongo(ctx, uri, orDefault(timeout))
			if err != nil {
				return nil, err
			}
			return repository.NewMongoBackend(client, database), nil
		}, nil

	case config.StoragePostgres:
		dsn, timeout := opts.DatabaseDSN, opts.ConnectTimeout
		return func(ctx context.Context) (repository.Backend, error) {
			ctx, cancel := context.WithTimeout(ctx, orDefault(timeout))
			defer cancel()
			pg, err := InitPostgres(ctx, dsn)
			if err != nil {
				return nil, err
			}
			return repository.NewPostgresBackend(pg), nil
		}, nil

	case config.StorageMemory:
		return func(context.Context) (repository.Backend, error) {
			return repository.NewMemoryBackend(), nil
		}, nil

	case config.StorageFile:
		path := opts.DataFile
		return func(context.Context) (repository.Backend, error) {
			return repository.OpenFileBackend(path)
		}, nil
	}
	return nil, fmt.Errorf("unknown storage %q", opts.Storage)
}

func orDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}
