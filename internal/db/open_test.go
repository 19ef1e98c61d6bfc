package db_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/DocKeeper/internal/config"
	"github.com/atinyakov/DocKeeper/internal/db"
)

func TestOpenerFor(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		opts     *config.Options
		wantName string
	}{
		{"memory", &config.Options{Storage: config.StorageMemory}, "memory"},
		{"file", &config.Options{Storage: config.StorageFile, DataFile: filepath.Join(t.TempDir(), "db.json")}, "file"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			open, err := db.OpenerFor(tc.opts)
			require.NoError(t, err)
			b, err := open(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.wantName, b.Name())
			assert.NoError(t, b.Close(ctx))
		})
	}

	_, err := db.OpenerFor(&config.Options{Storage: "sqlite"})
	assert.Error(t, err)

	open, err := db.OpenerFor(&config.Options{Storage: config.StoragePostgres, DatabaseDSN: "some=random"})
	require.NoError(t, err)
	_, err = open(ctx)
	assert.ErrorContains(t, err, "ping postgres")
}
