package storage

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/pricelens/backend/internal/infrastructure/storage/memory"
	"github.com/pricelens/backend/internal/infrastructure/storage/migrations"
	"github.com/pricelens/backend/internal/infrastructure/storage/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		repo, err := Open(ctx, Options{Driver: DriverMemory}, quietLogger())
		require.NoError(t, err)
		defer repo.Close()
		assert.IsType(t, &memory.Store{}, repo)
	})

	t.Run("sqlite", func(t *testing.T) {
		repo, err := Open(ctx, Options{Driver: DriverSQLite, DSN: ":memory:", AutoMigrate: true}, quietLogger())
		require.NoError(t, err)
		defer repo.Close()
		assert.IsType(t, &sqlite.Store{}, repo)
		assert.NoError(t, repo.Ping(ctx))
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := Open(ctx, Options{Driver: "mongo"}, quietLogger())
		assert.Error(t, err)
	})
}

func TestOpenSQL(t *testing.T) {
	ctx := context.Background()

	db, dialect, err := OpenSQL(ctx, Options{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "m.db")})
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, migrations.SQLite, dialect)

	require.NoError(t, migrations.Up(ctx, db, dialect, quietLogger()))
	version, err := migrations.Version(ctx, db, dialect)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	require.NoError(t, migrations.Down(ctx, db, dialect, quietLogger()))
	version, err = migrations.Version(ctx, db, dialect)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)

	_, _, err = OpenSQL(ctx, Options{Driver: DriverMemory})
	assert.Error(t, err)
}
