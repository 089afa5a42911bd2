package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/contacts/internal/config"
	"github.com/example/contacts/internal/storage/memory"
	"github.com/example/contacts/internal/storage/sqlite"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.DBConfig{Adapter: "memory"}, discard())
	require.NoError(t, err)
	require.IsType(t, &memory.DB{}, s)

	s, err = Open(ctx, config.DBConfig{Adapter: "sqlite", SQLiteFile: filepath.Join(t.TempDir(), "data", "c.db")}, discard())
	require.NoError(t, err)
	require.IsType(t, &sqlite.Storage{}, s)
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.DBConfig{Adapter: "mysql"}, discard())
	require.ErrorContains(t, err, "unsupported DB_ADAPTER")
}
