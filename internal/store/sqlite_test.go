package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mint-trader/internal/config"
)

func TestNewSQLite_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mint.db")

	s, err := NewSQLite(config.DatabaseConfig{Path: path, MaxOpenConns: 2, MaxIdleConns: 1})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ping(context.Background()))
	require.FileExists(t, path)
}

func TestNewSQLite_InMemorySharesOneConnection(t *testing.T) {
	s, err := NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 4})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.DB().Exec(`CREATE TABLE t (v INTEGER)`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`INSERT INTO t (v) VALUES (1)`)
	require.NoError(t, err)

	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n))
	require.Equal(t, 1, n)
}
