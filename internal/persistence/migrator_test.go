package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVersion(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"000001_ledger.up.sql", "000001"},
		{"000003_trading.down.sql", "000003"},
		{"noversion.sql", "noversion.sql"},
	}
	for _, tt := range tests {
		if got := extractVersion(tt.in); got != tt.want {
			t.Errorf("extractVersion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestListMigrationFiles_SortedBySuffix(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_fairness.up.sql",
		"000001_ledger.up.sql",
		"000001_ledger.down.sql",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "000009_dir.up.sql"), 0o755))

	m := NewMigrator(nil, dir, zerolog.Nop())

	up, err := m.listMigrationFiles(".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_ledger.up.sql", "000002_fairness.up.sql"}, up)

	down, err := m.listMigrationFiles(".down.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_ledger.down.sql"}, down)
}

func TestRepositoryMigrationsPair(t *testing.T) {
	m := NewMigrator(nil, filepath.Join("..", "..", "migrations"), zerolog.Nop())

	up, err := m.listMigrationFiles(".up.sql")
	require.NoError(t, err)
	down, err := m.listMigrationFiles(".down.sql")
	require.NoError(t, err)

	require.Len(t, down, len(up))
	for i := range up {
		assert.Equal(t, extractVersion(up[i]), extractVersion(down[i]))
	}
}
