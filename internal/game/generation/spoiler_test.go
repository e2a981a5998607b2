package generation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/multiworld/internal/protocol"
)

func TestSpoilerStore_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spoilers")
	store := NewSpoilerStore(dir, zap.NewNop())

	path, err := store.Write("session-1",
		Settings{Seed: 42, Algorithm: "shuffle"},
		protocol.SpoilerLog{FullOrderedItems: "Chest_A@Alice <- MW(2)_Bow\n"},
	)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "session-1.txt"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "seed: 42")
	assert.Contains(t, string(content), "algorithm: shuffle")
	assert.Contains(t, string(content), "Chest_A@Alice <- MW(2)_Bow")
}

func TestSpoilerStore_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "deep", "nested", "spoilers")
	store := NewSpoilerStore(dir, zap.NewNop())

	_, err := store.Write("s", Settings{}, protocol.SpoilerLog{})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
