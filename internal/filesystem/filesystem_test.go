package filesystem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDirectoryExists(t *testing.T) {
	testDir := filepath.Join(t.TempDir(), "downloads", "nested")

	err := EnsureDirectoryExists(testDir)
	assert.NoError(t, err)

	info, err := os.Stat(testDir)
	assert.NoError(t, err)
	assert.True(t, info.IsDir())

	// Idempotent on an existing directory.
	assert.NoError(t, EnsureDirectoryExists(testDir))
}

func TestGetFileInfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "offer.bin")
	content := []byte("five!")
	require.NoError(t, os.WriteFile(path, content, 0644))

	info, err := GetFileInfo(path)
	require.NoError(t, err)
	assert.Equal(t, "offer.bin", info.Name)
	assert.Equal(t, int64(len(content)), info.Size)
	assert.Equal(t, path, info.Path)

	_, err = GetFileInfo(filepath.Join(dir, "missing.bin"))
	assert.Error(t, err)

	_, err = GetFileInfo(dir)
	assert.Error(t, err, "directories cannot be offered")
}

func TestReservePathNoCollision(t *testing.T) {
	dir := t.TempDir()

	path, f, err := ReservePath(dir, "f.txt")
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, filepath.Join(dir, "f.txt"), path)
}

func TestReservePathCollisionSuffixes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), nil, 0644))

	path1, f1, err := ReservePath(dir, "f.txt")
	require.NoError(t, err)
	defer f1.Close()
	assert.Equal(t, filepath.Join(dir, "f_1.txt"), path1)

	// The counter goes before the extension and keeps incrementing.
	path2, f2, err := ReservePath(dir, "f.txt")
	require.NoError(t, err)
	defer f2.Close()
	assert.Equal(t, filepath.Join(dir, "f_2.txt"), path2)
}

func TestReservePathNoExtension(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), nil, 0644))

	path, f, err := ReservePath(dir, "README")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, filepath.Join(dir, "README_1"), path)
}

func TestReservePathStripsDirectoryComponents(t *testing.T) {
	dir := t.TempDir()

	path, f, err := ReservePath(dir, "../../etc/passwd")
	require.NoError(t, err)
	defer f.Close()

	// Only the base name survives; the write stays inside dir.
	assert.Equal(t, filepath.Join(dir, "passwd"), path)
}

func TestReservePathRejectsEmptyName(t *testing.T) {
	_, _, err := ReservePath(t.TempDir(), "   ")
	assert.Error(t, err)
}
