package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covekit/cove/pkg/errdefs"
)

func TestLoadOrCreate_GeneratesStableIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.json")
	store := NewStore(path)

	cfg, err := store.LoadOrCreate()
	require.NoError(t, err)
	_, err = uuid.Parse(cfg.OwnerUUID)
	require.NoError(t, err, "owner uuid should be a valid UUID")

	// A second load from the same location yields the same identity.
	again, err := NewStore(path).LoadOrCreate()
	require.NoError(t, err)
	assert.Equal(t, cfg.OwnerUUID, again.OwnerUUID)
}

func TestLoad_Missing(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "volume.json"))

	_, err := store.Load()
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestLoad_RejectsEmptyOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))

	_, err := NewStore(path).Load()
	assert.Error(t, err)
}

func TestSave_PermissionDenied(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root doesn't get permission errors")
	}

	dir := filepath.Join(t.TempDir(), "readonly")
	require.NoError(t, os.Mkdir(dir, 0500))
	path := filepath.Join(dir, "out.json")

	err := NewStore(path).Save(&Config{OwnerUUID: uuid.NewString()})
	require.Error(t, err)

	var we *WriteError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, path, we.Path)
	assert.Equal(t, "Permission denied", we.Reason())
	assert.Contains(t, we.Error(), path)
	assert.Contains(t, we.Error(), "Permission denied")
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.json")
	store := NewStore(path)

	want := &Config{OwnerUUID: uuid.NewString()}
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want.OwnerUUID, got.OwnerUUID)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
