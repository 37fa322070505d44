package volume

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covekit/cove/pkg/config"
	"github.com/covekit/cove/pkg/errdefs"
	"github.com/covekit/cove/pkg/pool"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	p, err := pool.Open(filepath.Join(dir, "pool"))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	svc, err := NewService(&ServiceConfig{
		Config: config.NewStore(filepath.Join(dir, "volume.json")),
		Pool:   p,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	return svc
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(&ServiceConfig{})
	assert.Error(t, err)
}

func TestServiceIdentity_StableAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	store := config.NewStore(filepath.Join(dir, "volume.json"))

	p1, err := pool.Open(filepath.Join(dir, "pool1"))
	require.NoError(t, err)
	svc1, err := NewService(&ServiceConfig{Config: store, Pool: p1})
	require.NoError(t, err)
	require.NoError(t, svc1.Start())
	first := svc1.UUID()
	require.NotEmpty(t, first)
	p1.Close()

	p2, err := pool.Open(filepath.Join(dir, "pool2"))
	require.NoError(t, err)
	defer p2.Close()
	svc2, err := NewService(&ServiceConfig{Config: store, Pool: p2})
	require.NoError(t, err)
	require.NoError(t, svc2.Start())

	assert.Equal(t, first, svc2.UUID())
}

func TestServiceCreateAndGet(t *testing.T) {
	svc := newTestService(t)

	vol, err := svc.Create("thevolume")
	require.NoError(t, err)
	assert.Equal(t, svc.UUID(), vol.OwnerUUID)
	assert.Equal(t, "thevolume", vol.Name)

	fs, err := vol.Filesystem()
	require.NoError(t, err)
	_, err = os.Stat(fs.Path())
	assert.NoError(t, err)

	got, err := svc.Get("thevolume")
	require.NoError(t, err)
	assert.True(t, got.Equal(vol))
}

func TestServiceCreate_AlreadyExists(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Create("thevolume")
	require.NoError(t, err)
	_, err = svc.Create("thevolume")
	assert.ErrorIs(t, err, errdefs.ErrAlreadyExists)
}

func TestServiceGet_NotFound(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Get("nonexistent")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestServiceEnumerate(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Create("bravo")
	require.NoError(t, err)
	_, err = svc.Create("alpha")
	require.NoError(t, err)

	volumes, err := svc.Enumerate()
	require.NoError(t, err)
	require.Len(t, volumes, 2)
	assert.Equal(t, "alpha", volumes[0].Name)
	assert.Equal(t, "bravo", volumes[1].Name)
	for _, vol := range volumes {
		assert.Equal(t, svc.UUID(), vol.OwnerUUID)
	}
}

func TestServiceDestroy(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Create("thevolume")
	require.NoError(t, err)
	require.NoError(t, svc.Destroy("thevolume"))

	_, err = svc.Get("thevolume")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	assert.ErrorIs(t, svc.Destroy("thevolume"), errdefs.ErrNotFound)
}

func TestServiceSnapshotIDs_MissingVolumeIsEmpty(t *testing.T) {
	svc := newTestService(t)

	ids, err := svc.SnapshotIDs("nonexistent")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestVolumeEqual(t *testing.T) {
	svc := newTestService(t)
	other := newTestService(t)

	a := New("owner-1", "thevolume", svc.Pool())
	b := New("owner-1", "thevolume", svc.Pool())
	assert.True(t, a.Equal(b))

	assert.False(t, a.Equal(New("owner-2", "thevolume", svc.Pool())))
	assert.False(t, a.Equal(New("owner-1", "othervolume", svc.Pool())))
	assert.False(t, a.Equal(New("owner-1", "thevolume", other.Pool())))
}
