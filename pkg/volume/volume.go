package volume

import (
	"github.com/covekit/cove/pkg/pool"
)

// Volume binds a volume name and owner identity to a dataset within a pool.
// It is an immutable value: construct one with New, never mutate it.
type Volume struct {
	// OwnerUUID identifies the service instance that owns this volume.
	OwnerUUID string

	// Name is the volume's pool-relative name.
	Name string

	pool *pool.Pool
}

// New reconstructs a volume from an existing owner identity, name, and pool
// without allocating storage. This is how the destination side of a push is
// represented: the backing dataset is expected to already exist (or to be
// created by a receive).
func New(ownerUUID, name string, p *pool.Pool) *Volume {
	return &Volume{OwnerUUID: ownerUUID, Name: name, pool: p}
}

// Filesystem resolves the volume's backing dataset.
func (v *Volume) Filesystem() (*pool.Filesystem, error) {
	return v.pool.Get(v.Name)
}

// Equal reports whether two volumes denote the same dataset: owner, name,
// and underlying pool must all match.
func (v *Volume) Equal(other *Volume) bool {
	if other == nil {
		return false
	}
	return v.OwnerUUID == other.OwnerUUID &&
		v.Name == other.Name &&
		v.pool == other.pool
}
