package pool

import (
	"os"
	"time"
)

// SnapshotID addresses one immutable point-in-time capture of a dataset.
// Identifiers travel inside diff streams, so a snapshot applied on a
// destination keeps the id it was given on the origin.
type SnapshotID string

func (id SnapshotID) String() string { return string(id) }

// Snapshot describes one existing snapshot of a dataset.
type Snapshot struct {
	ID        SnapshotID
	CreatedAt time.Time
}

// Filesystem is a handle to one copy-on-write dataset within a pool. It
// carries no state of its own; all operations resolve against the pool.
type Filesystem struct {
	pool *Pool
	name string
}

// Name returns the pool-relative dataset name.
func (f *Filesystem) Name() string { return f.name }

// Path returns the dataset's live directory tree on the local filesystem.
// The path exists if and only if the dataset exists.
func (f *Filesystem) Path() string {
	return f.pool.dataPath(f.name)
}

// Exists reports whether the dataset's live tree is present on disk.
func (f *Filesystem) Exists() bool {
	info, err := os.Stat(f.Path())
	return err == nil && info.IsDir()
}

// Snapshots returns the dataset's snapshots in creation order.
func (f *Filesystem) Snapshots() ([]Snapshot, error) {
	return f.pool.meta.ListSnapshots(f.name)
}

// LatestSnapshot returns the most recent snapshot, if any exist.
func (f *Filesystem) LatestSnapshot() (Snapshot, bool, error) {
	snaps, err := f.Snapshots()
	if err != nil || len(snaps) == 0 {
		return Snapshot{}, false, err
	}
	return snaps[len(snaps)-1], true, nil
}
