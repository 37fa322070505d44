package pool

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/covekit/cove/pkg/errdefs"
)

var (
	// Bucket names
	bucketDatasets  = []byte("datasets")
	bucketSnapshots = []byte("snapshots")
)

// datasetRecord is the persisted metadata for one dataset.
type datasetRecord struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// snapshotRecord is the persisted metadata for one snapshot. Keys in the
// per-dataset bucket are local insertion counters, so iteration order is
// creation order even when snapshot ids were minted on another host.
type snapshotRecord struct {
	ID        SnapshotID `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
}

// metaStore tracks datasets and their snapshot history in BoltDB.
type metaStore struct {
	db *bolt.DB
}

func openMeta(path string) (*metaStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool metadata: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketDatasets, bucketSnapshots} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &metaStore{db: db}, nil
}

func (m *metaStore) Close() error {
	return m.db.Close()
}

func (m *metaStore) CreateDataset(name string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDatasets)
		if b.Get([]byte(name)) != nil {
			return fmt.Errorf("dataset %s: %w", name, errdefs.ErrAlreadyExists)
		}
		data, err := json.Marshal(&datasetRecord{Name: name, CreatedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
}

func (m *metaStore) DatasetExists(name string) (bool, error) {
	var exists bool
	err := m.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketDatasets).Get([]byte(name)) != nil
		return nil
	})
	return exists, err
}

func (m *metaStore) ListDatasets() ([]string, error) {
	var names []string
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDatasets).ForEach(func(k, v []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

func (m *metaStore) DeleteDataset(name string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDatasets)
		if b.Get([]byte(name)) == nil {
			return fmt.Errorf("dataset %s: %w", name, errdefs.ErrNotFound)
		}
		if err := b.Delete([]byte(name)); err != nil {
			return err
		}
		sb := tx.Bucket(bucketSnapshots)
		if sb.Bucket([]byte(name)) != nil {
			return sb.DeleteBucket([]byte(name))
		}
		return nil
	})
}

// AddSnapshot records a snapshot for a dataset under the next local
// insertion counter.
func (m *metaStore) AddSnapshot(name string, id SnapshotID) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketSnapshots).CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(&snapshotRecord{ID: id, CreatedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		return b.Put([]byte(fmt.Sprintf("%016d", seq)), data)
	})
}

// NextSnapshotSeq reserves the next snapshot sequence number for a dataset.
func (m *metaStore) NextSnapshotSeq(name string) (uint64, error) {
	var seq uint64
	err := m.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketSnapshots).CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return err
		}
		seq, err = b.NextSequence()
		return err
	})
	return seq, err
}

func (m *metaStore) ListSnapshots(name string) ([]Snapshot, error) {
	var snaps []Snapshot
	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots).Bucket([]byte(name))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec snapshotRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			snaps = append(snaps, Snapshot{ID: rec.ID, CreatedAt: rec.CreatedAt})
			return nil
		})
	})
	return snaps, err
}

func (m *metaStore) HasSnapshot(name string, id SnapshotID) (bool, error) {
	snaps, err := m.ListSnapshots(name)
	if err != nil {
		return false, err
	}
	for _, s := range snaps {
		if s.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// ResetSnapshots drops a dataset's snapshot history. Used when a full stream
// replaces an existing dataset, where the incoming state shares no lineage
// with the history being discarded.
func (m *metaStore) ResetSnapshots(name string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		if b.Bucket([]byte(name)) != nil {
			return b.DeleteBucket([]byte(name))
		}
		return nil
	})
}
