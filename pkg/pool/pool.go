package pool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/covekit/cove/pkg/errdefs"
	"github.com/covekit/cove/pkg/log"
	"github.com/covekit/cove/pkg/metrics"
)

const metadataFile = "cove.db"

// Pool is a host-local namespace of copy-on-write datasets rooted at one
// directory. Dataset names are unique within a pool. A pool must be managed
// by at most one volume service instance at a time; BoltDB's file lock on
// the metadata enforces this across processes.
type Pool struct {
	root   string
	meta   *metaStore
	logger zerolog.Logger

	// mu serializes namespace mutations (create/destroy/receive promote).
	// Snapshot and send of distinct datasets interleave freely.
	mu sync.Mutex
}

// Open opens (creating if necessary) the pool rooted at dir.
func Open(dir string) (*Pool, error) {
	for _, sub := range []string{"", "datasets", "staging"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create pool directory: %w", err)
		}
	}

	meta, err := openMeta(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, err
	}

	p := &Pool{
		root:   dir,
		meta:   meta,
		logger: log.WithComponent("pool"),
	}

	// Orphaned staging entries from an interrupted receive are garbage.
	if err := p.clearStaging(); err != nil {
		meta.Close()
		return nil, err
	}

	return p, nil
}

// Close releases the pool's metadata store. Datasets persist on disk.
func (p *Pool) Close() error {
	return p.meta.Close()
}

// Root returns the pool's root directory.
func (p *Pool) Root() string { return p.root }

// Create allocates a new empty dataset.
func (p *Pool) Create(name string) (*Filesystem, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.meta.CreateDataset(name); err != nil {
		return nil, err
	}
	for _, sub := range []string{"data", "snapshots"} {
		if err := os.MkdirAll(filepath.Join(p.datasetPath(name), sub), 0755); err != nil {
			// Unregister so the name does not exist without its live tree.
			p.meta.DeleteDataset(name)
			os.RemoveAll(p.datasetPath(name))
			return nil, fmt.Errorf("failed to create dataset %s: %w", name, err)
		}
	}

	metrics.DatasetsTotal.Inc()
	p.logger.Info().Str("dataset", name).Msg("dataset created")
	return &Filesystem{pool: p, name: name}, nil
}

// Get resolves an existing dataset.
func (p *Pool) Get(name string) (*Filesystem, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	exists, err := p.meta.DatasetExists(name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("dataset %s: %w", name, errdefs.ErrNotFound)
	}
	return &Filesystem{pool: p, name: name}, nil
}

// Enumerate lists all dataset names in the pool, in stable (key) order.
func (p *Pool) Enumerate() ([]string, error) {
	return p.meta.ListDatasets()
}

// Snapshot captures the dataset's current state as a new immutable snapshot
// and returns its identifier, usable as a diff base.
func (p *Pool) Snapshot(fs *Filesystem) (SnapshotID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	exists, err := p.meta.DatasetExists(fs.name)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("dataset %s: %w", fs.name, errdefs.ErrNotFound)
	}

	seq, err := p.meta.NextSnapshotSeq(fs.name)
	if err != nil {
		return "", err
	}
	id := SnapshotID(fmt.Sprintf("%010d-%s", seq, uuid.NewString()[:8]))

	// Build the snapshot in staging, then a single rename makes it visible.
	staged := p.stagingPath()
	defer os.RemoveAll(staged)
	if err := copyTree(fs.Path(), staged); err != nil {
		return "", fmt.Errorf("failed to capture snapshot of %s: %w", fs.name, err)
	}
	if err := os.Rename(staged, p.snapshotPath(fs.name, id)); err != nil {
		return "", fmt.Errorf("failed to promote snapshot of %s: %w", fs.name, err)
	}
	if err := p.meta.AddSnapshot(fs.name, id); err != nil {
		return "", err
	}

	p.logger.Debug().Str("dataset", fs.name).Str("snapshot", string(id)).Msg("snapshot created")
	return id, nil
}

// Clone copies the dataset's current live tree into a new dataset.
func (p *Pool) Clone(fs *Filesystem, newName string) (*Filesystem, error) {
	clone, err := p.Create(newName)
	if err != nil {
		return nil, err
	}
	if err := copyTree(fs.Path(), clone.Path()); err != nil {
		return nil, fmt.Errorf("failed to clone %s into %s: %w", fs.name, newName, err)
	}
	return clone, nil
}

// Destroy removes a dataset and all its snapshots.
func (p *Pool) Destroy(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.meta.DeleteDataset(name); err != nil {
		return err
	}

	// Move aside first so the name disappears in one rename, then reclaim.
	doomed := p.stagingPath()
	if err := os.Rename(p.datasetPath(name), doomed); err != nil {
		return fmt.Errorf("failed to destroy dataset %s: %w", name, err)
	}
	if err := os.RemoveAll(doomed); err != nil {
		return fmt.Errorf("failed to reclaim dataset %s: %w", name, err)
	}

	metrics.DatasetsTotal.Dec()
	p.logger.Info().Str("dataset", name).Msg("dataset destroyed")
	return nil
}

func (p *Pool) datasetPath(name string) string {
	return filepath.Join(p.root, "datasets", name)
}

func (p *Pool) dataPath(name string) string {
	return filepath.Join(p.datasetPath(name), "data")
}

func (p *Pool) snapshotPath(name string, id SnapshotID) string {
	return filepath.Join(p.datasetPath(name), "snapshots", string(id))
}

func (p *Pool) stagingPath() string {
	return filepath.Join(p.root, "staging", uuid.NewString())
}

func (p *Pool) clearStaging() error {
	entries, err := os.ReadDir(filepath.Join(p.root, "staging"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(p.root, "staging", e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("dataset name must not be empty")
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("invalid dataset name %q", name)
	}
	return nil
}
