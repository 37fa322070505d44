package pool

import (
	"archive/tar"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/covekit/cove/pkg/errdefs"
	"github.com/covekit/cove/pkg/metrics"
)

// streamVersion is the wire version of the snapshot diff stream. The stream
// is opaque to everything outside this package.
const streamVersion = 1

// streamHeader precedes the archive payload. Snapshot is the id the payload
// materializes; Base is empty for a full stream. Deleted lists base-relative
// paths removed since Base.
type streamHeader struct {
	Version  int        `json:"version"`
	Snapshot SnapshotID `json:"snapshot"`
	Base     SnapshotID `json:"base,omitempty"`
	Deleted  []string   `json:"deleted,omitempty"`
}

func writeHeader(w io.Writer, h *streamHeader) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(data)))
	if _, err := w.Write(size[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func readHeader(r io.Reader) (*streamHeader, error) {
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, fmt.Errorf("reading stream header: %w", err)
	}
	n := binary.BigEndian.Uint32(size[:])
	if n > 1<<20 {
		return nil, fmt.Errorf("stream header too large: %d bytes", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("reading stream header: %w", err)
	}
	var h streamHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parsing stream header: %w", err)
	}
	if h.Version != streamVersion {
		return nil, fmt.Errorf("unsupported stream version %d", h.Version)
	}
	return &h, nil
}

// Send writes a snapshot diff stream for the dataset's latest snapshot to w.
// With an empty base the stream carries the full snapshot tree; otherwise it
// carries only entries added or changed since base, plus the deletions
// recorded in the header. The base must exist in this pool, or
// errdefs.ErrUnknownSnapshot is returned.
func (p *Pool) Send(f *Filesystem, base SnapshotID, w io.Writer) error {
	top, ok, err := f.LatestSnapshot()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("dataset %s has no snapshots to send", f.name)
	}

	header := &streamHeader{Version: streamVersion, Snapshot: top.ID, Base: base}

	var entries []string
	if base == "" {
		entries, err = listTree(p.snapshotPath(f.name, top.ID))
		if err != nil {
			return err
		}
	} else {
		has, err := p.meta.HasSnapshot(f.name, base)
		if err != nil {
			return err
		}
		if !has {
			return fmt.Errorf("send base %s: %w", base, errdefs.ErrUnknownSnapshot)
		}
		entries, header.Deleted, err = diffTrees(
			p.snapshotPath(f.name, base), p.snapshotPath(f.name, top.ID))
		if err != nil {
			return err
		}
	}

	cw := &countingWriter{w: w}
	if err := writeHeader(cw, header); err != nil {
		return fmt.Errorf("writing stream header: %w", err)
	}

	tw := tar.NewWriter(cw)
	root := p.snapshotPath(f.name, top.ID)
	for _, rel := range entries {
		if err := writeTarEntry(tw, root, rel); err != nil {
			return fmt.Errorf("streaming %s: %w", rel, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}

	metrics.BytesSentTotal.Add(float64(cw.n))
	p.logger.Debug().
		Str("dataset", f.name).
		Str("snapshot", string(top.ID)).
		Str("base", string(base)).
		Int64("bytes", cw.n).
		Msg("stream sent")
	return nil
}

// Receive consumes a snapshot diff stream and materializes or updates the
// dataset named name. The apply is atomic: the dataset either reaches the
// stream's state or is left exactly as it was. All writes land in the
// staging area; a rename promotes them only once the stream has been read
// to completion.
func (p *Pool) Receive(name string, r io.Reader) (*Filesystem, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	header, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	exists, err := p.meta.DatasetExists(name)
	if err != nil {
		return nil, err
	}

	var f *Filesystem
	if header.Base == "" {
		f, err = p.receiveFull(name, exists, header, r)
	} else {
		f, err = p.receiveIncremental(name, exists, header, r)
	}
	if err != nil {
		metrics.ReceivesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.ReceivesTotal.WithLabelValues("ok").Inc()
	p.logger.Info().
		Str("dataset", name).
		Str("snapshot", string(header.Snapshot)).
		Str("base", string(header.Base)).
		Msg("stream received")
	return f, nil
}

// receiveFull materializes a complete dataset from a full stream. A full
// stream onto an existing dataset replaces it wholesale and resets its
// snapshot history, since the incoming state shares no recorded lineage.
func (p *Pool) receiveFull(name string, exists bool, header *streamHeader, r io.Reader) (*Filesystem, error) {
	staged := p.stagingPath()
	defer os.RemoveAll(staged)

	snapDir := filepath.Join(staged, "snapshots", string(header.Snapshot))
	if err := os.MkdirAll(snapDir, 0755); err != nil {
		return nil, err
	}
	if err := extractTar(r, snapDir); err != nil {
		return nil, err
	}
	if err := copyTree(snapDir, filepath.Join(staged, "data")); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if exists {
		old := p.stagingPath()
		if err := os.Rename(p.datasetPath(name), old); err != nil {
			return nil, fmt.Errorf("failed to replace dataset %s: %w", name, err)
		}
		if err := os.Rename(staged, p.datasetPath(name)); err != nil {
			// Put the previous state back; nothing has been committed.
			os.Rename(old, p.datasetPath(name))
			return nil, fmt.Errorf("failed to promote dataset %s: %w", name, err)
		}
		os.RemoveAll(old)
		if err := p.meta.ResetSnapshots(name); err != nil {
			return nil, err
		}
	} else {
		if err := os.Rename(staged, p.datasetPath(name)); err != nil {
			return nil, fmt.Errorf("failed to promote dataset %s: %w", name, err)
		}
		if err := p.meta.CreateDataset(name); err != nil {
			return nil, err
		}
		metrics.DatasetsTotal.Inc()
	}
	if err := p.meta.AddSnapshot(name, header.Snapshot); err != nil {
		return nil, err
	}

	return &Filesystem{pool: p, name: name}, nil
}

// receiveIncremental applies a delta stream on top of the declared base
// snapshot. The target must already hold that snapshot, or
// errdefs.ErrBaseMismatch is returned and nothing changes.
func (p *Pool) receiveIncremental(name string, exists bool, header *streamHeader, r io.Reader) (*Filesystem, error) {
	if !exists {
		return nil, fmt.Errorf("dataset %s missing base %s: %w",
			name, header.Base, errdefs.ErrBaseMismatch)
	}
	has, err := p.meta.HasSnapshot(name, header.Base)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, fmt.Errorf("dataset %s missing base %s: %w",
			name, header.Base, errdefs.ErrBaseMismatch)
	}

	// New snapshot tree = base snapshot + stream delta, built in staging.
	stagedSnap := p.stagingPath()
	defer os.RemoveAll(stagedSnap)
	if err := copyTree(p.snapshotPath(name, header.Base), stagedSnap); err != nil {
		return nil, err
	}
	if err := extractTar(r, stagedSnap); err != nil {
		return nil, err
	}
	for _, rel := range header.Deleted {
		target, err := securePath(stagedSnap, rel)
		if err != nil {
			return nil, err
		}
		// Entries under a directory that the overlay replaced with a file
		// are already gone.
		if _, err := os.Lstat(target); err != nil {
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			return nil, err
		}
	}

	stagedData := p.stagingPath()
	defer os.RemoveAll(stagedData)
	if err := copyTree(stagedSnap, stagedData); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.Rename(stagedSnap, p.snapshotPath(name, header.Snapshot)); err != nil {
		return nil, fmt.Errorf("failed to promote snapshot %s: %w", header.Snapshot, err)
	}
	old := p.stagingPath()
	if err := os.Rename(p.dataPath(name), old); err != nil {
		return nil, fmt.Errorf("failed to replace dataset %s: %w", name, err)
	}
	if err := os.Rename(stagedData, p.dataPath(name)); err != nil {
		os.Rename(old, p.dataPath(name))
		return nil, fmt.Errorf("failed to promote dataset %s: %w", name, err)
	}
	os.RemoveAll(old)

	if err := p.meta.AddSnapshot(name, header.Snapshot); err != nil {
		return nil, err
	}
	return &Filesystem{pool: p, name: name}, nil
}

// listTree returns all root-relative entries under root, parents first.
func listTree(root string) ([]string, error) {
	var entries []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		entries = append(entries, rel)
		return nil
	})
	return entries, err
}

func writeTarEntry(tw *tar.Writer, root, rel string) error {
	path := filepath.Join(root, rel)
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}

	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	header.Name = filepath.ToSlash(rel)
	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if info.Mode().IsRegular() {
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		if _, err := io.Copy(tw, file); err != nil {
			return err
		}
	}
	return nil
}

func extractTar(r io.Reader, dst string) error {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading stream archive: %w", err)
		}

		target, err := securePath(dst, header.Name)
		if err != nil {
			return err
		}

		// A path can change type between snapshots. Any old entry of a
		// different type must be cleared before the new one lands, and a
		// regular file must never be written through a stale symlink.
		switch header.Typeflag {
		case tar.TypeDir:
			if info, err := os.Lstat(target); err == nil && !info.IsDir() {
				if err := os.Remove(target); err != nil {
					return err
				}
			}
			if err := os.MkdirAll(target, fs.FileMode(header.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.RemoveAll(target); err != nil {
				return err
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return err
			}
			continue
		case tar.TypeReg:
			if info, err := os.Lstat(target); err == nil && !info.Mode().IsRegular() {
				if err := os.RemoveAll(target); err != nil {
					return err
				}
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target,
				os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fs.FileMode(header.Mode).Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported stream entry type %d for %s",
				header.Typeflag, header.Name)
		}

		if err := os.Chtimes(target, header.ModTime, header.ModTime); err != nil {
			return err
		}
	}
}

// securePath joins rel under root, rejecting escapes from the staging tree.
func securePath(root, rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("illegal path %q in stream", rel)
	}
	return filepath.Join(root, clean), nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
