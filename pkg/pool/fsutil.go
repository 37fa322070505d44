package pool

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// copyTree replicates the directory tree at src under dst, preserving file
// modes and modification times. Modification times are what incremental
// sends compare, so they must survive every copy.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			if err := os.MkdirAll(target, info.Mode().Perm()); err != nil {
				return err
			}
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := os.Symlink(link, target); err != nil {
				return err
			}
			return nil
		default:
			if err := copyFile(path, target, info.Mode().Perm()); err != nil {
				return err
			}
		}
		return os.Chtimes(target, info.ModTime(), info.ModTime())
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// diffTrees compares the tree at base against the tree at top and returns
// the top-relative paths that were added or changed, and the base-relative
// paths that were removed. A file counts as changed when its size, mode, or
// modification time differs.
func diffTrees(base, top string) (changed, deleted []string, err error) {
	baseInfo := map[string]fs.FileInfo{}
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		baseInfo[rel] = info
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walking base snapshot: %w", err)
	}

	err = filepath.WalkDir(top, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(top, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		old, ok := baseInfo[rel]
		if ok {
			delete(baseInfo, rel)
			if sameEntry(old, info) {
				return nil
			}
		}
		changed = append(changed, rel)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walking snapshot: %w", err)
	}

	for rel := range baseInfo {
		deleted = append(deleted, rel)
	}
	sort.Strings(deleted)
	return changed, deleted, nil
}

func sameEntry(a, b fs.FileInfo) bool {
	if a.IsDir() && b.IsDir() {
		return a.Mode() == b.Mode()
	}
	return a.Mode() == b.Mode() &&
		a.Size() == b.Size() &&
		a.ModTime().Equal(b.ModTime())
}
