package volume

import (
	"fmt"
	"sync"

	"github.com/covekit/cove/pkg/errdefs"
)

// nameLocks serializes operations per volume name. Acquisition does not
// block: a second operation on a held name fails immediately with
// errdefs.ErrBusy, so a racing push can never interleave with a snapshot
// capture or receive on the same volume.
type nameLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newNameLocks() *nameLocks {
	return &nameLocks{held: make(map[string]bool)}
}

// acquire claims name and returns a release func, or ErrBusy if it is held.
func (l *nameLocks) acquire(name string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[name] {
		return nil, fmt.Errorf("volume %s: %w", name, errdefs.ErrBusy)
	}
	l.held[name] = true

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, name)
	}, nil
}
