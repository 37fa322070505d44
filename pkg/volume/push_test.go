package volume

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covekit/cove/pkg/errdefs"
	"github.com/covekit/cove/pkg/transport"
)

// fakeNode satisfies transport.Node by dispatching the remote command
// directly against a destination Service in-process. It understands the two
// commands the push protocol issues: snapshots and receive.
type fakeNode struct {
	dest *Service

	runs     atomic.Int64
	bytesIn  atomic.Int64
	failAt   int64         // fail stdin writes past this many bytes, 0 disables
	gate     chan struct{} // if set, receive blocks until closed
	started  chan struct{} // if set, closed when receive begins
}

func (n *fakeNode) Run(ctx context.Context, args []string) (transport.RemoteProcess, error) {
	n.runs.Add(1)
	if len(args) < 3 {
		return nil, fmt.Errorf("unexpected remote args %v", args)
	}
	command, origin, name := args[len(args)-3], args[len(args)-2], args[len(args)-1]

	switch command {
	case "snapshots":
		ids, err := n.dest.SnapshotIDs(name)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(ids)
		if err != nil {
			return nil, err
		}
		done := make(chan error, 1)
		done <- nil
		return &fakeProcess{
			stdin:  nopWriteCloser{},
			stdout: bytes.NewReader(data),
			done:   done,
		}, nil

	case "receive":
		pr, pw := io.Pipe()
		done := make(chan error, 1)
		go func() {
			if n.started != nil {
				close(n.started)
			}
			if n.gate != nil {
				<-n.gate
			}
			_, err := n.dest.Receive(origin, name, pr)
			pr.CloseWithError(err)
			done <- err
		}()
		return &fakeProcess{
			stdin:  &meteredStdin{pw: pw, count: &n.bytesIn, failAt: n.failAt},
			stdout: strings.NewReader(""),
			done:   done,
		}, nil
	}
	return nil, fmt.Errorf("unexpected remote command %q", command)
}

type fakeProcess struct {
	stdin  io.WriteCloser
	stdout io.Reader
	done   chan error
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *fakeProcess) Stdout() io.Reader     { return p.stdout }
func (p *fakeProcess) Wait() error           { return <-p.done }

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

// meteredStdin counts bytes fed to the remote and can simulate a transport
// dropping mid-stream.
type meteredStdin struct {
	pw     *io.PipeWriter
	count  *atomic.Int64
	failAt int64
}

func (m *meteredStdin) Write(p []byte) (int, error) {
	if m.failAt > 0 && m.count.Load()+int64(len(p)) > m.failAt {
		err := errors.New("connection reset")
		m.pw.CloseWithError(err)
		return 0, err
	}
	n, err := m.pw.Write(p)
	m.count.Add(int64(n))
	return n, err
}

func (m *meteredStdin) Close() error { return m.pw.Close() }

func writeVolumeFile(t *testing.T, v *Volume, rel, content string) {
	t.Helper()
	fs, err := v.Filesystem()
	require.NoError(t, err)
	path := filepath.Join(fs.Path(), rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readVolumeFile(t *testing.T, v *Volume, rel string) string {
	t.Helper()
	fs, err := v.Filesystem()
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(fs.Path(), rel))
	require.NoError(t, err)
	return string(data)
}

func TestPush_FirstPushReplicatesContent(t *testing.T) {
	origin := newTestService(t)
	dest := newTestService(t)
	node := &fakeNode{dest: dest}

	vol, err := origin.Create("thevolume")
	require.NoError(t, err)
	writeVolumeFile(t, vol, "afile.txt", "WORKS!")

	require.NoError(t, origin.Push(context.Background(), vol, node, "/etc/cove/volume.json"))

	got, err := dest.Get("thevolume")
	require.NoError(t, err)
	assert.Equal(t, "WORKS!", readVolumeFile(t, got, "afile.txt"))

	// The copy belongs to the destination, not the pushing origin.
	assert.Equal(t, dest.UUID(), got.OwnerUUID)
	assert.NotEqual(t, origin.UUID(), got.OwnerUUID)
}

func TestPush_SecondPushIsIncremental(t *testing.T) {
	origin := newTestService(t)
	dest := newTestService(t)
	node := &fakeNode{dest: dest}

	vol, err := origin.Create("thevolume")
	require.NoError(t, err)
	writeVolumeFile(t, vol, "big.bin", strings.Repeat("x", 64*1024))
	writeVolumeFile(t, vol, "afile.txt", "v1")

	require.NoError(t, origin.Push(context.Background(), vol, node, "/etc/cove/volume.json"))
	firstBytes := node.bytesIn.Load()

	writeVolumeFile(t, vol, "afile.txt", "v2 changed")
	require.NoError(t, origin.Push(context.Background(), vol, node, "/etc/cove/volume.json"))
	secondBytes := node.bytesIn.Load() - firstBytes

	assert.Less(t, secondBytes, firstBytes/4,
		"second push should stream a delta, not the full volume")
	assert.Equal(t, "v2 changed", readVolumeFile(t, mustGet(t, dest, "thevolume"), "afile.txt"))
	assert.Equal(t, strings.Repeat("x", 64*1024), readVolumeFile(t, mustGet(t, dest, "thevolume"), "big.bin"))

	snaps, err := dest.SnapshotIDs("thevolume")
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

func mustGet(t *testing.T, svc *Service, name string) *Volume {
	t.Helper()
	vol, err := svc.Get(name)
	require.NoError(t, err)
	return vol
}

func TestPush_NotOwner(t *testing.T) {
	origin := newTestService(t)
	dest := newTestService(t)
	node := &fakeNode{dest: dest}

	_, err := origin.Create("thevolume")
	require.NoError(t, err)

	foreign := New("someone-else", "thevolume", origin.Pool())
	err = origin.Push(context.Background(), foreign, node, "/etc/cove/volume.json")
	assert.ErrorIs(t, err, errdefs.ErrNotOwner)
	assert.Zero(t, node.runs.Load(), "ownership must be checked before any transport I/O")
}

func TestPush_ConcurrentOperationIsBusy(t *testing.T) {
	origin := newTestService(t)
	dest := newTestService(t)
	node := &fakeNode{
		dest:    dest,
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}

	vol, err := origin.Create("thevolume")
	require.NoError(t, err)
	writeVolumeFile(t, vol, "afile.txt", strings.Repeat("y", 32*1024))

	pushErr := make(chan error, 1)
	go func() {
		pushErr <- origin.Push(context.Background(), vol, node, "/etc/cove/volume.json")
	}()

	<-node.started
	assert.ErrorIs(t, origin.Destroy("thevolume"), errdefs.ErrBusy)

	close(node.gate)
	require.NoError(t, <-pushErr)

	// With the push finished the volume is operable again.
	require.NoError(t, origin.Destroy("thevolume"))
}

func TestPush_StreamFailureLeavesDestinationClean(t *testing.T) {
	origin := newTestService(t)
	dest := newTestService(t)
	node := &fakeNode{dest: dest, failAt: 4 * 1024}

	vol, err := origin.Create("thevolume")
	require.NoError(t, err)
	writeVolumeFile(t, vol, "big.bin", strings.Repeat("z", 64*1024))

	err = origin.Push(context.Background(), vol, node, "/etc/cove/volume.json")
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrTransport)

	_, err = dest.Get("thevolume")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}
