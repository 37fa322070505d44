package volume

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/covekit/cove/pkg/errdefs"
	"github.com/covekit/cove/pkg/events"
	"github.com/covekit/cove/pkg/metrics"
	"github.com/covekit/cove/pkg/pool"
	"github.com/covekit/cove/pkg/transport"
)

// pushPhase names the stages a push moves through. Failure is reachable
// from any non-terminal phase; the destination's atomic apply guarantees a
// failed push leaves no partial state there.
type pushPhase string

const (
	phaseSelectingBase pushPhase = "selecting-base"
	phaseStreaming     pushPhase = "streaming"
	phaseRemoteApply   pushPhase = "remote-applying"
	phaseComplete      pushPhase = "complete"
	phaseFailed        pushPhase = "failed"
)

// Push replicates v to the destination reached through node, whose volume
// service is configured at destConfigPath. Only the owner may push: a
// volume whose owner does not match this service's identity is rejected
// with errdefs.ErrNotOwner before any I/O happens.
//
// Push is synchronous and at-most-one-in-flight per volume: it returns once
// the destination has applied the stream (or the push has failed), and a
// concurrent operation on the same volume fails with errdefs.ErrBusy.
// Cancelling ctx kills the remote process and fails the push.
func (s *Service) Push(ctx context.Context, v *Volume, node transport.Node, destConfigPath string) error {
	if v.OwnerUUID != s.uuid {
		return fmt.Errorf("push %s owned by %s: %w", v.Name, v.OwnerUUID, errdefs.ErrNotOwner)
	}

	release, err := s.locks.acquire(v.Name)
	if err != nil {
		return err
	}
	defer release()

	err = s.push(ctx, v, node, destConfigPath)
	if err != nil {
		metrics.PushesTotal.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Str("volume", v.Name).Str("phase", string(phaseFailed)).Msg("push failed")
		return err
	}

	metrics.PushesTotal.WithLabelValues("ok").Inc()
	s.logger.Info().Str("volume", v.Name).Str("phase", string(phaseComplete)).Msg("push complete")
	s.publish(events.EventVolumePushed, v.Name, nil)
	return nil
}

func (s *Service) push(ctx context.Context, v *Volume, node transport.Node, destConfigPath string) error {
	fs, err := v.Filesystem()
	if err != nil {
		return err
	}

	logger := s.logger.With().Str("volume", v.Name).Logger()

	logger.Debug().Str("phase", string(phaseSelectingBase)).Msg("querying destination snapshots")
	base, err := s.selectBase(ctx, fs, node, destConfigPath)
	if err != nil {
		return err
	}

	if _, err := s.pool.Snapshot(fs); err != nil {
		return err
	}

	logger.Debug().Str("phase", string(phaseStreaming)).Str("base", string(base)).Msg("streaming snapshot diff")
	proc, err := node.Run(ctx, []string{
		s.remote, "--config", destConfigPath, "receive", s.uuid, v.Name,
	})
	if err != nil {
		return &errdefs.TransportError{Op: "connect", Err: err}
	}

	// Producer/pump split: the pool lazily serializes the diff into one end
	// of a pipe while the other end feeds the remote stdin. Closing stdin
	// signals end-of-stream to the remote receive.
	pr, pw := io.Pipe()
	var g errgroup.Group
	g.Go(func() error {
		err := s.pool.Send(fs, base, pw)
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		stdin := proc.Stdin()
		_, err := io.Copy(stdin, pr)
		pr.CloseWithError(err)
		if closeErr := stdin.Close(); err == nil && closeErr != nil {
			return &errdefs.TransportError{Op: "stream", Err: closeErr}
		}
		if err != nil {
			return &errdefs.TransportError{Op: "stream", Err: err}
		}
		return nil
	})
	streamErr := g.Wait()

	logger.Debug().Str("phase", string(phaseRemoteApply)).Msg("waiting for destination apply")
	// The remote process is owned by this push and always reaped, even on a
	// failed stream.
	if waitErr := proc.Wait(); waitErr != nil && streamErr == nil {
		streamErr = &errdefs.TransportError{Op: "receive", Err: waitErr}
	}
	return streamErr
}

// selectBase performs the describe exchange: it asks the destination which
// snapshots of this volume it already holds and picks the newest one that
// still exists on the origin as the incremental base. No shared snapshot
// means a full send.
func (s *Service) selectBase(ctx context.Context, fs *pool.Filesystem, node transport.Node, destConfigPath string) (pool.SnapshotID, error) {
	proc, err := node.Run(ctx, []string{
		s.remote, "--config", destConfigPath, "snapshots", s.uuid, fs.Name(),
	})
	if err != nil {
		return "", &errdefs.TransportError{Op: "connect", Err: err}
	}
	proc.Stdin().Close()

	var remoteIDs []pool.SnapshotID
	decodeErr := json.NewDecoder(proc.Stdout()).Decode(&remoteIDs)
	if waitErr := proc.Wait(); waitErr != nil {
		return "", &errdefs.TransportError{Op: "describe", Err: waitErr}
	}
	if decodeErr != nil {
		return "", &errdefs.TransportError{Op: "describe", Err: decodeErr}
	}

	local, err := fs.Snapshots()
	if err != nil {
		return "", err
	}
	localIDs := make(map[pool.SnapshotID]bool, len(local))
	for _, snap := range local {
		localIDs[snap.ID] = true
	}

	for i := len(remoteIDs) - 1; i >= 0; i-- {
		if localIDs[remoteIDs[i]] {
			return remoteIDs[i], nil
		}
	}
	return "", nil
}
