package transport

import (
	"context"
	"io"
)

// Node is an endpoint that can run commands with piped standard streams.
// The push protocol uses it to start a remote receive process, feed the
// snapshot diff stream into its standard input, and observe its exit status.
type Node interface {
	// Run starts the given command on the node. The returned process is
	// owned by the caller and must be reaped with Wait.
	Run(ctx context.Context, args []string) (RemoteProcess, error)
}

// RemoteProcess is one command running on a Node.
type RemoteProcess interface {
	// Stdin is the process's standard input. Closing it signals
	// end-of-stream to the remote command.
	Stdin() io.WriteCloser

	// Stdout is the process's standard output, used by describe-style
	// exchanges that report state back to the caller.
	Stdout() io.Reader

	// Wait blocks until the process exits and returns a non-nil error for
	// a non-zero exit status. It must be called exactly once.
	Wait() error
}
