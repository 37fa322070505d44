package transport

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// ProcessNode runs commands as local subprocesses, optionally behind a fixed
// argument prefix. With an empty prefix it executes the command directly on
// this host, which is how same-host pushes and the integration tests run.
// With a prefix like ["ssh", "user@host"] the same command runs remotely.
type ProcessNode struct {
	// InitialArgs is prepended to every command.
	InitialArgs []string
}

// NewProcessNode returns a node executing commands behind the given prefix.
func NewProcessNode(initialArgs ...string) *ProcessNode {
	return &ProcessNode{InitialArgs: initialArgs}
}

// NewSSHNode returns a node running commands on host over ssh. BatchMode
// keeps a missing key from degenerating into an interactive prompt in the
// middle of a push.
func NewSSHNode(host string) *ProcessNode {
	return NewProcessNode("ssh", "-o", "BatchMode=yes", host)
}

// Run starts the command. The process is killed if ctx is cancelled.
func (n *ProcessNode) Run(ctx context.Context, args []string) (RemoteProcess, error) {
	full := append(append([]string{}, n.InitialArgs...), args...)
	if len(full) == 0 {
		return nil, fmt.Errorf("no command to run")
	}

	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", full[0], err)
	}

	return &process{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
}

func (p *process) Stdin() io.WriteCloser { return p.stdin }

func (p *process) Stdout() io.Reader { return p.stdout }

func (p *process) Wait() error { return p.cmd.Wait() }
