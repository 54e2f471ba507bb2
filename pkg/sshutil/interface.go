package sshutil

import (
	"context"
	"io"
)

// Conn is a live SSH connection that can run many commands, each on its own
// channel. *Client is the real implementation; tests substitute fakes.
type Conn interface {
	// Start submits cmd for execution and returns immediately.
	Start(cmd string) (Process, error)

	// Wait blocks until the underlying connection is gone for any reason.
	Wait() error

	// Close tears down the connection and every channel on it.
	Close() error

	// Address returns the resolved host:port address.
	Address() string

	// ServerVersion returns the remote SSH identification string.
	ServerVersion() string
}

// Process is one command running on a Conn.
type Process interface {
	// Stdout and Stderr stream the command's output. They reach EOF when the
	// command's channel closes.
	Stdout() io.Reader
	Stderr() io.Reader

	// Wait blocks until the command completes. A non-nil error means the
	// transport failed; a command that ran and exited non-zero is reported
	// through Exit with a nil error.
	Wait() (Exit, error)

	// Kill asks the remote side to SIGKILL the command and closes its channel.
	Kill() error
}

// Exit describes how a remote command finished.
type Exit struct {
	Code int
	// Signal is the signal name (e.g. "KILL") when the command was terminated
	// by a signal rather than exiting normally.
	Signal string
	// Missing is set when the server closed the channel without reporting a
	// status. Code is 0 in that case.
	Missing bool
}

// Dialer opens connections. The zero-config implementation is DialFunc(Dial).
type Dialer interface {
	Dial(ctx context.Context, target Target) (Conn, error)
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(ctx context.Context, target Target) (Conn, error)

// Dial calls f.
func (f DialFunc) Dial(ctx context.Context, target Target) (Conn, error) {
	return f(ctx, target)
}

// DefaultDialer dials real SSH connections.
var DefaultDialer Dialer = DialFunc(func(ctx context.Context, target Target) (Conn, error) {
	client, err := Dial(ctx, target)
	if err != nil {
		return nil, err
	}
	return client, nil
})
