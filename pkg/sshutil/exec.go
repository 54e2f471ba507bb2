package sshutil

import (
	stderrors "errors"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// ErrConnectionLost is returned by Process.Wait when the connection died
// before the command reported how it finished.
var ErrConnectionLost = stderrors.New("ssh connection lost before the command finished")

// Start opens a new channel and starts cmd on it. Output is available through
// the returned Process until its channel closes.
func (c *Client) Start(cmd string) (Process, error) {
	session, err := c.Client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := session.Start(cmd); err != nil {
		session.Close()
		return nil, fmt.Errorf("start: %w", err)
	}

	return &process{
		client:  c,
		session: session,
		stdout:  stdout,
		stderr:  stderr,
	}, nil
}

// process is a command running on its own *ssh.Session.
type process struct {
	client  *Client
	session *ssh.Session
	stdout  io.Reader
	stderr  io.Reader
}

func (p *process) Stdout() io.Reader { return p.stdout }
func (p *process) Stderr() io.Reader { return p.stderr }

func (p *process) Wait() (Exit, error) {
	defer p.session.Close()

	err := p.session.Wait()
	if err == nil {
		return Exit{}, nil
	}

	var exitErr *ssh.ExitError
	if stderrors.As(err, &exitErr) {
		// Command ran, just had non-zero exit or was signalled
		return Exit{Code: exitErr.ExitStatus(), Signal: exitErr.Signal()}, nil
	}

	var missing *ssh.ExitMissingError
	if stderrors.As(err, &missing) {
		// A dropped connection also closes the channel without a status, so
		// only trust "no status" if the connection is still up.
		if !p.client.Alive() {
			return Exit{}, ErrConnectionLost
		}
		return Exit{Missing: true}, nil
	}

	return Exit{}, err
}

func (p *process) Kill() error {
	// Servers that don't support signals ignore the request; closing the
	// channel still releases it.
	sigErr := p.session.Signal(ssh.SIGKILL)
	closeErr := p.session.Close()
	if closeErr != nil && closeErr != io.EOF {
		return closeErr
	}
	if sigErr != nil && sigErr != io.EOF {
		return sigErr
	}
	return nil
}
