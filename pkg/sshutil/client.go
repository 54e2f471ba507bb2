package sshutil

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/rx/internal/errors"
	"github.com/rileyhilliard/rx/internal/util"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultConnectTimeout bounds dialing plus handshake when the target sets none.
const DefaultConnectTimeout = 10 * time.Second

// Client wraps an SSH connection with additional metadata.
type Client struct {
	*ssh.Client
	Target  Target
	address string
}

// Dial establishes an SSH connection to target. The whole setup, TCP connect
// plus SSH handshake, must finish within target.ConnectTimeout or before ctx
// is done.
func Dial(ctx context.Context, target Target) (*Client, error) {
	config, err := buildSSHConfig(target)
	if err != nil {
		var rxErr *errors.Error
		if stderrors.As(err, &rxErr) {
			return nil, err
		}
		return nil, errors.WrapConnection(err, target.String(),
			"Check key_path points at a readable private key.")
	}

	timeout := target.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	address := target.Address()
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.WrapConnection(err, target.String(), suggestionForDialError(err))
	}

	// The handshake has no context support; a deadline on the raw conn plus a
	// watcher closing it on cancellation bound it instead.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if !stop() {
		// ctx fired mid-handshake and the conn is already closed
		if err == nil {
			sshConn.Close()
			err = ctx.Err()
		}
	}
	if err != nil {
		conn.Close()

		var hostKeyErr *HostKeyMismatchError
		if stderrors.As(err, &hostKeyErr) {
			return nil, errors.WrapWithCode(err, errors.ErrSSH,
				fmt.Sprintf("Host key for '%s' doesn't match known_hosts", target.Host),
				hostKeyErr.Suggestion())
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("handshake aborted after %s: %w", timeout, ctxErr)
		}
		return nil, errors.WrapConnection(err, target.String(), suggestionForHandshakeError(err))
	}
	_ = conn.SetDeadline(time.Time{})

	return &Client{
		Client:  ssh.NewClient(sshConn, chans, reqs),
		Target:  target,
		address: address,
	}, nil
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// Wait blocks until the connection is closed by either side.
func (c *Client) Wait() error {
	return c.Client.Wait()
}

// Address returns the resolved host:port address.
func (c *Client) Address() string {
	return c.address
}

// ServerVersion returns the remote identification string, e.g. "SSH-2.0-OpenSSH_9.6".
func (c *Client) ServerVersion() string {
	return string(c.Client.ServerVersion())
}

// Alive checks connection liveness with a global request instead of opening a
// session (~100-200ms cheaper). Servers reply false to unknown requests, which
// still proves the connection works.
func (c *Client) Alive() bool {
	_, _, err := c.Client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

// buildSSHConfig creates an SSH client config with authentication methods.
func buildSSHConfig(target Target) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if target.KeyPath != "" {
		keyAuth, err := keyFileAuth(util.ExpandHome(target.KeyPath), target.Passphrase)
		if err != nil {
			var encErr *EncryptedKeyError
			if stderrors.As(err, &encErr) {
				return nil, errors.WrapWithCode(err, errors.ErrSSH,
					fmt.Sprintf("SSH key at %s is encrypted", encErr.Path),
					"Set RX_KEY_PASSPHRASE, or load the key into your agent: ssh-add "+encErr.Path)
			}
			return nil, errors.WrapWithCode(err, errors.ErrSSH,
				fmt.Sprintf("Couldn't load SSH key at %s", target.KeyPath),
				"Check key_path points at a readable private key.")
		}
		authMethods = append(authMethods, keyAuth)
	}

	if agentAuth := sshAgentAuth(); agentAuth != nil {
		authMethods = append(authMethods, agentAuth)
	}

	if len(authMethods) == 0 {
		return nil, errors.New(errors.ErrSSH,
			"No SSH auth methods available",
			"Set key_path in .rx.yaml, or load a key into your agent: ssh-add -l")
	}

	var hostKeyCallback ssh.HostKeyCallback
	if target.StrictHostKey {
		path := util.ExpandHome(target.KnownHostsPath)
		var err error
		hostKeyCallback, err = createHostKeyCallback(path)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrSSH,
				fmt.Sprintf("Couldn't load known_hosts from %s", path),
				fmt.Sprintf("Record the host key first: ssh-keyscan -p %d %s >> %s\n  Or set strict_host_key: false (insecure).",
					portOrDefault(target.Port), target.Host, path))
		}
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // User explicitly disabled host key checking
	}

	timeout := target.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	return &ssh.ClientConfig{
		User:            target.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// agentConn holds the reusable SSH agent connection.
var (
	agentMu     sync.Mutex
	agentConn   net.Conn
	agentClient agent.ExtendedAgent
)

// sshAgentAuth returns an auth method using the SSH agent if available.
// The agent connection is reused across reconnects until CloseAgent. Returns
// nil if the agent has no keys loaded.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	agentMu.Lock()
	if agentClient == nil {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			agentMu.Unlock()
			return nil
		}
		agentConn = conn
		agentClient = agent.NewClient(conn)
	}
	client := agentClient
	agentMu.Unlock()

	// An empty agent causes auth failures when placed before other methods.
	signers, err := client.Signers()
	if err != nil || len(signers) == 0 {
		return nil
	}

	return ssh.PublicKeysCallback(client.Signers)
}

// CloseAgent closes the SSH agent connection if one is open. A later dial
// opens a fresh one.
func CloseAgent() {
	agentMu.Lock()
	defer agentMu.Unlock()
	if agentConn != nil {
		agentConn.Close()
	}
	agentConn = nil
	agentClient = nil
}

// keyFileAuth returns an auth method using a private key file.
// Returns EncryptedKeyError if the key requires a passphrase that wasn't given.
func keyFileAuth(keyPath, passphrase string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
		if err != nil {
			return nil, err
		}
		return ssh.PublicKeys(signer), nil
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if stderrors.As(err, &missing) {
			return nil, &EncryptedKeyError{Path: keyPath}
		}
		return nil, err
	}

	return ssh.PublicKeys(signer), nil
}

func portOrDefault(port int) int {
	if port == 0 {
		return DefaultPort
	}
	return port
}

func suggestionForDialError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") {
		return "Is SSH running on that box? Try: ssh <host>"
	}
	if strings.Contains(errStr, "no route to host") || strings.Contains(errStr, "network is unreachable") {
		return "Can't route to the host. Check your network connection."
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "Connection timed out. Host might be offline or blocked by a firewall."
	}
	return "Make sure the host is reachable: ping <host>"
}

func suggestionForHandshakeError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "unable to authenticate") || strings.Contains(errStr, "no supported methods") {
		return "Auth failed. Check the user and that the key is in the remote authorized_keys."
	}
	if strings.Contains(errStr, "host key") {
		return "Host key issue. Try connecting manually first: ssh <host>"
	}
	if strings.Contains(errStr, "handshake aborted") {
		return "The server accepted TCP but never finished the SSH handshake. Raise connect_timeout or check the server."
	}
	return "Something went wrong during SSH setup. Try: ssh <host>"
}

// EncryptedKeyError is returned when an SSH key requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}

// HostKeyMismatchError provides helpful context when known_hosts verification fails.
type HostKeyMismatchError struct {
	Hostname     string
	ReceivedType string
	KnownHosts   string
	Want         []knownhosts.KnownKey
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: server sent %s key", e.Hostname, e.ReceivedType)
}

// Suggestion returns actionable steps to fix the host key mismatch.
func (e *HostKeyMismatchError) Suggestion() string {
	host := e.Hostname
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	var wantTypes []string
	for _, k := range e.Want {
		wantTypes = append(wantTypes, k.Key.Type())
	}
	wantStr := "unknown"
	if len(wantTypes) > 0 {
		wantStr = strings.Join(wantTypes, ", ")
	}

	return fmt.Sprintf(
		"The server's host key doesn't match what's in known_hosts.\n"+
			"  Known types: %s\n"+
			"  Server sent: %s\n\n"+
			"  If the server was rebuilt, remove the old entry:\n"+
			"    ssh-keygen -R %s -f %s",
		wantStr, e.ReceivedType, host, e.KnownHosts)
}

// createHostKeyCallback wraps the knownhosts callback to provide better error messages.
// A missing known_hosts file is an error: strict checking fails closed.
func createHostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		if err != nil {
			var keyErr *knownhosts.KeyError
			if stderrors.As(err, &keyErr) && len(keyErr.Want) > 0 {
				return &HostKeyMismatchError{
					Hostname:     hostname,
					ReceivedType: key.Type(),
					KnownHosts:   knownHostsPath,
					Want:         keyErr.Want,
				}
			}
		}
		return err
	}, nil
}
