// Package sshtest runs an in-process SSH server for tests. It accepts one
// generated client key, executes a tiny scripted command language instead of a
// real shell, and records what it was asked to run.
package sshtest

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rileyhilliard/rx/pkg/sshutil"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Outcome tells the server how a command finished.
type Outcome struct {
	Code     int
	Signal   string // send exit-signal instead of exit-status
	NoStatus bool   // close the channel without any status
	Drop     bool   // drop the whole connection
}

// Handler runs one command. ctx is cancelled when the client closes the
// channel, signals the command, or the connection goes away.
type Handler func(ctx context.Context, cmd string, stdout, stderr io.Writer) Outcome

// Server is a running test SSH server.
type Server struct {
	Host    string
	Port    int
	KeyPath string // client private key accepted by the server

	hostKey  ssh.Signer
	listener net.Listener

	mu          sync.Mutex
	handler     Handler
	commands    []string
	signals     []string
	connections int
	active      map[*ssh.ServerConn]struct{}
	wg          sync.WaitGroup
}

// Start launches a server on 127.0.0.1 and stops it when the test ends.
func Start(t testing.TB) *Server {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostKey, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	authorized, err := ssh.NewPublicKey(clientPub)
	if err != nil {
		t.Fatalf("client public key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(clientPriv, "rx-test")
	if err != nil {
		t.Fatalf("marshal client key: %v", err)
	}
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write client key: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{
		Host:     "127.0.0.1",
		Port:     ln.Addr().(*net.TCPAddr).Port,
		KeyPath:  keyPath,
		hostKey:  hostKey,
		listener: ln,
		handler:  Script,
		active:   make(map[*ssh.ServerConn]struct{}),
	}

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	cfg.AddHostKey(hostKey)

	s.wg.Add(1)
	go s.serve(cfg)
	t.Cleanup(s.Close)

	return s
}

// Target returns a target that reaches this server with its client key.
func (s *Server) Target() sshutil.Target {
	return sshutil.Target{
		Host:           s.Host,
		Port:           s.Port,
		User:           "tester",
		KeyPath:        s.KeyPath,
		ConnectTimeout: 5 * time.Second,
	}
}

// WriteKnownHosts writes a known_hosts file trusting this server and returns its path.
func (s *Server) WriteKnownHosts(t testing.TB) string {
	t.Helper()
	addr := knownhosts.Normalize(net.JoinHostPort(s.Host, strconv.Itoa(s.Port)))
	line := knownhosts.Line([]string{addr}, s.hostKey.PublicKey())
	path := filepath.Join(t.TempDir(), "known_hosts")
	if err := os.WriteFile(path, []byte(line+"\n"), 0o600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}
	return path
}

// HostKey returns the server's public host key.
func (s *Server) HostKey() ssh.PublicKey {
	return s.hostKey.PublicKey()
}

// SetHandler replaces the command handler.
func (s *Server) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Commands returns every command received, in arrival order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Signals returns every signal name received.
func (s *Server) Signals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.signals...)
}

// Connections returns how many SSH connections completed a handshake.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// ActiveConnections returns how many connections are currently open.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// DropAll closes every open connection from the server side.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := make([]*ssh.ServerConn, 0, len(s.active))
	for c := range s.active {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Close stops the listener and drops all connections.
func (s *Server) Close() {
	s.listener.Close()
	s.DropAll()
	s.wg.Wait()
}

func (s *Server) serve(cfg *ssh.ServerConfig) {
	defer s.wg.Done()
	for {
		raw, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(raw, cfg)
		}()
	}
}

func (s *Server) handleConn(raw net.Conn, cfg *ssh.ServerConfig) {
	sc, chans, reqs, err := ssh.NewServerConn(raw, cfg)
	if err != nil {
		raw.Close()
		return
	}

	s.mu.Lock()
	s.connections++
	s.active[sc] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.active, sc)
		s.mu.Unlock()
		sc.Close()
	}()

	go ssh.DiscardRequests(reqs)

	var sessions sync.WaitGroup
	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "only sessions")
			continue
		}
		ch, in, err := nc.Accept()
		if err != nil {
			continue
		}
		sessions.Add(1)
		go func() {
			defer sessions.Done()
			s.handleSession(sc, ch, in)
		}()
	}
	sessions.Wait()
}

func (s *Server) handleSession(sc *ssh.ServerConn, ch ssh.Channel, in <-chan *ssh.Request) {
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan string, 1)
	go func() {
		defer cancel()
		for req := range in {
			switch req.Type {
			case "exec":
				cmd := parseString(req.Payload)
				_ = req.Reply(true, nil)
				started <- cmd
			case "signal":
				s.mu.Lock()
				s.signals = append(s.signals, parseString(req.Payload))
				s.mu.Unlock()
				cancel()
			default:
				if req.WantReply {
					_ = req.Reply(false, nil)
				}
			}
		}
	}()

	var cmd string
	select {
	case cmd = <-started:
	case <-ctx.Done():
		return
	}

	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	handler := s.handler
	s.mu.Unlock()

	out := handler(ctx, cmd, ch, ch.Stderr())

	switch {
	case out.Drop:
		sc.Close()
		return
	case out.Signal != "":
		_, _ = ch.SendRequest("exit-signal", false, ssh.Marshal(struct {
			Signal     string
			CoreDumped bool
			Error      string
			Lang       string
		}{Signal: out.Signal}))
	case out.NoStatus:
	default:
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct {
			Status uint32
		}{Status: uint32(out.Code)}))
	}
	_ = ch.CloseWrite()
}

func parseString(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(payload)
	if int(n) > len(payload)-4 {
		return ""
	}
	return string(payload[4 : 4+n])
}

// Script is the default handler. It understands:
//
//	echo TEXT       TEXT + newline on stdout
//	warn TEXT       TEXT + newline on stderr
//	both OUT ERR    OUT on stdout, ERR on stderr
//	silent          no output
//	sleep SECONDS   wait (interruptible), then exit 0
//	exit N          exit with status N
//	signal NAME     report termination by signal NAME
//	nostatus        close without an exit status
//	drop            drop the connection
//
// Anything else prints a shell-style "not found" and exits 127.
func Script(ctx context.Context, cmd string, stdout, stderr io.Writer) Outcome {
	verb, rest, _ := strings.Cut(strings.TrimSpace(cmd), " ")
	switch verb {
	case "echo":
		fmt.Fprintln(stdout, rest)
	case "warn":
		fmt.Fprintln(stderr, rest)
	case "both":
		o, e, _ := strings.Cut(rest, " ")
		fmt.Fprintln(stdout, o)
		fmt.Fprintln(stderr, e)
	case "silent":
	case "sleep":
		secs, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			fmt.Fprintln(stderr, "sleep: invalid time interval")
			return Outcome{Code: 1}
		}
		select {
		case <-time.After(time.Duration(secs * float64(time.Second))):
		case <-ctx.Done():
			return Outcome{Signal: "KILL"}
		}
	case "exit":
		code, _ := strconv.Atoi(rest)
		return Outcome{Code: code}
	case "signal":
		return Outcome{Signal: rest}
	case "nostatus":
		return Outcome{NoStatus: true}
	case "drop":
		return Outcome{Drop: true}
	default:
		fmt.Fprintf(stderr, "sh: 1: %s: not found\n", verb)
		return Outcome{Code: 127}
	}
	return Outcome{}
}
