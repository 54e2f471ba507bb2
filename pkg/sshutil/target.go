package sshutil

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kevinburke/ssh_config"
	"github.com/rileyhilliard/rx/internal/logger"
	"github.com/rileyhilliard/rx/internal/util"
)

// DefaultPort is used when neither the target nor ~/.ssh/config names a port.
const DefaultPort = 22

// Target identifies the remote host and the credentials used to reach it.
type Target struct {
	Host string // hostname, IP, or ~/.ssh/config alias
	Port int
	User string

	// KeyPath is the private key file. Passphrase unlocks it when encrypted.
	KeyPath    string
	Passphrase string

	// KnownHostsPath is consulted when StrictHostKey is set.
	KnownHostsPath string
	StrictHostKey  bool

	// ConnectTimeout bounds dialing plus the SSH handshake.
	ConnectTimeout time.Duration
}

// Address returns the host:port string for dialing.
func (t Target) Address() string {
	port := t.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// String identifies the target in messages, e.g. "deploy@box:22".
func (t Target) String() string {
	if t.User == "" {
		return t.Address()
	}
	return t.User + "@" + t.Address()
}

// matchWarningOnce ensures the SSH config Match directive warning is only shown once per process.
var matchWarningOnce sync.Once

// Resolve fills unset fields of t from ~/.ssh/config, treating t.Host as a
// possible alias. Explicit values always win.
func Resolve(t Target) Target {
	return ResolveWithConfig(t, filepath.Join(homeDir(), ".ssh", "config"))
}

// ResolveWithConfig is Resolve against a specific ssh config file.
func ResolveWithConfig(t Target, configPath string) Target {
	// The kevinburke/ssh_config library doesn't support Match, so only the
	// content before the first Match block is parsed.
	content, matchLine, err := preprocessSSHConfig(configPath)
	if err != nil {
		return t
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return t
	}

	alias := t.Host
	hostFound := false

	if hostname, _ := cfg.Get(alias, "HostName"); hostname != "" {
		t.Host = hostname
		hostFound = true
	}

	if t.Port == 0 {
		if port, _ := cfg.Get(alias, "Port"); port != "" {
			if n, err := strconv.Atoi(port); err == nil {
				t.Port = n
				hostFound = true
			}
		}
	}

	if t.User == "" {
		if user, _ := cfg.Get(alias, "User"); user != "" {
			t.User = user
			hostFound = true
		}
	}

	if t.KeyPath == "" {
		if identity, _ := cfg.Get(alias, "IdentityFile"); identity != "" {
			t.KeyPath = util.ExpandHome(identity)
			hostFound = true
		}
	}

	// Only warn about Match block if host wasn't found - it might be defined after the Match
	if matchLine > 0 && !hostFound {
		matchWarningOnce.Do(func() {
			logger.Default().Warn(
				"Host '%s' not found in SSH config (config has a Match block at line %d that may hide later entries). "+
					"If this host is defined after line %d, move it earlier in %s.",
				alias, matchLine, matchLine, configPath)
		})
	}

	return t
}

// SSHHostEntry represents a parsed host entry from SSH config.
type SSHHostEntry struct {
	Alias        string // The Host pattern (alias)
	Hostname     string // The HostName value (actual host to connect to)
	User         string
	Port         string
	IdentityFile string
}

// Description returns a user-friendly description of the host.
func (h SSHHostEntry) Description() string {
	parts := []string{}

	if h.Hostname != "" && h.Hostname != h.Alias {
		parts = append(parts, h.Hostname)
	}
	if h.User != "" {
		parts = append(parts, "user: "+h.User)
	}
	if h.Port != "" && h.Port != "22" {
		parts = append(parts, "port: "+h.Port)
	}

	if len(parts) == 0 {
		return h.Alias
	}
	return strings.Join(parts, ", ")
}

// ParseSSHConfig parses ~/.ssh/config and returns its concrete host aliases.
func ParseSSHConfig() ([]SSHHostEntry, error) {
	return ParseSSHConfigFile(filepath.Join(homeDir(), ".ssh", "config"))
}

// ParseSSHConfigFile parses the specified SSH config file, skipping wildcard
// patterns. A missing file yields no entries and no error.
func ParseSSHConfigFile(configPath string) ([]SSHHostEntry, error) {
	content, _, err := preprocessSSHConfig(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	var hosts []SSHHostEntry
	seen := make(map[string]bool)

	for _, host := range cfg.Hosts {
		for _, pattern := range host.Patterns {
			alias := pattern.String()
			if strings.ContainsAny(alias, "*?") || seen[alias] {
				continue
			}
			seen[alias] = true

			entry := SSHHostEntry{Alias: alias}
			entry.Hostname, _ = cfg.Get(alias, "HostName")
			entry.User, _ = cfg.Get(alias, "User")
			entry.Port, _ = cfg.Get(alias, "Port")
			if identity, _ := cfg.Get(alias, "IdentityFile"); identity != "" {
				entry.IdentityFile = util.ExpandHome(identity)
			}
			hosts = append(hosts, entry)
		}
	}

	return hosts, nil
}

// preprocessSSHConfig reads the SSH config and returns content up to the first Match directive.
// Also returns the line number where Match was found (0 if not found).
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	matchLine := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			matchLine = i + 1
			break
		}
		result = append(result, line)
	}

	return []byte(strings.Join(result, "\n")), matchLine, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}
