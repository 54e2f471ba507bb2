package config

import "time"

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// Config represents the complete .rx.yaml configuration file.
type Config struct {
	Version int `yaml:"version" mapstructure:"version"`

	// Host is a hostname, IP, or ~/.ssh/config alias.
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port,omitempty" mapstructure:"port"`
	User string `yaml:"user,omitempty" mapstructure:"user"`

	KeyPath       string `yaml:"key_path,omitempty" mapstructure:"key_path"`
	KnownHosts    string `yaml:"known_hosts" mapstructure:"known_hosts"`
	StrictHostKey bool   `yaml:"strict_host_key" mapstructure:"strict_host_key"`

	// KeyPassphrase unlocks an encrypted key_path. Only read from
	// RX_KEY_PASSPHRASE, never written to disk.
	KeyPassphrase string `yaml:"-" mapstructure:"key_passphrase"`

	// Wrapper is prefixed to every command, e.g. "srt" or "firejail --quiet".
	Wrapper string `yaml:"wrapper" mapstructure:"wrapper"`

	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// TimeoutPolicy is "connection" (close the session) or "channel" (kill
	// only the timed-out command).
	TimeoutPolicy string `yaml:"timeout_policy" mapstructure:"timeout_policy"`

	// ToolLabel tags logs and metrics.
	ToolLabel string `yaml:"tool_label" mapstructure:"tool_label"`

	Safety SafetyConfig `yaml:"safety" mapstructure:"safety"`
}

// SafetyConfig adjusts the interactive-command denylist.
type SafetyConfig struct {
	// Deny adds programs that must be given arguments.
	Deny []string `yaml:"deny,omitempty" mapstructure:"deny"`

	// Allow removes programs from the denylist entirely.
	Allow []string `yaml:"allow,omitempty" mapstructure:"allow"`

	// StrictEscalation refuses sudo, su, and doas unless they carry -n or a
	// command, so "sudo -i" is rejected too.
	StrictEscalation bool `yaml:"strict_escalation,omitempty" mapstructure:"strict_escalation"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version:        CurrentConfigVersion,
		Port:           22,
		KnownHosts:     "~/.ssh/known_hosts",
		StrictHostKey:  true,
		Timeout:        60 * time.Second,
		ConnectTimeout: 10 * time.Second,
		TimeoutPolicy:  "connection",
		ToolLabel:      "remote-shell",
	}
}
