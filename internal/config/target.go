package config

import (
	"github.com/rileyhilliard/rx/internal/safety"
	"github.com/rileyhilliard/rx/pkg/sshutil"
)

// Target builds the SSH target, filling unset user, port, and key from
// ~/.ssh/config when Host is an alias there.
func (c *Config) Target() sshutil.Target {
	return c.TargetWithSSHConfig("")
}

// TargetWithSSHConfig is Target resolved against a specific ssh config file.
// An empty path uses ~/.ssh/config.
func (c *Config) TargetWithSSHConfig(sshConfigPath string) sshutil.Target {
	t := sshutil.Target{
		Host:           c.Host,
		User:           c.User,
		KeyPath:        c.KeyPath,
		Passphrase:     c.KeyPassphrase,
		KnownHostsPath: c.KnownHosts,
		StrictHostKey:  c.StrictHostKey,
		ConnectTimeout: c.ConnectTimeout,
	}
	// 22 is the default, so leave it to ssh config to override.
	if c.Port != 22 {
		t.Port = c.Port
	}

	if sshConfigPath == "" {
		t = sshutil.Resolve(t)
	} else {
		t = sshutil.ResolveWithConfig(t, sshConfigPath)
	}
	if t.Port == 0 {
		t.Port = sshutil.DefaultPort
	}
	return t
}

// SafetyPolicy applies the allow and deny overrides to the default policy.
func (c *Config) SafetyPolicy() safety.Policy {
	p := safety.DefaultPolicy()
	if c.Safety.StrictEscalation {
		p = p.StrictEscalation()
	}
	for _, name := range c.Safety.Allow {
		p = p.Without(name)
	}
	for _, name := range c.Safety.Deny {
		p = p.With(name, safety.RuleNeedsArgs)
	}
	return p
}
