package config

import (
	"fmt"
	"strings"

	"github.com/rileyhilliard/rx/internal/engine"
	"github.com/rileyhilliard/rx/internal/errors"
	"github.com/rileyhilliard/rx/internal/wrapper"
	"github.com/rileyhilliard/rx/pkg/sshutil"
)

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config) error {
	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but rx only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Grab the latest rx: https://github.com/rileyhilliard/rx/releases")
	}

	if err := validateHost(cfg.Host); err != nil {
		return err
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Port %d is out of range", cfg.Port),
			"Use a port between 1 and 65535, or leave it unset for 22.")
	}

	if cfg.Timeout <= 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("timeout must be positive, got %s", cfg.Timeout),
			"Set a duration like 'timeout: 60s' in .rx.yaml.")
	}
	if cfg.ConnectTimeout <= 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("connect_timeout must be positive, got %s", cfg.ConnectTimeout),
			"Set a duration like 'connect_timeout: 10s' in .rx.yaml.")
	}

	if _, err := engine.ParseTimeoutPolicy(cfg.TimeoutPolicy); err != nil {
		return err
	}

	if err := wrapper.Validate(cfg.Wrapper); err != nil {
		return err
	}

	if err := validatePrograms("safety.deny", cfg.Safety.Deny); err != nil {
		return err
	}
	return validatePrograms("safety.allow", cfg.Safety.Allow)
}

// ValidateTarget checks a target after ~/.ssh/config resolution filled in
// whatever it could.
func ValidateTarget(t sshutil.Target) error {
	if t.User == "" {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("No SSH user for '%s'", t.Host),
			"Set 'user' in .rx.yaml, pass --user, or add a User line for this host in ~/.ssh/config.")
	}
	return nil
}

func validateHost(host string) error {
	if host == "" {
		return errors.New(errors.ErrConfig,
			"No host configured",
			"Run 'rx init', set 'host' in .rx.yaml, or pass --host.")
	}
	if strings.Contains(host, "@") {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Host '%s' looks like user@host", host),
			"Put the user in 'user' and just the hostname or alias in 'host'.")
	}
	if strings.ContainsAny(host, " \t/") {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Host '%s' isn't a hostname", host),
			"Use a hostname, IP address, or ~/.ssh/config alias.")
	}
	return nil
}

func validatePrograms(field string, names []string) error {
	for _, name := range names {
		if name == "" || strings.ContainsAny(name, " \t/") {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Invalid program name %q in %s", name, field),
				"List bare program names, like 'htop' or 'k9s'.")
		}
	}
	return nil
}
