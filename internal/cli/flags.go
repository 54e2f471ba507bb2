package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/rileyhilliard/rx/internal/config"
	"github.com/rileyhilliard/rx/internal/errors"
	"github.com/spf13/cobra"
)

// TargetFlags hold the connection overrides shared by every command.
type TargetFlags struct {
	Host    string
	Port    int
	User    string
	Key     string
	Wrapper string
}

var targetFlags TargetFlags

// addTargetFlags registers --host, --port, --user, --key, and --wrapper as
// persistent flags on cmd.
func addTargetFlags(cmd *cobra.Command, flags *TargetFlags) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.Host, "host", "", "remote host, user@host, or ~/.ssh/config alias")
	pf.IntVar(&flags.Port, "port", 0, "SSH port")
	pf.StringVar(&flags.User, "user", "", "SSH user")
	pf.StringVar(&flags.Key, "key", "", "private key file")
	pf.StringVar(&flags.Wrapper, "wrapper", "", `sandbox wrapper prefixed to every command (e.g. "srt")`)
}

// Apply overlays the flags on cfg. changed reports whether a flag was given,
// so an explicit --wrapper "" clears a configured wrapper.
func (f TargetFlags) Apply(cfg *config.Config, changed func(name string) bool) {
	if f.Host != "" {
		user, host := splitUserHost(f.Host)
		cfg.Host = host
		if user != "" {
			cfg.User = user
		}
	}
	if f.User != "" {
		cfg.User = f.User
	}
	if f.Port != 0 {
		cfg.Port = f.Port
	}
	if f.Key != "" {
		cfg.KeyPath = f.Key
	}
	if changed("wrapper") {
		cfg.Wrapper = strings.TrimSpace(f.Wrapper)
	}
}

// splitUserHost splits "user@host" at the last '@'. A bare host yields an
// empty user.
func splitUserHost(s string) (user, host string) {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndex(s, "@"); idx >= 0 {
		return s[:idx], s[idx+1:]
	}
	return "", s
}

// loadConfig finds and loads the config and applies the target flags. It
// does not validate; commands that connect validate in openSession.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, path, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, err
	}
	if path == "" {
		cliLogger().Debug("No config file found, using defaults and environment")
	} else {
		cliLogger().Debug("Loaded config from %s", path)
	}
	targetFlags.Apply(cfg, cmd.Flags().Changed)
	return cfg, nil
}

// parseTimeout parses a --timeout value. Empty means zero (use the default).
func parseTimeout(flag string) (time.Duration, error) {
	if flag == "" {
		return 0, nil
	}

	duration, err := time.ParseDuration(flag)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' doesn't look like a valid timeout", flag),
			"Try something like 5s, 2m, or 500ms.")
	}
	if duration <= 0 {
		return 0, errors.New(errors.ErrConfig,
			fmt.Sprintf("Timeout must be positive, got %s", flag),
			"Try something like 5s, 2m, or 500ms.")
	}
	return duration, nil
}
