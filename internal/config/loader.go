package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rileyhilliard/rx/internal/errors"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = ".rx.yaml"
	// GlobalConfigDir is the directory for global config.
	GlobalConfigDir = ".config/rx"
	// GlobalConfigFile is the global config file name.
	GlobalConfigFile = "config.yaml"
	// EnvPrefix prefixes every environment override, e.g. RX_HOST.
	EnvPrefix = "RX"
)

// Load reads config from path, layered over defaults and under RX_*
// environment variables. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.WrapWithCode(err, errors.ErrConfig,
					"Config file not found",
					"Run 'rx init' to create a config file, or specify one with --config")
			}
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to read config file",
				"Check the file exists and is valid YAML")
		}
	}

	return parseConfig(v, path)
}

// LoadOrDefault finds the config (see Find) and loads it. With no config file
// anywhere it returns defaults plus environment overrides. The returned path
// is empty in that case.
func LoadOrDefault(explicit string) (*Config, string, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. .rx.yaml in current directory
// 3. .rx.yaml in parent directories (stops at git root or home)
// 4. ~/.config/rx/config.yaml (global defaults)
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot determine current directory",
			"Check directory permissions")
	}

	if path := filepath.Join(cwd, ConfigFileName); fileExists(path) {
		return path, nil
	}

	home, _ := os.UserHomeDir()
	if !isGitRoot(cwd) {
		dir := cwd
		for {
			parent := filepath.Dir(dir)
			if parent == dir || (home != "" && parent == home) {
				break
			}
			dir = parent

			if path := filepath.Join(dir, ConfigFileName); fileExists(path) {
				return path, nil
			}
			if isGitRoot(dir) {
				break
			}
		}
	}

	if home != "" {
		if path := filepath.Join(home, GlobalConfigDir, GlobalConfigFile); fileExists(path) {
			return path, nil
		}
	}

	return "", nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// setDefaults registers every key so AutomaticEnv can override keys the
// config file leaves out.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("host", "")
	v.SetDefault("port", d.Port)
	v.SetDefault("user", "")
	v.SetDefault("key_path", "")
	v.SetDefault("key_passphrase", "")
	v.SetDefault("known_hosts", d.KnownHosts)
	v.SetDefault("strict_host_key", d.StrictHostKey)
	v.SetDefault("wrapper", "")
	v.SetDefault("timeout", d.Timeout.String())
	v.SetDefault("connect_timeout", d.ConnectTimeout.String())
	v.SetDefault("timeout_policy", d.TimeoutPolicy)
	v.SetDefault("tool_label", d.ToolLabel)
	v.SetDefault("safety.deny", []string{})
	v.SetDefault("safety.allow", []string{})
	v.SetDefault("safety.strict_escalation", false)
}

// parseConfig converts viper config to our Config struct.
func parseConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		where := "your environment (RX_* variables)"
		if path != "" {
			where = path
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the values in "+where)
	}

	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.Wrapper = strings.TrimSpace(cfg.Wrapper)

	return cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// isGitRoot checks if a directory is a git repository root.
func isGitRoot(dir string) bool {
	return fileExists(filepath.Join(dir, ".git"))
}
