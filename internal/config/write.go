package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rileyhilliard/rx/internal/errors"
	"gopkg.in/yaml.v3"
)

// fieldComments annotate the keys rx init writes.
var fieldComments = map[string]string{
	"host":            "hostname, IP, or ~/.ssh/config alias",
	"wrapper":         `sandbox prefix, e.g. "srt" or "firejail --quiet"`,
	"timeout":         "per-command deadline",
	"timeout_policy":  "connection (close the session) or channel (kill only the command)",
	"strict_host_key": "verify the host against known_hosts",
}

// Marshal renders cfg as commented YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	doc.HeadComment = "rx configuration. Every key can be overridden with RX_<KEY>, e.g. RX_HOST."

	for key, comment := range fieldComments {
		if v := findMapValue(&doc, key); v != nil {
			v.LineComment = comment
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Write saves cfg to path. An existing file is only replaced when force is set.
func Write(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("%s already exists", path),
				"Use --force to overwrite it.")
		}
	}

	data, err := Marshal(cfg)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Couldn't encode config", "")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Couldn't create "+dir, "Check directory permissions.")
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't write "+path, "Check directory permissions.")
	}
	return nil
}

// findMapValue finds a value node in a mapping node by key.
func findMapValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i < len(node.Content)-1; i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
