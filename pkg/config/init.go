package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const fileHeader = `authproxy configuration file

One file configures both roles. The manager reads broker, dispatcher,
handles, stats, namespace, content and metadata; edges read edge. Both
read logging, server and integrity, and the integrity key must match.

Every key can be overridden by an AUTHPROXY_ environment variable, e.g.
AUTHPROXY_EDGE_MANAGER_ADDRESS=manager.example.org:1100`

// sectionComments annotates the top-level keys of generated files.
var sectionComments = map[string]string{
	"logging":    "Log level (DEBUG, INFO, WARN, ERROR), format (text, json) and output (stdout, stderr or a file path).",
	"server":     "Graceful shutdown deadline and the Prometheus endpoint.",
	"integrity":  "Shared request signing key: base64 'key' or 'key_file' (a keytab whose SHA-1 digest is the key).\nAlgorithms: hmac-sha1, hmac-sha256, blake2b-256.",
	"broker":     "Manager endpoint edges connect to.",
	"dispatcher": "Manager worker pool. Replies are retried reply_retries times before the edge connection is reset.",
	"handles":    "Open handles idle for longer than idle_timeout are closed.",
	"stats":      "Per-operation timing aggregates are folded and logged every interval.",
	"namespace":  "Host and port advertised by LOCATE, capacity reported by STATFS.",
	"edge":       "Proxy facade settings used by 'authproxy fs'. collapse_port 0 means local_port.",
	"content":    "File content store: memory, filesystem or s3.\ns3 options: region, bucket, key_prefix, endpoint, access_key_id, secret_access_key, max_retries.",
	"metadata":   "Metadata store: memory or badger, with an optional read cache.",
}

// GenerateYAMLWithComments renders cfg as YAML with a header and one
// comment per section.
func GenerateYAMLWithComments(cfg *Config) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	root := &yaml.Node{Kind: yaml.DocumentNode, HeadComment: fileHeader, Content: []*yaml.Node{&doc}}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// InitConfig writes a default configuration to the default location and
// returns its path.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a default configuration to path. An existing file
// is only replaced when force is set.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := GenerateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
