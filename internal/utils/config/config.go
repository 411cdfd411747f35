package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
	k8syaml "sigs.k8s.io/yaml"

	"github.com/open-edge-platform/mirror-sync/internal/utils/general/slice"
)

// DefaultConfigName is looked up under the XDG config directories.
const DefaultConfigName = "mirror-sync/config.yml"

// GlobalConfig holds the tool-wide settings loaded from the config file.
type GlobalConfig struct {
	Workers      int           `yaml:"workers"`
	MirrorRoot   string        `yaml:"mirrorRoot"`
	TempDir      string        `yaml:"tempDir,omitempty"`
	ReportDir    string        `yaml:"reportDir,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	Logging      LoggingConfig `yaml:"logging"`
	Retry        RetryConfig   `yaml:"retry"`
	Repositories []Repository  `yaml:"repositories"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RetryConfig bounds the fetch retry rounds of one sync.
type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	Backoff     time.Duration `yaml:"backoff"`
	MaxBackoff  time.Duration `yaml:"maxBackoff"`
}

// Repository is one remote archive to mirror.
type Repository struct {
	Name     string   `yaml:"name" json:"name"`
	Vendor   string   `yaml:"vendor" json:"vendor"`
	URL      string   `yaml:"url" json:"url"`
	Dists    []string `yaml:"dists" json:"dists"`
	Sections []string `yaml:"sections" json:"sections"`
	Archs    []string `yaml:"archs" json:"archs"`
	Keyring  string   `yaml:"keyring,omitempty" json:"keyring,omitempty"` // path to an OpenPGP keyring; empty skips Release verification
}

// GlConfig is the configuration loaded at startup.
var GlConfig = DefaultConfig()

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *GlobalConfig {
	return &GlobalConfig{
		Workers:    4,
		MirrorRoot: "mirror",
		ReportDir:  "reports",
		Timeout:    10 * time.Minute,
		Logging:    LoggingConfig{Level: "info"},
		Retry: RetryConfig{
			MaxAttempts: 5,
			Backoff:     time.Second,
			MaxBackoff:  30 * time.Second,
		},
	}
}

// DefaultConfigPath finds mirror-sync/config.yml in the XDG config directories.
func DefaultConfigPath() (string, error) {
	return xdg.SearchConfigFile(DefaultConfigName)
}

// Load reads, validates and defaults the YAML config at path.
func Load(path string) (*GlobalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates data against the config schema and decodes it over the defaults.
func Parse(data []byte) (*GlobalConfig, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *GlobalConfig) normalize() {
	for i := range c.Repositories {
		r := &c.Repositories[i]
		r.URL = strings.TrimRight(r.URL, "/")
		r.Vendor = strings.ToLower(r.Vendor)
		r.Dists = slice.Dedup(r.Dists)
		r.Sections = slice.Dedup(r.Sections)
		r.Archs = slice.Dedup(r.Archs)
	}
}

// Validate checks the semantic rules the schema cannot express.
func (c *GlobalConfig) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be greater than zero, got %d", c.Workers)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.maxAttempts must be greater than zero, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Backoff < 0 || c.Retry.MaxBackoff < 0 {
		return errors.New("retry backoff durations must not be negative")
	}
	if c.Retry.MaxBackoff > 0 && c.Retry.Backoff > c.Retry.MaxBackoff {
		return fmt.Errorf("retry.backoff %s exceeds retry.maxBackoff %s", c.Retry.Backoff, c.Retry.MaxBackoff)
	}

	var names []string
	for _, r := range c.Repositories {
		if slice.Contains(names, r.Name) {
			return fmt.Errorf("duplicate repository name %q", r.Name)
		}
		names = append(names, r.Name)
		if r.Name == "." || r.Name == ".." {
			return fmt.Errorf("repository name %q cannot be used as a mirror directory", r.Name)
		}
		if !strings.HasPrefix(r.URL, "http://") && !strings.HasPrefix(r.URL, "https://") && !strings.HasPrefix(r.URL, "file://") {
			return fmt.Errorf("repository %s: url %q must be http(s):// or file://", r.Name, r.URL)
		}
	}
	return nil
}

// Repository returns the repository with the given name.
func (c *GlobalConfig) Repository(name string) (Repository, bool) {
	for _, r := range c.Repositories {
		if r.Name == name {
			return r, true
		}
	}
	return Repository{}, false
}

// KeyringPath resolves the keyring relative to the directory of the config file.
func (r Repository) KeyringPath(configDir string) string {
	if r.Keyring == "" || filepath.IsAbs(r.Keyring) {
		return r.Keyring
	}
	return filepath.Join(configDir, r.Keyring)
}

func validateSchema(data []byte) error {
	jsonData, err := k8syaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decoding YAML as JSON: %w", err)
	}

	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("config does not match schema: %w", err)
	}
	return nil
}

func compiledSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(configSchema)); err != nil {
		return nil, fmt.Errorf("loading config schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compiling config schema: %w", err)
	}
	return schema, nil
}
