package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the launcher-side configuration. The engine inside a target
// process reads only environment variables and the per-user rule files; the
// launcher translates config values into that contract.
type Config struct {
	LogLevel  string          `yaml:"log_level" env:"NVHIDE_LOG_LEVEL"`
	Library   LibraryConfig   `yaml:"library"`
	Policy    PolicyConfig    `yaml:"policy"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// LibraryConfig locates the preload shim.
type LibraryConfig struct {
	Path string `yaml:"path" env:"NVHIDE_LIBRARY"`
}

// PolicyConfig carries extra allow/deny glob patterns. The launcher exports
// them to the child via NVHIDE_ALLOWLIST / NVHIDE_DENYLIST, merged after
// any patterns already present in those variables.
type PolicyConfig struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// DiscoveryConfig configures the sysfs scan used by `nvhide status`.
type DiscoveryConfig struct {
	ClassDir string `yaml:"class_dir"`
	Vendor   string `yaml:"vendor"` // hex PCI vendor id, 0x-prefix optional
}

// VendorID parses the configured vendor identifier.
func (d *DiscoveryConfig) VendorID() (uint64, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(d.Vendor, "0x"), "0X")
	return strconv.ParseUint(s, 16, 32)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Discovery: DiscoveryConfig{
			ClassDir: "/sys/class/drm",
			Vendor:   "0x10de",
		},
	}
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// ApplyEnvOverrides reads NVHIDE_* environment variables and applies them
// to the config, overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	envOverrides := map[string]func(string){
		"NVHIDE_LOG_LEVEL": func(v string) { c.LogLevel = v },
		"NVHIDE_LIBRARY":   func(v string) { c.Library.Path = v },
		"NVHIDE_CLASS_DIR": func(v string) { c.Discovery.ClassDir = v },
	}

	for envKey, setter := range envOverrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Discovery.ClassDir == "" {
		return fmt.Errorf("discovery.class_dir is required")
	}
	if _, err := c.Discovery.VendorID(); err != nil {
		return fmt.Errorf("discovery.vendor %q is not a hex vendor id", c.Discovery.Vendor)
	}
	return nil
}
