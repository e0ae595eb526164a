// Package config loads server settings from YAML or HCL files and merges them
// over the built-in defaults.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr      = "127.0.0.1:8000"
	defaultAPIPrefix       = "/api/v1"
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 2 * time.Minute
	defaultShutdownTimeout = 5 * time.Second
	defaultMaxBodyBytes    = 16 << 20
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
	defaultTorRemotePort   = 80
)

// Config holds resolved server settings.
type Config struct {
	ListenAddr      string
	APIPrefix       string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	MaxConnections  int // 0 means unlimited
	Log             LogConfig
	Tor             TorConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// TorConfig controls publishing the API as an onion service.
type TorConfig struct {
	Enabled    bool
	RemotePort int
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:      defaultListenAddr,
		APIPrefix:       defaultAPIPrefix,
		ReadTimeout:     defaultReadTimeout,
		WriteTimeout:    defaultWriteTimeout,
		IdleTimeout:     defaultIdleTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
		MaxBodyBytes:    defaultMaxBodyBytes,
		Log: LogConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Tor: TorConfig{
			RemotePort: defaultTorRemotePort,
		},
	}
}

// fileConfig is the on-disk shape shared by the YAML and HCL loaders.
// Durations are Go duration strings such as "30s".
type fileConfig struct {
	ListenAddr      string   `yaml:"listen_addr" hcl:"listen_addr,optional"`
	APIPrefix       string   `yaml:"api_prefix" hcl:"api_prefix,optional"`
	ReadTimeout     string   `yaml:"read_timeout" hcl:"read_timeout,optional"`
	WriteTimeout    string   `yaml:"write_timeout" hcl:"write_timeout,optional"`
	IdleTimeout     string   `yaml:"idle_timeout" hcl:"idle_timeout,optional"`
	ShutdownTimeout string   `yaml:"shutdown_timeout" hcl:"shutdown_timeout,optional"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes" hcl:"max_body_bytes,optional"`
	MaxConnections  int      `yaml:"max_connections" hcl:"max_connections,optional"`
	Log             *fileLog `yaml:"log" hcl:"log,block"`
	Tor             *fileTor `yaml:"tor" hcl:"tor,block"`
}

type fileLog struct {
	Level  string `yaml:"level" hcl:"level,optional"`
	Format string `yaml:"format" hcl:"format,optional"`
}

type fileTor struct {
	Enabled    bool `yaml:"enabled" hcl:"enabled,optional"`
	RemotePort int  `yaml:"remote_port" hcl:"remote_port,optional"`
}

// Load reads a .yaml, .yml or .hcl file, merges it over DefaultConfig and
// validates the result.
func Load(filename string) (*Config, error) {
	var (
		loaded *fileConfig
		err    error
	)
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		loaded, err = loadYAML(filename)
	case ".hcl":
		loaded, err = loadHCL(filename)
	default:
		return nil, errors.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := cfg.merge(loaded); err != nil {
		return nil, errors.Wrapf(err, "config file %s", filename)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config file %s", filename)
	}
	return &cfg, nil
}

func loadYAML(filename string) (*fileConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config yaml %s", filename)
	}
	return &fc, nil
}

func loadHCL(filename string) (*fileConfig, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "failed to parse HCL file %s", filename)
	}

	var fc fileConfig
	diags = gohcl.DecodeBody(file.Body, nil, &fc)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "failed to decode HCL file %s", filename)
	}
	return &fc, nil
}

// merge applies non-zero values from source into c.
func (c *Config) merge(source *fileConfig) error {
	if source.ListenAddr != "" {
		c.ListenAddr = source.ListenAddr
	}
	if source.APIPrefix != "" {
		c.APIPrefix = source.APIPrefix
	}
	if source.MaxBodyBytes != 0 {
		c.MaxBodyBytes = source.MaxBodyBytes
	}
	if source.MaxConnections != 0 {
		c.MaxConnections = source.MaxConnections
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"read_timeout", source.ReadTimeout, &c.ReadTimeout},
		{"write_timeout", source.WriteTimeout, &c.WriteTimeout},
		{"idle_timeout", source.IdleTimeout, &c.IdleTimeout},
		{"shutdown_timeout", source.ShutdownTimeout, &c.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", d.name)
		}
		*d.dst = v
	}

	if source.Log != nil {
		if source.Log.Level != "" {
			c.Log.Level = source.Log.Level
		}
		if source.Log.Format != "" {
			c.Log.Format = source.Log.Format
		}
	}
	if source.Tor != nil {
		if source.Tor.Enabled {
			c.Tor.Enabled = true
		}
		if source.Tor.RemotePort != 0 {
			c.Tor.RemotePort = source.Tor.RemotePort
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if !strings.HasPrefix(c.APIPrefix, "/") || strings.HasSuffix(c.APIPrefix, "/") {
		return errors.Errorf("api_prefix %q must start and must not end with /", c.APIPrefix)
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max_body_bytes must be positive")
	}
	if c.MaxConnections < 0 {
		return errors.New("max_connections must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"read_timeout":     c.ReadTimeout,
		"write_timeout":    c.WriteTimeout,
		"idle_timeout":     c.IdleTimeout,
		"shutdown_timeout": c.ShutdownTimeout,
	} {
		if d < 0 {
			return errors.Errorf("%s must not be negative", name)
		}
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	if c.Tor.Enabled && (c.Tor.RemotePort <= 0 || c.Tor.RemotePort > 65535) {
		return errors.Errorf("tor.remote_port %d out of range", c.Tor.RemotePort)
	}
	return nil
}
