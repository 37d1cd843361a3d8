package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/omnitak/pluginhost/internal/logging"
	"github.com/omnitak/pluginhost/internal/plugin/security"
	"github.com/omnitak/pluginhost/internal/plugin/version"
)

// FileName is the default config file name.
const FileName = "host.toml"

// Platforms the host can run as.
var Platforms = []string{"ios", "android"}

// Config is the plugin host configuration.
type Config struct {
	Platform     string   `toml:"platform"`
	HostVersion  string   `toml:"host_version"`
	PluginPaths  []string `toml:"plugin_paths"`
	AutoActivate bool     `toml:"auto_activate"`
	MaxParallel  int      `toml:"max_parallel"`
	Watch        bool     `toml:"watch"`
	WatchDelay   Duration `toml:"watch_delay"`

	Log     LogConfig     `toml:"log"`
	Network NetworkConfig `toml:"network"`
	CoT     CoTConfig     `toml:"cot"`
	Lua     LuaConfig     `toml:"lua"`
	Metrics MetricsConfig `toml:"metrics"`

	// Plugins holds per-plugin settings keyed by plugin id.
	Plugins map[string]map[string]any `toml:"plugins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// NetworkConfig bounds plugin network access.
type NetworkConfig struct {
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	Timeout           Duration `toml:"timeout"`
	AllowedHosts      []string `toml:"allowed_hosts"`
	BlockedHosts      []string `toml:"blocked_hosts"`
}

// CoTConfig sizes the CoT history.
type CoTConfig struct {
	HistorySize int      `toml:"history_size"`
	HistoryTTL  Duration `toml:"history_ttl"`
}

// LuaConfig configures script plugins.
type LuaConfig struct {
	ExecutionTimeout Duration `toml:"execution_timeout"`
	QueueSize        int      `toml:"queue_size"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// Duration is a time.Duration written as a string such as "250ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	policy := security.DefaultNetworkPolicy()
	return &Config{
		Platform:     "ios",
		HostVersion:  "1.0.0",
		PluginPaths:  DefaultPluginPaths(),
		AutoActivate: true,
		MaxParallel:  4,
		WatchDelay:   Duration{250 * time.Millisecond},
		Log:          LogConfig{Level: "info"},
		Network: NetworkConfig{
			RequestsPerSecond: policy.RequestsPerSecond,
			Burst:             policy.Burst,
			Timeout:           Duration{policy.Timeout},
		},
		CoT:     CoTConfig{HistorySize: 1024},
		Lua:     LuaConfig{ExecutionTimeout: Duration{5 * time.Second}, QueueSize: 100},
		Metrics: MetricsConfig{Addr: ":9464"},
	}
}

// DefaultPluginPaths returns the default plugin search paths.
func DefaultPluginPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "omnitak", "plugins"))
	}
	return append(paths, "plugins")
}

// DefaultPath returns ~/.config/omnitak/host.toml, or "" without a home
// directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "omnitak", FileName)
}

// Load builds the configuration from defaults, the file at path and the
// environment, then validates it. A missing file is not an error; an
// empty path skips the file layer.
func Load(path string) (*Config, error) {
	return load(path, NewEnvLoader(EnvPrefix))
}

func load(path string, env *EnvLoader) (*Config, error) {
	layers := make(map[string]any)

	if path != "" {
		file, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		DeepMerge(layers, file)
	}

	overrides, err := env.Load()
	if err != nil {
		return nil, err
	}
	DeepMerge(layers, overrides)

	cfg, err := decode("<merged>", layers)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile reads a TOML file into a map.
func loadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, newParseError(path, err)
	}
	return m, nil
}

// Parse decodes a TOML document over the defaults without consulting the
// environment.
func Parse(data []byte) (*Config, error) {
	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, newParseError("<input>", err)
	}
	cfg, err := decode("<input>", m)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode applies the merged layers over Default. Unknown keys are errors.
func decode(source string, layers map[string]any) (*Config, error) {
	cfg := Default()
	if len(layers) == 0 {
		return cfg, nil
	}

	data, err := toml.Marshal(layers)
	if err != nil {
		return nil, fmt.Errorf("encoding config layers: %w", err)
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, newParseError(source, err)
	}
	return cfg, nil
}

// Validate checks every setting and reports all failures together.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := errs.add

	if !slices.Contains(Platforms, c.Platform) {
		add("platform", "must be one of "+strings.Join(Platforms, ", "), c.Platform)
	}
	if _, err := version.Parse(c.HostVersion); err != nil {
		add("host_version", err.Error(), c.HostVersion)
	}
	if c.MaxParallel < 0 {
		add("max_parallel", "must not be negative", c.MaxParallel)
	}
	if c.WatchDelay.Duration < 0 {
		add("watch_delay", "must not be negative", c.WatchDelay)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", "must be debug, info, warn or error", c.Log.Level)
	}

	if c.Network.RequestsPerSecond < 0 {
		add("network.requests_per_second", "must not be negative", c.Network.RequestsPerSecond)
	}
	if c.Network.RequestsPerSecond > 0 && c.Network.Burst < 1 {
		add("network.burst", "must be at least 1 when limiting", c.Network.Burst)
	}
	if c.Network.Timeout.Duration < 0 {
		add("network.timeout", "must not be negative", c.Network.Timeout)
	}

	if c.CoT.HistorySize < 1 {
		add("cot.history_size", "must be at least 1", c.CoT.HistorySize)
	}
	if c.CoT.HistoryTTL.Duration < 0 {
		add("cot.history_ttl", "must not be negative", c.CoT.HistoryTTL)
	}

	if c.Lua.ExecutionTimeout.Duration < 0 {
		add("lua.execution_timeout", "must not be negative", c.Lua.ExecutionTimeout)
	}
	if c.Lua.QueueSize < 0 {
		add("lua.queue_size", "must not be negative", c.Lua.QueueSize)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		add("metrics.addr", "required when metrics are enabled", c.Metrics.Addr)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ParsedHostVersion returns HostVersion parsed. Validate guarantees it
// parses.
func (c *Config) ParsedHostVersion() version.Version {
	v, _ := version.Parse(c.HostVersion)
	return v
}

// NetworkPolicy returns the network limits for plugin contexts.
func (c *Config) NetworkPolicy() security.NetworkPolicy {
	return security.NetworkPolicy{
		RequestsPerSecond: c.Network.RequestsPerSecond,
		Burst:             c.Network.Burst,
		Timeout:           c.Network.Timeout.Duration,
		AllowedHosts:      slices.Clone(c.Network.AllowedHosts),
		BlockedHosts:      slices.Clone(c.Network.BlockedHosts),
	}
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(c.Log.Level)
	cfg.JSON = c.Log.JSON
	return cfg
}

// PluginSettings returns the settings table for id, or nil.
func (c *Config) PluginSettings(id string) map[string]any {
	return c.Plugins[id]
}

// Encode writes the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

// Get returns the value at a dot-separated key such as "network.timeout",
// as it would appear in the encoded file.
func (c *Config) Get(key string) (any, bool) {
	data, err := c.Encode()
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	return GetByPath(m, key)
}
