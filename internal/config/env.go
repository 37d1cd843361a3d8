package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OMNITAK_"

// EnvLoader loads configuration from environment variables.
type EnvLoader struct {
	prefix  string            // Environment variable prefix (e.g., "OMNITAK_")
	mapping map[string]string // Env var -> config path
	environ func() []string
}

// NewEnvLoader creates a new environment variable loader.
// The prefix should include the trailing underscore (e.g., "OMNITAK_").
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: defaultEnvMapping(prefix),
		environ: os.Environ,
	}
}

// defaultEnvMapping maps variables whose config path is not simply
// section_key.
func defaultEnvMapping(prefix string) map[string]string {
	return map[string]string{
		prefix + "PLATFORM":      "platform",
		prefix + "HOST_VERSION":  "host_version",
		prefix + "PLUGIN_PATHS":  "plugin_paths",
		prefix + "AUTO_ACTIVATE": "auto_activate",
		prefix + "MAX_PARALLEL":  "max_parallel",
		prefix + "WATCH":         "watch",
		prefix + "WATCH_DELAY":   "watch_delay",
	}
}

// sections are the tables reachable as PREFIX_SECTION_KEY.
var sections = map[string]bool{
	"log":     true,
	"network": true,
	"cot":     true,
	"lua":     true,
	"metrics": true,
}

// Load reads environment variables and returns a configuration map.
// Empty values are treated as set.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)

	for _, env := range l.environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) {
			continue
		}

		path, ok := l.mapping[name]
		if !ok {
			path, ok = l.envToPath(name)
			if !ok {
				continue
			}
		}

		if path == "plugin_paths" {
			SetByPath(config, path, splitPaths(value))
			continue
		}
		SetByPath(config, path, parseValue(value))
	}

	return config, nil
}

// AddMapping adds a custom environment variable mapping.
func (l *EnvLoader) AddMapping(envVar, configPath string) {
	if l.mapping == nil {
		l.mapping = make(map[string]string)
	}
	l.mapping[envVar] = configPath
}

// envToPath converts OMNITAK_COT_HISTORY_SIZE to cot.history_size. Only
// known sections are accepted.
func (l *EnvLoader) envToPath(env string) (string, bool) {
	name := strings.ToLower(strings.TrimPrefix(env, l.prefix))
	section, key, ok := strings.Cut(name, "_")
	if !ok || key == "" || !sections[section] {
		return "", false
	}
	return section + "." + key, true
}

func splitPaths(s string) []any {
	var out []any
	for _, p := range filepath.SplitList(s) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseValue attempts to parse the string value into an appropriate type.
// Durations stay strings and are parsed by Duration.
func parseValue(s string) any {
	if s == "" {
		return s
	}

	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}

	// Only with a decimal point, so ints stay ints
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}

	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}

	return s
}
