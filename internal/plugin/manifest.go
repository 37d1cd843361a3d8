package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/omnitak/pluginhost/internal/plugin/perr"
	"github.com/omnitak/pluginhost/internal/plugin/security"
	"github.com/omnitak/pluginhost/internal/plugin/version"
)

// Manifest file names, in lookup order.
const (
	ManifestJSON = "plugin.json"
	ManifestYAML = "plugin.yaml"
)

// Type classifies what a plugin contributes to the host.
type Type string

// Plugin types.
const (
	TypeUI       Type = "ui"
	TypeData     Type = "data"
	TypeProtocol Type = "protocol"
	TypeMap      Type = "map"
	TypeHybrid   Type = "hybrid"
)

// Valid reports whether t is a known plugin type.
func (t Type) Valid() bool {
	switch t {
	case TypeUI, TypeData, TypeProtocol, TypeMap, TypeHybrid:
		return true
	}
	return false
}

// Manifest describes a plugin's metadata and requirements.
type Manifest struct {
	// Identity
	ID          string `json:"id" yaml:"id"`                   // Reverse-DNS id (e.g., "com.acme.weather")
	Name        string `json:"name" yaml:"name"`               // Human-readable name
	Version     string `json:"version" yaml:"version"`         // Semver (e.g., "1.2.0")
	Description string `json:"description" yaml:"description"` // Short description
	Author      string `json:"author" yaml:"author"`           // Author name or org
	License     string `json:"license" yaml:"license"`         // SPDX license identifier

	// Requirements
	OmniTAKVersion string   `json:"omnitak_version" yaml:"omnitak_version"` // Minimum host version
	Dependencies   []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	Type      Type              `json:"type" yaml:"type"`
	Platforms []string          `json:"platforms" yaml:"platforms"`
	// Permissions stay strings until validated; the closed set is enforced in Validate.
	Permissions []string          `json:"permissions" yaml:"permissions"`
	EntryPoints map[string]string `json:"entry_points" yaml:"entry_points"`

	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Internal: path to the plugin directory
	dir string
}

// requiredFields are the keys every packaged manifest must carry.
var requiredFields = []string{
	"id",
	"name",
	"version",
	"description",
	"author",
	"license",
	"omnitak_version",
	"type",
	"platforms",
	"permissions",
	"entry_points",
}

// idPattern validates reverse-DNS plugin ids.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9]*(\.[a-z][a-z0-9]*)+$`)

// versionPattern validates plugin version strings.
var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9]+)?$`)

// ParseManifest decodes a JSON manifest. It does not validate it.
func ParseManifest(data []byte) (*Manifest, error) {
	if !gjson.ValidBytes(data) {
		return nil, perr.InvalidManifest("malformed JSON")
	}
	if !gjson.ParseBytes(data).IsObject() {
		return nil, perr.InvalidManifest("manifest must be a JSON object")
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, perr.InvalidManifest("failed to parse manifest: %v", err)
	}
	return &m, nil
}

// ParseManifestYAML decodes a YAML manifest. It does not validate it.
func ParseManifestYAML(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, perr.InvalidManifest("failed to parse manifest: %v", err)
	}
	return &m, nil
}

// CheckRequiredFields reports the first required key absent from a JSON
// manifest.
func CheckRequiredFields(data []byte) error {
	results := gjson.GetManyBytes(data, requiredFields...)
	for i, r := range results {
		if !r.Exists() {
			return perr.InvalidManifest("missing required field: %s", requiredFields[i])
		}
	}
	return nil
}

func checkRequiredYAML(data []byte) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return perr.InvalidManifest("failed to parse manifest: %v", err)
	}
	for _, field := range requiredFields {
		if _, ok := raw[field]; !ok {
			return perr.InvalidManifest("missing required field: %s", field)
		}
	}
	return nil
}

// LoadManifest reads a packaged manifest from a file. JSON and YAML are
// chosen by extension. The manifest must carry every required field but is
// not validated against a platform.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m *Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := checkRequiredYAML(data); err != nil {
			return nil, err
		}
		m, err = ParseManifestYAML(data)
	default:
		if m, err = ParseManifest(data); err == nil {
			err = CheckRequiredFields(data)
		}
	}
	if err != nil {
		return nil, err
	}

	m.dir = filepath.Dir(path)
	return m, nil
}

// LoadManifestFromDir loads a manifest from a plugin directory.
// Looks for plugin.json, then plugin.yaml.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	for _, name := range []string{ManifestJSON, ManifestYAML} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadManifest(path)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoManifest, dir)
}

// Validate checks the manifest against the host platform. Checks run in a
// fixed order and the first failure is returned:
//
//  1. id is reverse-DNS
//  2. version is major.minor.patch[-prerelease]
//  3. platforms contains hostPlatform (PlatformNotSupported)
//  4. entry_points has hostPlatform
//  5. every permission is in the closed set
//
// followed by the plugin type and the minimum host version format when
// they are present. Validate has no side effects.
func (m *Manifest) Validate(hostPlatform string) error {
	if !idPattern.MatchString(m.ID) {
		return perr.InvalidManifest("invalid id: %q", m.ID)
	}

	if !versionPattern.MatchString(m.Version) {
		return perr.InvalidManifest("invalid version: %q", m.Version)
	}

	if !m.SupportsPlatform(hostPlatform) {
		return perr.PlatformNotSupported("platform %q not in %v", hostPlatform, m.Platforms)
	}

	if _, ok := m.EntryPoint(hostPlatform); !ok {
		return perr.InvalidManifest("no entry point for platform %q", hostPlatform)
	}

	if _, err := security.ParsePermissionSet(m.Permissions); err != nil {
		return err
	}

	if m.Type != "" && !m.Type.Valid() {
		return perr.InvalidManifest("invalid type: %q", m.Type)
	}

	if m.OmniTAKVersion != "" {
		if _, err := version.ParseConstraint(m.OmniTAKVersion); err != nil {
			return perr.InvalidManifest("invalid omnitak_version: %q", m.OmniTAKVersion)
		}
	}

	for _, dep := range m.Dependencies {
		if !idPattern.MatchString(dep) {
			return perr.InvalidManifest("invalid dependency id: %q", dep)
		}
	}

	return nil
}

// CheckHostCompatibility fails with PlatformNotSupported when the manifest's
// minimum host version is newer than host. A manifest without a minimum is
// compatible with every host.
func (m *Manifest) CheckHostCompatibility(host version.Version) error {
	if m.OmniTAKVersion == "" {
		return nil
	}
	c, err := version.ParseConstraint(m.OmniTAKVersion)
	if err != nil {
		return perr.InvalidManifest("invalid omnitak_version: %q", m.OmniTAKVersion)
	}
	if !c.Allows(host) {
		return perr.PlatformNotSupported("requires host %s, running %s", c, host)
	}
	return nil
}

// SupportsPlatform reports whether platform is listed.
func (m *Manifest) SupportsPlatform(platform string) bool {
	for _, p := range m.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// EntryPoint returns the entry symbol for platform.
func (m *Manifest) EntryPoint(platform string) (string, bool) {
	ep, ok := m.EntryPoints[platform]
	return ep, ok
}

// PermissionSet returns the manifest's permissions as an immutable set.
func (m *Manifest) PermissionSet() (security.PermissionSet, error) {
	return security.ParsePermissionSet(m.Permissions)
}

// ParsedVersion returns the plugin version.
func (m *Manifest) ParsedVersion() (version.Version, error) {
	return version.Parse(m.Version)
}

// Dir returns the path to the plugin directory, empty for manifests that
// were not loaded from disk.
func (m *Manifest) Dir() string {
	return m.dir
}

// SetDir sets the plugin directory.
func (m *Manifest) SetDir(dir string) {
	m.dir = dir
}

// SortedPlatforms returns the platforms in lexical order.
func (m *Manifest) SortedPlatforms() []string {
	platforms := append([]string(nil), m.Platforms...)
	sort.Strings(platforms)
	return platforms
}

// String returns a string representation of the manifest.
func (m *Manifest) String() string {
	display := m.Name
	if display == "" {
		display = m.ID
	}
	return fmt.Sprintf("%s v%s", display, m.Version)
}

// Clone creates a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	clone := *m

	if m.Dependencies != nil {
		clone.Dependencies = append([]string(nil), m.Dependencies...)
	}
	if m.Platforms != nil {
		clone.Platforms = append([]string(nil), m.Platforms...)
	}
	if m.Permissions != nil {
		clone.Permissions = append([]string(nil), m.Permissions...)
	}
	if m.EntryPoints != nil {
		clone.EntryPoints = make(map[string]string, len(m.EntryPoints))
		for k, v := range m.EntryPoints {
			clone.EntryPoints[k] = v
		}
	}
	if m.Metadata != nil {
		clone.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			clone.Metadata[k] = v
		}
	}

	return &clone
}
