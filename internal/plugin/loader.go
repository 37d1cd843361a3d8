package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/omnitak/pluginhost/internal/plugin/perr"
)

// Loader discovers plugin packages on the filesystem.
type Loader struct {
	mu sync.RWMutex

	// Search paths for packages (checked in order)
	paths []string

	// Discovered packages keyed by plugin id
	discovered map[string]*PackageInfo
}

// PackageInfo contains discovery information about a plugin package.
type PackageInfo struct {
	// ID is the manifest id, or the directory name when the manifest
	// could not be read.
	ID       string
	Path     string
	Manifest *Manifest
	Error    error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths sets the plugin search paths.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// NewLoader creates a new package loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		paths:      DefaultPluginPaths(),
		discovered: make(map[string]*PackageInfo),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// DefaultPluginPaths returns the default plugin search paths.
func DefaultPluginPaths() []string {
	paths := make([]string, 0, 2)

	// User plugins: ~/.config/omnitak/plugins/
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "omnitak", "plugins"))
	}

	// Local plugins: ./plugins/
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, "plugins"))
	}

	return paths
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.paths...)
}

// AddPath adds a search path.
func (l *Loader) AddPath(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, path)
}

// Discover finds all packages in the search paths. When two paths hold
// the same plugin id, the earlier path wins. Returns packages sorted by id.
func (l *Loader) Discover() ([]*PackageInfo, error) {
	discovered := make(map[string]*PackageInfo)

	for _, basePath := range l.Paths() {
		if err := discoverInPath(basePath, discovered); err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	l.discovered = discovered
	l.mu.Unlock()

	return sortedPackages(discovered), nil
}

// Refresh re-discovers packages.
func (l *Loader) Refresh() ([]*PackageInfo, error) {
	return l.Discover()
}

func discoverInPath(basePath string, into map[string]*PackageInfo) error {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Not an error if path doesn't exist
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		info := InspectPackage(filepath.Join(basePath, entry.Name()))
		if info == nil {
			continue
		}

		// Don't override earlier discoveries (first path wins)
		if _, exists := into[info.ID]; !exists {
			into[info.ID] = info
		}
	}

	return nil
}

// InspectPackage reads the manifest in dir. It returns nil when dir holds
// no manifest at all, and a PackageInfo with Error set when the manifest
// is unreadable.
func InspectPackage(dir string) *PackageInfo {
	info := &PackageInfo{
		ID:   filepath.Base(dir),
		Path: dir,
	}

	m, err := LoadManifestFromDir(dir)
	if err != nil {
		if errors.Is(err, ErrNoManifest) {
			return nil
		}
		info.Error = err
		return info
	}

	info.Manifest = m
	if m.ID != "" {
		info.ID = m.ID
	}
	return info
}

func sortedPackages(m map[string]*PackageInfo) []*PackageInfo {
	pkgs := make([]*PackageInfo, 0, len(m))
	for _, info := range m {
		pkgs = append(pkgs, info)
	}
	sort.Slice(pkgs, func(i, j int) bool {
		return pkgs[i].ID < pkgs[j].ID
	})
	return pkgs
}

// Get returns info for a discovered package by plugin id.
func (l *Loader) Get(id string) (*PackageInfo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	info, ok := l.discovered[id]
	return info, ok
}

// FindPlugin returns the package for id, discovering again if it is not
// cached.
func (l *Loader) FindPlugin(id string) (*PackageInfo, error) {
	if info, ok := l.Get(id); ok {
		return info, nil
	}

	if _, err := l.Discover(); err != nil {
		return nil, err
	}
	if info, ok := l.Get(id); ok {
		return info, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
}

// Packages returns every discovered package sorted by id.
func (l *Loader) Packages() []*PackageInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedPackages(l.discovered)
}

// ListIDs returns the ids of all discovered packages.
func (l *Loader) ListIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.discovered))
	for id := range l.discovered {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of discovered packages.
func (l *Loader) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.discovered)
}

// HasErrors returns true if any discovered package has an error.
func (l *Loader) HasErrors() bool {
	return len(l.Errors()) > 0
}

// Errors returns all packages whose manifest could not be read.
func (l *Loader) Errors() []*PackageInfo {
	var errored []*PackageInfo
	for _, info := range l.Packages() {
		if info.Error != nil {
			errored = append(errored, info)
		}
	}
	return errored
}

// ValidatePackage checks a package directory for installation on
// platform: the manifest must load and validate, and a script entry point
// must exist inside the package.
func ValidatePackage(dir, platform string) (*Manifest, error) {
	m, err := LoadManifestFromDir(dir)
	if err != nil {
		if errors.Is(err, ErrNoManifest) {
			return nil, perr.InvalidManifest("no %s or %s in %s", ManifestJSON, ManifestYAML, dir)
		}
		return nil, err
	}

	if err := m.Validate(platform); err != nil {
		return m, err
	}

	entry, _ := m.EntryPoint(platform)
	if strings.HasSuffix(entry, ".lua") {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(entry))); err != nil {
			return m, perr.InvalidManifest("entry point %q not found in package", entry)
		}
	}

	return m, nil
}
