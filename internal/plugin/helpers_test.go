package plugin

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/omnitak/pluginhost/internal/plugin/api"
)

var errPlugin = errors.New("plugin failed")

// pkg describes a plugin package written to disk by writePackage.
type pkg struct {
	id      string
	version string
	entry   string
	perms   []string
	deps    []string
	script  string
}

func (p pkg) manifest() map[string]any {
	version := p.version
	if version == "" {
		version = "1.0.0"
	}
	entry := p.entry
	if entry == "" {
		entry = "main.lua"
	}
	perms := p.perms
	if perms == nil {
		perms = []string{}
	}
	deps := p.deps
	if deps == nil {
		deps = []string{}
	}
	return map[string]any{
		"id":              p.id,
		"name":            p.id,
		"version":         version,
		"description":     "test plugin",
		"author":          "tests",
		"license":         "MIT",
		"omnitak_version": ">=1.0.0",
		"type":            "data",
		"platforms":       []string{"ios"},
		"permissions":     perms,
		"entry_points":    map[string]string{"ios": entry},
		"dependencies":    deps,
	}
}

// writePackage writes p under root/dir and returns the package directory.
func writePackage(t *testing.T, root, dir string, p pkg) string {
	t.Helper()

	path := filepath.Join(root, dir)
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatal(err)
	}

	data, err := json.MarshalIndent(p.manifest(), "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, ManifestJSON), data, 0644); err != nil {
		t.Fatal(err)
	}

	if p.script != "" || p.entry == "" {
		if err := os.WriteFile(filepath.Join(path, "main.lua"), []byte(p.script), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

// goManifest is a validated-shape manifest whose entry is a Go symbol.
func goManifest(id string, deps ...string) *Manifest {
	return &Manifest{
		ID:           id,
		Name:         id,
		Version:      "1.0.0",
		Platforms:    []string{"ios"},
		Permissions:  []string{"map.write", "cot.read"},
		EntryPoints:  map[string]string{"ios": "TestPlugin"},
		Dependencies: deps,
	}
}

// fakePlugin records lifecycle calls.
type fakePlugin struct {
	mu    sync.Mutex
	calls []string
	ctx   *api.Context

	initErr       error
	activateErr   error
	deactivateErr error
	panicIn       string
}

func (p *fakePlugin) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
	if p.panicIn == call {
		panic(call + " exploded")
	}
}

func (p *fakePlugin) Initialize(ctx *api.Context) error {
	p.ctx = ctx
	p.record("initialize")
	return p.initErr
}

func (p *fakePlugin) Activate() error {
	p.record("activate")
	if p.activateErr != nil {
		return p.activateErr
	}
	// Leave something on the map for teardown to release.
	return p.ctx.Map().AddLayer(api.Layer{ID: "overlay"})
}

func (p *fakePlugin) Deactivate() error {
	p.record("deactivate")
	return p.deactivateErr
}

func (p *fakePlugin) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// entriesFor returns a registry resolving "TestPlugin" to p.
func entriesFor(t *testing.T, p Plugin) *StaticRegistry {
	t.Helper()
	r := NewStaticRegistry()
	if err := r.Register("TestPlugin", func() Plugin { return p }); err != nil {
		t.Fatal(err)
	}
	return r
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
