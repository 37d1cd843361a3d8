package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnitak/pluginhost/internal/host"
	"github.com/omnitak/pluginhost/internal/plugin/version"
)

func testSystemConfig(paths ...string) SystemConfig {
	return SystemConfig{
		ManagerConfig: ManagerConfig{PluginPaths: paths, AutoActivate: true},
		Platform:      "ios",
		HostVersion:   version.MustParse("1.0.0"),
	}
}

func TestSystemInitialize(t *testing.T) {
	s := NewSystem(testSystemConfig(t.TempDir()))
	assert.False(t, s.IsInitialized())
	assert.ErrorIs(t, s.LoadAll(context.Background()), ErrNotInitialized)
	_, err := s.InstallDir(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.NotPanics(t, func() { s.Subscribe(func(ManagerEvent) {})() })

	require.NoError(t, s.Initialize())
	assert.ErrorIs(t, s.Initialize(), ErrAlreadyInitialized)
	assert.True(t, s.IsInitialized())
	assert.NotNil(t, s.Manager())

	require.NoError(t, s.Shutdown(context.Background()))
	assert.False(t, s.IsInitialized())
	require.NoError(t, s.Shutdown(context.Background()), "shutdown twice")
}

func TestSystemLoadAndStats(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "wx", pkg{id: "com.example.wx", perms: []string{"map.write"},
		script: `local omnitak = require("omnitak")
function activate() omnitak.map.add_layer({ id = "radar" }) end`})

	h := host.New(host.Config{}, nil)
	cfg := testSystemConfig(root)
	cfg.Providers = h.Providers()
	cfg.Watch = true

	s := NewSystem(cfg)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.LoadAll(context.Background()))

	stats := s.Stats()
	assert.True(t, stats.Initialized)
	assert.True(t, stats.Watching)
	assert.Equal(t, 1, stats.TotalPlugins)
	assert.Equal(t, 1, stats.ActivePlugins)
	assert.False(t, stats.HasErrors)
	require.Len(t, stats.Plugins, 1)
	assert.Equal(t, "com.example.wx", stats.Plugins[0].ID)
	assert.Equal(t, StateActive, stats.Plugins[0].State)
	assert.NotEmpty(t, stats.Plugins[0].InstanceID)

	n, _ := h.Map.Counts()
	assert.Equal(t, 1, n)

	require.NoError(t, s.Shutdown(context.Background()))
	n, _ = h.Map.Counts()
	assert.Zero(t, n, "shutdown releases host state")
	assert.False(t, s.Stats().Watching)
}

func TestSystemInstallDir(t *testing.T) {
	s := NewSystem(testSystemConfig())
	require.NoError(t, s.Initialize())
	defer s.Shutdown(context.Background())

	var got []string
	s.Subscribe(func(e ManagerEvent) { got = append(got, e.Type.String()) })

	dir := writePackage(t, t.TempDir(), "wx", pkg{id: "com.example.wx", script: "-- ok"})
	inst, err := s.InstallDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, StateActive, inst.State())
	assert.Equal(t, []string{"validated", "loaded", "initialized", "activated"}, got)

	_, err = s.InstallDir(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoManifest)
}
