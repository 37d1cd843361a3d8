package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/omnitak/pluginhost/internal/logging"
	"github.com/omnitak/pluginhost/internal/metrics"
	"github.com/omnitak/pluginhost/internal/plugin/api"
	"github.com/omnitak/pluginhost/internal/plugin/security"
	"github.com/omnitak/pluginhost/internal/plugin/version"
)

// ErrAlreadyInitialized is returned when a System is initialized twice.
var ErrAlreadyInitialized = errors.New("plugin system already initialized")

// ErrNotInitialized is returned when a System is used before Initialize.
var ErrNotInitialized = errors.New("plugin system not initialized")

// System wires the plugin manager to the host: its collaborators, logger,
// metrics and package watcher. It is what a host embeds.
type System struct {
	mu sync.RWMutex

	manager *Manager
	watcher *Watcher

	config SystemConfig

	initialized bool
}

// SystemConfig configures the plugin system.
type SystemConfig struct {
	// ManagerConfig for the plugin manager
	ManagerConfig ManagerConfig

	Platform    string
	HostVersion version.Version

	// Host collaborators handed to every plugin context
	Providers api.Providers

	// Entries resolves entry points. Nil uses a LuaLoader.
	Entries EntryLoader

	Verifier security.SignatureVerifier
	Network  *security.NetworkPolicy
	Settings map[string]map[string]any

	Logger  *logging.Logger
	Metrics *metrics.Metrics

	// Watch enables rediscovery when plugin paths change.
	Watch      bool
	WatchDelay time.Duration
}

// DefaultSystemConfig targets an iOS host at version 1.0.0 with Lua
// entry points.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		ManagerConfig: DefaultManagerConfig(),
		Platform:      "ios",
		HostVersion:   version.MustParse("1.0.0"),
	}
}

// NewSystem returns an uninitialized system.
func NewSystem(config SystemConfig) *System {
	return &System{config: config}
}

// Initialize builds the manager and, when configured, starts the package
// watcher. Nothing is loaded until LoadAll or InstallDir.
func (s *System) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return ErrAlreadyInitialized
	}

	entries := s.config.Entries
	if entries == nil {
		entries = LuaLoader{}
	}
	logger := s.config.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	s.manager = NewManager(s.config.ManagerConfig, Environment{
		Platform:    s.config.Platform,
		HostVersion: s.config.HostVersion,
		Verifier:    s.config.Verifier,
		Entries:     entries,
		Logger:      logger.WithComponent("plugins"),
		Metrics:     s.config.Metrics,
		Providers:   s.config.Providers,
		Network:     s.config.Network,
		Settings:    s.config.Settings,
	})

	if s.config.Watch {
		w, err := NewWatcher(s.manager, s.config.WatchDelay)
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		if err := w.Start(); err != nil {
			_ = w.Close()
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		s.watcher = w
	}

	s.initialized = true
	return nil
}

// Shutdown stops the watcher, then deactivates and unloads every plugin
// so their layers, markers and handlers leave the host. The system is
// uninitialized afterwards even when unloading reports errors.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil
	}
	s.initialized = false

	if s.watcher != nil {
		_ = s.watcher.Close()
		s.watcher = nil
	}
	if err := s.manager.UnloadAll(ctx); err != nil {
		return fmt.Errorf("failed to unload plugins: %w", err)
	}
	return nil
}

// Manager returns the plugin manager, or nil before Initialize.
func (s *System) Manager() *Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manager
}

// IsInitialized reports whether Initialize has run and Shutdown has not.
func (s *System) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

func (s *System) ready() (*Manager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	return s.manager, nil
}

// LoadAll installs every discovered package.
func (s *System) LoadAll(ctx context.Context) error {
	m, err := s.ready()
	if err != nil {
		return err
	}
	return m.LoadAll(ctx)
}

// InstallDir validates the package in dir, installs and activates it.
func (s *System) InstallDir(ctx context.Context, dir string) (*Instance, error) {
	m, err := s.ready()
	if err != nil {
		return nil, err
	}

	manifest, err := LoadManifestFromDir(dir)
	if err != nil {
		return nil, err
	}
	inst, err := m.Install(ctx, manifest)
	if err != nil {
		return nil, err
	}
	if err := m.Activate(ctx, inst.PluginID()); err != nil {
		return inst, err
	}
	return inst, nil
}

// Subscribe registers a handler for manager events.
func (s *System) Subscribe(handler EventHandler) func() {
	m, err := s.ready()
	if err != nil {
		return func() {}
	}
	return m.Subscribe(handler)
}

// Stats snapshots every registered instance in registration order.
func (s *System) Stats() SystemStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := SystemStats{Initialized: s.initialized, Watching: s.watcher != nil}
	if !s.initialized {
		return stats
	}

	for _, inst := range s.manager.List() {
		p := PluginStats{
			ID:         inst.PluginID(),
			InstanceID: inst.ID(),
			Version:    inst.Manifest().Version,
			State:      inst.State(),
			Err:        inst.Err(),
		}
		stats.TotalPlugins++
		switch p.State {
		case StateActive:
			stats.ActivePlugins++
		case StateFailed:
			stats.HasErrors = true
		}
		stats.Plugins = append(stats.Plugins, p)
	}
	return stats
}

// SystemStats is returned by System.Stats.
type SystemStats struct {
	Initialized   bool
	Watching      bool
	TotalPlugins  int
	ActivePlugins int
	HasErrors     bool
	Plugins       []PluginStats
}

// PluginStats describes one registered instance.
type PluginStats struct {
	ID         string
	InstanceID string
	Version    string
	State      State
	Err        error
}
