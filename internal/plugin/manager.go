package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/omnitak/pluginhost/internal/logging"
	"github.com/omnitak/pluginhost/internal/plugin/perr"
)

// Manager manages the lifecycle of all plugins.
// It handles discovery, installation, activation, and event dispatching.
type Manager struct {
	mu sync.RWMutex

	// Loader for package discovery
	loader *Loader

	// Environment template for new instances
	env Environment

	// Registered instances by plugin id
	instances map[string]*Instance

	// Registration order (for deterministic iteration)
	loadOrder []string

	// Activation order, torn down in reverse
	activeOrder []string

	// Event handlers (protected by mu)
	eventHandlers []EventHandler

	// Configuration
	config ManagerConfig
}

// ManagerConfig configures the plugin manager.
type ManagerConfig struct {
	// PluginPaths are directories to search for plugin packages
	PluginPaths []string

	// AutoActivate plugins after LoadAll
	AutoActivate bool

	// MaxParallel is the maximum number of packages validated at once
	MaxParallel int
}

// DefaultManagerConfig returns sensible default configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		PluginPaths:  DefaultPluginPaths(),
		AutoActivate: true,
		MaxParallel:  4,
	}
}

// EventHandler handles plugin manager events.
// Handlers must be non-blocking and should not call back into the Manager
// to avoid deadlocks. Panics in handlers are recovered.
type EventHandler func(event ManagerEvent)

// ManagerEvent represents a plugin manager event.
type ManagerEvent struct {
	Type   ManagerEventType
	Plugin string
	Error  error
}

// ManagerEventType is the type of manager event.
type ManagerEventType int

const (
	// EventPluginLoaded is emitted when an instance is registered.
	EventPluginLoaded ManagerEventType = iota
	// EventPluginValidated is emitted when a manifest passes validation.
	EventPluginValidated
	// EventPluginInitialized is emitted after initialize(context) returns.
	EventPluginInitialized
	// EventPluginActivated is emitted when a plugin is activated.
	EventPluginActivated
	// EventPluginDeactivated is emitted when a plugin is deactivated.
	EventPluginDeactivated
	// EventPluginFailed is emitted when an instance moves to Failed.
	EventPluginFailed
	// EventPluginUnloaded is emitted when an instance is removed.
	EventPluginUnloaded
	// EventPluginRejected is emitted when a package fails validation or
	// loses an install race.
	EventPluginRejected
	// EventPackagesChanged is emitted when the watcher rediscovers packages.
	EventPackagesChanged
)

// String returns a string representation of the event type.
func (t ManagerEventType) String() string {
	switch t {
	case EventPluginLoaded:
		return "loaded"
	case EventPluginValidated:
		return "validated"
	case EventPluginInitialized:
		return "initialized"
	case EventPluginActivated:
		return "activated"
	case EventPluginDeactivated:
		return "deactivated"
	case EventPluginFailed:
		return "failed"
	case EventPluginUnloaded:
		return "unloaded"
	case EventPluginRejected:
		return "rejected"
	case EventPackagesChanged:
		return "packages-changed"
	default:
		return "unknown"
	}
}

// NewManager creates a new plugin manager. env is the template every
// instance is created with; its DependencyActive is supplied by the
// manager.
func NewManager(config ManagerConfig, env Environment) *Manager {
	m := &Manager{
		loader:    NewLoader(WithPaths(config.PluginPaths...)),
		instances: make(map[string]*Instance),
		config:    config,
	}
	if env.Logger == nil {
		env.Logger = logging.Discard()
	}
	env.DependencyActive = m.isActive
	m.env = env
	return m
}

// Discover finds all available packages without installing them.
func (m *Manager) Discover() ([]*PackageInfo, error) {
	return m.loader.Discover()
}

// Install validates manifest and registers a new instance for it. When an
// instance with the same id is already registered, the new one replaces it
// only if its version is greater; the old instance is deactivated first.
func (m *Manager) Install(ctx context.Context, manifest *Manifest) (*Instance, error) {
	inst, err := NewInstance(manifest, m.env)
	if err != nil {
		return nil, err
	}
	if err := inst.Validate(ctx); err != nil {
		m.emitEvent(ManagerEvent{Type: EventPluginRejected, Plugin: manifest.ID, Error: err})
		return nil, err
	}
	m.emitEvent(ManagerEvent{Type: EventPluginValidated, Plugin: manifest.ID})

	return m.register(ctx, inst)
}

// register adds a validated instance, applying the version rule.
func (m *Manager) register(ctx context.Context, inst *Instance) (*Instance, error) {
	id := inst.PluginID()

	m.mu.Lock()
	existing, exists := m.instances[id]
	if exists {
		if err := newer(inst.Manifest(), existing.Manifest()); err != nil {
			m.mu.Unlock()
			m.emitEvent(ManagerEvent{Type: EventPluginRejected, Plugin: id, Error: err})
			return nil, err
		}
	}
	m.instances[id] = inst
	if !exists {
		m.loadOrder = append(m.loadOrder, id)
	}
	m.mu.Unlock()

	// Tear down the replaced instance (outside lock)
	if exists && existing.State().IsRunning() {
		m.deactivateInstance(existing)
	}

	m.emitEvent(ManagerEvent{Type: EventPluginLoaded, Plugin: id})
	return inst, nil
}

// newer fails unless next's version is greater than current's.
func newer(next, current *Manifest) error {
	nv, err := next.ParsedVersion()
	if err != nil {
		return perr.InvalidManifest("invalid version: %q", next.Version)
	}
	cv, err := current.ParsedVersion()
	if err != nil {
		return nil
	}
	if !cv.Less(nv) {
		return perr.Runtime("version %s is not newer than %s", nv, cv)
	}
	return nil
}

// Load finds the package for id and installs it.
func (m *Manager) Load(ctx context.Context, id string) (*Instance, error) {
	info, err := m.loader.FindPlugin(id)
	if err != nil {
		return nil, err
	}
	if info.Error != nil {
		return nil, info.Error
	}
	return m.Install(ctx, info.Manifest)
}

// LoadAll discovers every package, validates them concurrently and
// registers the ones that pass in id order. If AutoActivate is set the
// registered plugins are then activated. Failures are collected and
// returned together; one bad package does not stop the others.
func (m *Manager) LoadAll(ctx context.Context) error {
	pkgs, err := m.loader.Discover()
	if err != nil {
		return err
	}

	validated := make([]*Instance, len(pkgs))
	errs := make([]error, len(pkgs))

	g, gctx := errgroup.WithContext(ctx)
	if m.config.MaxParallel > 0 {
		g.SetLimit(m.config.MaxParallel)
	}
	for i, info := range pkgs {
		g.Go(func() error {
			if info.Error != nil {
				errs[i] = info.Error
				return nil
			}
			inst, err := NewInstance(info.Manifest, m.env)
			if err == nil {
				err = inst.Validate(gctx)
			}
			if err != nil {
				errs[i] = err
				return nil
			}
			validated[i] = inst
			return nil
		})
	}
	_ = g.Wait()

	var loadErrors []error
	for i, info := range pkgs {
		if errs[i] != nil {
			m.emitEvent(ManagerEvent{Type: EventPluginRejected, Plugin: info.ID, Error: errs[i]})
			loadErrors = append(loadErrors, fmt.Errorf("%s: %w", info.ID, errs[i]))
			continue
		}
		m.emitEvent(ManagerEvent{Type: EventPluginValidated, Plugin: info.ID})
		if _, err := m.register(ctx, validated[i]); err != nil {
			loadErrors = append(loadErrors, fmt.Errorf("%s: %w", info.ID, err))
		}
	}

	if m.config.AutoActivate {
		if err := m.ActivateAll(ctx); err != nil {
			loadErrors = append(loadErrors, err)
		}
	}

	if len(loadErrors) > 0 {
		return fmt.Errorf("failed to load %d plugins: %w", len(loadErrors), errors.Join(loadErrors...))
	}
	return nil
}

// Activate initializes and activates a registered plugin. A missing
// dependency leaves it Validated so it can be retried.
func (m *Manager) Activate(ctx context.Context, id string) error {
	inst, err := m.lookup(id)
	if err != nil {
		return err
	}

	switch inst.State() {
	case StateActive:
		return nil
	case StateValidated:
		if err := inst.Initialize(); err != nil {
			if perr.KindOf(err) != perr.KindDependencyMissing {
				m.emitEvent(ManagerEvent{Type: EventPluginFailed, Plugin: id, Error: err})
			}
			return err
		}
		m.emitEvent(ManagerEvent{Type: EventPluginInitialized, Plugin: id})
	}

	if err := inst.Activate(); err != nil {
		if inst.State() == StateFailed {
			m.emitEvent(ManagerEvent{Type: EventPluginFailed, Plugin: id, Error: err})
		}
		return err
	}

	m.mu.Lock()
	m.activeOrder = append(m.activeOrder, id)
	m.mu.Unlock()

	m.emitEvent(ManagerEvent{Type: EventPluginActivated, Plugin: id})
	return nil
}

// ActivateAll activates every validated plugin, dependencies first.
// Plugins are retried while any pass makes progress; whatever is left has
// a dependency that is missing, failed or cyclic.
func (m *Manager) ActivateAll(ctx context.Context) error {
	pending := m.ListByState(StateValidated)

	var activateErrors []error
	for len(pending) > 0 {
		var waiting []*Instance
		progress := false
		for _, inst := range pending {
			if !m.dependenciesActive(inst) {
				waiting = append(waiting, inst)
				continue
			}
			progress = true
			if err := m.Activate(ctx, inst.PluginID()); err != nil {
				activateErrors = append(activateErrors, fmt.Errorf("%s: %w", inst.PluginID(), err))
			}
		}
		if !progress {
			for _, inst := range waiting {
				err := m.Activate(ctx, inst.PluginID())
				if err == nil {
					continue
				}
				if m.inCycle(inst.PluginID()) {
					err = fmt.Errorf("%w: %w", ErrCyclicDependency, err)
				}
				activateErrors = append(activateErrors, fmt.Errorf("%s: %w", inst.PluginID(), err))
			}
			break
		}
		pending = waiting
	}

	if len(activateErrors) > 0 {
		return fmt.Errorf("failed to activate %d plugins: %w", len(activateErrors), errors.Join(activateErrors...))
	}
	return nil
}

func (m *Manager) dependenciesActive(inst *Instance) bool {
	for _, dep := range inst.Manifest().Dependencies {
		if !m.isActive(dep) {
			return false
		}
	}
	return true
}

// inCycle reports whether id can reach itself through dependencies of
// registered plugins.
func (m *Manager) inCycle(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var visit func(string) bool
	visit = func(cur string) bool {
		inst, ok := m.instances[cur]
		if !ok {
			return false
		}
		for _, dep := range inst.Manifest().Dependencies {
			if dep == id {
				return true
			}
			if !seen[dep] {
				seen[dep] = true
				if visit(dep) {
					return true
				}
			}
		}
		return false
	}
	return visit(id)
}

// Deactivate tears down a running plugin.
func (m *Manager) Deactivate(ctx context.Context, id string) error {
	inst, err := m.lookup(id)
	if err != nil {
		return err
	}
	if !inst.State().IsRunning() {
		return perr.Runtime("plugin %s is not running", id)
	}
	return m.deactivateInstance(inst)
}

func (m *Manager) deactivateInstance(inst *Instance) error {
	id := inst.PluginID()
	err := inst.Deactivate()

	m.mu.Lock()
	m.removeFrom(&m.activeOrder, id)
	m.mu.Unlock()

	m.emitEvent(ManagerEvent{Type: EventPluginDeactivated, Plugin: id, Error: err})
	return err
}

// DeactivateAll deactivates running plugins in reverse activation order.
func (m *Manager) DeactivateAll(ctx context.Context) error {
	m.mu.RLock()
	order := make([]string, len(m.activeOrder))
	copy(order, m.activeOrder)
	m.mu.RUnlock()

	var deactivateErrors []error
	for i := len(order) - 1; i >= 0; i-- {
		if err := m.Deactivate(ctx, order[i]); err != nil {
			deactivateErrors = append(deactivateErrors, fmt.Errorf("%s: %w", order[i], err))
		}
	}

	// Initialized but never activated
	for _, inst := range m.ListByState(StateInitialized) {
		if err := m.deactivateInstance(inst); err != nil {
			deactivateErrors = append(deactivateErrors, fmt.Errorf("%s: %w", inst.PluginID(), err))
		}
	}

	if len(deactivateErrors) > 0 {
		return fmt.Errorf("failed to deactivate %d plugins: %w", len(deactivateErrors), errors.Join(deactivateErrors...))
	}
	return nil
}

// Unload deactivates a plugin if needed and removes it from the registry.
func (m *Manager) Unload(ctx context.Context, id string) error {
	// Get and remove the instance from registry (brief lock)
	m.mu.Lock()
	inst, exists := m.instances[id]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}
	delete(m.instances, id)
	m.removeFrom(&m.loadOrder, id)
	m.mu.Unlock()

	// Deactivate if running (outside lock)
	if inst.State().IsRunning() {
		_ = m.deactivateInstance(inst)
	}

	m.emitEvent(ManagerEvent{Type: EventPluginUnloaded, Plugin: id})
	return nil
}

// UnloadAll unloads all plugins, deactivating in reverse activation order.
func (m *Manager) UnloadAll(ctx context.Context) error {
	deactivateErr := m.DeactivateAll(ctx)

	m.mu.RLock()
	order := make([]string, len(m.loadOrder))
	copy(order, m.loadOrder)
	m.mu.RUnlock()

	for i := len(order) - 1; i >= 0; i-- {
		_ = m.Unload(ctx, order[i])
	}
	return deactivateErr
}

// Reload replaces a plugin with a fresh instance from its package on
// disk. The version rule does not apply.
func (m *Manager) Reload(ctx context.Context, id string) (*Instance, error) {
	wasActive := m.isActive(id)

	if err := m.Unload(ctx, id); err != nil {
		return nil, err
	}

	if _, err := m.loader.Refresh(); err != nil {
		return nil, err
	}
	inst, err := m.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	if wasActive {
		if err := m.Activate(ctx, id); err != nil {
			return inst, err
		}
	}
	return inst, nil
}

// Get returns the instance registered for id.
func (m *Manager) Get(id string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	return inst, ok
}

func (m *Manager) lookup(id string) (*Instance, error) {
	inst, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}
	return inst, nil
}

func (m *Manager) isActive(id string) bool {
	inst, ok := m.Get(id)
	return ok && inst.State() == StateActive
}

// List returns all registered instances in registration order.
func (m *Manager) List() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*Instance, 0, len(m.loadOrder))
	for _, id := range m.loadOrder {
		if inst, ok := m.instances[id]; ok {
			list = append(list, inst)
		}
	}
	return list
}

// ListActive returns all active instances.
func (m *Manager) ListActive() []*Instance {
	return m.ListByState(StateActive)
}

// ListByState returns instances in the given state, in registration order.
func (m *Manager) ListByState(state State) []*Instance {
	var filtered []*Instance
	for _, inst := range m.List() {
		if inst.State() == state {
			filtered = append(filtered, inst)
		}
	}
	return filtered
}

// Subscribe registers an event handler.
// Returns an unsubscribe function.
func (m *Manager) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {} // No-op for nil handlers
	}

	m.mu.Lock()
	m.eventHandlers = append(m.eventHandlers, handler)
	index := len(m.eventHandlers) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Set to nil instead of removing to avoid index shifting issues
		if index < len(m.eventHandlers) {
			m.eventHandlers[index] = nil
		}
	}
}

// Count returns the number of registered plugins.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}

// CountActive returns the number of active plugins.
func (m *Manager) CountActive() int {
	return len(m.ListActive())
}

// HasErrors returns true if any registered plugin has failed.
func (m *Manager) HasErrors() bool {
	return len(m.Errors()) > 0
}

// Errors returns the failure of every failed plugin, keyed by id.
func (m *Manager) Errors() map[string]error {
	errs := make(map[string]error)
	for _, inst := range m.ListByState(StateFailed) {
		errs[inst.PluginID()] = inst.Err()
	}
	return errs
}

// Loader returns the package loader.
func (m *Manager) Loader() *Loader {
	return m.loader
}

// emitEvent sends an event to all handlers.
// Handlers are called outside the lock; panics are recovered.
func (m *Manager) emitEvent(event ManagerEvent) {
	m.mu.RLock()
	handlers := make([]EventHandler, 0, len(m.eventHandlers))
	for _, h := range m.eventHandlers {
		if h != nil {
			handlers = append(handlers, h)
		}
	}
	m.mu.RUnlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.env.Logger.Error("event handler panic on %s %s: %v", event.Type, event.Plugin, r)
				}
			}()
			handler(event)
		}()
	}
}

// removeFrom removes id from an order slice. Caller must hold mu.
func (m *Manager) removeFrom(order *[]string, id string) {
	s := *order
	for i, v := range s {
		if v == id {
			*order = append(s[:i], s[i+1:]...)
			return
		}
	}
}
