package api

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/omnitak/pluginhost/internal/logging"
	"github.com/omnitak/pluginhost/internal/metrics"
	"github.com/omnitak/pluginhost/internal/plugin/perr"
	"github.com/omnitak/pluginhost/internal/plugin/security"
)

// Context is the only object handed to plugin code. It carries the
// plugin's identity, its immutable permission set, a scoped logger and
// lazily built capability managers.
//
// The owning plugin instance closes the context on deactivation. After
// Close every manager operation fails with a runtime error and all state
// the managers hold is released. Plugin code must not retain the context
// past its own deactivation.
type Context struct {
	pluginID string
	platform string
	perms    security.PermissionSet

	logger    *logging.Logger
	metrics   *metrics.Metrics
	providers Providers
	network   security.NetworkPolicy
	settings  map[string]any

	closed atomic.Bool

	mu       sync.Mutex
	cot      *CoTManager
	mapMgr   *MapManager
	netMgr   *NetworkManager
	location *LocationManager
	ui       *UIManager
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithLogger sets the logger. It is scoped with the plugin id.
func WithLogger(l *logging.Logger) ContextOption {
	return func(c *Context) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) ContextOption {
	return func(c *Context) {
		c.metrics = m
	}
}

// WithProviders sets the host collaborators.
func WithProviders(p Providers) ContextOption {
	return func(c *Context) {
		c.providers = p
	}
}

// WithNetworkPolicy sets the network limits for this plugin.
func WithNetworkPolicy(p security.NetworkPolicy) ContextOption {
	return func(c *Context) {
		c.network = p
	}
}

// NewContext creates a context for a validated plugin.
func NewContext(pluginID, platform string, perms security.PermissionSet, opts ...ContextOption) *Context {
	c := &Context{
		pluginID: pluginID,
		platform: platform,
		perms:    perms,
		logger:   logging.Discard(),
		network:  security.DefaultNetworkPolicy(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.WithPlugin(pluginID)
	return c
}

// PluginID returns the owning plugin's id.
func (c *Context) PluginID() string {
	return c.pluginID
}

// Platform returns the host platform identifier.
func (c *Context) Platform() string {
	return c.platform
}

// Permissions returns the granted permission set.
func (c *Context) Permissions() security.PermissionSet {
	return c.perms
}

// Has reports whether p is granted.
func (c *Context) Has(p security.Permission) bool {
	return c.perms.Has(p)
}

func (c *Context) hasNamed(name string) bool {
	p, ok := security.ParsePermission(name)
	return ok && c.perms.Has(p)
}

// Logger returns the plugin-scoped logger.
func (c *Context) Logger() *logging.Logger {
	return c.logger
}

// Closed reports whether the context has been torn down.
func (c *Context) Closed() bool {
	return c.closed.Load()
}

// CoT returns the CoT manager.
func (c *Context) CoT() *CoTManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cot == nil {
		c.cot = newCoTManager(c)
	}
	return c.cot
}

// Map returns the map manager.
func (c *Context) Map() *MapManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mapMgr == nil {
		c.mapMgr = newMapManager(c)
	}
	return c.mapMgr
}

// Network returns the network manager.
func (c *Context) Network() *NetworkManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.netMgr == nil {
		c.netMgr = newNetworkManager(c)
	}
	return c.netMgr
}

// Location returns the location manager.
func (c *Context) Location() *LocationManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.location == nil {
		c.location = newLocationManager(c)
	}
	return c.location
}

// UI returns the UI manager.
func (c *Context) UI() *UIManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ui == nil {
		c.ui = newUIManager(c)
	}
	return c.ui
}

// Close tears the context down and releases everything the managers own:
// CoT handlers, map layers and markers, toolbar items and panels, and
// in-flight network requests. Removal from host collaborators is best
// effort; failures are joined into the returned error. Close is idempotent.
func (c *Context) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	cot, mapMgr, netMgr, ui := c.cot, c.mapMgr, c.netMgr, c.ui
	c.mu.Unlock()

	var errs []error
	if cot != nil {
		cot.release()
	}
	if netMgr != nil {
		netMgr.release()
	}
	if mapMgr != nil {
		errs = append(errs, mapMgr.release())
	}
	if ui != nil {
		errs = append(errs, ui.release())
	}

	c.logger.Debug("context closed")
	return errors.Join(errs...)
}

// authorize is the single guard every manager operation passes before it
// touches state or a collaborator. It fails with a runtime error once the
// context is closed and with PermissionDenied when perm is not granted.
func (c *Context) authorize(perm security.Permission, manager, op string) error {
	if c.closed.Load() {
		return perr.Runtime("%s.%s: plugin context is closed", manager, op).WithPlugin(c.pluginID)
	}
	if !c.perms.Has(perm) {
		c.logger.WithField("op", manager+"."+op).Warn("permission denied: %s", perm)
		c.metrics.PermissionDenied(perm.String())
		return perr.PermissionDenied(perm.String()).WithPlugin(c.pluginID)
	}
	c.metrics.Operation(manager, op)
	return nil
}

// alive fails with a runtime error once the context is closed. It guards
// plugin-local reads that need no permission.
func (c *Context) alive(manager, op string) error {
	if c.closed.Load() {
		return perr.Runtime("%s.%s: plugin context is closed", manager, op).WithPlugin(c.pluginID)
	}
	return nil
}
