package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/omnitak/pluginhost/internal/logging"
	"github.com/omnitak/pluginhost/internal/metrics"
	"github.com/omnitak/pluginhost/internal/plugin/api"
	"github.com/omnitak/pluginhost/internal/plugin/perr"
	"github.com/omnitak/pluginhost/internal/plugin/security"
	"github.com/omnitak/pluginhost/internal/plugin/version"
)

// Environment is what an instance needs from the host.
type Environment struct {
	// Platform is the host platform manifests are validated against.
	Platform string

	// HostVersion is compared with the manifest's omnitak_version. A zero
	// value skips the check.
	HostVersion version.Version

	// Verifier checks the package signature before validation. Nil
	// accepts every package.
	Verifier security.SignatureVerifier

	// Entries resolves entry points to plugin code.
	Entries EntryLoader

	// DependencyActive reports whether a plugin id is loaded and active.
	// Nil treats every dependency as missing.
	DependencyActive func(id string) bool

	Logger    *logging.Logger
	Metrics   *metrics.Metrics
	Providers api.Providers

	// Network overrides the default network policy when set.
	Network *security.NetworkPolicy

	// Settings holds operator settings keyed by plugin id.
	Settings map[string]map[string]any
}

// Instance is one load of one plugin. It moves through
// Unloaded → Validated → Initialized → Active → Deactivated, or to Failed
// from any point after validation. Deactivated and Failed are terminal; a
// reload needs a fresh Instance.
type Instance struct {
	mu sync.RWMutex

	id       string
	manifest *Manifest
	env      Environment
	logger   *logging.Logger

	state  State
	err    error
	ctx    *api.Context
	plugin Plugin
}

// NewInstance creates an unloaded instance for manifest.
func NewInstance(manifest *Manifest, env Environment) (*Instance, error) {
	if manifest == nil {
		return nil, ErrNilManifest
	}
	if env.Logger == nil {
		env.Logger = logging.Discard()
	}

	return &Instance{
		id:       uuid.NewString(),
		manifest: manifest,
		env:      env,
		logger:   env.Logger.WithPlugin(manifest.ID),
		state:    StateUnloaded,
	}, nil
}

// ID returns the instance id. Every load gets a new one.
func (i *Instance) ID() string {
	return i.id
}

// PluginID returns the manifest id.
func (i *Instance) PluginID() string {
	return i.manifest.ID
}

// Manifest returns the plugin manifest.
func (i *Instance) Manifest() *Manifest {
	return i.manifest
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Err returns the error that moved the instance to Failed, or the last
// validation error while it is still Unloaded.
func (i *Instance) Err() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.err
}

// Context returns the plugin context, nil before Initialize.
func (i *Instance) Context() *api.Context {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.ctx
}

// Validate checks the signature and the manifest against the host. On
// failure the instance stays Unloaded and the error is returned.
func (i *Instance) Validate(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != StateUnloaded {
		return i.wrongState("validate")
	}

	if err := i.validate(ctx); err != nil {
		i.err = err
		i.logger.Warn("validation failed: %v", err)
		return err
	}

	i.err = nil
	i.transition(StateValidated)
	return nil
}

func (i *Instance) validate(ctx context.Context) error {
	m := i.manifest

	if i.env.Verifier != nil {
		if err := i.env.Verifier.Verify(ctx, m.ID, m.Dir()); err != nil {
			if perr.KindOf(err) == perr.KindSignatureInvalid {
				return err
			}
			return perr.SignatureInvalid("%v", err)
		}
	}

	if err := m.Validate(i.env.Platform); err != nil {
		return err
	}

	if i.env.HostVersion != (version.Version{}) {
		if err := m.CheckHostCompatibility(i.env.HostVersion); err != nil {
			return err
		}
	}
	return nil
}

// Initialize builds the plugin context, loads the entry point and calls
// its Initialize. A missing dependency leaves the instance Validated. Any
// other failure moves it to Failed with an InitializationFailed error.
func (i *Instance) Initialize() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != StateValidated {
		return i.wrongState("initialize")
	}

	m := i.manifest
	for _, dep := range m.Dependencies {
		if i.env.DependencyActive == nil || !i.env.DependencyActive(dep) {
			err := perr.DependencyMissing(dep)
			i.logger.Warn("%v", err)
			return err
		}
	}

	perms, err := m.PermissionSet()
	if err != nil {
		return i.fail(perr.InitializationFailed(err))
	}

	opts := []api.ContextOption{
		api.WithLogger(i.env.Logger),
		api.WithMetrics(i.env.Metrics),
		api.WithProviders(i.env.Providers),
		api.WithSettings(i.env.Settings[m.ID]),
	}
	if i.env.Network != nil {
		opts = append(opts, api.WithNetworkPolicy(*i.env.Network))
	}
	pctx := api.NewContext(m.ID, i.env.Platform, perms, opts...)

	if i.env.Entries == nil {
		_ = pctx.Close()
		return i.fail(perr.InitializationFailed(ErrNoEntryLoader))
	}

	entry, _ := m.EntryPoint(i.env.Platform)
	p, err := i.env.Entries.Load(m, entry)
	if err != nil {
		_ = pctx.Close()
		return i.fail(perr.InitializationFailed(err))
	}

	if err := guard(func() error { return p.Initialize(pctx) }); err != nil {
		_ = pctx.Close()
		return i.fail(perr.InitializationFailed(err))
	}

	i.ctx = pctx
	i.plugin = p
	i.transition(StateInitialized)
	return nil
}

// Activate calls the plugin's Activate. A failure moves the instance to
// Failed and releases everything its context registered.
func (i *Instance) Activate() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != StateInitialized {
		return i.wrongState("activate")
	}

	if err := guard(i.plugin.Activate); err != nil {
		i.release()
		return i.fail(perr.WrapRuntime(err, "activate failed"))
	}

	i.transition(StateActive)
	return nil
}

// Deactivate tears the plugin down: the plugin's own Deactivate runs if it
// has one, then the context is closed, which releases every handler,
// layer, marker and UI registration the plugin made. The instance reaches
// Deactivated even when the plugin's Deactivate fails; that error is
// returned.
func (i *Instance) Deactivate() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.state.IsRunning() {
		return i.wrongState("deactivate")
	}

	err := i.release()
	i.transition(StateDeactivated)
	if err != nil {
		return perr.WrapRuntime(err, "deactivate failed")
	}
	return nil
}

// release runs the plugin's teardown and closes the context.
func (i *Instance) release() error {
	var err error
	if d, ok := i.plugin.(Deactivator); ok {
		if err = guard(d.Deactivate); err != nil {
			i.logger.Warn("deactivate: %v", err)
		}
	}
	if cerr := i.ctx.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (i *Instance) fail(err error) error {
	if e, ok := perr.As(err); ok {
		err = e.WithPlugin(i.manifest.ID)
	}
	i.err = err
	i.logger.Error("%v", err)
	i.transition(StateFailed)
	return err
}

func (i *Instance) transition(to State) {
	i.logger.Debug("%s -> %s", i.state, to)
	i.state = to
	i.env.Metrics.Transition(to.String())
}

func (i *Instance) wrongState(op string) error {
	return perr.Runtime("cannot %s plugin %s in state %s", op, i.manifest.ID, i.state)
}

// guard runs plugin code, turning a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
