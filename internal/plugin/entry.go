package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/omnitak/pluginhost/internal/plugin/api"
	plua "github.com/omnitak/pluginhost/internal/plugin/lua"
)

// Plugin is the code behind a manifest's entry point. Both calls run on
// the host's execution context and either may fail.
type Plugin interface {
	// Initialize receives the plugin's context. The plugin keeps it for
	// the rest of its life and must drop it on deactivation.
	Initialize(ctx *api.Context) error

	// Activate starts the plugin.
	Activate() error
}

// Deactivator is implemented by plugins that need to release resources of
// their own before the host tears down their context.
type Deactivator interface {
	Deactivate() error
}

// Factory creates a fresh Plugin value for every instance.
type Factory func() Plugin

// EntryLoader resolves a manifest entry symbol to plugin code.
type EntryLoader interface {
	// Load returns the plugin for entry, or an error wrapping
	// ErrNoEntryLoader if this loader does not handle entry.
	Load(m *Manifest, entry string) (Plugin, error)
}

// StaticRegistry resolves entry symbols to Go factories compiled into the
// host.
type StaticRegistry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewStaticRegistry creates an empty registry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{factories: make(map[string]Factory)}
}

// Register binds symbol to factory. Registering a symbol twice is an error.
func (r *StaticRegistry) Register(symbol string, factory Factory) error {
	if symbol == "" || factory == nil {
		return fmt.Errorf("invalid registration for %q", symbol)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[symbol]; exists {
		return fmt.Errorf("entry symbol %q already registered", symbol)
	}
	r.factories[symbol] = factory
	return nil
}

// Symbols returns the registered symbols in lexical order.
func (r *StaticRegistry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	symbols := make([]string, 0, len(r.factories))
	for s := range r.factories {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// Load implements EntryLoader.
func (r *StaticRegistry) Load(_ *Manifest, entry string) (Plugin, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoEntryLoader, entry)
	}
	p := factory()
	if p == nil {
		return nil, fmt.Errorf("factory for %q returned nil", entry)
	}
	return p, nil
}

// ChainLoader tries each loader in order and returns the first match.
type ChainLoader []EntryLoader

// Load implements EntryLoader.
func (c ChainLoader) Load(m *Manifest, entry string) (Plugin, error) {
	for _, l := range c {
		p, err := l.Load(m, entry)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNoEntryLoader) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoEntryLoader, entry)
}

// LuaLoader resolves entry symbols ending in ".lua" to a script inside the
// package directory.
type LuaLoader struct {
	// ExecutionTimeout bounds every call into the script. Zero uses
	// plua.DefaultExecutionTimeout.
	ExecutionTimeout time.Duration

	// QueueSize bounds pending host callbacks. Zero uses
	// plua.DefaultQueueSize.
	QueueSize int
}

// Load implements EntryLoader.
func (l LuaLoader) Load(m *Manifest, entry string) (Plugin, error) {
	if !strings.HasSuffix(entry, ".lua") {
		return nil, fmt.Errorf("%w: %s", ErrNoEntryLoader, entry)
	}
	if m.Dir() == "" {
		return nil, fmt.Errorf("script entry %q needs a package directory", entry)
	}

	path := filepath.Join(m.Dir(), filepath.FromSlash(entry))
	rel, err := filepath.Rel(m.Dir(), path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("script entry %q escapes the package directory", entry)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("script entry: %w", err)
	}

	timeout := l.ExecutionTimeout
	if timeout == 0 {
		timeout = plua.DefaultExecutionTimeout
	}
	return &scriptPlugin{path: path, timeout: timeout, queueSize: l.QueueSize}, nil
}

// Script entry points. All are optional.
const (
	scriptInitialize = "initialize"
	scriptActivate   = "activate"
	scriptDeactivate = "deactivate"
)

// scriptPlugin runs a Lua entry script. The state is owned by an executor
// goroutine; every call into it goes through the executor.
type scriptPlugin struct {
	path      string
	timeout   time.Duration
	queueSize int

	state  *plua.State
	exec   *plua.Executor
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *scriptPlugin) Initialize(ctx *api.Context) error {
	logger := ctx.Logger()

	p.state = plua.NewState(
		plua.WithExecutionTimeout(p.timeout),
		plua.WithPrinter(func(s string) { logger.Info("%s", s) }),
	)
	p.exec = plua.NewExecutor(p.state, p.queueSize)
	p.exec.OnAsyncError = func(err error) {
		logger.Warn("script callback failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		p.exec.Run(runCtx)
	}()

	reg, err := api.DefaultRegistry(ctx, p.exec.ExecuteAsync)
	if err != nil {
		p.shutdown()
		return err
	}

	err = p.exec.Execute(context.Background(), func(L *lua.LState) error {
		if err := reg.Install(L, ctx); err != nil {
			return err
		}
		p.state.Sandbox().Allow(api.LuaModuleName)
		if err := p.state.DoFile(context.Background(), p.path); err != nil {
			return err
		}
		return p.callOptional(scriptInitialize)
	})
	if err != nil {
		p.shutdown()
		return err
	}
	return nil
}

func (p *scriptPlugin) Activate() error {
	return p.exec.Execute(context.Background(), func(*lua.LState) error {
		return p.callOptional(scriptActivate)
	})
}

func (p *scriptPlugin) Deactivate() error {
	if p.exec == nil {
		return nil
	}
	err := p.exec.Execute(context.Background(), func(*lua.LState) error {
		return p.callOptional(scriptDeactivate)
	})
	p.shutdown()
	return err
}

// callOptional calls a global function if the script defines one. It runs
// on the executor goroutine.
func (p *scriptPlugin) callOptional(name string) error {
	if !p.state.HasFunction(name) {
		return nil
	}
	_, err := p.state.Call(context.Background(), name)
	return err
}

func (p *scriptPlugin) shutdown() {
	p.exec.Close()
	p.cancel()
	<-p.done
	_ = p.state.Close()
}
