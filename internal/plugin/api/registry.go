package api

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// LuaModuleName is the name script plugins pass to require.
const LuaModuleName = "omnitak"

// APIVersion is the version of the script API surface.
const APIVersion = 1

// LuaCaller schedules fn on the goroutine that owns the Lua state. Host
// callbacks into script code (CoT handlers, toolbar actions) go through it
// because a Lua state must not be entered concurrently.
type LuaCaller func(fn func(L *lua.LState) error) error

// Module is a Lua API submodule exposed as omnitak.<name>.
type Module interface {
	// Name returns the submodule name (e.g., "cot", "map").
	Name() string

	// Register fills mod with the submodule's functions.
	Register(L *lua.LState, mod *lua.LTable) error
}

// Registry manages API modules and their registration.
type Registry struct {
	mu      sync.RWMutex
	modules []Module
	byName  map[string]Module
}

// NewRegistry creates a new API registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Module),
	}
}

// Register adds a module to the registry.
func (r *Registry) Register(mod Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[mod.Name()]; exists {
		return fmt.Errorf("module %q already registered", mod.Name())
	}

	r.byName[mod.Name()] = mod
	r.modules = append(r.modules, mod)
	return nil
}

// Get returns a module by name.
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mod, ok := r.byName[name]
	return mod, ok
}

// List returns all registered module names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.modules))
	for i, mod := range r.modules {
		names[i] = mod.Name()
	}
	return names
}

// Install builds the omnitak table from every module and preloads it so
// require("omnitak") works. Every module is installed regardless of
// permissions; gating happens per call, so a script without a grant gets
// a PermissionDenied error from the call rather than a missing function.
func (r *Registry) Install(L *lua.LState, ctx *Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	root := L.NewTable()
	for _, mod := range r.modules {
		t := L.NewTable()
		if err := mod.Register(L, t); err != nil {
			return fmt.Errorf("failed to register module %q: %w", mod.Name(), err)
		}
		L.SetField(root, mod.Name(), t)
	}

	L.SetField(root, "plugin_id", lua.LString(ctx.PluginID()))
	L.SetField(root, "platform", lua.LString(ctx.Platform()))
	L.SetField(root, "api_version", lua.LNumber(APIVersion))
	L.SetField(root, "has", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(ctx.hasNamed(L.CheckString(1))))
		return 1
	}))

	L.PreloadModule(LuaModuleName, func(L *lua.LState) int {
		L.Push(root)
		return 1
	})

	return nil
}

// DefaultRegistry creates a registry with every capability module bound
// to ctx. call schedules host callbacks into script code.
func DefaultRegistry(ctx *Context, call LuaCaller) (*Registry, error) {
	r := NewRegistry()

	modules := []Module{
		&logModule{ctx: ctx},
		&configModule{ctx: ctx},
		&utilModule{},
		&cotModule{ctx: ctx, call: call},
		&mapModule{ctx: ctx},
		&locationModule{ctx: ctx},
		&uiModule{ctx: ctx, call: call},
		&networkModule{ctx: ctx},
	}

	for _, mod := range modules {
		if err := r.Register(mod); err != nil {
			return nil, fmt.Errorf("failed to register module %q: %w", mod.Name(), err)
		}
	}

	return r, nil
}
