package lua

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Sandbox restricts Lua execution to safe operations. Scripts get the
// base, string, table and math libraries and may require only those plus
// modules the host preloads.
type Sandbox struct {
	L *lua.LState

	printer func(string)
	allowed map[string]bool
}

// builtinModules are the stdlib modules require may return.
var builtinModules = []string{"string", "table", "math"}

// NewSandbox creates a new sandbox for the Lua state. printer receives
// print output; nil discards it.
func NewSandbox(L *lua.LState, printer func(string)) *Sandbox {
	s := &Sandbox{
		L:       L,
		printer: printer,
		allowed: make(map[string]bool),
	}
	for _, name := range builtinModules {
		s.allowed[name] = true
	}
	return s
}

// Install sets up the sandbox restrictions.
func (s *Sandbox) Install() {
	// Functions that load code from disk or strings
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "module"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	s.installSafePrint()
	s.installSafeRequire()
}

// Allow lets require return a host-preloaded module.
func (s *Sandbox) Allow(module string) {
	s.allowed[module] = true
}

// Allowed reports whether require may load module.
func (s *Sandbox) Allowed(module string) bool {
	return s.allowed[module]
}

// installSafePrint routes print to the sandbox printer.
func (s *Sandbox) installSafePrint() {
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		if s.printer == nil {
			return 0
		}
		n := L.GetTop()
		parts := make([]string, n)
		for i := 1; i <= n; i++ {
			parts[i-1] = L.ToStringMeta(L.Get(i)).String()
		}
		s.printer(strings.Join(parts, "\t"))
		return 0
	}))
}

// installSafeRequire replaces require with an allow-list version and
// empties package.path/cpath so nothing is loaded from disk.
func (s *Sandbox) installSafeRequire() {
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))
	}

	originalRequire := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)
		if !s.allowed[modName] {
			L.RaiseError("module %q is not available", modName)
			return 0
		}
		L.Push(originalRequire)
		L.Push(lua.LString(modName))
		L.Call(1, 1)
		return 1
	}))
}
