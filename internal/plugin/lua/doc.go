// Package lua hosts script plugins on gopher-lua.
//
// A State opens only the base, package, table, string and math libraries
// and installs a Sandbox that removes every code loader and restricts
// require to an allow list. The host API module is preloaded by the
// plugin layer and allowed explicitly:
//
//	state := lua.NewState(lua.WithExecutionTimeout(2 * time.Second))
//	defer state.Close()
//	state.Sandbox().Allow("omnitak")
//
// Every entry into script code runs under the state's execution deadline,
// enforced through the LState context. A runaway loop fails with
// ErrExecutionTimeout and leaves the state usable.
//
// # Executor
//
// An LState must only be entered from one goroutine. Host events such as
// CoT dispatch and toolbar taps are marshalled onto the owning goroutine
// by an Executor:
//
//	exec := lua.NewExecutor(state, 0)
//	go exec.Run(ctx)
//	exec.ExecuteAsync(func(L *glua.LState) error { ... })
//
// # Bridge
//
// Bridge converts between Go and Lua values. Structs become tables keyed
// by json tag with embedded structs flattened, and time.Time becomes Unix
// seconds.
package lua
