package api

import (
	"sort"

	lua "github.com/yuin/gopher-lua"

	plua "github.com/omnitak/pluginhost/internal/plugin/lua"
)

// WithSettings sets the operator-supplied settings for this plugin, read
// from the host configuration. The map is copied.
func WithSettings(settings map[string]any) ContextOption {
	return func(c *Context) {
		c.settings = make(map[string]any, len(settings))
		for k, v := range settings {
			c.settings[k] = v
		}
	}
}

// Setting returns one operator-supplied setting.
func (c *Context) Setting(key string) (any, bool) {
	v, ok := c.settings[key]
	return v, ok
}

// SettingKeys returns the setting keys in sorted order.
func (c *Context) SettingKeys() []string {
	keys := make([]string, 0, len(c.settings))
	for k := range c.settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// configModule implements omnitak.config, a read-only view of the
// plugin's settings.
type configModule struct {
	ctx *Context
}

func (m *configModule) Name() string { return "config" }

func (m *configModule) Register(L *lua.LState, mod *lua.LTable) error {
	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "keys", L.NewFunction(m.keys))
	return nil
}

// get(key, default?) -> value
func (m *configModule) get(L *lua.LState) int {
	v, ok := m.ctx.Setting(L.CheckString(1))
	if !ok {
		L.Push(L.Get(2))
		return 1
	}
	L.Push(plua.NewBridge(L).ToLuaValue(v))
	return 1
}

// keys() -> {key...}
func (m *configModule) keys(L *lua.LState) int {
	L.Push(plua.NewBridge(L).ToLuaValue(m.ctx.SettingKeys()))
	return 1
}
