// Package plugin loads, validates and runs OmniTAK plugins.
//
// A plugin package is a directory holding a manifest (plugin.json or
// plugin.yaml) and, for script plugins, its Lua entry point:
//
//	~/.config/omnitak/plugins/weather/
//	├── plugin.json
//	└── main.lua
//
// # Manifest
//
//	{
//	  "id": "com.acme.weather",
//	  "name": "Weather Overlay",
//	  "version": "1.0.0",
//	  "description": "Weather radar layer",
//	  "author": "Acme",
//	  "license": "MIT",
//	  "omnitak_version": ">=1.0.0",
//	  "type": "map",
//	  "platforms": ["ios", "android"],
//	  "permissions": ["network.access", "map.write"],
//	  "entry_points": {"ios": "main.lua", "android": "main.lua"}
//	}
//
// Manifest.Validate checks, in order: the reverse-DNS id, the version
// format, the host platform, the platform's entry point and the closed
// permission set. The first failure is returned.
//
// # Lifecycle
//
//	Unloaded -> Validate() -> Validated
//	Validated -> Initialize() -> Initialized
//	Initialized -> Activate() -> Active
//	Active -> Deactivate() -> Deactivated
//
// Initialize and Activate failures move the instance to Failed. Failed and
// Deactivated are terminal; loading again means a new Instance.
// Deactivate closes the plugin's api.Context, which drops every handler,
// layer, marker and UI registration the plugin made.
//
// # Entry points
//
// Entry symbols are resolved by an EntryLoader. StaticRegistry maps
// symbols to Go factories compiled into the host. LuaLoader runs symbols
// ending in ".lua" in a sandboxed state; the script may define global
// initialize, activate and deactivate functions and reaches the host
// through require("omnitak").
//
// # Components
//
//   - System: facade a host embeds
//   - Manager: registry keyed by plugin id, install ordering, events
//   - Instance: one load of one plugin
//   - Loader: package discovery across search paths
//   - Watcher: rediscovery on filesystem changes
package plugin
