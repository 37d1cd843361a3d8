// Package config loads the plugin host configuration.
//
// Configuration is built from layers, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← OMNITAK_*, highest priority
//	├─────────────────────────────┤
//	│  2. Config File             │  ← ~/.config/omnitak/host.toml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// Layers are plain maps merged with DeepMerge, then decoded into Config
// and validated.
//
// # Example
//
//	platform = "ios"
//	host_version = "1.2.0"
//	plugin_paths = ["/opt/omnitak/plugins"]
//
//	[log]
//	level = "debug"
//
//	[network]
//	requests_per_second = 2.5
//	allowed_hosts = ["*.weather.gov"]
//
//	[plugins."com.example.weather"]
//	units = "metric"
//
// Per-plugin tables are handed to the plugin's context and read from
// scripts with omnitak.config.get.
package config
