package plugin

import "errors"

// Plugin system errors. Validation and lifecycle failures use the perr
// taxonomy; these cover host-side bookkeeping.
var (
	// ErrPluginNotFound is returned when a plugin cannot be located.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrNoManifest is returned when a plugin directory has no manifest.
	ErrNoManifest = errors.New("plugin has no manifest (plugin.json or plugin.yaml)")

	// ErrNilManifest is returned when a nil manifest is provided.
	ErrNilManifest = errors.New("manifest is nil")

	// ErrNoEntryLoader is returned when no loader resolves an entry point.
	ErrNoEntryLoader = errors.New("no loader for entry point")

	// ErrCyclicDependency is returned when plugins have circular dependencies.
	ErrCyclicDependency = errors.New("cyclic plugin dependency detected")
)
