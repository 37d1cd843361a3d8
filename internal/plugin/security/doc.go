// Package security provides the permission model for the plugin system.
//
// # Permissions
//
// The permission set is closed. A plugin declares the permissions it needs
// in its manifest; any identifier outside the set below makes the manifest
// invalid:
//
//   - cot.read, cot.write: Cursor-on-Target traffic
//   - map.read, map.write: map state, layers and markers
//   - network.access: outbound network requests
//   - location.read, location.write: device position
//   - ui.create: toolbar items, panels and alerts
//
// A PermissionSet is an immutable value built once from a validated
// manifest. Capability managers call Require before every gated operation.
//
// # Network policy
//
// NetworkGuard adds host allow/block lists and a token bucket rate limit on
// top of the network.access permission.
//
// Example usage:
//
//	perms, err := security.ParsePermissionSet([]string{"map.read", "map.write"})
//	if err != nil {
//	    // Manifest is invalid
//	}
//
//	if err := perms.Require(security.CoTWrite); err != nil {
//	    // Permission denied
//	}
package security
