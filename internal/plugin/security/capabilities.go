// Package security provides the permission model for the plugin system.
package security

import (
	"sort"
)

// Permission is a capability grant a plugin declares in its manifest.
// The set is closed: the only valid values are the constants below.
type Permission uint8

// Permissions, one per gated operation family.
const (
	// CoTRead allows registering CoT handlers and querying recent messages.
	CoTRead Permission = iota + 1

	// CoTWrite allows sending CoT messages.
	CoTWrite

	// MapRead allows reading the map center and zoom.
	MapRead

	// MapWrite allows adding and removing layers and markers.
	MapWrite

	// NetworkAccess allows network requests.
	NetworkAccess

	// LocationRead allows reading the current location.
	LocationRead

	// LocationWrite allows updating the current location.
	LocationWrite

	// UICreate allows registering toolbar items and panels and showing alerts.
	UICreate

	numPermissions = int(UICreate)
)

// Access is the direction of a permission.
type Access int

const (
	// AccessRead only observes host state.
	AccessRead Access = iota
	// AccessWrite mutates host state or sends data out.
	AccessWrite
)

// String returns a string representation of the access direction.
func (a Access) String() string {
	if a == AccessWrite {
		return "write"
	}
	return "read"
}

// RiskLevel indicates the security risk of a permission.
type RiskLevel int

const (
	// RiskLow indicates minimal security risk.
	RiskLow RiskLevel = iota

	// RiskMedium indicates moderate security risk.
	RiskMedium

	// RiskHigh indicates significant security risk.
	RiskHigh
)

// String returns a string representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// PermissionInfo provides metadata about a permission.
type PermissionInfo struct {
	// Permission is the permission described.
	Permission Permission

	// Name is the manifest identifier, e.g. "map.write".
	Name string

	// DisplayName is a human-readable name.
	DisplayName string

	// Description explains what the permission allows.
	Description string

	// Subsystem is the host subsystem the permission is scoped to.
	Subsystem string

	// Access is the read/write direction.
	Access Access

	// RiskLevel indicates how dangerous the permission is.
	RiskLevel RiskLevel
}

// permissionRegistry is indexed by Permission; index 0 is unused.
var permissionRegistry = [numPermissions + 1]PermissionInfo{
	CoTRead: {
		Permission:  CoTRead,
		Name:        "cot.read",
		DisplayName: "Read CoT",
		Description: "Receive inbound CoT messages and query recent history",
		Subsystem:   "cot",
		Access:      AccessRead,
		RiskLevel:   RiskMedium,
	},
	CoTWrite: {
		Permission:  CoTWrite,
		Name:        "cot.write",
		DisplayName: "Send CoT",
		Description: "Send CoT messages on the host's outbound path",
		Subsystem:   "cot",
		Access:      AccessWrite,
		RiskLevel:   RiskHigh,
	},
	MapRead: {
		Permission:  MapRead,
		Name:        "map.read",
		DisplayName: "Read Map",
		Description: "Read the map center and zoom level",
		Subsystem:   "map",
		Access:      AccessRead,
		RiskLevel:   RiskLow,
	},
	MapWrite: {
		Permission:  MapWrite,
		Name:        "map.write",
		DisplayName: "Modify Map",
		Description: "Add and remove map layers and markers",
		Subsystem:   "map",
		Access:      AccessWrite,
		RiskLevel:   RiskLow,
	},
	NetworkAccess: {
		Permission:  NetworkAccess,
		Name:        "network.access",
		DisplayName: "Network Access",
		Description: "Make network requests",
		Subsystem:   "network",
		Access:      AccessWrite,
		RiskLevel:   RiskHigh,
	},
	LocationRead: {
		Permission:  LocationRead,
		Name:        "location.read",
		DisplayName: "Read Location",
		Description: "Read the device's current location",
		Subsystem:   "location",
		Access:      AccessRead,
		RiskLevel:   RiskHigh,
	},
	LocationWrite: {
		Permission:  LocationWrite,
		Name:        "location.write",
		DisplayName: "Update Location",
		Description: "Override the reported location",
		Subsystem:   "location",
		Access:      AccessWrite,
		RiskLevel:   RiskHigh,
	},
	UICreate: {
		Permission:  UICreate,
		Name:        "ui.create",
		DisplayName: "Create UI",
		Description: "Add toolbar items and panels, show alerts",
		Subsystem:   "ui",
		Access:      AccessWrite,
		RiskLevel:   RiskLow,
	},
}

var permissionsByName = func() map[string]Permission {
	m := make(map[string]Permission, numPermissions)
	for _, p := range All() {
		m[permissionRegistry[p].Name] = p
	}
	return m
}()

// String returns the manifest identifier of the permission.
func (p Permission) String() string {
	if !p.Valid() {
		return "unknown"
	}
	return permissionRegistry[p].Name
}

// Valid reports whether p is one of the defined permissions.
func (p Permission) Valid() bool {
	return p >= CoTRead && int(p) <= numPermissions
}

// Info returns metadata about the permission.
func (p Permission) Info() (PermissionInfo, bool) {
	if !p.Valid() {
		return PermissionInfo{}, false
	}
	return permissionRegistry[p], true
}

// ParsePermission converts a manifest identifier into a Permission.
func ParsePermission(name string) (Permission, bool) {
	p, ok := permissionsByName[name]
	return p, ok
}

// IsValid reports whether name is a member of the closed permission set.
// This is the runtime gate for untrusted manifest input.
func IsValid(name string) bool {
	_, ok := permissionsByName[name]
	return ok
}

// All returns every permission in declaration order.
func All() []Permission {
	perms := make([]Permission, 0, numPermissions)
	for p := CoTRead; int(p) <= numPermissions; p++ {
		perms = append(perms, p)
	}
	return perms
}

// Names returns every permission identifier, sorted.
func Names() []string {
	names := make([]string, 0, numPermissions)
	for _, p := range All() {
		names = append(names, p.String())
	}
	sort.Strings(names)
	return names
}

// HighRisk returns permissions an operator should review before install.
func HighRisk() []Permission {
	var perms []Permission
	for _, p := range All() {
		if permissionRegistry[p].RiskLevel == RiskHigh {
			perms = append(perms, p)
		}
	}
	return perms
}
