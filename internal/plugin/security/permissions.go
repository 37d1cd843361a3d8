package security

import (
	"strings"

	"github.com/omnitak/pluginhost/internal/plugin/perr"
)

// PermissionSet is the immutable set of permissions granted to one plugin
// instance. It is a value type: it is fixed when built from a validated
// manifest and safe for concurrent reads. There is no way to add to a set
// after construction.
type PermissionSet struct {
	bits uint16
}

// NewPermissionSet creates a set containing perms. Invalid values are ignored.
func NewPermissionSet(perms ...Permission) PermissionSet {
	var s PermissionSet
	for _, p := range perms {
		if p.Valid() {
			s.bits |= 1 << p
		}
	}
	return s
}

// ParsePermissionSet builds a set from manifest identifiers. The first
// identifier outside the closed set fails with InvalidManifest naming it.
func ParsePermissionSet(names []string) (PermissionSet, error) {
	var s PermissionSet
	for _, name := range names {
		p, ok := ParsePermission(name)
		if !ok {
			return PermissionSet{}, perr.InvalidManifest("invalid permission: %s (known: %s)", name, strings.Join(Names(), ", "))
		}
		s.bits |= 1 << p
	}
	return s, nil
}

// Has reports whether p is granted.
func (s PermissionSet) Has(p Permission) bool {
	return p.Valid() && s.bits&(1<<p) != 0
}

// Require returns PermissionDenied(p) if p is not granted.
func (s PermissionSet) Require(p Permission) error {
	if !s.Has(p) {
		return perr.PermissionDenied(p.String())
	}
	return nil
}

// Len returns the number of granted permissions.
func (s PermissionSet) Len() int {
	n := 0
	for _, p := range All() {
		if s.Has(p) {
			n++
		}
	}
	return n
}

// IsEmpty reports whether nothing is granted.
func (s PermissionSet) IsEmpty() bool {
	return s.bits == 0
}

// List returns the granted permissions in declaration order.
func (s PermissionSet) List() []Permission {
	perms := make([]Permission, 0, s.Len())
	for _, p := range All() {
		if s.Has(p) {
			perms = append(perms, p)
		}
	}
	return perms
}

// Strings returns the granted permission identifiers in declaration order.
func (s PermissionSet) Strings() []string {
	perms := s.List()
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = p.String()
	}
	return names
}

// String returns a comma separated list of granted identifiers.
func (s PermissionSet) String() string {
	return "{" + strings.Join(s.Strings(), ", ") + "}"
}
