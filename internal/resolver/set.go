package resolver

import "sort"

// PermissionSet is an order-independent set of permission names.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from names, collapsing duplicates.
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Add inserts a permission name.
func (s PermissionSet) Add(name string) {
	s[name] = struct{}{}
}

// Remove deletes a permission name if present.
func (s PermissionSet) Remove(name string) {
	delete(s, name)
}

// Names returns the members sorted for stable serialization.
func (s PermissionSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
