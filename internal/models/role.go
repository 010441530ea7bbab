package models

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// PermissionSet is the set of capabilities a role grants.
// It serializes as a JSON string array for storage.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from capability keys, dropping duplicates.
func NewPermissionSet(keys ...string) PermissionSet {
	set := make(PermissionSet, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		set[k] = struct{}{}
	}
	return set
}

// Has reports whether the capability is present.
func (s PermissionSet) Has(capability string) bool {
	_, ok := s[capability]
	return ok
}

// Union merges other into a new set without mutating either operand.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	merged := make(PermissionSet, len(s)+len(other))
	for k := range s {
		merged[k] = struct{}{}
	}
	for k := range other {
		merged[k] = struct{}{}
	}
	return merged
}

// Sorted returns the capabilities in lexical order.
func (s PermissionSet) Sorted() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON encodes the set as a sorted string array.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes a string array into the set.
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*s = NewPermissionSet(keys...)
	return nil
}

// Role is a named permission bundle. Roles are long-lived reference data.
type Role struct {
	RoleID      uuid.UUID // UUIDv7
	Name        string    // unique
	Description string
	Permissions PermissionSet
	Level       int // privilege ordering for display, never for security decisions

	System bool // built-in roles cannot be deleted
	Active bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
