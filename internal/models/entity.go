// Package models provides data model definitions for the PlateShare sync core.
package models

import "database/sql/driver"

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// MergePreference selects which side wins for fields a merge cannot combine.
// The receiver of Merge is always the local copy, the argument the remote one.
type MergePreference string

const (
	PreferLocal  MergePreference = "local"
	PreferRemote MergePreference = "remote"
)

// CachedEntity is implemented by every locally cached row that participates in
// conflict detection and resolution (listings, forum posts, profiles).
type CachedEntity interface {
	// SyncID returns the stable identity of the entity across devices.
	SyncID() string

	// EntityType returns the entity-type tag (matches the server table name).
	EntityType() string

	// LastModified returns the last-modified unix timestamp.
	LastModified() int64

	// SyncVersion returns the monotonically increasing sync version.
	SyncVersion() int

	// DiffFields returns the names of fields whose values differ from other.
	// Returns nil when other is not the same concrete type.
	DiffFields(other CachedEntity) []string

	// Merge combines the receiver (local) with the remote copy and returns the
	// merged entity together with the names of fields the merge had to decide.
	// The merged entity carries syncVersion max(local,remote)+1 and a
	// timestamp no older than either input.
	Merge(remote CachedEntity, prefer MergePreference) (CachedEntity, []string)
}

// preferString returns the preferred side's value, falling back to the other
// side when the preferred one is empty.
func preferString(prefer MergePreference, local, remote string) string {
	if prefer == PreferLocal {
		if local != "" {
			return local
		}
		return remote
	}
	if remote != "" {
		return remote
	}
	return local
}

// preferInt returns the preferred side's value for non-monotonic numbers.
func preferInt(prefer MergePreference, local, remote int) int {
	if prefer == PreferLocal {
		return local
	}
	return remote
}
