// Package models provides data model definitions for the PlateShare sync core.
package models

import (
	"encoding/json"
	"time"
)

// CachedRecord is a generic cached server row, stored payload-opaque so the
// cache layer can warm any table without knowing its schema.
type CachedRecord struct {
	ID         string          `db:"id" json:"id"`
	Table      string          `db:"table_name" json:"table"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	Version    int             `db:"version" json:"version"`
	UpdatedAt  int64           `db:"updated_at" json:"updated_at"`
	SyncedAt   int64           `db:"synced_at" json:"synced_at"`
	FromServer bool            `db:"-" json:"from_server,omitempty"`
}

// TableName returns the table name for CachedRecord.
func (CachedRecord) TableName() string {
	return "cached_entities"
}

// Age returns how long ago the record was last synced.
func (r *CachedRecord) Age(now time.Time) time.Duration {
	return now.Sub(time.Unix(r.SyncedAt, 0))
}

// IsStale reports whether the record's last sync is older than maxAge.
func (r *CachedRecord) IsStale(now time.Time, maxAge time.Duration) bool {
	return r.Age(now) > maxAge
}
