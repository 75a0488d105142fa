// Package models provides data model definitions for the PlateShare sync core.
package models

import (
	"encoding/json"
	"time"
)

// SyncConflict records a detected divergence between a locally cached entity
// and its server counterpart, held until a resolution decision is made.
type SyncConflict struct {
	ID                UUID            `db:"id" json:"id"`
	EntityID          string          `db:"entity_id" json:"entity_id"`
	EntityType        string          `db:"entity_type" json:"entity_type"`
	LocalPayload      json.RawMessage `db:"local_payload" json:"local_payload"`
	RemotePayload     json.RawMessage `db:"remote_payload" json:"remote_payload"`
	LocalTimestamp    int64           `db:"local_timestamp" json:"local_timestamp"`
	RemoteTimestamp   int64           `db:"remote_timestamp" json:"remote_timestamp"`
	ConflictingFields []string        `db:"conflicting_fields" json:"conflicting_fields"`
	DetectedAt        int64           `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for SyncConflict.
func (SyncConflict) TableName() string {
	return "sync_conflicts"
}

// DetectedAtTime returns DetectedAt as time.Time.
func (c *SyncConflict) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}
