// Package models provides data model definitions for the PlateShare sync core.
package models

import (
	"encoding/json"
	"time"
)

// OperationPriority orders queued operations within the ready set.
type OperationPriority int

const (
	PriorityLow OperationPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the priority name.
func (p OperationPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// OperationStatus represents the lifecycle state of a queued operation.
type OperationStatus string

const (
	StatusPending    OperationStatus = "pending"
	StatusInProgress OperationStatus = "in_progress"
	StatusRetrying   OperationStatus = "retrying"
	StatusCompleted  OperationStatus = "completed"
	StatusFailed     OperationStatus = "failed"
	StatusCancelled  OperationStatus = "cancelled"
	StatusBlocked    OperationStatus = "blocked"
)

// QueuedOperation is a pending local write waiting to be applied remotely.
// Payload is an opaque serialized command; the queue never parses it.
type QueuedOperation struct {
	ID             UUID              `db:"id" json:"id"`
	IdempotencyKey UUID              `db:"idempotency_key" json:"idempotency_key"`
	OperationType  string            `db:"operation_type" json:"operation_type"` // e.g. create_listing
	EntityType     string            `db:"entity_type" json:"entity_type"`
	EntityID       string            `db:"entity_id" json:"entity_id,omitempty"`
	Payload        json.RawMessage   `db:"payload" json:"payload"`
	Priority       OperationPriority `db:"priority" json:"priority"`
	Status         OperationStatus   `db:"status" json:"status"`
	RetryCount     int               `db:"retry_count" json:"retry_count"`
	MaxRetries     int               `db:"max_retries" json:"max_retries"`
	LastError      string            `db:"last_error" json:"last_error,omitempty"`
	DependsOn      []string          `db:"depends_on" json:"depends_on,omitempty"`
	CreatedAt      int64             `db:"created_at" json:"created_at"`
	LastAttemptAt  int64             `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	NextRetryAt    int64             `db:"next_retry_at" json:"next_retry_at,omitempty"`
}

// TableName returns the table name for QueuedOperation.
func (QueuedOperation) TableName() string {
	return "sync_operations"
}

// CreatedAtTime returns CreatedAt as time.Time.
func (o *QueuedOperation) CreatedAtTime() time.Time {
	return time.Unix(o.CreatedAt, 0)
}

// IsTerminal reports whether the operation has reached a final state.
func (o *QueuedOperation) IsTerminal() bool {
	switch o.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Clone returns a deep copy, so callers cannot mutate queue internals.
func (o *QueuedOperation) Clone() *QueuedOperation {
	c := *o
	if o.Payload != nil {
		c.Payload = append(json.RawMessage(nil), o.Payload...)
	}
	if o.DependsOn != nil {
		c.DependsOn = append([]string(nil), o.DependsOn...)
	}
	return &c
}
