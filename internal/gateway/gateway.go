// Package gateway defines the boundary to the remote data service. The sync
// core never talks to the server directly; everything goes through this
// interface so callers can swap transports and tests can fake the remote.
package gateway

import (
	"context"
	"encoding/json"
)

// Record is a server row in payload-opaque form.
type Record struct {
	ID        string          `json:"id"`
	Table     string          `json:"table"`
	Payload   json.RawMessage `json:"payload"`
	Version   int             `json:"version"`
	UpdatedAt int64           `json:"updated_at"`
}

// Mutation is one queued local write handed to the server. IdempotencyKey
// lets the server deduplicate retried deliveries.
type Mutation struct {
	Kind           string          `json:"kind"` // e.g. create_listing
	Table          string          `json:"table"`
	RecordID       string          `json:"record_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// Gateway is the remote data service. Implementations return AppError codes
// from the errors package so the retry policy can classify failures.
type Gateway interface {
	// Fetch retrieves one record. Returns ErrNotFound when the server has no
	// such row.
	Fetch(ctx context.Context, table, id string) (*Record, error)

	// List retrieves every record of a table visible to this device.
	List(ctx context.Context, table string) ([]*Record, error)

	// Write applies a mutation and returns the server's resulting record,
	// nil for deletes.
	Write(ctx context.Context, m *Mutation) (*Record, error)
}
