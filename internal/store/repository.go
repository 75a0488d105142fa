// Package store provides CRUD repository operations for the sync-core tables.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/golang/snappy"
	apperrors "github.com/plateshare/synckit/internal/errors"
	"github.com/plateshare/synckit/internal/models"
)

// Repository provides CRUD operations for queued operations, cached entities
// and the conflict log. Payload blobs are snappy-compressed at rest.
type Repository struct {
	db *sql.DB

	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db.DB}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// compress snappy-encodes a payload, passing nil through.
func compress(payload []byte) []byte {
	if payload == nil {
		return nil
	}
	return snappy.Encode(nil, payload)
}

// decompress reverses compress.
func decompress(blob []byte) ([]byte, error) {
	if blob == nil {
		return nil, nil
	}
	out, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	return out, nil
}

// =====================================================
// QueuedOperation Operations
// =====================================================

// SaveOperation upserts a queued operation.
func (r *Repository) SaveOperation(op *models.QueuedOperation) error {
	dependsOn, err := json.Marshal(op.DependsOn)
	if err != nil {
		return fmt.Errorf("failed to encode dependencies: %w", err)
	}

	query := `
	INSERT INTO sync_operations (id, idempotency_key, operation_type, entity_type, entity_id,
		payload, priority, status, retry_count, max_retries, last_error, depends_on,
		created_at, last_attempt_at, next_retry_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		idempotency_key = excluded.idempotency_key,
		operation_type = excluded.operation_type,
		entity_type = excluded.entity_type,
		entity_id = excluded.entity_id,
		payload = excluded.payload,
		priority = excluded.priority,
		status = excluded.status,
		retry_count = excluded.retry_count,
		max_retries = excluded.max_retries,
		last_error = excluded.last_error,
		depends_on = excluded.depends_on,
		last_attempt_at = excluded.last_attempt_at,
		next_retry_at = excluded.next_retry_at
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(op.ID, op.IdempotencyKey, op.OperationType, op.EntityType, op.EntityID,
		compress(op.Payload), op.Priority, op.Status, op.RetryCount, op.MaxRetries,
		op.LastError, string(dependsOn), op.CreatedAt, op.LastAttemptAt, op.NextRetryAt)
	return err
}

// DeleteOperation removes a queued operation.
func (r *Repository) DeleteOperation(id string) error {
	stmt, err := r.PrepareStmt(`DELETE FROM sync_operations WHERE id = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(id)
	return err
}

// Operations returns every persisted operation in creation order.
func (r *Repository) Operations() ([]*models.QueuedOperation, error) {
	query := `
	SELECT id, idempotency_key, operation_type, entity_type, entity_id, payload,
		   priority, status, retry_count, max_retries, last_error, depends_on,
		   created_at, last_attempt_at, next_retry_at
	FROM sync_operations ORDER BY created_at ASC
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*models.QueuedOperation
	for rows.Next() {
		var op models.QueuedOperation
		var payload []byte
		var dependsOn string
		if err := rows.Scan(&op.ID, &op.IdempotencyKey, &op.OperationType, &op.EntityType,
			&op.EntityID, &payload, &op.Priority, &op.Status, &op.RetryCount, &op.MaxRetries,
			&op.LastError, &dependsOn, &op.CreatedAt, &op.LastAttemptAt, &op.NextRetryAt); err != nil {
			return nil, err
		}
		if op.Payload, err = decompress(payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(dependsOn), &op.DependsOn); err != nil {
			return nil, fmt.Errorf("failed to decode dependencies: %w", err)
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// =====================================================
// CachedRecord Operations
// =====================================================

// PutRecord upserts a cached record.
func (r *Repository) PutRecord(rec *models.CachedRecord) error {
	query := `
	INSERT INTO cached_entities (id, table_name, payload, version, updated_at, synced_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(table_name, id) DO UPDATE SET
		payload = excluded.payload,
		version = excluded.version,
		updated_at = excluded.updated_at,
		synced_at = excluded.synced_at
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(rec.ID, rec.Table, compress(rec.Payload), rec.Version,
		rec.UpdatedAt, rec.SyncedAt)
	return err
}

// GetRecord retrieves one cached record.
func (r *Repository) GetRecord(table, id string) (*models.CachedRecord, error) {
	query := `
	SELECT id, table_name, payload, version, updated_at, synced_at
	FROM cached_entities WHERE table_name = ? AND id = ?
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var rec models.CachedRecord
	var payload []byte
	err = stmt.QueryRow(table, id).Scan(&rec.ID, &rec.Table, &payload,
		&rec.Version, &rec.UpdatedAt, &rec.SyncedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, "record not cached: "+table+"/"+id)
	}
	if err != nil {
		return nil, err
	}
	if rec.Payload, err = decompress(payload); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecords returns every cached record of a table.
func (r *Repository) ListRecords(table string) ([]*models.CachedRecord, error) {
	query := `
	SELECT id, table_name, payload, version, updated_at, synced_at
	FROM cached_entities WHERE table_name = ? ORDER BY updated_at DESC
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.CachedRecord
	for rows.Next() {
		var rec models.CachedRecord
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.Table, &payload, &rec.Version,
			&rec.UpdatedAt, &rec.SyncedAt); err != nil {
			return nil, err
		}
		if rec.Payload, err = decompress(payload); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// DeleteRecord removes one cached record.
func (r *Repository) DeleteRecord(table, id string) error {
	stmt, err := r.PrepareStmt(`DELETE FROM cached_entities WHERE table_name = ? AND id = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(table, id)
	return err
}

// =====================================================
// SyncConflict Operations
// =====================================================

// SaveConflict upserts a conflict row.
func (r *Repository) SaveConflict(c *models.SyncConflict) error {
	fields, err := json.Marshal(c.ConflictingFields)
	if err != nil {
		return fmt.Errorf("failed to encode conflicting fields: %w", err)
	}

	query := `
	INSERT INTO sync_conflicts (id, entity_id, entity_type, local_payload, remote_payload,
		local_timestamp, remote_timestamp, conflicting_fields, detected_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		local_payload = excluded.local_payload,
		remote_payload = excluded.remote_payload,
		local_timestamp = excluded.local_timestamp,
		remote_timestamp = excluded.remote_timestamp,
		conflicting_fields = excluded.conflicting_fields,
		detected_at = excluded.detected_at
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(c.ID, c.EntityID, c.EntityType, compress(c.LocalPayload),
		compress(c.RemotePayload), c.LocalTimestamp, c.RemoteTimestamp,
		string(fields), c.DetectedAt)
	return err
}

// Conflicts returns every recorded conflict, newest first.
func (r *Repository) Conflicts() ([]*models.SyncConflict, error) {
	query := `
	SELECT id, entity_id, entity_type, local_payload, remote_payload,
		   local_timestamp, remote_timestamp, conflicting_fields, detected_at
	FROM sync_conflicts ORDER BY detected_at DESC
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []*models.SyncConflict
	for rows.Next() {
		var c models.SyncConflict
		var local, remote []byte
		var fields string
		if err := rows.Scan(&c.ID, &c.EntityID, &c.EntityType, &local, &remote,
			&c.LocalTimestamp, &c.RemoteTimestamp, &fields, &c.DetectedAt); err != nil {
			return nil, err
		}
		if c.LocalPayload, err = decompress(local); err != nil {
			return nil, err
		}
		if c.RemotePayload, err = decompress(remote); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fields), &c.ConflictingFields); err != nil {
			return nil, fmt.Errorf("failed to decode conflicting fields: %w", err)
		}
		conflicts = append(conflicts, &c)
	}
	return conflicts, rows.Err()
}

// DeleteConflict removes a conflict row, called once the conflict is
// resolved.
func (r *Repository) DeleteConflict(id string) error {
	stmt, err := r.PrepareStmt(`DELETE FROM sync_conflicts WHERE id = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(id)
	return err
}
