// Package conflict detects divergence between locally cached entities and
// their server counterparts and reconciles them under a configurable
// strategy.
package conflict

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/plateshare/synckit/internal/errors"
	"github.com/plateshare/synckit/internal/logging"
	"github.com/plateshare/synckit/internal/models"
)

// Strategy defines how conflicts are resolved.
type Strategy string

const (
	StrategyServerWins        Strategy = "server_wins"
	StrategyClientWins        Strategy = "client_wins"
	StrategyLastWriteWins     Strategy = "last_write_wins"
	StrategyMergePreferServer Strategy = "merge_prefer_server"
	StrategyMergePreferClient Strategy = "merge_prefer_client"
	StrategyManual            Strategy = "manual"
)

// Winner tags which side a resolution kept.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
	WinnerMerged Winner = "merged"
	WinnerManual Winner = "manual"
)

// Choice selects the outcome of a manual adjudication.
type Choice string

const (
	ChoiceLocal  Choice = "local"
	ChoiceRemote Choice = "remote"
	ChoiceMerged Choice = "merged"
	ChoiceCustom Choice = "custom"
)

// Info describes a detected conflict held for resolution.
type Info struct {
	EntityID          string
	EntityType        string
	Local             models.CachedEntity
	Remote            models.CachedEntity
	LocalTimestamp    int64
	RemoteTimestamp   int64
	ConflictingFields []string
	DetectedAt        int64
}

// NewerVersion returns the side with the later modification timestamp,
// remote on a tie.
func (i *Info) NewerVersion() models.CachedEntity {
	if i.LocalTimestamp > i.RemoteTimestamp {
		return i.Local
	}
	return i.Remote
}

// ToModel converts the conflict to its persisted row shape.
func (i *Info) ToModel() (*models.SyncConflict, error) {
	localPayload, err := json.Marshal(i.Local)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to serialize local version", err)
	}
	remotePayload, err := json.Marshal(i.Remote)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to serialize remote version", err)
	}

	return &models.SyncConflict{
		ID:                models.UUID(uuid.New().String()),
		EntityID:          i.EntityID,
		EntityType:        i.EntityType,
		LocalPayload:      localPayload,
		RemotePayload:     remotePayload,
		LocalTimestamp:    i.LocalTimestamp,
		RemoteTimestamp:   i.RemoteTimestamp,
		ConflictingFields: append([]string(nil), i.ConflictingFields...),
		DetectedAt:        i.DetectedAt,
	}, nil
}

// Result is the outcome of a resolution, kept in the audit history.
type Result struct {
	EntityID     string
	EntityType   string
	Entity       models.CachedEntity
	Winner       Winner
	Strategy     Strategy
	MergedFields []string
	ResolvedAt   int64
}

// Resolver detects conflicts and resolves them. Resolution itself is pure
// data transformation and cannot fail; writing the resolved entity back to
// the server is the queue's job.
type Resolver struct {
	mu         sync.Mutex
	strategy   Strategy
	pending    map[string]*Info
	history    []*Result
	maxHistory int
}

// NewResolver creates a Resolver with the given strategy. historyLimit
// bounds the audit history (100 if zero).
func NewResolver(strategy Strategy, historyLimit int) *Resolver {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Resolver{
		strategy:   strategy,
		pending:    make(map[string]*Info),
		maxHistory: historyLimit,
	}
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() Strategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.strategy
}

// DetectConflict decides whether local and remote genuinely diverge. Equal
// sync versions, bit-identical timestamps or an empty field diff all mean no
// conflict. A detected conflict is registered pending, overwriting any
// earlier pending conflict for the same entity.
func (r *Resolver) DetectConflict(local, remote models.CachedEntity) (*Info, bool) {
	if local == nil || remote == nil {
		return nil, false
	}
	if local.SyncID() != remote.SyncID() {
		return nil, false
	}
	if local.SyncVersion() == remote.SyncVersion() {
		return nil, false
	}
	if local.LastModified() == remote.LastModified() {
		return nil, false
	}

	fields := local.DiffFields(remote)
	if len(fields) == 0 {
		// Version drift without data divergence.
		return nil, false
	}

	info := &Info{
		EntityID:          local.SyncID(),
		EntityType:        local.EntityType(),
		Local:             local,
		Remote:            remote,
		LocalTimestamp:    local.LastModified(),
		RemoteTimestamp:   remote.LastModified(),
		ConflictingFields: fields,
		DetectedAt:        time.Now().Unix(),
	}

	r.mu.Lock()
	r.pending[info.EntityID] = info
	r.mu.Unlock()

	logging.Warn("Sync conflict detected", map[string]interface{}{
		"entity_id":          info.EntityID,
		"entity_type":        info.EntityType,
		"local_timestamp":    info.LocalTimestamp,
		"remote_timestamp":   info.RemoteTimestamp,
		"conflicting_fields": fields,
	})
	return info, true
}

// Resolve reconciles local and remote under the configured strategy. Every
// strategy except MANUAL removes the entity from the pending set and records
// the resolution in the audit history; MANUAL returns the server version as
// a provisional default and leaves the conflict pending for adjudication.
func (r *Resolver) Resolve(local, remote models.CachedEntity) (*Result, error) {
	if local == nil || remote == nil {
		return nil, errors.New(errors.ErrInvalid, "both conflict sides must be non-nil")
	}
	if local.SyncID() != remote.SyncID() {
		return nil, errors.New(errors.ErrInvalid, "conflict sides refer to different entities")
	}

	res := &Result{
		EntityID:   local.SyncID(),
		EntityType: local.EntityType(),
		Strategy:   r.Strategy(),
		ResolvedAt: time.Now().Unix(),
	}

	switch res.Strategy {
	case StrategyServerWins:
		res.Entity = remote
		res.Winner = WinnerRemote
	case StrategyClientWins:
		res.Entity = local
		res.Winner = WinnerLocal
	case StrategyLastWriteWins:
		// Ties go to the server as the safer default.
		if local.LastModified() > remote.LastModified() {
			res.Entity = local
			res.Winner = WinnerLocal
		} else {
			res.Entity = remote
			res.Winner = WinnerRemote
		}
	case StrategyMergePreferServer:
		res.Entity, res.MergedFields = local.Merge(remote, models.PreferRemote)
		res.Winner = WinnerMerged
	case StrategyMergePreferClient:
		res.Entity, res.MergedFields = local.Merge(remote, models.PreferLocal)
		res.Winner = WinnerMerged
	case StrategyManual:
		// Provisional default only; the conflict stays pending.
		res.Entity = remote
		res.Winner = WinnerManual
		logging.Warn("Conflict held for manual adjudication", map[string]interface{}{
			"entity_id":   res.EntityID,
			"entity_type": res.EntityType,
		})
		return res, nil
	default:
		res.Entity = remote
		res.Winner = WinnerRemote
	}

	r.finish(res)
	return res, nil
}

// ManuallyResolve adjudicates a pending conflict: keep the local side, the
// remote side, a supplied merged value or an arbitrary custom entity.
func (r *Resolver) ManuallyResolve(entityID string, choice Choice, custom models.CachedEntity) (*Result, error) {
	r.mu.Lock()
	info, ok := r.pending[entityID]
	r.mu.Unlock()
	if !ok {
		return nil, errors.New(errors.ErrNotFound, "no pending conflict for entity: "+entityID)
	}

	res := &Result{
		EntityID:   entityID,
		EntityType: info.EntityType,
		Strategy:   StrategyManual,
		ResolvedAt: time.Now().Unix(),
	}

	switch choice {
	case ChoiceLocal:
		res.Entity = info.Local
		res.Winner = WinnerLocal
	case ChoiceRemote:
		res.Entity = info.Remote
		res.Winner = WinnerRemote
	case ChoiceMerged:
		if custom == nil {
			return nil, errors.New(errors.ErrInvalid, "merged choice requires a supplied entity")
		}
		res.Entity = custom
		res.Winner = WinnerMerged
		res.MergedFields = append([]string(nil), info.ConflictingFields...)
	case ChoiceCustom:
		if custom == nil {
			return nil, errors.New(errors.ErrInvalid, "custom choice requires a supplied entity")
		}
		res.Entity = custom
		res.Winner = WinnerManual
	default:
		return nil, errors.New(errors.ErrInvalid, "unknown resolution choice: "+string(choice))
	}

	r.finish(res)
	return res, nil
}

// finish removes the entity from the pending set and appends the resolution
// to the bounded audit history.
func (r *Resolver) finish(res *Result) {
	r.mu.Lock()
	delete(r.pending, res.EntityID)
	r.history = append(r.history, res)
	if len(r.history) > r.maxHistory {
		r.history = r.history[len(r.history)-r.maxHistory:]
	}
	r.mu.Unlock()

	logging.Info("Sync conflict resolved", map[string]interface{}{
		"entity_id":     res.EntityID,
		"entity_type":   res.EntityType,
		"strategy":      string(res.Strategy),
		"winner":        string(res.Winner),
		"merged_fields": res.MergedFields,
	})
}

// Pending returns snapshots of unresolved conflicts.
func (r *Resolver) Pending() []*Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Info, 0, len(r.pending))
	for _, info := range r.pending {
		out = append(out, info)
	}
	return out
}

// PendingCount returns the number of unresolved conflicts, surfaced to UI
// layers as a badge.
func (r *Resolver) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// PendingFor returns the unresolved conflict for one entity.
func (r *Resolver) PendingFor(entityID string) (*Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.pending[entityID]
	return info, ok
}

// History returns the recorded resolutions, oldest first.
func (r *Resolver) History() []*Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Result(nil), r.history...)
}
