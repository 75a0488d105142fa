// Package cache coordinates reads between the local cache and the remote
// gateway under per-call fetch policies, and runs the background loops that
// drain the offline queue and keep watched tables warm.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/plateshare/synckit/internal/conflict"
	"github.com/plateshare/synckit/internal/errors"
	"github.com/plateshare/synckit/internal/gateway"
	"github.com/plateshare/synckit/internal/logging"
	"github.com/plateshare/synckit/internal/models"
	"github.com/plateshare/synckit/internal/queue"
	"github.com/plateshare/synckit/internal/realtime"
)

// FetchPolicy selects how a read balances freshness against availability.
type FetchPolicy string

const (
	// RemoteFirst tries the server, caches on success and falls back to the
	// cache when the server is unreachable.
	RemoteFirst FetchPolicy = "remote_first"
	// CacheFirst serves the cache when present, refreshing stale entries in
	// the background, and only goes remote on a cache miss.
	CacheFirst FetchPolicy = "cache_first"
	// CacheFallback tries the server and serves the cache on any failure.
	CacheFallback FetchPolicy = "cache_fallback"
	// CacheOnly never touches the network.
	CacheOnly FetchPolicy = "cache_only"
	// RemoteOnly bypasses the cache entirely, reads and writes.
	RemoteOnly FetchPolicy = "remote_only"
)

// Store is the local cache persistence surface the orchestrator reads and
// writes through.
type Store interface {
	GetRecord(table, id string) (*models.CachedRecord, error)
	PutRecord(rec *models.CachedRecord) error
	ListRecords(table string) ([]*models.CachedRecord, error)
	DeleteRecord(table, id string) error
}

// ConflictLog persists detected conflicts for operator inspection.
type ConflictLog interface {
	SaveConflict(c *models.SyncConflict) error
}

// Options configures an Orchestrator.
type Options struct {
	Gateway   gateway.Gateway
	Store     Store
	Queue     *queue.OperationStore
	Resolver  *conflict.Resolver
	Conflicts ConflictLog

	// MaxAge is the wall-clock staleness threshold (1h if zero).
	MaxAge time.Duration
	// SyncInterval paces the warm-table refresh loop (5m if zero).
	SyncInterval time.Duration
	// QueueInterval paces the queue drain loop (30s if zero).
	QueueInterval time.Duration
	// Tables lists the tables the background loop keeps warm.
	Tables []string
}

// Orchestrator is the single decision point between cache and network.
type Orchestrator struct {
	gw        gateway.Gateway
	store     Store
	queue     *queue.OperationStore
	resolver  *conflict.Resolver
	conflicts ConflictLog

	maxAge        time.Duration
	syncInterval  time.Duration
	queueInterval time.Duration
	tables        []string

	mu         sync.Mutex
	running    bool
	online     bool
	syncing    bool
	draining   bool
	refreshing map[string]bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. Gateway, Store and Queue are
// required.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.MaxAge <= 0 {
		opts.MaxAge = time.Hour
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 5 * time.Minute
	}
	if opts.QueueInterval <= 0 {
		opts.QueueInterval = 30 * time.Second
	}
	return &Orchestrator{
		gw:            opts.Gateway,
		store:         opts.Store,
		queue:         opts.Queue,
		resolver:      opts.Resolver,
		conflicts:     opts.Conflicts,
		maxAge:        opts.MaxAge,
		syncInterval:  opts.SyncInterval,
		queueInterval: opts.QueueInterval,
		tables:        opts.Tables,
		online:        true,
		refreshing:    make(map[string]bool),
	}
}

// SetOnline records the device's connectivity. While offline every remote
// fetch short-circuits and the queue drain is skipped, so cached copies
// serve and retry budgets are not burned.
func (o *Orchestrator) SetOnline(online bool) {
	o.mu.Lock()
	changed := o.online != online
	o.online = online
	o.mu.Unlock()

	if changed {
		logging.Info("Connectivity changed", map[string]interface{}{"online": online})
	}
}

func (o *Orchestrator) isOnline() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

// Get reads one record under the given fetch policy.
func (o *Orchestrator) Get(ctx context.Context, table, id string, policy FetchPolicy) (*models.CachedRecord, error) {
	switch policy {
	case RemoteOnly:
		return o.fetchRemote(ctx, table, id, false)

	case RemoteFirst:
		rec, err := o.fetchRemote(ctx, table, id, true)
		if err == nil {
			return rec, nil
		}
		if cached, cacheErr := o.store.GetRecord(table, id); cacheErr == nil {
			logging.Warn("Serving cached record after remote failure", map[string]interface{}{
				"table": table,
				"id":    id,
				"error": err.Error(),
			})
			return cached, nil
		}
		return nil, err

	case CacheFirst:
		if cached, err := o.store.GetRecord(table, id); err == nil {
			if cached.IsStale(time.Now(), o.maxAge) {
				o.refreshAsync(table, id)
			}
			return cached, nil
		}
		return o.fetchRemote(ctx, table, id, true)

	case CacheFallback:
		rec, err := o.fetchRemote(ctx, table, id, true)
		if err == nil {
			return rec, nil
		}
		if cached, cacheErr := o.store.GetRecord(table, id); cacheErr == nil {
			return cached, nil
		}
		// Unlike remote_first, the caller sees an empty-cache signal here
		// rather than the remote error; the remote failure stays as cause.
		return nil, errors.Wrap(errors.ErrCacheEmpty,
			"remote unavailable and nothing cached: "+table+"/"+id, err)

	case CacheOnly:
		cached, err := o.store.GetRecord(table, id)
		if err != nil {
			return nil, errors.Wrap(errors.ErrNotFound, "record not cached: "+table+"/"+id, err)
		}
		return cached, nil

	default:
		return nil, errors.New(errors.ErrInvalid, "unknown fetch policy: "+string(policy))
	}
}

// fetchRemote reads one record from the gateway, optionally writing it
// through to the cache.
func (o *Orchestrator) fetchRemote(ctx context.Context, table, id string, cache bool) (*models.CachedRecord, error) {
	if !o.isOnline() {
		return nil, errors.New(errors.ErrOffline, "device is offline")
	}

	remote, err := o.gw.Fetch(ctx, table, id)
	if err != nil {
		return nil, err
	}

	rec := fromGatewayRecord(remote)
	if cache {
		if err := o.store.PutRecord(rec); err != nil {
			logging.Error("Failed to cache fetched record", err,
				map[string]interface{}{"table": table, "id": id})
		}
	}
	return rec, nil
}

// refreshAsync refreshes a stale record in the background. A refresh already
// in flight for the same record drops the trigger.
func (o *Orchestrator) refreshAsync(table, id string) {
	key := table + "/" + id

	o.mu.Lock()
	if o.refreshing[key] || !o.running {
		o.mu.Unlock()
		return
	}
	o.refreshing[key] = true
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.refreshing, key)
			o.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := o.fetchRemote(ctx, table, id, true); err != nil {
			logging.Debug("Background refresh failed", map[string]interface{}{
				"table": table,
				"id":    id,
				"error": err.Error(),
			})
		}
	}()
}

// Start launches the background drain and refresh loops. A second Start is a
// no-op until Stop.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.stopCh = make(chan struct{})
	o.mu.Unlock()

	o.wg.Add(1)
	go o.loop(ctx)
	logging.Info("Cache orchestrator started", map[string]interface{}{
		"sync_interval":  o.syncInterval.String(),
		"queue_interval": o.queueInterval.String(),
		"tables":         o.tables,
	})
}

// Stop halts the background loops and waits for in-flight work.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stopCh)
	o.mu.Unlock()

	o.wg.Wait()
	logging.Info("Cache orchestrator stopped", nil)
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer o.wg.Done()

	queueTicker := time.NewTicker(o.queueInterval)
	defer queueTicker.Stop()
	syncTicker := time.NewTicker(o.syncInterval)
	defer syncTicker.Stop()

	// Drain whatever queued up while the process was down.
	o.DrainQueue(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-queueTicker.C:
			o.DrainQueue(ctx)
		case <-syncTicker.C:
			o.SyncNow(ctx)
		}
	}
}

// tryAcquire flips a guard flag, reporting false when the guarded work is
// already running. Secondary triggers are dropped, not queued.
func (o *Orchestrator) tryAcquire(flag *bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if *flag {
		return false
	}
	*flag = true
	return true
}

func (o *Orchestrator) release(flag *bool) {
	o.mu.Lock()
	*flag = false
	o.mu.Unlock()
}

// DrainQueue pushes ready operations through the gateway, repeating until a
// full pass completes nothing, since completions can unblock dependents.
// Operations whose backoff window has not elapsed are skipped. Returns the
// number of operations completed.
func (o *Orchestrator) DrainQueue(ctx context.Context) int {
	if !o.isOnline() {
		return 0
	}
	if !o.tryAcquire(&o.draining) {
		return 0
	}
	defer o.release(&o.draining)

	completed := 0
	for {
		progressed := false
		now := time.Now().Unix()

		for _, op := range o.queue.ReadyOperations() {
			if ctx.Err() != nil {
				return completed
			}
			if op.NextRetryAt > now {
				continue
			}

			id := op.ID.String()
			if err := o.queue.Begin(id); err != nil {
				continue
			}

			rec, err := o.gw.Write(ctx, mutationFrom(op))
			if err != nil {
				if ctx.Err() != nil {
					// Interrupted, not failed. Leave it queued.
					o.queue.Release(id)
					return completed
				}
				o.queue.Retry(id, err)
				continue
			}

			o.queue.MarkComplete(id)
			if rec != nil {
				if err := o.store.PutRecord(fromGatewayRecord(rec)); err != nil {
					logging.Error("Failed to cache write result", err,
						map[string]interface{}{"table": rec.Table, "id": rec.ID})
				}
			}
			completed++
			progressed = true
		}

		if !progressed {
			return completed
		}
	}
}

// SyncNow refreshes every watched table from the gateway. A sync already in
// flight drops the trigger with SYNC_IN_PROGRESS; failed table refreshes are
// rolled up into a SYNC_FAILED result after every table has been attempted.
func (o *Orchestrator) SyncNow(ctx context.Context) error {
	if !o.tryAcquire(&o.syncing) {
		return errors.New(errors.ErrSyncInProgress, "sync already running")
	}
	defer o.release(&o.syncing)

	failed := 0
	for _, table := range o.tables {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		records, err := o.gw.List(ctx, table)
		if err != nil {
			logging.Warn("Table refresh failed", map[string]interface{}{
				"table": table,
				"error": err.Error(),
			})
			failed++
			continue
		}

		for _, remote := range records {
			if err := o.store.PutRecord(fromGatewayRecord(remote)); err != nil {
				logging.Error("Failed to cache refreshed record", err,
					map[string]interface{}{"table": table, "id": remote.ID})
			}
		}
		logging.Debug("Table refreshed", map[string]interface{}{
			"table":   table,
			"records": len(records),
		})
	}

	if failed > 0 {
		return errors.New(errors.ErrSyncFailed,
			fmt.Sprintf("%d of %d table refreshes failed", failed, len(o.tables)))
	}
	return nil
}

// Reconcile runs conflict detection between a locally modified entity and
// its freshly fetched server counterpart, resolving under the configured
// strategy. Returns nil when the two copies do not genuinely diverge.
func (o *Orchestrator) Reconcile(local, remote models.CachedEntity) (*conflict.Result, error) {
	if o.resolver == nil {
		return nil, errors.New(errors.ErrInternal, "no conflict resolver configured")
	}
	info, ok := o.resolver.DetectConflict(local, remote)
	if !ok {
		return nil, nil
	}

	if o.conflicts != nil {
		row, err := info.ToModel()
		if err == nil {
			err = o.conflicts.SaveConflict(row)
		}
		if err != nil {
			logging.Error("Failed to record conflict", err,
				map[string]interface{}{"entity_id": info.EntityID})
		}
	}

	return o.resolver.Resolve(local, remote)
}

// HandleRealtimeMessage applies a deduplicated realtime change to the cache.
// Wired as the transport's message handler.
func (o *Orchestrator) HandleRealtimeMessage(channelID string, msg *realtime.Message) {
	if msg.RecordID == "" {
		return
	}

	if msg.EventType == "DELETE" {
		if err := o.store.DeleteRecord(msg.Table, msg.RecordID); err != nil {
			logging.Error("Failed to evict deleted record", err,
				map[string]interface{}{"table": msg.Table, "id": msg.RecordID})
		}
		return
	}

	rec := &models.CachedRecord{
		ID:         msg.RecordID,
		Table:      msg.Table,
		Payload:    msg.Payload,
		UpdatedAt:  msg.Timestamp,
		SyncedAt:   time.Now().Unix(),
		FromServer: true,
	}
	if existing, err := o.store.GetRecord(msg.Table, msg.RecordID); err == nil {
		rec.Version = existing.Version
	}
	if err := o.store.PutRecord(rec); err != nil {
		logging.Error("Failed to cache realtime change", err,
			map[string]interface{}{"table": msg.Table, "id": msg.RecordID})
	}
}

// fromGatewayRecord converts a gateway record to its cached shape.
func fromGatewayRecord(r *gateway.Record) *models.CachedRecord {
	return &models.CachedRecord{
		ID:         r.ID,
		Table:      r.Table,
		Payload:    r.Payload,
		Version:    r.Version,
		UpdatedAt:  r.UpdatedAt,
		SyncedAt:   time.Now().Unix(),
		FromServer: true,
	}
}

// mutationFrom builds the gateway mutation for a queued operation.
func mutationFrom(op *models.QueuedOperation) *gateway.Mutation {
	return &gateway.Mutation{
		Kind:           op.OperationType,
		Table:          op.EntityType,
		RecordID:       op.EntityID,
		Payload:        op.Payload,
		IdempotencyKey: op.IdempotencyKey.String(),
	}
}
