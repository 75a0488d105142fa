package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/plateshare/synckit/internal/errors"
	"github.com/plateshare/synckit/internal/logging"
	"github.com/plateshare/synckit/internal/models"
	"github.com/plateshare/synckit/internal/retry"
)

// Persistence is the narrow durable-store surface the queue writes through so
// pending operations survive restarts. A nil Persistence keeps the queue
// memory-only (used by tests).
type Persistence interface {
	SaveOperation(op *models.QueuedOperation) error
	DeleteOperation(id string) error
	Operations() ([]*models.QueuedOperation, error)
}

// Options configures an OperationStore.
type Options struct {
	// MaxRetries is the default per-operation retry budget (3 if zero).
	MaxRetries int
	// Backoff is the retry backoff preset (PresetQueue if zero).
	Backoff retry.Preset
	// MaxQueued caps the number of queued operations; 0 means unbounded.
	// Replacing an already-queued id is always allowed.
	MaxQueued int
	// Persistence is the durable store; nil keeps the queue memory-only.
	Persistence Persistence
}

// OperationStore is the process-wide pending-operation queue. All mutation
// goes through its public methods; internal state is single-writer guarded.
type OperationStore struct {
	mu        sync.Mutex
	ops       map[string]*models.QueuedOperation
	seq       map[string]int // enqueue order, FIFO tiebreak within a priority
	nextSeq   int
	graph     *DependencyGraph
	listeners []Listener

	maxRetries int
	maxQueued  int
	backoff    retry.Preset
	persist    Persistence
}

// NewOperationStore creates an empty operation store.
func NewOperationStore(opts Options) *OperationStore {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff.BaseDelay == 0 {
		opts.Backoff = retry.PresetQueue
	}
	return &OperationStore{
		ops:        make(map[string]*models.QueuedOperation),
		seq:        make(map[string]int),
		graph:      NewDependencyGraph(),
		maxRetries: opts.MaxRetries,
		maxQueued:  opts.MaxQueued,
		backoff:    opts.Backoff,
		persist:    opts.Persistence,
	}
}

// Subscribe registers a lifecycle event listener.
func (s *OperationStore) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// emit delivers an event to all listeners in registration order.
func (s *OperationStore) emit(ev Event) {
	s.mu.Lock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}

// Load restores pending operations from the durable store. Terminal
// operations are not restored.
func (s *OperationStore) Load() error {
	if s.persist == nil {
		return nil
	}

	ops, err := s.persist.Operations()
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to load queued operations", err)
	}

	// Oldest first so enqueue order survives the restart.
	sort.Slice(ops, func(i, j int) bool { return ops[i].CreatedAt < ops[j].CreatedAt })

	s.mu.Lock()
	defer s.mu.Unlock()

	restored := 0
	for _, op := range ops {
		if op.IsTerminal() {
			continue
		}
		// An interrupted attempt restarts from the beginning.
		if op.Status == models.StatusInProgress {
			op.Status = models.StatusPending
		}
		s.insertLocked(op)
		restored++
	}

	logging.Info("Offline queue restored", map[string]interface{}{"operations": restored})
	return nil
}

// insertLocked places an operation and its dependency edges into the maps.
func (s *OperationStore) insertLocked(op *models.QueuedOperation) {
	s.ops[op.ID.String()] = op
	if _, ok := s.seq[op.ID.String()]; !ok {
		s.seq[op.ID.String()] = s.nextSeq
		s.nextSeq++
	}
	s.graph.AddNode(op.ID.String())
	for _, dep := range op.DependsOn {
		s.graph.AddDependency(op.ID.String(), dep)
	}
}

// Enqueue persists an operation and registers its declared dependency edges.
// Enqueueing an id that already exists replaces the operation in place.
// A declared dependency that would create a cycle rejects the whole enqueue;
// a rejected replace leaves the prior operation and its edges untouched.
func (s *OperationStore) Enqueue(op *models.QueuedOperation) error {
	s.mu.Lock()

	if s.maxQueued > 0 {
		if _, exists := s.ops[op.ID.String()]; !exists && s.liveCountLocked() >= s.maxQueued {
			s.mu.Unlock()
			return errors.New(errors.ErrQueueFull, "operation queue is at capacity")
		}
	}

	now := time.Now().Unix()
	if op.ID == "" {
		op.ID = models.UUID(uuid.New().String())
	}
	if op.IdempotencyKey == "" {
		op.IdempotencyKey = models.UUID(uuid.New().String())
	}
	if op.Status == "" {
		op.Status = models.StatusPending
	}
	if op.MaxRetries <= 0 {
		op.MaxRetries = s.maxRetries
	}
	if op.CreatedAt == 0 {
		op.CreatedAt = now
	}

	id := op.ID.String()

	// Replacement drops the previous outgoing edge set before registering the
	// new one; edges other operations hold on this id stay intact.
	prior := s.ops[id]
	if prior != nil {
		s.graph.RemoveOutgoing(id)
	}
	s.graph.AddNode(id)

	for _, dep := range op.DependsOn {
		if !s.graph.AddDependency(id, dep) {
			// Roll back the partial edge set and reinstate the prior
			// operation's edges; they were acyclic before the replace.
			s.graph.RemoveOutgoing(id)
			if prior != nil {
				for _, dep := range prior.DependsOn {
					s.graph.AddDependency(id, dep)
				}
			}
			s.mu.Unlock()
			return errors.New(errors.ErrDependencyCycle, "dependency would create a cycle")
		}
	}

	s.ops[id] = op
	if _, ok := s.seq[id]; !ok {
		s.seq[id] = s.nextSeq
		s.nextSeq++
	}

	if err := s.saveLocked(op); err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot := op.Clone()
	s.mu.Unlock()

	logging.Info("Operation queued", map[string]interface{}{
		"operation_id": id,
		"type":         snapshot.OperationType,
		"priority":     snapshot.Priority.String(),
	})
	s.emit(Event{Type: EventQueued, Operation: snapshot})
	return nil
}

// EnqueueAll enqueues operations in order, stopping at the first failure.
func (s *OperationStore) EnqueueAll(ops []*models.QueuedOperation) error {
	for _, op := range ops {
		if err := s.Enqueue(op); err != nil {
			return err
		}
	}
	return nil
}

// liveCountLocked counts operations still holding a queue slot. Terminal
// operations stay queryable but do not count against the cap.
func (s *OperationStore) liveCountLocked() int {
	n := 0
	for _, op := range s.ops {
		if !op.IsTerminal() {
			n++
		}
	}
	return n
}

// saveLocked writes through to the durable store when one is configured.
func (s *OperationStore) saveLocked(op *models.QueuedOperation) error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist.SaveOperation(op); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to persist operation", err)
	}
	return nil
}

// deleteLocked removes an operation from the durable store.
func (s *OperationStore) deleteLocked(id string) {
	if s.persist == nil {
		return
	}
	if err := s.persist.DeleteOperation(id); err != nil {
		logging.Error("Failed to delete persisted operation", err,
			map[string]interface{}{"operation_id": id})
	}
}

// blockedLocked reports whether any dependency of id is still unresolved.
// A dependency blocks while it is PENDING or RETRYING, or while it has never
// been enqueued at all (a caller error that blocks the operation forever).
func (s *OperationStore) blockedLocked(id string) bool {
	for _, dep := range s.graph.Dependencies(id) {
		depOp, ok := s.ops[dep]
		if !ok {
			return true
		}
		if depOp.Status == models.StatusPending || depOp.Status == models.StatusRetrying {
			return true
		}
	}
	return false
}

// ReadyOperations returns snapshots of every operation eligible to run:
// status PENDING or RETRYING with no unresolved dependency, ordered by
// descending priority with enqueue order breaking ties.
func (s *OperationStore) ReadyOperations() []*models.QueuedOperation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []*models.QueuedOperation
	for id, op := range s.ops {
		if op.Status != models.StatusPending && op.Status != models.StatusRetrying {
			continue
		}
		if s.blockedLocked(id) {
			continue
		}
		ready = append(ready, op.Clone())
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return s.seq[ready[i].ID.String()] < s.seq[ready[j].ID.String()]
	})
	return ready
}

// ExecutionOrder returns a full topological order over the dependency graph,
// or a DEPENDENCY_CYCLE error with no partial order.
func (s *OperationStore) ExecutionOrder() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.ExecutionOrder()
}

// AddDependency declares that from must wait for to. Returns false and
// changes nothing if the edge would create a cycle.
func (s *OperationStore) AddDependency(fromID, toID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.graph.AddDependency(fromID, toID) {
		return false
	}
	if op, ok := s.ops[fromID]; ok {
		found := false
		for _, dep := range op.DependsOn {
			if dep == toID {
				found = true
				break
			}
		}
		if !found {
			op.DependsOn = append(op.DependsOn, toID)
			if err := s.saveLocked(op); err != nil {
				logging.Error("Failed to persist dependency", err,
					map[string]interface{}{"operation_id": fromID})
			}
		}
	}
	return true
}

// Begin marks a ready operation IN_PROGRESS before its attempt starts.
func (s *OperationStore) Begin(id string) error {
	s.mu.Lock()

	op, ok := s.ops[id]
	if !ok {
		s.mu.Unlock()
		return errors.New(errors.ErrOperationNotFound, "operation not found: "+id)
	}
	if op.Status != models.StatusPending && op.Status != models.StatusRetrying {
		s.mu.Unlock()
		return errors.New(errors.ErrInvalid, "operation is not eligible to start: "+string(op.Status))
	}

	op.Status = models.StatusInProgress
	op.LastAttemptAt = time.Now().Unix()
	if err := s.saveLocked(op); err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot := op.Clone()
	s.mu.Unlock()

	s.emit(Event{Type: EventStarted, Operation: snapshot})
	return nil
}

// Release reverts an IN_PROGRESS operation to PENDING after a cooperative
// cancellation; the operation stays queued for the next wake-up.
func (s *OperationStore) Release(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return errors.New(errors.ErrOperationNotFound, "operation not found: "+id)
	}
	if op.Status != models.StatusInProgress {
		return nil
	}
	op.Status = models.StatusPending
	return s.saveLocked(op)
}

// MarkComplete finishes an operation and clears every edge pointing at it,
// unblocking downstream operations.
func (s *OperationStore) MarkComplete(id string) error {
	s.mu.Lock()

	op, ok := s.ops[id]
	if !ok {
		s.mu.Unlock()
		return errors.New(errors.ErrOperationNotFound, "operation not found: "+id)
	}

	op.Status = models.StatusCompleted
	s.graph.CompleteNode(id)
	s.deleteLocked(id)
	snapshot := op.Clone()
	s.mu.Unlock()

	logging.Info("Operation completed", map[string]interface{}{
		"operation_id": id,
		"type":         snapshot.OperationType,
	})
	s.emit(Event{Type: EventCompleted, Operation: snapshot})
	return nil
}

// MarkFailed terminally fails an operation. The operation stays queryable so
// UI layers can expose a retry affordance.
func (s *OperationStore) MarkFailed(id string, cause error) error {
	s.mu.Lock()
	op, ok := s.ops[id]
	if !ok {
		s.mu.Unlock()
		return errors.New(errors.ErrOperationNotFound, "operation not found: "+id)
	}
	s.failLocked(op, cause)
	snapshot := op.Clone()
	s.mu.Unlock()

	s.emit(Event{Type: EventFailed, Operation: snapshot, Error: snapshot.LastError})
	return nil
}

// failLocked applies terminal failure state under the lock.
func (s *OperationStore) failLocked(op *models.QueuedOperation, cause error) {
	op.Status = models.StatusFailed
	if cause != nil {
		op.LastError = cause.Error()
	}
	op.LastAttemptAt = time.Now().Unix()
	if err := s.saveLocked(op); err != nil {
		logging.Error("Failed to persist failed operation", err,
			map[string]interface{}{"operation_id": op.ID.String()})
	}
	logging.ErrorWithCode("Operation failed permanently", string(errors.CodeOf(cause)), cause,
		map[string]interface{}{
			"operation_id": op.ID.String(),
			"type":         op.OperationType,
			"retry_count":  op.RetryCount,
		})
}

// Retry records a failed attempt. The retry policy decides between
// requeue-with-backoff (RETRYING) and terminal failure (FAILED).
func (s *OperationStore) Retry(id string, cause error) error {
	code := errors.CodeOf(cause)

	s.mu.Lock()
	op, ok := s.ops[id]
	if !ok {
		s.mu.Unlock()
		return errors.New(errors.ErrOperationNotFound, "operation not found: "+id)
	}

	if !retry.ShouldRetry(op.RetryCount, op.MaxRetries, code) {
		s.failLocked(op, cause)
		snapshot := op.Clone()
		s.mu.Unlock()
		s.emit(Event{Type: EventFailed, Operation: snapshot, Error: snapshot.LastError})
		return nil
	}

	now := time.Now()
	op.RetryCount++
	op.Status = models.StatusRetrying
	if cause != nil {
		op.LastError = cause.Error()
	}
	op.LastAttemptAt = now.Unix()
	delay := retry.Delay(op.RetryCount, s.backoff)
	op.NextRetryAt = now.Add(delay).Unix()
	if err := s.saveLocked(op); err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot := op.Clone()
	s.mu.Unlock()

	logging.Warn("Operation scheduled for retry", map[string]interface{}{
		"operation_id": id,
		"retry_count":  snapshot.RetryCount,
		"max_retries":  snapshot.MaxRetries,
		"delay":        delay.String(),
		"error_code":   string(code),
	})
	s.emit(Event{Type: EventRetrying, Operation: snapshot, Error: snapshot.LastError})
	return nil
}

// Cancel removes a not-yet-started operation from scheduling. In-flight
// operations must be cancelled cooperatively and then Released or removed.
func (s *OperationStore) Cancel(id string) error {
	s.mu.Lock()

	op, ok := s.ops[id]
	if !ok {
		s.mu.Unlock()
		return errors.New(errors.ErrOperationNotFound, "operation not found: "+id)
	}
	if op.Status == models.StatusInProgress {
		s.mu.Unlock()
		return errors.New(errors.ErrInvalid, "operation is in progress; cancel its context instead")
	}

	op.Status = models.StatusCancelled
	s.graph.RemoveNode(id)
	s.deleteLocked(id)
	delete(s.ops, id)
	snapshot := op.Clone()
	s.mu.Unlock()

	s.emit(Event{Type: EventCancelled, Operation: snapshot})
	return nil
}

// Remove deletes an operation regardless of state.
func (s *OperationStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ops[id]; !ok {
		return errors.New(errors.ErrOperationNotFound, "operation not found: "+id)
	}
	s.graph.RemoveNode(id)
	s.deleteLocked(id)
	delete(s.ops, id)
	return nil
}

// RetryAll resets every FAILED operation back to PENDING with a fresh retry
// budget; the UI "retry" affordance calls this.
func (s *OperationStore) RetryAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	now := time.Now().Unix()
	for _, op := range s.ops {
		if op.Status != models.StatusFailed {
			continue
		}
		op.Status = models.StatusPending
		op.RetryCount = 0
		op.LastError = ""
		op.NextRetryAt = now
		if err := s.saveLocked(op); err != nil {
			logging.Error("Failed to persist retried operation", err,
				map[string]interface{}{"operation_id": op.ID.String()})
		}
		count++
	}
	return count
}

// Clear removes every operation and all dependency edges.
func (s *OperationStore) Clear() {
	s.mu.Lock()
	for id := range s.ops {
		s.deleteLocked(id)
	}
	s.ops = make(map[string]*models.QueuedOperation)
	s.seq = make(map[string]int)
	s.graph = NewDependencyGraph()
	s.mu.Unlock()

	logging.Info("Offline queue cleared", nil)
	s.emit(Event{Type: EventCleared})
}

// snapshotLocked clones an operation for callers, surfacing BLOCKED for
// schedulable operations waiting on an unresolved dependency. The stored
// status stays PENDING or RETRYING; only the snapshot reports BLOCKED.
func (s *OperationStore) snapshotLocked(op *models.QueuedOperation) *models.QueuedOperation {
	out := op.Clone()
	if (op.Status == models.StatusPending || op.Status == models.StatusRetrying) &&
		s.blockedLocked(op.ID.String()) {
		out.Status = models.StatusBlocked
	}
	return out
}

// Get returns a snapshot of a single operation.
func (s *OperationStore) Get(id string) (*models.QueuedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return nil, errors.New(errors.ErrOperationNotFound, "operation not found: "+id)
	}
	return s.snapshotLocked(op), nil
}

// List returns snapshots of all operations in enqueue order.
func (s *OperationStore) List() []*models.QueuedOperation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.QueuedOperation, 0, len(s.ops))
	for _, op := range s.ops {
		out = append(out, s.snapshotLocked(op))
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].ID.String()] < s.seq[out[j].ID.String()]
	})
	return out
}

// Stats returns operation counts per status.
func (s *OperationStore) Stats() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := map[string]int{"total": 0}
	for _, op := range s.ops {
		stats["total"]++
		stats[string(s.snapshotLocked(op).Status)]++
	}
	return stats
}
