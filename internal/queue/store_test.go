// Package queue tests for the pending-operation store and scheduler.
package queue

import (
	"testing"

	"github.com/plateshare/synckit/internal/errors"
	"github.com/plateshare/synckit/internal/models"
)

func newTestStore() *OperationStore {
	return NewOperationStore(Options{})
}

func newOp(id string, priority models.OperationPriority, deps ...string) *models.QueuedOperation {
	return &models.QueuedOperation{
		ID:            models.UUID(id),
		OperationType: "create_listing",
		EntityType:    "listing",
		Payload:       []byte(`{"title":"Apples"}`),
		Priority:      priority,
		DependsOn:     deps,
	}
}

// TestEnqueueDefaults verifies enqueue fills identity and retry defaults.
func TestEnqueueDefaults(t *testing.T) {
	s := newTestStore()

	op := &models.QueuedOperation{OperationType: "create_listing", EntityType: "listing"}
	if err := s.Enqueue(op); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	got, err := s.Get(op.ID.String())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID == "" || got.IdempotencyKey == "" {
		t.Error("expected id and idempotency key to be assigned")
	}
	if got.Status != models.StatusPending {
		t.Errorf("expected pending status, got %s", got.Status)
	}
	if got.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", got.MaxRetries)
	}
	if got.CreatedAt == 0 {
		t.Error("expected created_at to be set")
	}
}

// TestEnqueueReplaceInPlace verifies re-enqueueing the same id replaces the
// operation instead of duplicating it.
func TestEnqueueReplaceInPlace(t *testing.T) {
	s := newTestStore()

	if err := s.Enqueue(newOp("op1", models.PriorityNormal)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	replacement := newOp("op1", models.PriorityHigh)
	if err := s.Enqueue(replacement); err != nil {
		t.Fatalf("re-enqueue failed: %v", err)
	}

	if len(s.List()) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(s.List()))
	}
	got, _ := s.Get("op1")
	if got.Priority != models.PriorityHigh {
		t.Errorf("expected replacement priority high, got %s", got.Priority)
	}
}

// TestReadyOperationsDependencyGating reproduces the basic scheduling
// scenario: op2 depends on op1, so only op1 is ready until op1 completes.
func TestReadyOperationsDependencyGating(t *testing.T) {
	s := newTestStore()

	if err := s.Enqueue(newOp("op1", models.PriorityNormal)); err != nil {
		t.Fatalf("Enqueue op1 failed: %v", err)
	}
	if err := s.Enqueue(newOp("op2", models.PriorityHigh, "op1")); err != nil {
		t.Fatalf("Enqueue op2 failed: %v", err)
	}

	ready := s.ReadyOperations()
	if len(ready) != 1 || ready[0].ID != "op1" {
		t.Fatalf("expected only op1 ready, got %v", readyIDs(ready))
	}

	if err := s.MarkComplete("op1"); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}

	ready = s.ReadyOperations()
	if len(ready) != 1 || ready[0].ID != "op2" {
		t.Fatalf("expected only op2 ready after completion, got %v", readyIDs(ready))
	}
}

func readyIDs(ops []*models.QueuedOperation) []string {
	ids := make([]string, len(ops))
	for i, op := range ops {
		ids[i] = op.ID.String()
	}
	return ids
}

// TestReadyOperationsPriorityOrder verifies descending priority with FIFO
// tiebreak within a tier.
func TestReadyOperationsPriorityOrder(t *testing.T) {
	s := newTestStore()

	s.Enqueue(newOp("low", models.PriorityLow))
	s.Enqueue(newOp("normal-1", models.PriorityNormal))
	s.Enqueue(newOp("critical", models.PriorityCritical))
	s.Enqueue(newOp("normal-2", models.PriorityNormal))

	got := readyIDs(s.ReadyOperations())
	want := []string{"critical", "normal-1", "normal-2", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

// TestReadyOperationsMissingDependencyBlocks verifies depending on an id that
// was never enqueued blocks the operation permanently.
func TestReadyOperationsMissingDependencyBlocks(t *testing.T) {
	s := newTestStore()

	s.Enqueue(newOp("orphan", models.PriorityNormal, "ghost"))

	if ready := s.ReadyOperations(); len(ready) != 0 {
		t.Errorf("expected orphan blocked by missing dependency, got %v", readyIDs(ready))
	}
}

// TestEnqueueCycleRejected verifies a declared dependency closing a cycle
// fails the enqueue with a structural error.
func TestEnqueueCycleRejected(t *testing.T) {
	s := newTestStore()

	s.Enqueue(newOp("a", models.PriorityNormal))
	s.Enqueue(newOp("b", models.PriorityNormal, "a"))

	err := s.Enqueue(newOp("a", models.PriorityNormal, "b"))
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !errors.Is(err, errors.ErrDependencyCycle) {
		t.Errorf("expected DEPENDENCY_CYCLE, got %v", err)
	}
}

// TestEnqueueCycleKeepsPriorOperation verifies a rejected replace leaves the
// previously queued operation and its dependency edges in place.
func TestEnqueueCycleKeepsPriorOperation(t *testing.T) {
	s := newTestStore()

	s.Enqueue(newOp("a", models.PriorityNormal))
	s.Enqueue(newOp("b", models.PriorityNormal, "a"))
	s.Enqueue(newOp("c", models.PriorityNormal, "b"))

	// Replacing b with a dependency on c would close b->c->b.
	err := s.Enqueue(newOp("b", models.PriorityHigh, "c"))
	if !errors.Is(err, errors.ErrDependencyCycle) {
		t.Fatalf("expected DEPENDENCY_CYCLE, got %v", err)
	}

	// The original b survives untouched.
	got, err := s.Get("b")
	if err != nil {
		t.Fatalf("expected b still queued: %v", err)
	}
	if got.Priority != models.PriorityNormal {
		t.Errorf("expected original priority, got %s", got.Priority)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != "a" {
		t.Errorf("expected original dependency on a, got %v", got.DependsOn)
	}

	// Its edges still gate scheduling: only a is ready.
	ready := readyIDs(s.ReadyOperations())
	if len(ready) != 1 || ready[0] != "a" {
		t.Errorf("expected only a ready, got %v", ready)
	}
	s.MarkComplete("a")
	ready = readyIDs(s.ReadyOperations())
	if len(ready) != 1 || ready[0] != "b" {
		t.Errorf("expected b unblocked after a completes, got %v", ready)
	}
}

// TestEnqueueCapacity verifies a full queue rejects new operations while
// still allowing in-place replacement.
func TestEnqueueCapacity(t *testing.T) {
	s := NewOperationStore(Options{MaxQueued: 2})

	s.Enqueue(newOp("a", models.PriorityNormal))
	s.Enqueue(newOp("b", models.PriorityNormal))

	if err := s.Enqueue(newOp("c", models.PriorityNormal)); !errors.Is(err, errors.ErrQueueFull) {
		t.Fatalf("expected QUEUE_FULL, got %v", err)
	}
	if err := s.Enqueue(newOp("b", models.PriorityHigh)); err != nil {
		t.Fatalf("expected replacement allowed at capacity: %v", err)
	}

	// Completion frees a slot.
	s.MarkComplete("a")
	if err := s.Enqueue(newOp("c", models.PriorityNormal)); err != nil {
		t.Errorf("expected room after completion: %v", err)
	}
}

// TestSnapshotsReportBlocked verifies operations waiting on an unresolved
// dependency surface as blocked in snapshots and stats.
func TestSnapshotsReportBlocked(t *testing.T) {
	s := newTestStore()
	s.Enqueue(newOp("a", models.PriorityNormal))
	s.Enqueue(newOp("b", models.PriorityNormal, "a"))

	got, _ := s.Get("b")
	if got.Status != models.StatusBlocked {
		t.Fatalf("expected b blocked, got %s", got.Status)
	}
	stats := s.Stats()
	if stats["pending"] != 1 || stats["blocked"] != 1 {
		t.Errorf("unexpected stats %v", stats)
	}

	s.MarkComplete("a")
	got, _ = s.Get("b")
	if got.Status != models.StatusPending {
		t.Errorf("expected b pending after a completes, got %s", got.Status)
	}
}

// TestAddDependencyCycleRejected verifies the trial-insert cycle check.
func TestAddDependencyCycleRejected(t *testing.T) {
	s := newTestStore()

	s.Enqueue(newOp("a", models.PriorityNormal))
	s.Enqueue(newOp("b", models.PriorityNormal, "a"))

	if s.AddDependency("a", "b") {
		t.Fatal("expected a->b to be rejected as a cycle")
	}
	if !s.AddDependency("a", "c") {
		t.Fatal("expected a->c on a lazily created node to be accepted")
	}

	if _, err := s.ExecutionOrder(); err != nil {
		t.Errorf("expected DAG after rejected insert, got %v", err)
	}
}

// TestRetryTransitionsAndTerminalFailure walks an operation through retry
// exhaustion: two prior attempts, one retryable failure, then terminal.
func TestRetryTransitionsAndTerminalFailure(t *testing.T) {
	s := newTestStore()

	op := newOp("op1", models.PriorityNormal)
	op.RetryCount = 2
	s.Enqueue(op)

	if err := s.Retry("op1", errors.New(errors.ErrTimeout, "remote write timed out")); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	got, _ := s.Get("op1")
	if got.Status != models.StatusRetrying {
		t.Fatalf("expected retrying, got %s", got.Status)
	}
	if got.RetryCount != 3 {
		t.Fatalf("expected retry count 3, got %d", got.RetryCount)
	}
	if got.NextRetryAt == 0 || got.LastAttemptAt == 0 {
		t.Error("expected retry timestamps to be recorded")
	}

	// Count now equals max: the next failure is terminal.
	if err := s.Retry("op1", errors.New(errors.ErrTimeout, "remote write timed out")); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	got, _ = s.Get("op1")
	if got.Status != models.StatusFailed {
		t.Errorf("expected failed after exhausting retries, got %s", got.Status)
	}
}

// TestRetryNonRetryableFailsImmediately verifies non-retryable codes convert
// straight to terminal failure regardless of remaining attempts.
func TestRetryNonRetryableFailsImmediately(t *testing.T) {
	s := newTestStore()
	s.Enqueue(newOp("op1", models.PriorityNormal))

	if err := s.Retry("op1", errors.New(errors.ErrValidation, "title required")); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	got, _ := s.Get("op1")
	if got.Status != models.StatusFailed {
		t.Errorf("expected failed for validation error, got %s", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("expected retry count unchanged, got %d", got.RetryCount)
	}
}

// TestBeginAndRelease verifies the in-progress transition and the cooperative
// cancellation path back to pending.
func TestBeginAndRelease(t *testing.T) {
	s := newTestStore()
	s.Enqueue(newOp("op1", models.PriorityNormal))

	if err := s.Begin("op1"); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	got, _ := s.Get("op1")
	if got.Status != models.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", got.Status)
	}

	// In-flight operations cannot be cancelled outright.
	if err := s.Cancel("op1"); err == nil {
		t.Error("expected Cancel to refuse an in-progress operation")
	}

	if err := s.Release("op1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	got, _ = s.Get("op1")
	if got.Status != models.StatusPending {
		t.Errorf("expected pending after release, got %s", got.Status)
	}
}

// TestCancelRemovesOperation verifies cancelling a queued operation removes
// it from scheduling and the graph.
func TestCancelRemovesOperation(t *testing.T) {
	s := newTestStore()
	s.Enqueue(newOp("a", models.PriorityNormal))
	s.Enqueue(newOp("b", models.PriorityNormal, "a"))

	if err := s.Cancel("a"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if _, err := s.Get("a"); err == nil {
		t.Error("expected cancelled operation to be gone")
	}

	// b's edge to a went away with the node; b is ready again.
	ready := readyIDs(s.ReadyOperations())
	if len(ready) != 1 || ready[0] != "b" {
		t.Errorf("expected b ready after cancelling its dependency, got %v", ready)
	}
}

// TestLifecycleEvents verifies listeners see queue events in order.
func TestLifecycleEvents(t *testing.T) {
	s := newTestStore()

	var events []EventType
	s.Subscribe(func(ev Event) {
		events = append(events, ev.Type)
	})

	s.Enqueue(newOp("op1", models.PriorityNormal))
	s.Begin("op1")
	s.MarkComplete("op1")
	s.Clear()

	want := []EventType{EventQueued, EventStarted, EventCompleted, EventCleared}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], events[i])
		}
	}
}

// TestRetryAllResetsFailed verifies the UI retry affordance resets failed
// operations with a fresh budget.
func TestRetryAllResetsFailed(t *testing.T) {
	s := newTestStore()
	s.Enqueue(newOp("op1", models.PriorityNormal))
	s.MarkFailed("op1", errors.New(errors.ErrServer, "server 503"))

	if n := s.RetryAll(); n != 1 {
		t.Fatalf("expected 1 reset operation, got %d", n)
	}

	got, _ := s.Get("op1")
	if got.Status != models.StatusPending || got.RetryCount != 0 || got.LastError != "" {
		t.Errorf("expected clean pending operation, got %+v", got)
	}
}

// TestStats verifies per-status counts.
func TestStats(t *testing.T) {
	s := newTestStore()
	s.Enqueue(newOp("a", models.PriorityNormal))
	s.Enqueue(newOp("b", models.PriorityNormal))
	s.MarkFailed("b", errors.New(errors.ErrServer, "server 500"))

	stats := s.Stats()
	if stats["total"] != 2 {
		t.Errorf("expected total 2, got %d", stats["total"])
	}
	if stats["pending"] != 1 || stats["failed"] != 1 {
		t.Errorf("unexpected stats %v", stats)
	}
}

// memoryPersistence records persistence calls for restart tests.
type memoryPersistence struct {
	rows map[string]*models.QueuedOperation
}

func newMemoryPersistence() *memoryPersistence {
	return &memoryPersistence{rows: make(map[string]*models.QueuedOperation)}
}

func (m *memoryPersistence) SaveOperation(op *models.QueuedOperation) error {
	m.rows[op.ID.String()] = op.Clone()
	return nil
}

func (m *memoryPersistence) DeleteOperation(id string) error {
	delete(m.rows, id)
	return nil
}

func (m *memoryPersistence) Operations() ([]*models.QueuedOperation, error) {
	out := make([]*models.QueuedOperation, 0, len(m.rows))
	for _, op := range m.rows {
		out = append(out, op.Clone())
	}
	return out, nil
}

// TestLoadRestoresPendingOperations verifies a restarted queue restores
// pending work, resets interrupted attempts, and drops completed rows.
func TestLoadRestoresPendingOperations(t *testing.T) {
	persist := newMemoryPersistence()

	s1 := NewOperationStore(Options{Persistence: persist})
	s1.Enqueue(newOp("a", models.PriorityNormal))
	s1.Enqueue(newOp("b", models.PriorityNormal, "a"))
	s1.Begin("a")

	s2 := NewOperationStore(Options{Persistence: persist})
	if err := s2.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	a, err := s2.Get("a")
	if err != nil {
		t.Fatalf("expected a restored: %v", err)
	}
	if a.Status != models.StatusPending {
		t.Errorf("expected interrupted attempt reset to pending, got %s", a.Status)
	}

	ready := readyIDs(s2.ReadyOperations())
	if len(ready) != 1 || ready[0] != "a" {
		t.Errorf("expected dependency gating restored, got %v", ready)
	}
}
