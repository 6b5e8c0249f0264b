package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/Convoy/internal/config"
	"github.com/shaiso/Convoy/internal/domain"
	"github.com/shaiso/Convoy/internal/mq"
	"github.com/shaiso/Convoy/internal/repo"
)

// --- Fakes ---

// fakeStore — in-memory RunStore с семантикой условных переходов.
type fakeStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*domain.Run
}

func newFakeStore(runs ...domain.Run) *fakeStore {
	s := &fakeStore{runs: make(map[uuid.UUID]*domain.Run)}
	for i := range runs {
		run := runs[i]
		s.runs[run.ID] = &run
	}
	return s
}

func (s *fakeStore) ListQueued(_ context.Context, after *repo.QueueCursor, limit int) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queued []domain.Run
	for _, run := range s.runs {
		if run.Status != domain.RunStatusQueued {
			continue
		}
		if after != nil && !afterCursor(run, after) {
			continue
		}
		queued = append(queued, *run)
	}
	sort.Slice(queued, func(i, j int) bool {
		if queued[i].Priority != queued[j].Priority {
			return queued[i].Priority > queued[j].Priority
		}
		return queued[i].EnqueuedSeq < queued[j].EnqueuedSeq
	})
	if limit > 0 && len(queued) > limit {
		queued = queued[:limit]
	}
	return queued, nil
}

// afterCursor — run находится строго позже позиции в порядке
// (priority DESC, enqueued_seq ASC).
func afterCursor(run *domain.Run, c *repo.QueueCursor) bool {
	if run.Priority != c.Priority {
		return run.Priority < c.Priority
	}
	return run.EnqueuedSeq > c.EnqueuedSeq
}

func (s *fakeStore) ListInProgress(_ context.Context) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inProgress []domain.Run
	for _, run := range s.runs {
		if run.Status.IsInProgress() {
			inProgress = append(inProgress, *run)
		}
	}
	return inProgress, nil
}

func (s *fakeStore) transition(id uuid.UUID, from, to domain.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return repo.ErrNotFound
	}
	if run.Status != from {
		return repo.ErrConflict
	}
	run.Status = to
	return nil
}

func (s *fakeStore) Claim(_ context.Context, id uuid.UUID) error {
	return s.transition(id, domain.RunStatusQueued, domain.RunStatusLaunching)
}

func (s *fakeStore) MarkStarted(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return repo.ErrNotFound
	}
	if run.Status != domain.RunStatusLaunching {
		return repo.ErrConflict
	}
	run.MarkStarted()
	return nil
}

func (s *fakeStore) MarkFailedToLaunch(_ context.Context, id uuid.UUID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return repo.ErrNotFound
	}
	if run.Status != domain.RunStatusLaunching {
		return repo.ErrConflict
	}
	run.MarkFailedToLaunch(errMsg)
	return nil
}

func (s *fakeStore) MarkFinished(_ context.Context, id uuid.UUID, status domain.RunStatus, errMsg string) error {
	if err := s.transition(id, domain.RunStatusStarted, status); err != nil {
		return err
	}
	s.mu.Lock()
	s.runs[id].Error = errMsg
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) status(id uuid.UUID) domain.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id].Status
}

func (s *fakeStore) countByStatus(status domain.RunStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, run := range s.runs {
		if run.Status == status {
			count++
		}
	}
	return count
}

// fakeLauncher — Launcher с настраиваемыми отказами.
type fakeLauncher struct {
	mu       sync.Mutex
	launched []uuid.UUID
	failIDs  map[uuid.UUID]bool
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{failIDs: make(map[uuid.UUID]bool)}
}

func (l *fakeLauncher) Launch(_ context.Context, run *domain.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failIDs[run.ID] {
		return errors.New("launcher unavailable")
	}
	l.launched = append(l.launched, run.ID)
	return nil
}

func (l *fakeLauncher) launchOrder() []uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uuid.UUID(nil), l.launched...)
}

func newTestDequeuer(store *fakeStore, launcher *fakeLauncher, concurrency config.Concurrency) *Dequeuer {
	cfg := config.Default()
	cfg.Concurrency = concurrency
	return NewDequeuer(DequeuerConfig{
		Store:    store,
		Launcher: launcher,
		Config:   cfg,
	})
}

// --- Tick Tests ---

func TestDequeuer_Tick_DrainsQueue(t *testing.T) {
	runs := []domain.Run{
		queuedRun(0, 1, nil),
		queuedRun(0, 2, nil),
		queuedRun(0, 3, nil),
	}
	store := newFakeStore(runs...)
	launcher := newFakeLauncher()
	d := newTestDequeuer(store, launcher, config.Concurrency{})

	launched := d.Tick(context.Background())

	if launched != 3 {
		t.Fatalf("expected 3 launched, got %d", launched)
	}
	for _, run := range runs {
		if store.status(run.ID) != domain.RunStatusStarted {
			t.Errorf("run %s should be STARTED, got %s", run.ID, store.status(run.ID))
		}
	}
}

func TestDequeuer_Tick_RespectsGlobalLimit(t *testing.T) {
	store := newFakeStore(
		queuedRun(0, 1, nil),
		queuedRun(0, 2, nil),
		queuedRun(0, 3, nil),
	)
	launcher := newFakeLauncher()
	d := newTestDequeuer(store, launcher, config.Concurrency{MaxConcurrentRuns: intPtr(2)})

	launched := d.Tick(context.Background())

	if launched != 2 {
		t.Fatalf("expected 2 launched under global limit, got %d", launched)
	}
	if store.countByStatus(domain.RunStatusStarted) != 2 {
		t.Errorf("expected 2 STARTED, got %d", store.countByStatus(domain.RunStatusStarted))
	}
	if store.countByStatus(domain.RunStatusQueued) != 1 {
		t.Errorf("expected 1 still QUEUED, got %d", store.countByStatus(domain.RunStatusQueued))
	}

	// Повторный тик без освобождения слотов ничего не запускает
	if launched := d.Tick(context.Background()); launched != 0 {
		t.Errorf("second tick should launch nothing, got %d", launched)
	}
}

func TestDequeuer_Tick_RespectsTagLimitWithinCycle(t *testing.T) {
	// Оба runs с одним тегом приходят в одном цикле: лимит 1
	// должен сработать без перечитывания БД между запусками
	store := newFakeStore(
		queuedRun(0, 1, map[string]string{"foo": "bar"}),
		queuedRun(0, 2, map[string]string{"foo": "bar"}),
	)
	launcher := newFakeLauncher()
	d := newTestDequeuer(store, launcher, config.Concurrency{
		TagConcurrencyLimits: []config.TagLimit{{Key: "foo", Limit: 1}},
	})

	if launched := d.Tick(context.Background()); launched != 1 {
		t.Fatalf("expected 1 launched within cycle, got %d", launched)
	}
	if store.countByStatus(domain.RunStatusQueued) != 1 {
		t.Errorf("second tagged run should stay QUEUED")
	}
}

func TestDequeuer_Tick_PagesPastBlockedBatch(t *testing.T) {
	// batch_size=1: первую страницу целиком занимает заблокированный run.
	// Незаблокированный run за границей страницы не должен голодать.
	blocked := queuedRun(0, 1, map[string]string{"foo": "bar"})
	unblocked := queuedRun(0, 2, nil)
	holder := domain.Run{
		ID:     uuid.New(),
		Tags:   map[string]string{"foo": "bar"},
		Status: domain.RunStatusStarted,
	}
	store := newFakeStore(blocked, unblocked, holder)
	launcher := newFakeLauncher()

	cfg := config.Default()
	cfg.BatchSize = 1
	cfg.Concurrency = config.Concurrency{
		TagConcurrencyLimits: []config.TagLimit{{Key: "foo", Limit: 1}},
	}
	d := NewDequeuer(DequeuerConfig{Store: store, Launcher: launcher, Config: cfg})

	if launched := d.Tick(context.Background()); launched != 1 {
		t.Fatalf("expected run beyond the blocked page to launch, got %d", launched)
	}
	if store.status(unblocked.ID) != domain.RunStatusStarted {
		t.Errorf("unblocked run should be STARTED, got %s", store.status(unblocked.ID))
	}
	if store.status(blocked.ID) != domain.RunStatusQueued {
		t.Errorf("blocked run should stay QUEUED, got %s", store.status(blocked.ID))
	}
}

func TestDequeuer_Tick_GlobalLimitStopsPaging(t *testing.T) {
	// Исчерпанный глобальный лимит не обходится чтением следующих страниц
	store := newFakeStore(
		queuedRun(0, 1, nil),
		queuedRun(0, 2, nil),
		startedRun(nil),
	)
	launcher := newFakeLauncher()

	cfg := config.Default()
	cfg.BatchSize = 1
	cfg.Concurrency = config.Concurrency{MaxConcurrentRuns: intPtr(1)}
	d := NewDequeuer(DequeuerConfig{Store: store, Launcher: launcher, Config: cfg})

	if launched := d.Tick(context.Background()); launched != 0 {
		t.Fatalf("expected no launches at the global limit, got %d", launched)
	}
	if store.countByStatus(domain.RunStatusQueued) != 2 {
		t.Errorf("both runs should stay QUEUED")
	}
}

func TestDequeuer_Tick_LaunchOrder(t *testing.T) {
	high := queuedRun(10, 3, nil)
	early := queuedRun(0, 1, nil)
	late := queuedRun(0, 2, nil)
	store := newFakeStore(high, early, late)
	launcher := newFakeLauncher()
	d := newTestDequeuer(store, launcher, config.Concurrency{})

	d.Tick(context.Background())

	order := launcher.launchOrder()
	expected := []uuid.UUID{high.ID, early.ID, late.ID}
	if len(order) != len(expected) {
		t.Fatalf("expected %d launches, got %d", len(expected), len(order))
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Errorf("launch %d: expected %s, got %s", i, expected[i], order[i])
		}
	}
}

func TestDequeuer_Tick_LaunchFailureIsIsolated(t *testing.T) {
	failing := queuedRun(10, 1, nil)
	healthy := queuedRun(0, 2, nil)
	store := newFakeStore(failing, healthy)
	launcher := newFakeLauncher()
	launcher.failIDs[failing.ID] = true
	d := newTestDequeuer(store, launcher, config.Concurrency{})

	launched := d.Tick(context.Background())

	if launched != 1 {
		t.Fatalf("expected 1 launched, got %d", launched)
	}
	if store.status(failing.ID) != domain.RunStatusFailedToLaunch {
		t.Errorf("failing run should be FAILED_TO_LAUNCH, got %s", store.status(failing.ID))
	}
	if store.status(healthy.ID) != domain.RunStatusStarted {
		t.Errorf("healthy run should be STARTED, got %s", store.status(healthy.ID))
	}

	// Автоматический retry не выполняется
	if launched := d.Tick(context.Background()); launched != 0 {
		t.Errorf("failed run must not be retried, got %d launches", launched)
	}
}

func TestDequeuer_Tick_LostClaimIsSkipped(t *testing.T) {
	contested := queuedRun(10, 1, nil)
	free := queuedRun(0, 2, nil)
	store := newFakeStore(contested, free)

	// Другой dequeuer успел захватить run до нашего цикла
	if err := store.Claim(context.Background(), contested.ID); err != nil {
		t.Fatalf("setup claim failed: %v", err)
	}

	launcher := newFakeLauncher()
	d := newTestDequeuer(store, launcher, config.Concurrency{})

	// contested уже LAUNCHING и занимает слот; запускается только free
	launched := d.Tick(context.Background())
	if launched != 1 {
		t.Fatalf("expected 1 launched, got %d", launched)
	}
	if store.status(free.ID) != domain.RunStatusStarted {
		t.Errorf("free run should be STARTED")
	}
	if store.status(contested.ID) != domain.RunStatusLaunching {
		t.Errorf("contested run must not be double-claimed, got %s", store.status(contested.ID))
	}
}

// --- Finish event Tests ---

func finishedDelivery(runID uuid.UUID, status domain.RunStatus, errMsg string) *mq.Delivery {
	return &mq.Delivery{
		Message: mq.Message{
			ID:   uuid.New().String(),
			Type: mq.MessageTypeRunFinished,
			Payload: mq.RunFinishedPayload{
				RunID:  runID,
				Status: string(status),
				Error:  errMsg,
			},
		},
	}
}

func TestDequeuer_RunFinished_FreesSlot(t *testing.T) {
	blocked := queuedRun(0, 2, map[string]string{"foo": "bar"})
	running := domain.Run{
		ID:     uuid.New(),
		Tags:   map[string]string{"foo": "bar"},
		Status: domain.RunStatusStarted,
	}
	store := newFakeStore(blocked, running)
	launcher := newFakeLauncher()
	d := newTestDequeuer(store, launcher, config.Concurrency{
		TagConcurrencyLimits: []config.TagLimit{{Key: "foo", Limit: 1}},
	})

	// Слот занят — blocked ждёт
	if launched := d.Tick(context.Background()); launched != 0 {
		t.Fatalf("expected 0 launches while slot is held, got %d", launched)
	}

	// Движок сообщил о завершении
	if err := d.handleRunFinished(context.Background(), finishedDelivery(running.ID, domain.RunStatusSucceeded, "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.status(running.ID) != domain.RunStatusSucceeded {
		t.Errorf("finished run should be SUCCEEDED, got %s", store.status(running.ID))
	}

	// Слот освободился — blocked запускается
	if launched := d.Tick(context.Background()); launched != 1 {
		t.Fatalf("expected blocked run to launch after slot freed, got %d", launched)
	}
}

func TestDequeuer_RunFinished_StaleEventIsNoop(t *testing.T) {
	run := domain.Run{ID: uuid.New(), Status: domain.RunStatusSucceeded}
	store := newFakeStore(run)
	d := newTestDequeuer(store, newFakeLauncher(), config.Concurrency{})

	// Дубликат события для уже завершённого run — не ошибка
	if err := d.handleRunFinished(context.Background(), finishedDelivery(run.ID, domain.RunStatusSucceeded, "")); err != nil {
		t.Errorf("duplicate finish event should be a no-op, got %v", err)
	}
}

func TestDequeuer_RunFinished_UnknownStatus(t *testing.T) {
	run := domain.Run{ID: uuid.New(), Status: domain.RunStatusStarted}
	store := newFakeStore(run)
	d := newTestDequeuer(store, newFakeLauncher(), config.Concurrency{})

	err := d.handleRunFinished(context.Background(), finishedDelivery(run.ID, "EXPLODED", ""))
	if !errors.Is(err, ErrUnknownFinishStatus) {
		t.Errorf("expected ErrUnknownFinishStatus, got %v", err)
	}
	if store.status(run.ID) != domain.RunStatusStarted {
		t.Errorf("run status must be untouched on bad event")
	}
}

func TestDequeuer_RunFinished_RecordsError(t *testing.T) {
	run := domain.Run{ID: uuid.New(), Status: domain.RunStatusStarted}
	store := newFakeStore(run)
	d := newTestDequeuer(store, newFakeLauncher(), config.Concurrency{})

	if err := d.handleRunFinished(context.Background(), finishedDelivery(run.ID, domain.RunStatusFailed, "step 3 exploded")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store.mu.Lock()
	stored := store.runs[run.ID]
	store.mu.Unlock()
	if stored.Status != domain.RunStatusFailed {
		t.Errorf("expected FAILED, got %s", stored.Status)
	}
	if stored.Error != "step 3 exploded" {
		t.Errorf("error message should be recorded, got %q", stored.Error)
	}
}

// Полный сценарий из документации через Dequeuer:
// правило {key: foo, limit: 1}, очередь A (foo:bar), B (foo:bar), C.
// Порядок запуска: A, C, затем B после завершения A.
func TestDequeuer_FooBarScenario(t *testing.T) {
	runA := queuedRun(0, 1, map[string]string{"foo": "bar"})
	runB := queuedRun(0, 2, map[string]string{"foo": "bar"})
	runC := queuedRun(0, 3, nil)
	store := newFakeStore(runA, runB, runC)
	launcher := newFakeLauncher()
	d := newTestDequeuer(store, launcher, config.Concurrency{
		TagConcurrencyLimits: []config.TagLimit{{Key: "foo", Limit: 1}},
	})

	// Первый цикл: A (FIFO), затем C; B заблокирован
	if launched := d.Tick(context.Background()); launched != 2 {
		t.Fatalf("expected A and C to launch, got %d", launched)
	}
	if store.status(runB.ID) != domain.RunStatusQueued {
		t.Fatal("B should stay queued behind the foo limit")
	}

	// A завершился — B запускается
	if err := d.handleRunFinished(context.Background(), finishedDelivery(runA.ID, domain.RunStatusSucceeded, "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if launched := d.Tick(context.Background()); launched != 1 {
		t.Fatalf("expected B to launch after A finished, got %d", launched)
	}

	order := launcher.launchOrder()
	want := []uuid.UUID{runA.ID, runC.ID, runB.ID}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("launch order mismatch at %d: %s", i, fmt.Sprint(order))
		}
	}
}
