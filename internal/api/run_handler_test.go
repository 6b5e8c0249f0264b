package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/Convoy/internal/config"
	"github.com/shaiso/Convoy/internal/domain"
	"github.com/shaiso/Convoy/internal/repo"
)

// fakeRunStore — in-memory RunStore с семантикой репозитория.
type fakeRunStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*domain.Run
}

func newFakeRunStore(runs ...domain.Run) *fakeRunStore {
	s := &fakeRunStore{runs: make(map[uuid.UUID]*domain.Run)}
	for i := range runs {
		run := runs[i]
		s.runs[run.ID] = &run
	}
	return s
}

func (s *fakeRunStore) Create(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *fakeRunStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	c := *run
	return &c, nil
}

func (s *fakeRunStore) GetByIdempotencyKey(_ context.Context, key string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, run := range s.runs {
		if run.IdempotencyKey == key {
			c := *run
			return &c, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (s *fakeRunStore) List(_ context.Context, _ repo.RunFilter) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Run
	for _, run := range s.runs {
		out = append(out, *run)
	}
	return out, nil
}

// CancelQueued идемпотентен, как и SQL-версия: run не в QUEUED — no-op.
func (s *fakeRunStore) CancelQueued(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return repo.ErrNotFound
	}
	if run.Status == domain.RunStatusQueued {
		run.MarkCanceled()
	}
	return nil
}

func (s *fakeRunStore) CountByStatus(_ context.Context) (map[domain.RunStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[domain.RunStatus]int)
	for _, run := range s.runs {
		counts[run.Status]++
	}
	return counts, nil
}

func newTestServer(t *testing.T, store *fakeRunStore) *httptest.Server {
	t.Helper()

	h := NewHandler(Config{
		RunRepo:     store,
		QueueConfig: config.Default(),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func decodeRun(t *testing.T, body io.Reader) RunResponse {
	t.Helper()

	var envelope struct {
		Data RunResponse `json:"data"`
	}
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return envelope.Data
}

func postCancel(t *testing.T, srv *httptest.Server, id uuid.UUID) *http.Response {
	t.Helper()

	resp, err := http.Post(srv.URL+"/api/v1/runs/"+id.String()+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("cancel request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// --- CancelRun Tests ---

func TestCancelRun_Queued(t *testing.T) {
	run := domain.Run{ID: uuid.New(), Status: domain.RunStatusQueued}
	store := newFakeRunStore(run)
	srv := newTestServer(t, store)

	resp := postCancel(t, srv, run.ID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := decodeRun(t, resp.Body); got.Status != string(domain.RunStatusCanceled) {
		t.Errorf("expected CANCELED, got %s", got.Status)
	}
}

func TestCancelRun_AlreadyCanceledIsNoop(t *testing.T) {
	run := domain.Run{ID: uuid.New(), Status: domain.RunStatusCanceled}
	store := newFakeRunStore(run)
	srv := newTestServer(t, store)

	resp := postCancel(t, srv, run.ID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("repeat cancel must not be an error, got %d", resp.StatusCode)
	}
	if got := decodeRun(t, resp.Body); got.Status != string(domain.RunStatusCanceled) {
		t.Errorf("expected CANCELED, got %s", got.Status)
	}
}

func TestCancelRun_AlreadyStartedIsNoop(t *testing.T) {
	run := domain.Run{ID: uuid.New(), Status: domain.RunStatusStarted}
	store := newFakeRunStore(run)
	srv := newTestServer(t, store)

	resp := postCancel(t, srv, run.ID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel of a started run must not be an error, got %d", resp.StatusCode)
	}
	if got := decodeRun(t, resp.Body); got.Status != string(domain.RunStatusStarted) {
		t.Errorf("started run must stay STARTED, got %s", got.Status)
	}
	if store.runs[run.ID].Status != domain.RunStatusStarted {
		t.Error("cancel must not touch a started run in the store")
	}
}

func TestCancelRun_UnknownID(t *testing.T) {
	srv := newTestServer(t, newFakeRunStore())

	resp := postCancel(t, srv, uuid.New())
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown run, got %d", resp.StatusCode)
	}
}

// --- SubmitRun Tests ---

func TestSubmitRun_MalformedPriorityRejected(t *testing.T) {
	srv := newTestServer(t, newFakeRunStore())

	body := strings.NewReader(`{"tags": {"` + domain.PriorityTag + `": "high"}}`)
	resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json", body)
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed priority tag, got %d", resp.StatusCode)
	}
}

func TestSubmitRun_IdempotencyKeyReplay(t *testing.T) {
	existing := domain.Run{
		ID:             uuid.New(),
		Status:         domain.RunStatusStarted,
		IdempotencyKey: "dedupe-1",
	}
	store := newFakeRunStore(existing)
	srv := newTestServer(t, store)

	body := strings.NewReader(`{"idempotency_key": "dedupe-1"}`)
	resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json", body)
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 replay, got %d", resp.StatusCode)
	}
	if got := decodeRun(t, resp.Body); got.ID != existing.ID {
		t.Errorf("expected existing run %s, got %s", existing.ID, got.ID)
	}
}
