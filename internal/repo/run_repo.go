package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Convoy/internal/domain"
)

// RunRepo — репозиторий для работы с runs.
//
// Переходы статусов реализованы условными UPDATE'ами:
// WHERE id = $1 AND status = $from. Ноль обновлённых строк —
// ErrConflict (или ErrNotFound, если записи нет вовсе).
// Это единственная защита от двойного захвата run двумя dequeuer'ами.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create создаёт новый run в статусе QUEUED.
// enqueued_seq назначается БД (bigserial) и возвращается в run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	tagsJSON, err := json.Marshal(run.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	query := `
		INSERT INTO runs (id, tags, priority, status, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING enqueued_seq
	`
	err = r.pool.QueryRow(ctx, query,
		run.ID,
		tagsJSON,
		run.Priority,
		run.Status,
		nullString(run.IdempotencyKey),
		run.CreatedAt,
	).Scan(&run.EnqueuedSeq)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := runSelect + ` WHERE id = $1`
	return r.scanRun(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey возвращает run по ключу идемпотентности.
func (r *RunRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error) {
	query := runSelect + ` WHERE idempotency_key = $1`
	return r.scanRun(r.pool.QueryRow(ctx, query, key))
}

// List возвращает список runs с фильтрацией.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := runSelect + `
		WHERE ($1::text IS NULL OR status = $1::run_status)
		  AND ($2::text IS NULL OR tags ? $2)
		  AND ($3::text IS NULL OR tags->>$2 = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(string(filter.Status)),
		nullString(filter.TagKey),
		nullString(filter.TagValue),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	return r.collectRuns(rows)
}

// QueueCursor — позиция в порядке выбора (priority DESC, enqueued_seq ASC).
// Страница, целиком занятая заблокированными runs, не должна скрывать
// незаблокированные runs за её границей, поэтому очередь читается
// keyset-пагинацией, а не повторным чтением головы.
type QueueCursor struct {
	Priority    int
	EnqueuedSeq int64
}

// ListQueued возвращает runs в статусе QUEUED в порядке выбора:
// сначала приоритет, затем FIFO по enqueued_seq.
// after != nil — страница строго после данной позиции.
func (r *RunRepo) ListQueued(ctx context.Context, after *QueueCursor, limit int) ([]domain.Run, error) {
	query := runSelect + `
		WHERE status = 'QUEUED'
		ORDER BY priority DESC, enqueued_seq ASC
		LIMIT $1
	`
	args := []any{limit}

	if after != nil {
		query = runSelect + `
			WHERE status = 'QUEUED'
			  AND (priority < $1 OR (priority = $1 AND enqueued_seq > $2))
			ORDER BY priority DESC, enqueued_seq ASC
			LIMIT $3
		`
		args = []any{after.Priority, after.EnqueuedSeq, limit}
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queued runs: %w", err)
	}
	defer rows.Close()

	return r.collectRuns(rows)
}

// ListInProgress возвращает runs, занимающие слоты (LAUNCHING, STARTED).
func (r *RunRepo) ListInProgress(ctx context.Context) ([]domain.Run, error) {
	statuses := make([]string, len(domain.InProgressStatuses))
	for i, s := range domain.InProgressStatuses {
		statuses[i] = string(s)
	}

	query := runSelect + `
		WHERE status = ANY($1)
		ORDER BY enqueued_seq ASC
	`
	rows, err := r.pool.Query(ctx, query, statuses)
	if err != nil {
		return nil, fmt.Errorf("list in-progress runs: %w", err)
	}
	defer rows.Close()

	return r.collectRuns(rows)
}

// Claim атомарно переводит run из QUEUED в LAUNCHING.
// Только один dequeuer выигрывает переход для данного run.
func (r *RunRepo) Claim(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, domain.RunStatusQueued, domain.RunStatusLaunching)
}

// MarkStarted переводит run из LAUNCHING в STARTED.
func (r *RunRepo) MarkStarted(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE runs
		SET status = 'STARTED', started_at = now()
		WHERE id = $1 AND status = 'LAUNCHING'
	`
	return r.execTransition(ctx, id, query)
}

// MarkFailedToLaunch переводит run из LAUNCHING в FAILED_TO_LAUNCH.
func (r *RunRepo) MarkFailedToLaunch(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE runs
		SET status = 'FAILED_TO_LAUNCH', finished_at = now(), error = $2
		WHERE id = $1 AND status = 'LAUNCHING'
	`
	return r.execTransition(ctx, id, query, nullString(errMsg))
}

// MarkFinished переводит run из STARTED в терминальный статус,
// который сообщил движок исполнения.
func (r *RunRepo) MarkFinished(ctx context.Context, id uuid.UUID, status domain.RunStatus, errMsg string) error {
	query := `
		UPDATE runs
		SET status = $2, finished_at = now(), error = $3
		WHERE id = $1 AND status = 'STARTED'
	`
	result, err := r.pool.Exec(ctx, query, id, status, nullString(errMsg))
	if err != nil {
		return fmt.Errorf("mark finished: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.conflictOrNotFound(ctx, id)
	}
	return nil
}

// CancelQueued удаляет run из очереди до запуска (QUEUED → CANCELED).
//
// Идемпотентно: отмена уже отменённого, запущенного или
// несуществующего run — no-op, не ошибка.
func (r *RunRepo) CancelQueued(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE runs
		SET status = 'CANCELED', finished_at = now()
		WHERE id = $1 AND status = 'QUEUED'
	`
	_, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("cancel queued run: %w", err)
	}
	return nil
}

// CountByStatus возвращает количество runs по статусам.
func (r *RunRepo) CountByStatus(ctx context.Context) (map[domain.RunStatus]int, error) {
	query := `SELECT status, count(*) FROM runs GROUP BY status`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.RunStatus]int)
	for rows.Next() {
		var status domain.RunStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// --- Helpers ---

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	Status   domain.RunStatus
	TagKey   string
	TagValue string
	Limit    int
	Offset   int
}

const runSelect = `
	SELECT id, tags, priority, status, enqueued_seq, idempotency_key,
	       started_at, finished_at, error, created_at
	FROM runs
`

// transition выполняет условный переход from → to.
func (r *RunRepo) transition(ctx context.Context, id uuid.UUID, from, to domain.RunStatus) error {
	query := `UPDATE runs SET status = $3 WHERE id = $1 AND status = $2`
	result, err := r.pool.Exec(ctx, query, id, from, to)
	if err != nil {
		return fmt.Errorf("transition run %s → %s: %w", from, to, err)
	}
	if result.RowsAffected() == 0 {
		return r.conflictOrNotFound(ctx, id)
	}
	return nil
}

// execTransition выполняет UPDATE-переход с дополнительными аргументами.
func (r *RunRepo) execTransition(ctx context.Context, id uuid.UUID, query string, args ...any) error {
	queryArgs := append([]any{id}, args...)
	result, err := r.pool.Exec(ctx, query, queryArgs...)
	if err != nil {
		return fmt.Errorf("transition run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.conflictOrNotFound(ctx, id)
	}
	return nil
}

// conflictOrNotFound различает проигранный CAS и отсутствующую запись.
func (r *RunRepo) conflictOrNotFound(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check run exists: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

// scanRun сканирует одну строку в Run.
// pgx.Rows реализует pgx.Row, поэтому helper общий для QueryRow и Query.
func (r *RunRepo) scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var tagsJSON []byte
	var idempotencyKey *string
	var runError *string

	err := row.Scan(
		&run.ID,
		&tagsJSON,
		&run.Priority,
		&run.Status,
		&run.EnqueuedSeq,
		&idempotencyKey,
		&run.StartedAt,
		&run.FinishedAt,
		&runError,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if tagsJSON != nil {
		if err := json.Unmarshal(tagsJSON, &run.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}

	if idempotencyKey != nil {
		run.IdempotencyKey = *idempotencyKey
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

// collectRuns сканирует все строки результата.
func (r *RunRepo) collectRuns(rows pgx.Rows) ([]domain.Run, error) {
	var runs []domain.Run
	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
