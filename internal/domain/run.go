package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// PriorityTag — зарезервированный тег приоритета.
//
// Значение — целое число в строковом виде (может быть отрицательным).
// На API-границе приоритет передаётся этим тегом, внутри системы
// он живёт типизированным полем Run.Priority.
const PriorityTag = "convoy/priority"

// Run — заявка на выполнение, проходящая через координатор.
//
// Run создаётся когда:
// - Пользователь отправляет заявку через API/CLI
// - Scheduler создаёт run по расписанию
//
// Координатор владеет run'ом от QUEUED до STARTED, дальше
// ответственность переходит к движку исполнения.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// Tags — произвольные метки run'а.
	// По ним считаются tag concurrency limits.
	Tags map[string]string `json:"tags,omitempty"`

	// Priority — приоритет выбора из очереди (больше — раньше).
	// Выводится из PriorityTag при создании; отсутствие тега — 0.
	Priority int `json:"priority"`

	// Status — текущий статус run.
	Status RunStatus `json:"status"`

	// EnqueuedSeq — монотонный номер постановки в очередь.
	// Назначается БД при вставке и никогда не меняется.
	// Единственный tie-break при равном приоритете (FIFO).
	EnqueuedSeq int64 `json:"enqueued_seq"`

	// IdempotencyKey — ключ идемпотентности для предотвращения дубликатов.
	// Например, для scheduled runs: "{schedule_id}_{due_at_unix}"
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// StartedAt — время перехода в STARTED.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время перехода в терминальный статус.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки (FAILED_TO_LAUNCH или FAILED).
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkStarted переводит run в статус STARTED.
func (r *Run) MarkStarted() {
	now := time.Now()
	r.Status = RunStatusStarted
	r.StartedAt = &now
}

// MarkFailedToLaunch переводит run в статус FAILED_TO_LAUNCH с ошибкой.
func (r *Run) MarkFailedToLaunch(err string) {
	now := time.Now()
	r.Status = RunStatusFailedToLaunch
	r.FinishedAt = &now
	r.Error = err
}

// MarkCanceled переводит run в статус CANCELED.
func (r *Run) MarkCanceled() {
	now := time.Now()
	r.Status = RunStatusCanceled
	r.FinishedAt = &now
}

// PriorityFromTags извлекает приоритет из зарезервированного тега.
//
// Отсутствие тега — приоритет 0. Значение, не являющееся целым
// числом — ошибка: заявка с таким тегом отклоняется на границе,
// а не молча получает приоритет по умолчанию.
func PriorityFromTags(tags map[string]string) (int, error) {
	raw, ok := tags[PriorityTag]
	if !ok {
		return 0, nil
	}

	priority, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("tag %s: %q is not an integer", PriorityTag, raw)
	}
	return priority, nil
}
