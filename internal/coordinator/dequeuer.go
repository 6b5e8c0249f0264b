package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Convoy/internal/config"
	"github.com/shaiso/Convoy/internal/domain"
	"github.com/shaiso/Convoy/internal/mq"
	"github.com/shaiso/Convoy/internal/repo"
	"github.com/shaiso/Convoy/internal/telemetry"
)

// RunStore — хранилище runs, нужное dequeuer'у.
//
// Переходы статусов условные: проигравший CAS получает
// repo.ErrConflict и просто перечитывает состояние.
type RunStore interface {
	// ListQueued возвращает runs в статусе QUEUED,
	// упорядоченные по (priority DESC, enqueued_seq ASC).
	// after != nil — страница строго после данной позиции.
	ListQueued(ctx context.Context, after *repo.QueueCursor, limit int) ([]domain.Run, error)

	// ListInProgress возвращает runs, занимающие слоты (LAUNCHING, STARTED).
	ListInProgress(ctx context.Context) ([]domain.Run, error)

	// Claim атомарно переводит run из QUEUED в LAUNCHING.
	Claim(ctx context.Context, id uuid.UUID) error

	// MarkStarted переводит run из LAUNCHING в STARTED.
	MarkStarted(ctx context.Context, id uuid.UUID) error

	// MarkFailedToLaunch переводит run из LAUNCHING в FAILED_TO_LAUNCH.
	MarkFailedToLaunch(ctx context.Context, id uuid.UUID, errMsg string) error

	// MarkFinished переводит run из STARTED в терминальный статус.
	MarkFinished(ctx context.Context, id uuid.UUID, status domain.RunStatus, errMsg string) error
}

// Launcher запускает захваченный run во внешнем движке исполнения.
//
// Launch возвращает ошибку только если передать run не удалось.
// Само выполнение асинхронно и может занимать сколько угодно времени —
// run освобождает слот, когда движок публикует run.finished.
type Launcher interface {
	Launch(ctx context.Context, run *domain.Run) error
}

// Dequeuer — цикл разбора очереди runs.
//
// Dequeuer:
//   - Периодически (и по wake-сигналам из RabbitMQ) снимает snapshot
//     очереди и выполняющихся runs
//   - Выбирает runs через SelectNextRunnable, пока есть кандидаты
//   - Захватывает каждый выбранный run условным переходом QUEUED → LAUNCHING
//   - Передаёт захваченный run launcher'у
//   - Принимает события run.finished и освобождает слоты
//
// Неудачный запуск переводит run в FAILED_TO_LAUNCH без retry
// и не влияет на остальные runs цикла.
type Dequeuer struct {
	store    RunStore
	launcher Launcher
	cfg      *config.Config

	// MQ (опционально: без соединения остаётся только polling)
	conn             *mq.Connection
	enqueuedConsumer *mq.Consumer
	finishedConsumer *mq.Consumer

	// wake — сигнал «состояние изменилось, пора пересмотреть очередь».
	wake chan struct{}

	metrics *telemetry.Collector
	logger  *slog.Logger

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// DequeuerConfig — зависимости Dequeuer.
type DequeuerConfig struct {
	Store    RunStore
	Launcher Launcher
	Config   *config.Config

	// Conn — соединение с RabbitMQ. nil — polling-only режим.
	Conn *mq.Connection

	// Metrics — коллектор метрик. nil — метрики не пишутся.
	Metrics *telemetry.Collector

	Logger *slog.Logger
}

// NewDequeuer создаёт новый Dequeuer.
func NewDequeuer(cfg DequeuerConfig) *Dequeuer {
	queueCfg := cfg.Config
	if queueCfg == nil {
		queueCfg = config.Default()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dequeuer{
		store:    cfg.Store,
		launcher: cfg.Launcher,
		cfg:      queueCfg,
		conn:     cfg.Conn,
		metrics:  cfg.Metrics,
		wake:     make(chan struct{}, 1),
		logger:   logger,
	}
}

// Start запускает Dequeuer.
//
// Запускает:
//   - Consumer для runs.enqueued (wake-сигнал о новых runs)
//   - Consumer для runs.finished (события завершения от движка)
//   - Цикл разбора очереди с тикером
func (d *Dequeuer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancelFunc = cancel

	d.logger.Info("starting dequeuer",
		"dequeue_interval", d.cfg.DequeueInterval,
		"batch_size", d.cfg.BatchSize,
		"max_concurrent_runs", maxConcurrentForLog(d.cfg),
		"tag_limits", len(d.cfg.Concurrency.TagConcurrencyLimits),
	)

	if d.conn != nil {
		d.enqueuedConsumer = mq.NewConsumer(d.conn, d.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRunsEnqueued),
			Handler:  d.handleRunEnqueued,
			Prefetch: 10,
		})

		d.finishedConsumer = mq.NewConsumer(d.conn, d.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRunsFinished),
			Handler:  d.handleRunFinished,
			Prefetch: 10,
		})

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.enqueuedConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("enqueued consumer error", "error", err)
			}
		}()

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.finishedConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("finished consumer error", "error", err)
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop(ctx)
	}()

	d.logger.Info("dequeuer started")
	return nil
}

// Stop останавливает Dequeuer.
func (d *Dequeuer) Stop() {
	d.stoppedMu.Lock()
	d.stopped = true
	d.stoppedMu.Unlock()

	d.logger.Info("stopping dequeuer...")

	if d.cancelFunc != nil {
		d.cancelFunc()
	}

	if d.enqueuedConsumer != nil {
		d.enqueuedConsumer.Stop()
	}
	if d.finishedConsumer != nil {
		d.finishedConsumer.Stop()
	}

	d.wg.Wait()

	d.logger.Info("dequeuer stopped")
}

// IsStopped проверяет, остановлен ли Dequeuer.
func (d *Dequeuer) IsStopped() bool {
	d.stoppedMu.RLock()
	defer d.stoppedMu.RUnlock()
	return d.stopped
}

// Wake будит цикл разбора вне очереди тикера.
// Сигнал схлопывается, если цикл ещё не успел проснуться.
func (d *Dequeuer) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// loop — основной цикл разбора очереди.
func (d *Dequeuer) loop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.DequeueInterval)
	defer ticker.Stop()

	// Первый разбор сразу при старте (подхватываем runs,
	// накопившиеся пока dequeuer был выключен)
	d.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		case <-d.wake:
			d.Tick(ctx)
		}
	}
}

// Tick выполняет один цикл разбора очереди.
//
// Snapshot → select → claim → launch, пока SelectNextRunnable
// возвращает кандидатов. Захваченные runs локально добавляются
// в inProgress, чтобы лимиты соблюдались внутри цикла без
// перечитывания БД.
//
// Очередь читается страницами по batch_size с keyset-курсором:
// страница, целиком занятая заблокированными runs, не скрывает
// незаблокированные runs за её границей.
//
// Возвращает количество запущенных runs.
func (d *Dequeuer) Tick(ctx context.Context) int {
	started := time.Now()

	inProgress, err := d.store.ListInProgress(ctx)
	if err != nil {
		d.logger.Error("failed to list in-progress runs", "error", err)
		return 0
	}

	launched := 0
	blocked := 0
	var cursor *repo.QueueCursor

	for {
		queued, err := d.store.ListQueued(ctx, cursor, d.cfg.BatchSize)
		if err != nil {
			d.logger.Error("failed to list queued runs", "error", err)
			break
		}
		if len(queued) == 0 {
			break
		}

		lastPage := len(queued) < d.cfg.BatchSize
		tail := queued[len(queued)-1]
		cursor = &repo.QueueCursor{Priority: tail.Priority, EnqueuedSeq: tail.EnqueuedSeq}

		for {
			next := SelectNextRunnable(queued, inProgress, d.cfg.Concurrency)
			if next == nil {
				break
			}

			claimed := *next
			queued = removeRun(queued, claimed.ID)

			if ok := d.launchRun(ctx, &claimed); ok {
				launched++
				// Слот занят до события run.finished
				claimed.Status = domain.RunStatusStarted
				inProgress = append(inProgress, claimed)
			}

			if ctx.Err() != nil {
				break
			}
		}

		blocked += len(queued)

		if lastPage || ctx.Err() != nil {
			break
		}
		// Достигнутый глобальный лимит блокирует все последующие страницы
		if n := d.cfg.Concurrency.MaxConcurrentRuns; n != nil && len(inProgress) >= *n {
			break
		}
	}

	if d.metrics != nil {
		d.metrics.ObserveDequeueCycle(time.Since(started))
		d.metrics.SetRunsQueued(blocked)
		d.metrics.SetRunsInProgress(len(inProgress))
	}

	if launched > 0 {
		d.logger.Info("dequeue cycle completed",
			"launched", launched,
			"queued_remaining", blocked,
			"in_progress", len(inProgress),
			"duration", time.Since(started),
		)
	}

	return launched
}

// launchRun захватывает и запускает один run.
// Возвращает true, если run переведён в STARTED.
func (d *Dequeuer) launchRun(ctx context.Context, run *domain.Run) bool {
	// Атомарный захват: QUEUED → LAUNCHING.
	// Конфликт — run забрал другой dequeuer или его удалили из очереди.
	if err := d.store.Claim(ctx, run.ID); err != nil {
		if errors.Is(err, repo.ErrConflict) || errors.Is(err, repo.ErrNotFound) {
			d.logger.Debug("run claim lost, skipping", "run_id", run.ID)
			return false
		}
		d.logger.Error("failed to claim run", "run_id", run.ID, "error", err)
		return false
	}

	run.Status = domain.RunStatusLaunching

	if err := d.launcher.Launch(ctx, run); err != nil {
		// Неудачный запуск терминален, retry не выполняется.
		// Остальные runs цикла не затрагиваются.
		d.logger.Error("failed to launch run",
			"run_id", run.ID,
			"priority", run.Priority,
			"error", err,
		)

		msg := fmt.Sprintf("launch failed: %v", err)
		if err := d.store.MarkFailedToLaunch(ctx, run.ID, msg); err != nil {
			d.logger.Error("failed to mark run as failed to launch", "run_id", run.ID, "error", err)
		}
		if d.metrics != nil {
			d.metrics.IncRunsFailedToLaunch()
		}
		return false
	}

	if err := d.store.MarkStarted(ctx, run.ID); err != nil {
		d.logger.Error("failed to mark run as started", "run_id", run.ID, "error", err)
		return false
	}

	if d.metrics != nil {
		d.metrics.IncRunsLaunched()
	}

	d.logger.Info("run launched",
		"run_id", run.ID,
		"priority", run.Priority,
		"enqueued_seq", run.EnqueuedSeq,
	)

	return true
}

// handleRunEnqueued обрабатывает событие о новом run в очереди.
func (d *Dequeuer) handleRunEnqueued(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunEnqueuedPayload](&delivery.Message)
	if err != nil {
		d.logger.Error("failed to parse run.enqueued payload", "error", err)
		return fmt.Errorf("%w: %w", err, mq.ErrPermanent)
	}

	d.logger.Debug("received run.enqueued event", "run_id", payload.RunID)
	d.Wake()
	return nil
}

// handleRunFinished обрабатывает событие о завершении run движком.
//
// Освобождает слот (STARTED → терминальный статус) и будит цикл:
// освободившееся место может разблокировать ожидающие runs.
func (d *Dequeuer) handleRunFinished(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunFinishedPayload](&delivery.Message)
	if err != nil {
		d.logger.Error("failed to parse run.finished payload", "error", err)
		return fmt.Errorf("%w: %w", err, mq.ErrPermanent)
	}

	status := domain.RunStatus(payload.Status)
	switch status {
	case domain.RunStatusSucceeded, domain.RunStatusFailed, domain.RunStatusCanceled:
	default:
		d.logger.Error("run.finished with unexpected status",
			"run_id", payload.RunID,
			"status", payload.Status,
		)
		// Невалидный статус не станет валидным при повторе — в DLQ
		return fmt.Errorf("%w: %s: %w", ErrUnknownFinishStatus, payload.Status, mq.ErrPermanent)
	}

	if err := d.store.MarkFinished(ctx, payload.RunID, status, payload.Error); err != nil {
		// Конфликт — run уже не в STARTED (дубликат события), не ошибка
		if errors.Is(err, repo.ErrConflict) || errors.Is(err, repo.ErrNotFound) {
			d.logger.Debug("stale run.finished event, skipping",
				"run_id", payload.RunID,
				"status", payload.Status,
			)
			return nil
		}
		return fmt.Errorf("mark finished: %w", err)
	}

	d.logger.Info("run finished",
		"run_id", payload.RunID,
		"status", status,
	)

	d.Wake()
	return nil
}

// removeRun удаляет run из слайса по ID, сохраняя порядок.
func removeRun(runs []domain.Run, id uuid.UUID) []domain.Run {
	for i := range runs {
		if runs[i].ID == id {
			return append(runs[:i], runs[i+1:]...)
		}
	}
	return runs
}

// maxConcurrentForLog форматирует глобальный лимит для лога.
func maxConcurrentForLog(cfg *config.Config) any {
	if cfg.Concurrency.MaxConcurrentRuns == nil {
		return "unlimited"
	}
	return *cfg.Concurrency.MaxConcurrentRuns
}
