package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/Convoy/internal/config"
	"github.com/shaiso/Convoy/internal/domain"
	"github.com/shaiso/Convoy/internal/mq"
	"github.com/shaiso/Convoy/internal/repo"
	"github.com/shaiso/Convoy/internal/telemetry"
)

// RunStore — операции над runs, используемые HTTP-обработчиками.
// В production — *repo.RunRepo.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
	CancelQueued(ctx context.Context, id uuid.UUID) error
	CountByStatus(ctx context.Context) (map[domain.RunStatus]int, error)
}

// ScheduleStore — операции над schedules, используемые HTTP-обработчиками.
// В production — *repo.ScheduleRepo.
type ScheduleStore interface {
	Create(ctx context.Context, schedule *domain.Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
	List(ctx context.Context, filter repo.ScheduleFilter) ([]domain.Schedule, error)
	Update(ctx context.Context, schedule *domain.Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	runRepo      RunStore
	scheduleRepo ScheduleStore
	publisher    *mq.Publisher
	queueConfig  *config.Config
	metrics      *telemetry.Collector
	logger       *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	RunRepo      RunStore
	ScheduleRepo ScheduleStore
	Publisher    *mq.Publisher
	QueueConfig  *config.Config

	// Metrics — коллектор метрик. nil — метрики не пишутся.
	Metrics *telemetry.Collector

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		runRepo:      cfg.RunRepo,
		scheduleRepo: cfg.ScheduleRepo,
		publisher:    cfg.Publisher,
		queueConfig:  cfg.QueueConfig,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
}
