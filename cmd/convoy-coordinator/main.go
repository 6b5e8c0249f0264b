// Convoy Coordinator — разбирает очередь runs.
//
// Coordinator:
//   - Держит pg advisory lock (single-leader: очередь разбирает один процесс)
//   - Получает wake-сигналы о новых runs из RabbitMQ
//   - Выбирает runnable runs с учётом приоритета и лимитов параллельности
//   - Захватывает выбранные runs (CAS QUEUED → LAUNCHING) и передаёт движку
//   - Обрабатывает события завершения, освобождающие слоты
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Convoy/internal/config"
	"github.com/shaiso/Convoy/internal/coordinator"
	"github.com/shaiso/Convoy/internal/launcher"
	"github.com/shaiso/Convoy/internal/mq"
	"github.com/shaiso/Convoy/internal/repo"
	"github.com/shaiso/Convoy/internal/telemetry"
)

const coordLockKey int64 = 172403

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting convoy-coordinator")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Конфигурация очереди: лимиты, интервал polling, batch size
	cfg, err := config.Load("")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	runRepo := repo.NewRunRepo(pool)

	// RabbitMQ. Без него координатор не может передавать runs движку.
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}
	logger.Debug("topology declared", "layout", mq.TopologyInfo())

	publisher := mq.NewPublisher(mqConn, logger)

	// Метрики
	metrics := telemetry.NewCollector(prometheus.DefaultRegisterer)

	deq := coordinator.NewDequeuer(coordinator.DequeuerConfig{
		Store:    runRepo,
		Launcher: launcher.NewMQLauncher(publisher),
		Config:   cfg,
		Conn:     mqConn,
		Metrics:  metrics,
		Logger:   logger,
	})

	// Single-leader: dequeuer запускается только после захвата advisory lock.
	// Pod-дублёр ждёт и подхватывает очередь, когда лидер умирает.
	go func() {
		var hasLock bool
		defer func() {
			if hasLock {
				_, _ = pool.Exec(context.Background(), "select pg_advisory_unlock($1)", coordLockKey)
			}
		}()

		tk := time.NewTicker(5 * time.Second)
		defer tk.Stop()

		for !hasLock {
			if err := pool.QueryRow(ctx, "select pg_try_advisory_lock($1)", coordLockKey).Scan(&hasLock); err != nil {
				logger.Error("advisory lock error", "error", err)
			}
			if hasLock {
				break
			}

			select {
			case <-tk.C:
			case <-ctx.Done():
				return
			}
		}

		logger.Info("became coordinator leader")
		if err := deq.Start(ctx); err != nil {
			logger.Error("failed to start dequeuer", "error", err)
			cancel()
		}
	}()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("COORD_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем dequeuer
	deq.Stop()
	logger.Info("convoy-coordinator stopped")
}
