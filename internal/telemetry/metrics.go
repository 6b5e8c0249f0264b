package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector — Prometheus метрики координатора.
//
// Counters:
//   - convoy_runs_enqueued_total — поставлено в очередь
//   - convoy_runs_launched_total — успешно запущено
//   - convoy_runs_failed_to_launch_total — неудачных запусков
//
// Gauges:
//   - convoy_runs_queued — текущий размер очереди
//   - convoy_runs_in_progress — занятые слоты (LAUNCHING + STARTED)
//
// Histogram:
//   - convoy_dequeue_cycle_seconds — длительность цикла разбора
type Collector struct {
	runsEnqueued       prometheus.Counter
	runsLaunched       prometheus.Counter
	runsFailedToLaunch prometheus.Counter

	runsQueued     prometheus.Gauge
	runsInProgress prometheus.Gauge

	dequeueCycle prometheus.Histogram
}

// NewCollector создаёт и регистрирует метрики.
// Паникует при повторной регистрации в одном registerer —
// создавайте один Collector на процесс.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "convoy_runs_enqueued_total",
			Help: "Total runs accepted into the queue",
		}),
		runsLaunched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "convoy_runs_launched_total",
			Help: "Total runs handed to the launcher successfully",
		}),
		runsFailedToLaunch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "convoy_runs_failed_to_launch_total",
			Help: "Total runs that failed to launch",
		}),
		runsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "convoy_runs_queued",
			Help: "Runs currently waiting in the queue",
		}),
		runsInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "convoy_runs_in_progress",
			Help: "Runs currently occupying concurrency slots",
		}),
		dequeueCycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "convoy_dequeue_cycle_seconds",
			Help:    "Duration of a single dequeue cycle",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.runsEnqueued,
		c.runsLaunched,
		c.runsFailedToLaunch,
		c.runsQueued,
		c.runsInProgress,
		c.dequeueCycle,
	)

	return c
}

// IncRunsEnqueued увеличивает счётчик принятых runs.
func (c *Collector) IncRunsEnqueued() {
	c.runsEnqueued.Inc()
}

// IncRunsLaunched увеличивает счётчик запущенных runs.
func (c *Collector) IncRunsLaunched() {
	c.runsLaunched.Inc()
}

// IncRunsFailedToLaunch увеличивает счётчик неудачных запусков.
func (c *Collector) IncRunsFailedToLaunch() {
	c.runsFailedToLaunch.Inc()
}

// SetRunsQueued записывает текущий размер очереди.
func (c *Collector) SetRunsQueued(n int) {
	c.runsQueued.Set(float64(n))
}

// SetRunsInProgress записывает количество занятых слотов.
func (c *Collector) SetRunsInProgress(n int) {
	c.runsInProgress.Set(float64(n))
}

// ObserveDequeueCycle записывает длительность цикла разбора.
func (c *Collector) ObserveDequeueCycle(d time.Duration) {
	c.dequeueCycle.Observe(d.Seconds())
}
