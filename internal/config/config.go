package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Значения по умолчанию.
const (
	defaultDequeueInterval = 5 * time.Second
	defaultBatchSize       = 100
)

// TagLimit — одно правило tag concurrency limit.
//
// Правило с пустым Value ограничивает все runs, у которых есть тег Key
// (независимо от значения). Правило с непустым Value ограничивает
// только runs с точной парой Key=Value.
type TagLimit struct {
	// Key — ключ тега. Обязателен.
	Key string `yaml:"key" json:"key"`

	// Value — значение тега. Пустое — правило по ключу.
	Value string `yaml:"value,omitempty" json:"value,omitempty"`

	// Limit — максимум одновременно выполняющихся runs под правилом.
	Limit int `yaml:"limit" json:"limit"`
}

// Matches возвращает true, если теги run подпадают под правило.
func (l TagLimit) Matches(tags map[string]string) bool {
	v, ok := tags[l.Key]
	if !ok {
		return false
	}
	return l.Value == "" || v == l.Value
}

// Concurrency — лимиты параллельности координатора.
//
// Загружается один раз при старте процесса и не меняется.
// Dequeuer читает её как read-only snapshot на каждом цикле.
type Concurrency struct {
	// MaxConcurrentRuns — глобальный лимит одновременно выполняющихся runs.
	// nil — без ограничений.
	MaxConcurrentRuns *int `yaml:"max_concurrent_runs,omitempty" json:"max_concurrent_runs,omitempty"`

	// TagConcurrencyLimits — правила лимитов по тегам.
	// Правила независимы и комбинируются через AND.
	TagConcurrencyLimits []TagLimit `yaml:"tag_concurrency_limits,omitempty" json:"tag_concurrency_limits,omitempty"`
}

// Config — конфигурация координатора.
type Config struct {
	// Concurrency — лимиты параллельности.
	Concurrency Concurrency `yaml:"concurrency" json:"concurrency"`

	// DequeueInterval — интервал polling dequeuer'а (default: 5s).
	// Между тиками dequeuer также просыпается по событиям из MQ.
	DequeueInterval time.Duration `yaml:"dequeue_interval,omitempty" json:"dequeue_interval,omitempty"`

	// BatchSize — количество queued runs, загружаемых за один цикл (default: 100).
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
}

// Default возвращает конфигурацию по умолчанию: без лимитов.
func Default() *Config {
	return &Config{
		DequeueInterval: defaultDequeueInterval,
		BatchSize:       defaultBatchSize,
	}
}

// Load читает конфигурацию из YAML-файла.
//
// Путь берётся из аргумента, либо из CONVOY_CONFIG, либо
// возвращается конфигурация по умолчанию, если файла нет.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONVOY_CONFIG")
	}
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return Parse(data)
}

// Parse разбирает YAML и валидирует результат.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.DequeueInterval <= 0 {
		cfg.DequeueInterval = defaultDequeueInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет корректность конфигурации.
//
// Ошибки конфигурации обнаруживаются при старте процесса,
// а не при выборе runs: selection над валидной конфигурацией
// ошибок не порождает.
func (c *Config) Validate() error {
	if c.Concurrency.MaxConcurrentRuns != nil && *c.Concurrency.MaxConcurrentRuns < 0 {
		return fmt.Errorf("max_concurrent_runs must be >= 0, got %d", *c.Concurrency.MaxConcurrentRuns)
	}

	for i, rule := range c.Concurrency.TagConcurrencyLimits {
		if rule.Key == "" {
			return fmt.Errorf("tag_concurrency_limits[%d]: key is required", i)
		}
		if rule.Limit < 0 {
			return fmt.Errorf("tag_concurrency_limits[%d] (%s): limit must be >= 0, got %d", i, rule.Key, rule.Limit)
		}
	}

	return nil
}
