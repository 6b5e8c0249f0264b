package config

import (
	"testing"
	"time"
)

func TestParse_Full(t *testing.T) {
	data := []byte(`
concurrency:
  max_concurrent_runs: 25
  tag_concurrency_limits:
    - key: database
      value: redshift
      limit: 4
    - key: team
      limit: 10
dequeue_interval: 2s
batch_size: 50
`)

	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Concurrency.MaxConcurrentRuns == nil || *cfg.Concurrency.MaxConcurrentRuns != 25 {
		t.Errorf("expected max_concurrent_runs 25, got %v", cfg.Concurrency.MaxConcurrentRuns)
	}
	if len(cfg.Concurrency.TagConcurrencyLimits) != 2 {
		t.Fatalf("expected 2 tag limits, got %d", len(cfg.Concurrency.TagConcurrencyLimits))
	}

	first := cfg.Concurrency.TagConcurrencyLimits[0]
	if first.Key != "database" || first.Value != "redshift" || first.Limit != 4 {
		t.Errorf("unexpected first rule: %+v", first)
	}

	second := cfg.Concurrency.TagConcurrencyLimits[1]
	if second.Key != "team" || second.Value != "" || second.Limit != 10 {
		t.Errorf("unexpected second rule: %+v", second)
	}

	if cfg.DequeueInterval != 2*time.Second {
		t.Errorf("expected dequeue_interval 2s, got %s", cfg.DequeueInterval)
	}
	if cfg.BatchSize != 50 {
		t.Errorf("expected batch_size 50, got %d", cfg.BatchSize)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Concurrency.MaxConcurrentRuns != nil {
		t.Error("max_concurrent_runs should default to unlimited")
	}
	if cfg.DequeueInterval != defaultDequeueInterval {
		t.Errorf("expected default interval, got %s", cfg.DequeueInterval)
	}
	if cfg.BatchSize != defaultBatchSize {
		t.Errorf("expected default batch size, got %d", cfg.BatchSize)
	}
}

func TestParse_NegativeLimit(t *testing.T) {
	data := []byte(`
concurrency:
  tag_concurrency_limits:
    - key: database
      limit: -1
`)
	if _, err := Parse(data); err == nil {
		t.Error("expected error for negative limit")
	}
}

func TestParse_MissingKey(t *testing.T) {
	data := []byte(`
concurrency:
  tag_concurrency_limits:
    - limit: 3
`)
	if _, err := Parse(data); err == nil {
		t.Error("expected error for rule without key")
	}
}

func TestParse_NegativeMaxConcurrentRuns(t *testing.T) {
	data := []byte(`
concurrency:
  max_concurrent_runs: -5
`)
	if _, err := Parse(data); err == nil {
		t.Error("expected error for negative max_concurrent_runs")
	}
}

func TestTagLimit_Matches(t *testing.T) {
	keyOnly := TagLimit{Key: "database", Limit: 4}
	keyValue := TagLimit{Key: "database", Value: "redshift", Limit: 4}

	redshift := map[string]string{"database": "redshift"}
	postgres := map[string]string{"database": "postgres"}
	untagged := map[string]string{"team": "data"}

	if !keyOnly.Matches(redshift) || !keyOnly.Matches(postgres) {
		t.Error("key-only rule should match any value of the key")
	}
	if keyOnly.Matches(untagged) {
		t.Error("key-only rule should not match runs without the key")
	}

	if !keyValue.Matches(redshift) {
		t.Error("key-value rule should match the exact pair")
	}
	if keyValue.Matches(postgres) {
		t.Error("key-value rule should not match a different value")
	}
	if keyValue.Matches(untagged) {
		t.Error("key-value rule should not match runs without the key")
	}
}
