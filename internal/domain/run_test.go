package domain

import (
	"testing"

	"github.com/google/uuid"
)

// --- PriorityFromTags Tests ---

func TestPriorityFromTags_Absent(t *testing.T) {
	priority, err := PriorityFromTags(map[string]string{"team": "data"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if priority != 0 {
		t.Errorf("expected default priority 0, got %d", priority)
	}
}

func TestPriorityFromTags_NilTags(t *testing.T) {
	priority, err := PriorityFromTags(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if priority != 0 {
		t.Errorf("expected default priority 0, got %d", priority)
	}
}

func TestPriorityFromTags_Positive(t *testing.T) {
	priority, err := PriorityFromTags(map[string]string{PriorityTag: "10"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if priority != 10 {
		t.Errorf("expected priority 10, got %d", priority)
	}
}

func TestPriorityFromTags_Negative(t *testing.T) {
	priority, err := PriorityFromTags(map[string]string{PriorityTag: "-5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if priority != -5 {
		t.Errorf("expected priority -5, got %d", priority)
	}
}

func TestPriorityFromTags_Malformed(t *testing.T) {
	_, err := PriorityFromTags(map[string]string{PriorityTag: "high"})
	if err == nil {
		t.Error("expected error for non-integer priority tag")
	}
}

// --- RunStatus Tests ---

func TestRunStatus_IsTerminal(t *testing.T) {
	terminal := []RunStatus{RunStatusFailedToLaunch, RunStatusSucceeded, RunStatusFailed, RunStatusCanceled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	active := []RunStatus{RunStatusQueued, RunStatusLaunching, RunStatusStarted}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestRunStatus_IsInProgress(t *testing.T) {
	if !RunStatusLaunching.IsInProgress() {
		t.Error("LAUNCHING should count toward limits")
	}
	if !RunStatusStarted.IsInProgress() {
		t.Error("STARTED should count toward limits")
	}
	if RunStatusQueued.IsInProgress() {
		t.Error("QUEUED should not count toward limits")
	}
	if RunStatusSucceeded.IsInProgress() {
		t.Error("SUCCEEDED should not count toward limits")
	}
}

// --- Run Tests ---

func TestRun_MarkStarted(t *testing.T) {
	run := &Run{ID: uuid.New(), Status: RunStatusLaunching}
	run.MarkStarted()

	if run.Status != RunStatusStarted {
		t.Errorf("expected STARTED, got %s", run.Status)
	}
	if run.StartedAt == nil {
		t.Error("StartedAt should be set")
	}
}

func TestRun_MarkCanceled(t *testing.T) {
	run := &Run{ID: uuid.New(), Status: RunStatusQueued}
	run.MarkCanceled()

	if run.Status != RunStatusCanceled {
		t.Errorf("expected CANCELED, got %s", run.Status)
	}
	if run.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
}

func TestRun_MarkFailedToLaunch(t *testing.T) {
	run := &Run{ID: uuid.New(), Status: RunStatusLaunching}
	run.MarkFailedToLaunch("launcher unavailable")

	if run.Status != RunStatusFailedToLaunch {
		t.Errorf("expected FAILED_TO_LAUNCH, got %s", run.Status)
	}
	if !run.IsFinished() {
		t.Error("FAILED_TO_LAUNCH should be terminal")
	}
	if run.Error != "launcher unavailable" {
		t.Errorf("error should be recorded, got %q", run.Error)
	}
	if run.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
}
