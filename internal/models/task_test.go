package models

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusCompleted, false},
		{StatusQueued, StatusFailed, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusProcessing, StatusQueued, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusProcessing, false},
		{StatusCancelled, StatusQueued, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	terminal := map[TaskStatus]bool{
		StatusQueued:     false,
		StatusProcessing: false,
		StatusCompleted:  true,
		StatusFailed:     true,
		StatusCancelled:  true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestTask_Transition(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	task := &Task{ID: "task_1", Type: "echo_ping", Status: StatusQueued}

	if err := task.Transition(StatusProcessing, start); err != nil {
		t.Fatalf("queued -> processing: %v", err)
	}
	if task.StartedAt == nil || !task.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", task.StartedAt, start)
	}
	if task.FinishedAt != nil {
		t.Errorf("FinishedAt set too early: %v", task.FinishedAt)
	}

	end := start.Add(2 * time.Second)
	if err := task.Transition(StatusCompleted, end); err != nil {
		t.Fatalf("processing -> completed: %v", err)
	}
	if task.FinishedAt == nil || !task.FinishedAt.Equal(end) {
		t.Errorf("FinishedAt = %v, want %v", task.FinishedAt, end)
	}

	err := task.Transition(StatusFailed, end.Add(time.Second))
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("completed -> failed = %v, want ErrIllegalTransition", err)
	}
	if task.Status != StatusCompleted || !task.FinishedAt.Equal(end) {
		t.Errorf("illegal transition mutated the task: %+v", task)
	}
}

func TestTask_CloneCopiesTimestamps(t *testing.T) {
	now := time.Now()
	task := &Task{ID: "task_1", Status: StatusQueued}
	if err := task.Transition(StatusProcessing, now); err != nil {
		t.Fatal(err)
	}

	c := task.Clone()
	*task.StartedAt = now.Add(time.Hour)
	if !c.StartedAt.Equal(now) {
		t.Errorf("clone StartedAt changed with the original: %v", c.StartedAt)
	}
}

func TestTask_Envelope(t *testing.T) {
	task := &Task{ID: "task_1", Type: "payment_process", Payload: Payload{"amount": 10.0}, Priority: PriorityHigh}
	env := task.Envelope()
	if env.ID != "task_1" || env.Type != "payment_process" || env.Payload["amount"] != 10.0 {
		t.Errorf("Envelope() = %+v", env)
	}
}

func TestTaskSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    TaskSpec
		want    Priority
		wantErr bool
	}{
		{name: "defaults to medium", spec: TaskSpec{Type: "echo_ping"}, want: PriorityMedium},
		{name: "keeps priority", spec: TaskSpec{Type: "echo_ping", Priority: PriorityCritical}, want: PriorityCritical},
		{name: "missing type", spec: TaskSpec{Priority: PriorityLow}, wantErr: true},
		{name: "out of range", spec: TaskSpec{Type: "echo_ping", Priority: 9}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.spec.Priority != tt.want {
				t.Errorf("Priority = %s, want %s", tt.spec.Priority, tt.want)
			}
		})
	}
}
