// internal/state/task_test.go
package state

import (
	"path/filepath"
	"testing"
	"time"
)

func newTask(name string) *Task {
	return &Task{
		Name:      name,
		Prompt:    "summarize the inbox",
		Schedule:  "0 9 * * *",
		DeliverTo: "telegram:123",
		Enabled:   true,
	}
}

func TestTaskStore_ListEmpty(t *testing.T) {
	store := NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"))

	tasks, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Errorf("expected empty list, got %d tasks", len(tasks))
	}
}

func TestTaskStore_AddAndGet(t *testing.T) {
	store := NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"))

	if err := store.Add(newTask("daily-report")); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get("daily-report")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID == "" {
		t.Error("expected an ID to be assigned")
	}
	if got.Schedule != "0 9 * * *" || got.DeliverTo != "telegram:123" || !got.Enabled {
		t.Errorf("unexpected task: %+v", got)
	}
	if got.Source() != "scheduler:daily-report" {
		t.Errorf("unexpected source %q", got.Source())
	}
}

func TestTaskStore_AddDuplicate(t *testing.T) {
	store := NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"))
	if err := store.Add(newTask("my-task")); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(newTask("my-task")); err == nil {
		t.Fatal("expected error for duplicate task name")
	}
}

func TestTaskStore_NotFound(t *testing.T) {
	store := NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"))
	if _, err := store.Get("nonexistent"); err == nil {
		t.Error("expected error from Get")
	}
	if err := store.Remove("nonexistent"); err == nil {
		t.Error("expected error from Remove")
	}
	if err := store.SetEnabled("nonexistent", true); err == nil {
		t.Error("expected error from SetEnabled")
	}
}

func TestTaskStore_Remove(t *testing.T) {
	store := NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"))
	store.Add(newTask("a"))
	store.Add(newTask("b"))

	if err := store.Remove("a"); err != nil {
		t.Fatal(err)
	}
	tasks, _ := store.List()
	if len(tasks) != 1 || tasks[0].Name != "b" {
		t.Errorf("unexpected tasks after remove: %+v", tasks)
	}
}

func TestTaskStore_SetEnabledAndMarkRun(t *testing.T) {
	store := NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"))
	store.Add(newTask("my-task"))

	if err := store.SetEnabled("my-task", false); err != nil {
		t.Fatal(err)
	}
	at := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	if err := store.MarkRun("my-task", at); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Get("my-task")
	if got.Enabled {
		t.Error("expected task to be disabled")
	}
	if !got.LastRun.Equal(at) {
		t.Errorf("expected last run %v, got %v", at, got.LastRun)
	}
}

func TestTaskStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	if err := NewTaskStore(path).Add(newTask("persist-task")); err != nil {
		t.Fatal(err)
	}

	tasks, err := NewTaskStore(path).List()
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Name != "persist-task" {
		t.Fatalf("unexpected tasks from new store: %+v", tasks)
	}
}
