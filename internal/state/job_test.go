package state

import (
	"path/filepath"
	"testing"
)

func newStore(t *testing.T) *JobStore {
	t.Helper()
	return NewJobStore(filepath.Join(t.TempDir(), "jobs.json"))
}

func TestJobStore_ListEmpty(t *testing.T) {
	store := newStore(t)

	jobs, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected empty list, got %d jobs", len(jobs))
	}
}

func TestJobStore_AddAndGet(t *testing.T) {
	store := newStore(t)

	job := &Job{
		Name:       "daily-report",
		Prompt:     "Summarize yesterday's activity",
		Schedule:   "0 9 * * *",
		OwnerID:    "ops",
		ContextKey: "reports",
		Enabled:    true,
	}
	if err := store.Add(job); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get("daily-report")
	if err != nil {
		t.Fatal(err)
	}
	if got.Prompt != job.Prompt || got.Schedule != job.Schedule {
		t.Errorf("got %+v", got)
	}
	if got.OwnerID != "ops" || got.ContextKey != "reports" {
		t.Errorf("owner/context = %s/%s", got.OwnerID, got.ContextKey)
	}
	if !got.Enabled {
		t.Error("expected job to be enabled")
	}
}

func TestJobStore_AddDuplicate(t *testing.T) {
	store := newStore(t)

	job := &Job{Name: "my-job", Prompt: "do something", OwnerID: "ops", ContextKey: "infra"}
	if err := store.Add(job); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(job); err == nil {
		t.Fatal("expected error for duplicate job name")
	}
}

func TestJobStore_Remove(t *testing.T) {
	store := newStore(t)

	if err := store.Add(&Job{Name: "my-job", Prompt: "x", OwnerID: "ops", ContextKey: "infra"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Remove("my-job"); err != nil {
		t.Fatal(err)
	}
	jobs, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected empty list after remove, got %d jobs", len(jobs))
	}
	if err := store.Remove("my-job"); err == nil {
		t.Fatal("expected error removing a job twice")
	}
}

func TestJobStore_SetEnabled(t *testing.T) {
	store := newStore(t)

	if err := store.Add(&Job{Name: "my-job", Prompt: "x", OwnerID: "ops", ContextKey: "infra", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := store.SetEnabled("my-job", false); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get("my-job")
	if err != nil {
		t.Fatal(err)
	}
	if got.Enabled {
		t.Error("expected job to be disabled")
	}
	if err := store.SetEnabled("nonexistent", true); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestJobStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")

	store1 := NewJobStore(path)
	if err := store1.Add(&Job{Name: "persist-job", Prompt: "persist me", OwnerID: "ops", ContextKey: "infra", Enabled: true}); err != nil {
		t.Fatal(err)
	}

	store2 := NewJobStore(path)
	jobs, err := store2.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Name != "persist-job" {
		t.Fatalf("jobs = %+v", jobs)
	}
}
