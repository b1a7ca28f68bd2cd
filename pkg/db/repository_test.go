package db

import (
	"path/filepath"
	"testing"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepo(t)

	run := &Run{
		ID:              "run-1",
		Scenario:        "duplicate-source",
		PoolName:        "pool1",
		Mutation:        "duplicate-source",
		Status:          StatusRunning,
		Phase:           "pre_provision",
		OldUUID:         "4f1e1b62-8c3a-4c5e-9d7b-2a4ab3f1c0de",
		CreateAttempted: true,
		PoolHandle:      `{"Name":"pool1","Type":"dir"}`,
	}

	if err := repo.Create(run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	retrieved, err := repo.Get("run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}

	if retrieved.PoolName != run.PoolName || retrieved.OldUUID != run.OldUUID || retrieved.PoolHandle != run.PoolHandle {
		t.Errorf("retrieved run mismatch: got %+v, want %+v", retrieved, run)
	}
	if !retrieved.CreateAttempted || retrieved.ForeignPool || retrieved.Cleaned {
		t.Errorf("flags mismatch: %+v", retrieved)
	}
	if retrieved.CreatedAt == "" {
		t.Error("created_at not set")
	}
}

func TestRepository_GetMissing(t *testing.T) {
	repo := newTestRepo(t)

	run, err := repo.Get("nope")
	if err != nil || run != nil {
		t.Errorf("expected nil, nil for a missing run, got %+v, %v", run, err)
	}
}

func TestRepository_RejectsUnknownStatus(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.Create(&Run{ID: "run-1", PoolName: "pool1", Status: "exploded"}); err == nil {
		t.Error("expected check constraint to reject status")
	}
}

func TestRepository_Update(t *testing.T) {
	repo := newTestRepo(t)

	run := &Run{ID: "run-1", PoolName: "pool1", Status: StatusRunning}
	if err := repo.Create(run); err != nil {
		t.Fatal(err)
	}

	run.Status = StatusFail
	run.Reason = "expected failure, got success"
	run.NewUUID = "11111111-2222-3333-4444-555555555555"
	if err := repo.Update(run); err != nil {
		t.Fatalf("failed to update run: %v", err)
	}

	updated, _ := repo.Get("run-1")
	if updated.Status != StatusFail || updated.Reason != run.Reason || updated.NewUUID != run.NewUUID {
		t.Errorf("run not updated: %+v", updated)
	}
	if !updated.Finished() {
		t.Error("fail verdict should count as finished")
	}

	if err := repo.Update(&Run{ID: "missing", PoolName: "x", Status: StatusPass}); err == nil {
		t.Error("expected error updating a missing run")
	}
}

func TestRepository_UpdateStatus(t *testing.T) {
	repo := newTestRepo(t)

	repo.Create(&Run{ID: "run-1", PoolName: "pool1", Status: StatusPending})

	if err := repo.UpdateStatus("run-1", StatusError, "setup error in init: boom"); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}

	updated, _ := repo.Get("run-1")
	if updated.Status != StatusError || updated.Reason != "setup error in init: boom" {
		t.Errorf("status not updated: got %s / %s", updated.Status, updated.Reason)
	}
}

func TestRepository_ListAndUncleaned(t *testing.T) {
	repo := newTestRepo(t)

	repo.Create(&Run{ID: "run-1", PoolName: "pool1", Status: StatusPass})
	repo.Create(&Run{ID: "run-2", PoolName: "pool2", Status: StatusRunning})
	repo.Create(&Run{ID: "run-3", PoolName: "pool3", Status: StatusError})

	runs, err := repo.List()
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}

	if err := repo.MarkCleaned("run-1"); err != nil {
		t.Fatalf("failed to mark cleaned: %v", err)
	}

	uncleaned, err := repo.ListUncleaned()
	if err != nil {
		t.Fatalf("failed to list uncleaned runs: %v", err)
	}
	if len(uncleaned) != 2 || uncleaned[0].ID != "run-2" || uncleaned[1].ID != "run-3" {
		t.Errorf("unexpected uncleaned runs: %+v", uncleaned)
	}
}

func TestRepository_ListFinished(t *testing.T) {
	repo := newTestRepo(t)

	repo.Create(&Run{ID: "run-1", PoolName: "pool1", Status: StatusPass})
	repo.Create(&Run{ID: "run-2", PoolName: "pool2", Status: StatusRunning})
	repo.Create(&Run{ID: "run-3", PoolName: "pool3", Status: StatusFail, Warnings: 2, Timings: `{"create":1000000000}`})

	finished, err := repo.ListFinished()
	if err != nil {
		t.Fatalf("failed to list finished runs: %v", err)
	}
	if len(finished) != 2 || finished[0].ID != "run-1" || finished[1].ID != "run-3" {
		t.Fatalf("unexpected finished runs: %+v", finished)
	}
	if finished[1].Warnings != 2 || finished[1].Timings != `{"create":1000000000}` {
		t.Errorf("verdict details not stored: %+v", finished[1])
	}
}
