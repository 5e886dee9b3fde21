package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "data", "jobs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := NewRecord("generate", json.RawMessage(`{"text":"hi"}`))
			id, err := store.Create(ctx, rec)
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if id == "" {
				t.Fatal("Create() returned empty id")
			}

			got, err := store.Get(ctx, id)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.Status != StatusSubmitted || got.JobType != "generate" || string(got.Input) != `{"text":"hi"}` {
				t.Errorf("Get() = %+v", got)
			}
			if got.StartedAt != nil || got.CompletedAt != nil {
				t.Error("fresh record should have no start/completion time")
			}

			if err := store.UpdateStatus(ctx, id, StatusQueued, ""); err != nil {
				t.Fatalf("UpdateStatus(queued) error = %v", err)
			}
			got, _ = store.Get(ctx, id)
			if got.StartedAt != nil {
				t.Error("queued should not set StartedAt")
			}

			if err := store.UpdateStatus(ctx, id, StatusExtractingText, ""); err != nil {
				t.Fatalf("UpdateStatus() error = %v", err)
			}
			if err := store.UpdateMetadata(ctx, id, map[string]any{"pages": float64(3)}); err != nil {
				t.Fatalf("UpdateMetadata() error = %v", err)
			}
			if err := store.SetResult(ctx, id, json.RawMessage(`{"audio_url":"/a"}`)); err != nil {
				t.Fatalf("SetResult() error = %v", err)
			}
			if err := store.UpdateStatus(ctx, id, StatusFailed, "ocr failed"); err != nil {
				t.Fatalf("UpdateStatus(failed) error = %v", err)
			}

			got, err = store.Get(ctx, id)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.Status != StatusFailed || got.Error != "ocr failed" {
				t.Errorf("status/error = %s/%q", got.Status, got.Error)
			}
			if got.StartedAt == nil || got.CompletedAt == nil {
				t.Error("expected start and completion times")
			}
			if got.Metadata["pages"] != float64(3) {
				t.Errorf("metadata = %v", got.Metadata)
			}
			if string(got.Result) != `{"audio_url":"/a"}` {
				t.Errorf("result = %s", got.Result)
			}

			if err := store.Delete(ctx, id); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := store.Get(ctx, id); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
			}
			if err := store.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
				t.Errorf("second Delete() error = %v, want ErrNotFound", err)
			}
			if err := store.UpdateStatus(ctx, "missing", StatusQueued, ""); !errors.Is(err, ErrNotFound) {
				t.Errorf("UpdateStatus(missing) error = %v, want ErrNotFound", err)
			}
			if err := store.HealthCheck(ctx); err != nil {
				t.Errorf("HealthCheck() error = %v", err)
			}
		})
	}
}

func TestStoreList(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			var ids []string
			for i, jobType := range []string{"generate", "generate", "other"} {
				rec := NewRecord(jobType, nil)
				rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
				rec.UpdatedAt = rec.CreatedAt
				id, err := store.Create(ctx, rec)
				if err != nil {
					t.Fatalf("Create() error = %v", err)
				}
				ids = append(ids, id)
			}
			if err := store.UpdateStatus(ctx, ids[0], StatusCompleted, ""); err != nil {
				t.Fatal(err)
			}

			all, err := store.List(ctx, ListFilter{})
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(all) != 3 || all[0].ID != ids[2] || all[2].ID != ids[0] {
				t.Errorf("List() order wrong: %v", recordIDs(all))
			}

			gen, _ := store.List(ctx, ListFilter{JobType: "generate"})
			if len(gen) != 2 {
				t.Errorf("List(generate) = %d records, want 2", len(gen))
			}

			done, _ := store.List(ctx, ListFilter{Statuses: []Status{StatusCompleted, StatusFailed}})
			if len(done) != 1 || done[0].ID != ids[0] {
				t.Errorf("List(terminal) = %v", recordIDs(done))
			}

			limited, _ := store.List(ctx, ListFilter{Limit: 1})
			if len(limited) != 1 || limited[0].ID != ids[2] {
				t.Errorf("List(limit 1) = %v", recordIDs(limited))
			}
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id, _ := store.Create(ctx, NewRecord("generate", nil))
	_ = store.UpdateMetadata(ctx, id, map[string]any{"k": "v"})

	got, _ := store.Get(ctx, id)
	got.Metadata["k"] = "changed"
	got.Status = StatusFailed

	again, _ := store.Get(ctx, id)
	if again.Metadata["k"] != "v" || again.Status != StatusSubmitted {
		t.Errorf("store was mutated through a returned record: %+v", again)
	}
}

func TestSQLiteStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	id, err := store.Create(ctx, NewRecord("generate", json.RawMessage(`{}`)))
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Get(ctx, id); err != nil {
		t.Errorf("Get() after reopen error = %v", err)
	}
}

func TestStatus(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusSubmitted, StatusQueued, StatusExtractingText, StatusTextReady, StatusSynthesizingAudio, StatusMixing} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("running").Valid() {
		t.Error("unknown status should be invalid")
	}
}

func recordIDs(recs []*Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
