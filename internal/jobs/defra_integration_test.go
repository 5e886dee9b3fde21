package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackzampolin/audiodoc/internal/defra"
	"github.com/jackzampolin/audiodoc/internal/testutil"
)

// TestDefraStoreIntegration runs the store against a real DefraDB
// container. It needs Docker and is skipped with -short.
func TestDefraStoreIntegration(t *testing.T) {
	cli := testutil.RequireDocker(t)
	port, err := testutil.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}

	node, err := defra.NewNode(defra.NodeConfig{
		ContainerName: testutil.UniqueContainerName(t, cli, "defra"),
		HostPort:      port,
		DataPath:      t.TempDir(),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer node.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	if err := node.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if state, err := node.State(ctx); err != nil || state != defra.NodeRunning {
		t.Fatalf("State() = %s, %v", state, err)
	}

	store, err := OpenDefra(ctx, defra.NewClient(node.URL()))
	if err != nil {
		t.Fatalf("OpenDefra() error = %v", err)
	}
	// a second open must tolerate the existing schema
	if _, err := OpenDefra(ctx, defra.NewClient(node.URL())); err != nil {
		t.Fatalf("reopen error = %v", err)
	}

	id, err := store.Create(ctx, NewRecord("generate", []byte(`{"text":"hi"}`)))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateStatus(ctx, id, StatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}
	rec, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusFailed || rec.Error != "boom" || rec.CompletedAt == nil {
		t.Errorf("record = %+v", rec)
	}

	list, err := store.List(ctx, ListFilter{Statuses: []Status{StatusFailed}})
	if err != nil || len(list) != 1 {
		t.Errorf("List() = %d, %v", len(list), err)
	}

	if err := store.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete error = %v", err)
	}

	if err := node.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
