//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "thermoters.db")

	store, err := NewStore("sqlite", dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = CloseIfSupported(store)
	})

	for _, r := range []struct{ id, kind, at string }{
		{"late", "occupancy", "2026-01-03T00:00:00Z"},
		{"early", "evaluate", "2026-01-01T00:00:00Z"},
	} {
		if err := store.SaveRun(ctx, sampleRun(r.id, r.kind, r.at)); err != nil {
			t.Fatalf("save %s: %v", r.id, err)
		}
	}

	loaded, ok, err := store.GetRun(ctx, "early")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok {
		t.Fatal("expected run early")
	}
	if loaded.Scores["lib_a"] != 12.5 || len(loaded.DataIDs) != 2 {
		t.Fatalf("unexpected run loaded: %+v", loaded)
	}

	runs, err := store.ListRuns(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "early" || runs[1].ID != "late" {
		t.Fatalf("unexpected run order: %+v", runs)
	}
	filtered, err := store.ListRuns(ctx, "occupancy")
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "late" {
		t.Fatalf("unexpected filtered runs: %+v", filtered)
	}

	updated := sampleRun("early", "evaluate", "2026-01-01T00:00:00Z")
	updated.Scores["lib_a"] = 1
	if err := store.SaveRun(ctx, updated); err != nil {
		t.Fatalf("update run: %v", err)
	}
	loaded, _, _ = store.GetRun(ctx, "early")
	if loaded.Scores["lib_a"] != 1 {
		t.Fatalf("expected upsert, got %+v", loaded.Scores)
	}
}

func TestSQLiteStoreModelSnapshotAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "thermoters.db"))
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	if err := store.SaveRun(ctx, sampleRun("r1", "evaluate", "2026-01-01T00:00:00Z")); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := store.SaveModelSnapshot(ctx, "r1", []byte(`{"en.scale": 2}`)); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	payload, ok, err := store.GetModelSnapshot(ctx, "r1")
	if err != nil || !ok || string(payload) != `{"en.scale": 2}` {
		t.Fatalf("unexpected snapshot %q ok=%v err=%v", payload, ok, err)
	}

	if err := store.DeleteRun(ctx, "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := store.GetRun(ctx, "r1"); err != nil || ok {
		t.Fatalf("expected deleted run, ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.GetModelSnapshot(ctx, "r1"); err != nil || ok {
		t.Fatalf("expected deleted snapshot, ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "thermoters.db"))
	if _, _, err := store.GetRun(context.Background(), "x"); err == nil {
		t.Fatal("expected error before init")
	}
}
