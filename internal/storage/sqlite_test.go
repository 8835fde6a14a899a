//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteStore(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "tlcopt.db"))
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	exerciseStore(t, store)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "tlcopt.db")

	first := NewSQLiteStore(dbPath)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("init first: %v", err)
	}
	if err := first.SaveSession(ctx, sampleSession("s1", time.Now().UTC())); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := first.SaveEvaluation(ctx, sampleEvaluation("s1", 1, 0)); err != nil {
		t.Fatalf("save evaluation: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close first: %v", err)
	}

	second := NewSQLiteStore(dbPath)
	if err := second.Init(ctx); err != nil {
		t.Fatalf("init second: %v", err)
	}
	t.Cleanup(func() {
		_ = second.Close()
	})

	if _, ok, err := second.GetSession(ctx, "s1"); err != nil || !ok {
		t.Fatalf("expected persisted session, ok=%t err=%v", ok, err)
	}
	evaluations, err := second.GetEvaluations(ctx, "s1")
	if err != nil {
		t.Fatalf("get evaluations: %v", err)
	}
	if len(evaluations) != 1 || evaluations[0].Genes[0] != 10 {
		t.Fatalf("unexpected evaluations: %+v", evaluations)
	}
}

func TestDefaultStoreKindSQLite(t *testing.T) {
	if DefaultStoreKind() != KindSQLite {
		t.Fatalf("default store kind=%s", DefaultStoreKind())
	}
}
