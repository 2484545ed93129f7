package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"greencycle/internal/domain"
	"greencycle/internal/store"
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	src := t.TempDir()
	dbPath := filepath.Join(src, "greencycle.db")
	cfgPath := filepath.Join(src, "config.json")
	if err := os.WriteFile(cfgPath, []byte(`{"general":{}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	st, err := store.Open(store.Config{Path: dbPath, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	p, err := st.InsertPickup(ctx, domain.Pickup{
		UserID: "u1", Date: "2025-06-20", TimeWindow: "08:00-10:00",
		Address: "1 Main St", ServiceType: "recycling",
	})
	if err != nil {
		t.Fatal(err)
	}
	st.Close()

	snap := filepath.Join(t.TempDir(), "snap.db")
	if err := snapshotDatabase(ctx, dbPath, snap); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := createTarGz(archive, map[string]string{"greencycle.db": snap, configArchiveName: cfgPath}); err != nil {
		t.Fatalf("createTarGz: %v", err)
	}

	dst := t.TempDir()
	restoredDB := filepath.Join(dst, "data", "greencycle.db")
	restoredCfg := filepath.Join(dst, "config.json")
	restored, err := extractTarGz(archive, restoredDB, restoredCfg)
	if err != nil {
		t.Fatalf("extractTarGz: %v", err)
	}
	if len(restored) != 2 {
		t.Fatalf("expected 2 restored files, got %v", restored)
	}

	data, err := os.ReadFile(restoredCfg)
	if err != nil || string(data) != `{"general":{}}` {
		t.Errorf("config not restored: %q, %v", data, err)
	}

	back, err := store.Open(store.Config{Path: restoredDB, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	defer back.Close()
	got, err := back.GetPickup(ctx, p.ID)
	if err != nil {
		t.Fatalf("pickup missing after restore: %v", err)
	}
	if got.Address != "1 Main St" {
		t.Errorf("unexpected pickup: %+v", got)
	}
}

func TestExtractTarGz_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tar.gz")
	os.WriteFile(path, []byte("not gzip"), 0o644)
	if _, err := extractTarGz(path, filepath.Join(t.TempDir(), "x.db"), filepath.Join(t.TempDir(), "c.json")); err == nil {
		t.Error("expected error for a non-gzip file")
	}
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := humanSize(tt.in); got != tt.want {
			t.Errorf("humanSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
