package artifact

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSaveReadRemove(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "artifacts"), newLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	id := "3f2a1b4c-9d8e-4f10-a2b3-c4d5e6f70819"
	pcm := make([]byte, 2*220) // 10ms at 22.05kHz mono
	if err := store.Save(id, pcm, 22050, 1); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := store.Read(id)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Fatalf("expected RIFF header, got %d bytes", len(data))
	}

	if err := store.Remove(id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := store.Read(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestReadUnknownID(t *testing.T) {
	store, err := NewStore(t.TempDir(), newLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Read("00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveRejectsUnalignedPCM(t *testing.T) {
	store, err := NewStore(t.TempDir(), newLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Save("id", []byte{1, 2, 3}, 22050, 1); err == nil {
		t.Fatal("expected error for unaligned pcm")
	}
}

func TestSweep(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, newLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	stale := filepath.Join(dir, "stale.wav")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("write stale: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	fresh := filepath.Join(dir, "fresh.wav")
	if err := os.WriteFile(fresh, []byte("new"), 0o644); err != nil {
		t.Fatalf("write fresh: %v", err)
	}

	removed, err := store.Sweep(10 * time.Minute)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("expected stale artifact removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("expected fresh artifact kept: %v", err)
	}
}
