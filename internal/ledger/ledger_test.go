package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetDefaultsToZero(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "version.yaml"))
	v, err := l.Get()
	if err != nil {
		t.Fatalf("Get() returned an unexpected error: %v", err)
	}
	if v != 0 {
		t.Errorf("Expected version 0 for a fresh ledger, got %v", v)
	}
}

func TestSetAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "version.yaml")
	l := New(path)

	for _, version := range []float64{0.1, 2, 3.5} {
		if err := l.Set(version); err != nil {
			t.Fatalf("Set(%v) returned an unexpected error: %v", version, err)
		}
		got, err := New(path).Get()
		if err != nil {
			t.Fatalf("Get() returned an unexpected error: %v", err)
		}
		if got != version {
			t.Errorf("Expected version %v, got %v", version, got)
		}
	}
}

func TestSetApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "version.yaml")
	l := New(path)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	if err := l.SetApplied(2, "abc123"); err != nil {
		t.Fatalf("SetApplied() returned an unexpected error: %v", err)
	}

	e, err := l.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() returned an unexpected error: %v", err)
	}
	if e.Version != 2 || e.Digest != "abc123" || !e.UpdatedAt.Equal(fixed) {
		t.Errorf("Unexpected entry %+v", e)
	}

	t.Run("Set drops the digest", func(t *testing.T) {
		if err := l.Set(3); err != nil {
			t.Fatalf("Set() returned an unexpected error: %v", err)
		}
		e, err := l.Snapshot()
		if err != nil {
			t.Fatalf("Snapshot() returned an unexpected error: %v", err)
		}
		if e.Digest != "" {
			t.Errorf("Expected digest to be cleared, got '%s'", e.Digest)
		}
	})
}

func TestLedgerSurvivesStoreDeletion(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "questions.db")
	if err := os.WriteFile(store, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := New(filepath.Join(dir, "version.yaml"))
	if err := l.Set(4); err != nil {
		t.Fatalf("Set() returned an unexpected error: %v", err)
	}
	if err := os.Remove(store); err != nil {
		t.Fatal(err)
	}
	v, err := l.Get()
	if err != nil {
		t.Fatalf("Get() returned an unexpected error: %v", err)
	}
	if v != 4 {
		t.Errorf("Expected version 4, got %v", v)
	}
}

func TestCorruptLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "version.yaml")
	if err := os.WriteFile(path, []byte("questions_db_version: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path).Get(); err == nil {
		t.Error("Expected an error for a corrupt ledger")
	}
}
