package models

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestMappingStore(t *testing.T) (*mappingStore, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mappings.json")
	s, err := newMappingStore(path, nil)
	if err != nil {
		t.Fatalf("newMappingStore() error = %v", err)
	}
	return s, path
}

func TestMappingStoreSetGet(t *testing.T) {
	s, _ := newTestMappingStore(t)

	if err := s.Set("/models/primary.gguf", "primary", "/models/mmproj.gguf", "mmproj", true); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	m, ok := s.Get("/models/primary.gguf")
	if !ok {
		t.Fatal("Get() returned ok=false after Set")
	}
	if m.CompanionPath != "/models/mmproj.gguf" {
		t.Errorf("CompanionPath = %q", m.CompanionPath)
	}
	if !m.Manual {
		t.Error("Manual = false, want true")
	}
	if m.AssignedAt.IsZero() {
		t.Error("AssignedAt was not set")
	}
}

func TestMappingStoreOverwrite(t *testing.T) {
	s, _ := newTestMappingStore(t)

	if err := s.Set("/models/primary.gguf", "primary", "/models/old.gguf", "old", false); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("/models/primary.gguf", "primary", "/models/new.gguf", "new", true); err != nil {
		t.Fatal(err)
	}

	m, _ := s.Get("/models/primary.gguf")
	if m.CompanionPath != "/models/new.gguf" {
		t.Errorf("CompanionPath = %q, want the last write", m.CompanionPath)
	}
	if len(s.All()) != 1 {
		t.Errorf("All() has %d entries, want 1", len(s.All()))
	}
}

func TestMappingStoreSurvivesReload(t *testing.T) {
	s, path := newTestMappingStore(t)

	if err := s.Set("/models/primary.gguf", "primary", "/models/mmproj.gguf", "mmproj", false); err != nil {
		t.Fatal(err)
	}

	// A fresh store over the same file sees the write.
	reloaded, err := newMappingStore(path, nil)
	if err != nil {
		t.Fatalf("newMappingStore() reload error = %v", err)
	}
	m, ok := reloaded.Get("/models/primary.gguf")
	if !ok {
		t.Fatal("mapping lost across reload")
	}
	if m.CompanionName != "mmproj" {
		t.Errorf("CompanionName = %q", m.CompanionName)
	}
}

func TestMappingStoreRemove(t *testing.T) {
	t.Run("removes existing", func(t *testing.T) {
		s, path := newTestMappingStore(t)

		if err := s.Set("/p.gguf", "p", "/c.gguf", "c", false); err != nil {
			t.Fatal(err)
		}
		if err := s.Remove("/p.gguf"); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if _, ok := s.Get("/p.gguf"); ok {
			t.Error("mapping still present after Remove")
		}

		reloaded, err := newMappingStore(path, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := reloaded.Get("/p.gguf"); ok {
			t.Error("removal was not durable")
		}
	})

	t.Run("absent mapping is a no-op", func(t *testing.T) {
		s, _ := newTestMappingStore(t)

		if err := s.Remove("/never-assigned.gguf"); err != nil {
			t.Errorf("Remove() error = %v, want nil", err)
		}
	})
}

func TestMappingStoreRemoveWhereCompanion(t *testing.T) {
	s, _ := newTestMappingStore(t)

	if err := s.Set("/a.gguf", "a", "/shared-mmproj.gguf", "shared", false); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("/b.gguf", "b", "/shared-mmproj.gguf", "shared", false); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("/c.gguf", "c", "/other-mmproj.gguf", "other", false); err != nil {
		t.Fatal(err)
	}

	if err := s.RemoveWhereCompanion("/shared-mmproj.gguf"); err != nil {
		t.Fatalf("RemoveWhereCompanion() error = %v", err)
	}

	if _, ok := s.Get("/a.gguf"); ok {
		t.Error("mapping for /a.gguf survived companion removal")
	}
	if _, ok := s.Get("/b.gguf"); ok {
		t.Error("mapping for /b.gguf survived companion removal")
	}
	if _, ok := s.Get("/c.gguf"); !ok {
		t.Error("unrelated mapping was removed")
	}
}

func TestMappingStoreSetRollback(t *testing.T) {
	s, _ := newTestMappingStore(t)

	if err := s.Set("/p.gguf", "p", "/old.gguf", "old", false); err != nil {
		t.Fatal(err)
	}

	// Point persistence at a directory so the next write cannot land.
	s.path = t.TempDir()

	if err := s.Set("/p.gguf", "p", "/new.gguf", "new", true); err == nil {
		t.Fatal("Set() succeeded writing over a directory")
	}

	// Memory stays in step with the durable file: the prior mapping
	// survives a failed overwrite.
	m, ok := s.Get("/p.gguf")
	if !ok {
		t.Fatal("prior mapping lost after a failed overwrite")
	}
	if m.CompanionPath != "/old.gguf" {
		t.Errorf("CompanionPath = %q, want the prior assignment", m.CompanionPath)
	}

	// A failed fresh insert rolls back to absence.
	if err := s.Set("/q.gguf", "q", "/c.gguf", "c", false); err == nil {
		t.Fatal("Set() succeeded writing over a directory")
	}
	if _, ok := s.Get("/q.gguf"); ok {
		t.Error("failed insert left an entry behind")
	}
}

func TestMappingStoreMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")

	s, err := newMappingStore(path, nil)
	if err != nil {
		t.Fatalf("newMappingStore() error = %v for a missing file", err)
	}
	if len(s.All()) != 0 {
		t.Errorf("expected an empty store, got %d entries", len(s.All()))
	}
}

func TestMappingStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := newMappingStore(path, nil); err == nil {
		t.Fatal("expected error for a corrupt mappings file")
	}
}
