package models

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEnvVarName(t *testing.T) {
	tests := []struct {
		appName string
		suffix  string
		want    string
	}{
		{"clara", "MODELS_DIR", "CLARA_MODELS_DIR"},
		{"MyApp", "HUB_TOKEN", "MYAPP_HUB_TOKEN"},
		{"gguf", "HUB_URL", "GGUF_HUB_URL"},
	}

	for _, tt := range tests {
		if got := envVarName(tt.appName, tt.suffix); got != tt.want {
			t.Errorf("envVarName(%q, %q) = %q, want %q", tt.appName, tt.suffix, got, tt.want)
		}
	}
}

func TestNewStorageRoots(t *testing.T) {
	t.Run("creates user root", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "models")

		roots, err := newStorageRoots(Config{AppName: "testapp", DataDir: dir})
		if err != nil {
			t.Fatalf("newStorageRoots() error = %v", err)
		}

		if roots.userDir() != dir {
			t.Errorf("userDir() = %q, want %q", roots.userDir(), dir)
		}
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("user root was not created: %v", err)
		}
	})

	t.Run("env var overrides DataDir", func(t *testing.T) {
		envDir := filepath.Join(t.TempDir(), "from-env")
		t.Setenv("TESTAPP_MODELS_DIR", envDir)

		roots, err := newStorageRoots(Config{AppName: "testapp", DataDir: t.TempDir()})
		if err != nil {
			t.Fatalf("newStorageRoots() error = %v", err)
		}
		if roots.userDir() != envDir {
			t.Errorf("userDir() = %q, want env override %q", roots.userDir(), envDir)
		}
	})

	t.Run("bundled and custom roots are optional", func(t *testing.T) {
		roots, err := newStorageRoots(Config{AppName: "testapp", DataDir: t.TempDir()})
		if err != nil {
			t.Fatalf("newStorageRoots() error = %v", err)
		}
		if len(roots.list()) != 1 {
			t.Errorf("expected 1 root, got %d", len(roots.list()))
		}
	})

	t.Run("scan order is bundled then user then custom", func(t *testing.T) {
		roots, err := newStorageRoots(Config{
			AppName:    "testapp",
			BundledDir: t.TempDir(),
			DataDir:    t.TempDir(),
			CustomDir:  t.TempDir(),
		})
		if err != nil {
			t.Fatalf("newStorageRoots() error = %v", err)
		}

		var order []Origin
		for _, r := range roots.list() {
			order = append(order, r.origin)
		}
		want := []Origin{OriginBundled, OriginUser, OriginCustom}
		for i := range want {
			if order[i] != want[i] {
				t.Fatalf("root order = %v, want %v", order, want)
			}
		}
	})
}

func TestWritableDir(t *testing.T) {
	roots, err := newStorageRoots(Config{
		AppName:    "testapp",
		BundledDir: t.TempDir(),
		DataDir:    t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("user root is writable", func(t *testing.T) {
		if _, err := roots.writableDir(OriginUser); err != nil {
			t.Errorf("writableDir(user) error = %v", err)
		}
	})

	t.Run("bundled root is read-only", func(t *testing.T) {
		if _, err := roots.writableDir(OriginBundled); !errors.Is(err, ErrReadOnlyRoot) {
			t.Errorf("writableDir(bundled) error = %v, want ErrReadOnlyRoot", err)
		}
	})

	t.Run("unconfigured root fails", func(t *testing.T) {
		if _, err := roots.writableDir(OriginCustom); err == nil {
			t.Error("writableDir(custom) succeeded for an unconfigured root")
		}
	})
}

func TestOriginOf(t *testing.T) {
	bundled := t.TempDir()
	user := t.TempDir()
	roots, err := newStorageRoots(Config{AppName: "testapp", BundledDir: bundled, DataDir: user})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("classifies paths by root", func(t *testing.T) {
		if origin, ok := roots.originOf(filepath.Join(bundled, "model.gguf")); !ok || origin != OriginBundled {
			t.Errorf("originOf(bundled path) = %v, %v", origin, ok)
		}
		if origin, ok := roots.originOf(filepath.Join(user, "sub", "model.gguf")); !ok || origin != OriginUser {
			t.Errorf("originOf(user subdir path) = %v, %v", origin, ok)
		}
	})

	t.Run("outside every root", func(t *testing.T) {
		if _, ok := roots.originOf(filepath.Join(t.TempDir(), "model.gguf")); ok {
			t.Error("originOf classified a path outside all roots")
		}
	})
}

func TestIsArtifact(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"model.gguf", true},
		{"Model.GGUF", true},
		{"model.gguf.partial", false},
		{"model.bin", false},
		{"readme.md", false},
	}

	for _, tt := range tests {
		if got := isArtifact(tt.name); got != tt.want {
			t.Errorf("isArtifact(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	if got := displayName("llama-7b.Q4_K_M.gguf"); got != "llama-7b.Q4_K_M" {
		t.Errorf("displayName() = %q", got)
	}
}

func TestAtomicWrite(t *testing.T) {
	t.Run("writes content", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sub", "file.json")

		if err := atomicWrite(path, []byte("content")); err != nil {
			t.Fatalf("atomicWrite() error = %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "content" {
			t.Errorf("content = %q", data)
		}
	})

	t.Run("leaves no temp file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "file.json")

		if err := atomicWrite(path, []byte("x")); err != nil {
			t.Fatal(err)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 {
			t.Errorf("expected 1 file, found %d", len(entries))
		}
	})
}
