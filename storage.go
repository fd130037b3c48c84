package models

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// artifactExt is the file extension identifying model artifacts.
const artifactExt = ".gguf"

// partialSuffix marks in-flight downloads. A *.partial file is never a
// complete model; the scanner skips them and failed transfers delete them.
const partialSuffix = ".partial"

// storageRoot is one directory the module treats as a source of local
// models.
type storageRoot struct {
	// origin classifies the root.
	origin Origin

	// dir is the absolute directory path.
	dir string

	// writable reports whether downloads and deletes may target this root.
	writable bool
}

// storageRoots holds the configured roots in a fixed order:
// bundled, user, custom.
type storageRoots struct {
	roots []storageRoot
}

// envVarName constructs an environment variable name from the app name.
// Example: envVarName("clara", "MODELS_DIR") returns "CLARA_MODELS_DIR".
func envVarName(appName, suffix string) string {
	return strings.ToUpper(appName) + "_" + suffix
}

// newStorageRoots resolves the configured storage roots. The user root is
// always present and is created if missing; bundled and custom roots are
// optional and left untouched.
func newStorageRoots(cfg Config) (*storageRoots, error) {
	var userDir string

	// Priority: env var > Config.DataDir > platform default
	if envDir := os.Getenv(envVarName(cfg.AppName, "MODELS_DIR")); envDir != "" {
		userDir = envDir
	} else if cfg.DataDir != "" {
		userDir = cfg.DataDir
	} else {
		defaultDir, err := getDefaultDataDir(cfg.AppName)
		if err != nil {
			return nil, fmt.Errorf("failed to get default data dir: %w", err)
		}
		userDir = defaultDir
	}

	if err := ensureDir(userDir); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	s := &storageRoots{}
	if cfg.BundledDir != "" {
		s.roots = append(s.roots, storageRoot{origin: OriginBundled, dir: cfg.BundledDir, writable: false})
	}
	s.roots = append(s.roots, storageRoot{origin: OriginUser, dir: userDir, writable: true})
	if cfg.CustomDir != "" {
		s.roots = append(s.roots, storageRoot{origin: OriginCustom, dir: cfg.CustomDir, writable: true})
	}

	return s, nil
}

// list returns the configured roots in scan order.
func (s *storageRoots) list() []storageRoot {
	return s.roots
}

// userDir returns the user root's directory. Module metadata (the mapping
// store) lives there.
func (s *storageRoots) userDir() string {
	for _, r := range s.roots {
		if r.origin == OriginUser {
			return r.dir
		}
	}
	return ""
}

// writableDir resolves the directory for a download target root.
// Returns ErrReadOnlyRoot for the bundled root and ErrStorageError for a
// root that is not configured.
func (s *storageRoots) writableDir(origin Origin) (string, error) {
	for _, r := range s.roots {
		if r.origin != origin {
			continue
		}
		if !r.writable {
			return "", ErrReadOnlyRoot
		}
		return r.dir, nil
	}
	return "", fmt.Errorf("%w: storage root %q is not configured", ErrStorageError, origin)
}

// originOf classifies an absolute path by the root that contains it.
// Returns false when the path is outside every configured root.
func (s *storageRoots) originOf(path string) (Origin, bool) {
	for _, r := range s.roots {
		rel, err := filepath.Rel(r.dir, path)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return r.origin, true
		}
	}
	return "", false
}

// ensureDir creates a directory and all parent directories if they don't
// exist.
func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory %s: %v", ErrStorageError, path, err)
	}
	return nil
}

// atomicWrite writes data to a file using write-then-rename for atomicity.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory: %v", ErrStorageError, err)
	}

	// Write to temp file first
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write temp file: %v", ErrStorageError, err)
	}

	// Atomic rename
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) // cleanup on failure
		return fmt.Errorf("%w: failed to rename temp file: %v", ErrStorageError, err)
	}

	return nil
}

// isArtifact reports whether a filename names a model artifact, excluding
// in-flight partials.
func isArtifact(name string) bool {
	if strings.HasSuffix(name, partialSuffix) {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), artifactExt)
}

// displayName derives the display name for a model file.
func displayName(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
