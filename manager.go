package models

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// manager is the concrete implementation of the Manager interface.
type manager struct {
	// cfg holds the module configuration.
	cfg Config

	// logger receives diagnostic messages. May be nil.
	logger Logger

	// roots are the configured storage roots.
	roots *storageRoots

	// mappings is the durable companion-mapping store.
	mappings *mappingStore

	// scanner builds local catalog listings.
	scanner *scanner

	// hub handles remote catalog communication.
	hub *hubClient

	// broker fans out download progress events.
	broker *progressBroker

	// downloader streams files from the hub.
	downloader *downloader

	// queue retries rate-limited downloads in the background.
	queue *downloadQueue
}

// ListLocal returns all model files across the configured storage roots.
func (m *manager) ListLocal(ctx context.Context) ([]LocalModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.scanner.listLocal()
}

// SearchRemote queries the hub for models matching query.
func (m *manager) SearchRemote(ctx context.Context, query string, limit int, sort string) ([]RemoteModel, error) {
	return m.hub.search(ctx, query, limit, sort)
}

// Download streams a single file into a storage root.
func (m *manager) Download(ctx context.Context, repoID, filename string, opts ...DownloadOption) (string, error) {
	cfg := newDownloadConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return m.downloader.download(ctx, repoID, filename, cfg)
}

// DownloadWithDependencies downloads the primary and its matching companion
// file when the model is vision-capable.
func (m *manager) DownloadWithDependencies(ctx context.Context, model RemoteModel, primaryFilename string, opts ...DownloadOption) (PullResult, error) {
	cfg := newDownloadConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return m.downloader.downloadWithDependencies(ctx, model, primaryFilename, cfg)
}

// CancelDownload aborts an in-flight transfer.
func (m *manager) CancelDownload(filename string) bool {
	return m.downloader.cancel(filename)
}

// DeleteLocal removes a model file and prunes mappings referencing it.
// The bundled root is managed by the application install and is refused.
func (m *manager) DeleteLocal(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	origin, ok := m.roots.originOf(path)
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrLocalNotFound)
	}
	if origin == OriginBundled {
		return fmt.Errorf("%s: %w", path, ErrReadOnlyRoot)
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, ErrLocalNotFound)
		}
		return fmt.Errorf("%w: removing %s: %v", ErrStorageError, path, err)
	}

	// Prune mappings on both sides: the deleted file may have been a
	// primary or someone's companion.
	if err := m.mappings.Remove(path); err != nil {
		return err
	}
	if err := m.mappings.RemoveWhereCompanion(path); err != nil {
		return err
	}

	if m.logger != nil {
		m.logger.Info("local model deleted", "path", path)
	}
	return nil
}

// AssignCompanion records a manual mapping after validating both paths.
func (m *manager) AssignCompanion(ctx context.Context, primaryPath, companionPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, p := range []string{primaryPath, companionPath} {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%s: %w", p, ErrLocalNotFound)
		}
	}

	return m.mappings.Set(
		primaryPath, displayName(filepath.Base(primaryPath)),
		companionPath, displayName(filepath.Base(companionPath)),
		true,
	)
}

// RemoveCompanionAssignment deletes the mapping for primaryPath.
func (m *manager) RemoveCompanionAssignment(ctx context.Context, primaryPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.mappings.Remove(primaryPath)
}

// GetCompanion returns the mapping for primaryPath, if any.
func (m *manager) GetCompanion(ctx context.Context, primaryPath string) (CompanionMapping, bool) {
	return m.mappings.Get(primaryPath)
}

// ListCompanionFiles enumerates companion files with compatibility
// annotations.
func (m *manager) ListCompanionFiles(ctx context.Context, refDim int) ([]CompanionFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.scanner.companionFiles(refDim)
}

// SubscribeProgress registers a progress listener.
func (m *manager) SubscribeProgress() (<-chan DownloadProgress, func()) {
	return m.broker.subscribe()
}

// QueueSnapshot returns the retry queue's pending entries.
func (m *manager) QueueSnapshot() []QueuedDownload {
	return m.queue.snapshot()
}

// Close stops background work. In-flight downloads are canceled and their
// partial files removed.
func (m *manager) Close() error {
	m.queue.close()

	m.downloader.mu.Lock()
	active := make([]string, 0, len(m.downloader.active))
	for name := range m.downloader.active {
		active = append(active, name)
	}
	m.downloader.mu.Unlock()
	for _, name := range active {
		m.downloader.cancel(name)
	}

	m.broker.close()
	return nil
}
