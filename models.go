package models

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// Manager composes the catalog, download, and companion-mapping subsystems
// into the operations a presentation layer calls.
// All methods are safe for concurrent use.
// For CLI integration, use NewCommand instead.
type Manager interface {
	// ListLocal returns a record for every model file across the
	// configured storage roots, enriched with header metadata and any
	// assigned companion. No ordering is guaranteed.
	ListLocal(ctx context.Context) ([]LocalModel, error)

	// SearchRemote queries the hub. The sort parameter is passed through
	// opaquely ("downloads", "likes", "lastModified", or "" for the hub
	// default). Results are cached briefly.
	SearchRemote(ctx context.Context, query string, limit int, sort string) ([]RemoteModel, error)

	// Download streams a single file from the given hub repository into a
	// storage root and returns its final local path.
	// Returns ErrDownloadActive if the filename is already in flight and
	// ErrAlreadyExists (with the existing path) if the destination exists
	// and WithOverwrite() was not given.
	Download(ctx context.Context, repoID, filename string, opts ...DownloadOption) (string, error)

	// DownloadWithDependencies downloads the primary file and, for
	// vision-capable models whose file set includes a companion
	// (projection) file, the companion too, recording an automatic
	// mapping between the two local paths. The primary download never
	// rolls back on companion failure; see PullResult.
	DownloadWithDependencies(ctx context.Context, model RemoteModel, primaryFilename string, opts ...DownloadOption) (PullResult, error)

	// CancelDownload aborts the in-flight transfer for filename and
	// removes its partial file. Reports whether a transfer was active.
	// The canceled download call resolves with ErrDownloadCanceled.
	CancelDownload(filename string) bool

	// DeleteLocal removes a model file from a writable root and prunes any
	// companion mappings referencing it (as primary or companion).
	// Returns ErrReadOnlyRoot for bundled models and ErrLocalNotFound for
	// paths outside the configured roots.
	DeleteLocal(ctx context.Context, path string) error

	// AssignCompanion records a manual primary→companion mapping. Both
	// paths must exist on disk. Overwrites any prior assignment for the
	// primary.
	AssignCompanion(ctx context.Context, primaryPath, companionPath string) error

	// RemoveCompanionAssignment deletes the mapping for primaryPath.
	// Removing an absent mapping is a no-op, not an error.
	RemoveCompanionAssignment(ctx context.Context, primaryPath string) error

	// GetCompanion returns the mapping for primaryPath, or ok=false when
	// none is assigned. Absence is a valid result, not an error.
	GetCompanion(ctx context.Context, primaryPath string) (CompanionMapping, bool)

	// ListCompanionFiles enumerates every companion-classified file across
	// the storage roots, annotated with compatibility against refDim.
	// Pass 0 for no reference dimension (annotations become unknown).
	ListCompanionFiles(ctx context.Context, refDim int) ([]CompanionFile, error)

	// SubscribeProgress registers a progress listener for all transfers.
	// Events per filename arrive in non-decreasing byte order; a slow
	// subscriber loses oldest events rather than stalling transfers.
	// The cancel func must be called when done.
	SubscribeProgress() (<-chan DownloadProgress, func())

	// QueueSnapshot returns the retry queue's pending entries.
	QueueSnapshot() []QueuedDownload

	// Close stops the retry queue and the progress broker. The Manager
	// must not be used afterwards.
	Close() error
}

// Ensure manager implements Manager interface.
var _ Manager = (*manager)(nil)

// NewManager creates a new Manager with the given configuration.
// Returns an error if the configuration is invalid (empty AppName or
// HubURL).
func NewManager(cfg Config, opts ...ManagerOption) (Manager, error) {
	if cfg.AppName == "" {
		return nil, errors.New("models: AppName is required")
	}
	if cfg.HubURL == "" {
		return nil, errors.New("models: HubURL is required")
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv(envVarName(cfg.AppName, "HUB_TOKEN"))
	}

	mcfg := newManagerConfig()
	for _, opt := range opts {
		opt(mcfg)
	}

	roots, err := newStorageRoots(cfg)
	if err != nil {
		return nil, err
	}

	mappings, err := newMappingStore(filepath.Join(roots.userDir(), "mappings.json"), mcfg.logger)
	if err != nil {
		return nil, err
	}

	hub := newHubClient(cfg.HubURL, cfg.Token, mcfg.httpClient, mcfg.logger)
	broker := newProgressBroker()
	dl := newDownloader(hub, roots, mappings, broker, mcfg.logger, mcfg.concurrency)
	queue := newDownloadQueue(dl, mappings, mcfg.logger, mcfg.queueNotify)
	dl.enqueue = queue.enqueue

	return &manager{
		cfg:        cfg,
		logger:     mcfg.logger,
		roots:      roots,
		mappings:   mappings,
		scanner:    newScanner(roots, mcfg.inspector, mappings, mcfg.logger),
		hub:        hub,
		broker:     broker,
		downloader: dl,
		queue:      queue,
	}, nil
}
