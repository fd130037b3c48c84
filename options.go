package models

import (
	"net/http"
	"time"
)

// Concurrency constants for file transfers.
const (
	// DefaultConcurrency is the default number of concurrent downloads.
	DefaultConcurrency = 4

	// MaxConcurrency is the maximum allowed concurrent downloads.
	MaxConcurrency = 16

	// DefaultRequestTimeout is the default timeout for hub API requests.
	// File streams are not subject to this timeout.
	DefaultRequestTimeout = 30 * time.Second
)

// Retry queue constants. The exact values are implementation-chosen; the
// observable contract is only that backoff is non-decreasing and that every
// entry terminates in success or a reported permanent failure.
const (
	// QueueInitialBackoff is the delay before the first retry.
	QueueInitialBackoff = 2 * time.Second

	// QueueMaxBackoff caps the delay between retries.
	QueueMaxBackoff = 60 * time.Second

	// QueueMaxAttempts bounds retries before an entry is dropped and
	// reported as a permanent failure.
	QueueMaxAttempts = 5
)

// SearchCacheTTL is how long hub search results are served from cache.
// Repeated keystroke-driven searches within this window do not hit the hub.
const SearchCacheTTL = 30 * time.Second

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

// managerConfig holds configuration for Manager construction.
type managerConfig struct {
	// httpClient is used for all HTTP requests to the hub.
	httpClient HTTPClient

	// logger receives diagnostic log messages.
	logger Logger

	// concurrency bounds simultaneous transfers.
	concurrency int

	// inspector reads model file headers for catalog enrichment.
	inspector Inspector

	// queueNotify receives terminal retry-queue outcomes.
	queueNotify QueueNotifyFunc
}

// newManagerConfig returns a managerConfig with default values.
func newManagerConfig() *managerConfig {
	return &managerConfig{
		httpClient:  http.DefaultClient,
		concurrency: DefaultConcurrency,
		inspector:   ggufInspector{},
	}
}

// WithHTTPClient sets a custom HTTP client for hub requests.
// Useful for testing with mock servers or customizing timeouts.
// If not set, http.DefaultClient is used.
func WithHTTPClient(client HTTPClient) ManagerOption {
	return func(c *managerConfig) {
		c.httpClient = client
	}
}

// WithLogger sets a logger for diagnostic output.
// If not set, logging is disabled.
func WithLogger(logger Logger) ManagerOption {
	return func(c *managerConfig) {
		c.logger = logger
	}
}

// WithConcurrency bounds the number of simultaneous transfers.
// Values are clamped to the range [1, MaxConcurrency].
// Default is DefaultConcurrency (4).
func WithConcurrency(n int) ManagerOption {
	return func(c *managerConfig) {
		if n < 1 {
			n = 1
		}
		if n > MaxConcurrency {
			n = MaxConcurrency
		}
		c.concurrency = n
	}
}

// WithInspector replaces the GGUF header inspector used for local catalog
// enrichment. Useful for tests and for callers with their own metadata
// source.
func WithInspector(i Inspector) ManagerOption {
	return func(c *managerConfig) {
		c.inspector = i
	}
}

// QueueNotifyFunc receives the terminal outcome of a queued download: the
// final local path on success, or a non-nil error for a permanent failure.
// Called from the queue's background goroutine.
type QueueNotifyFunc func(req QueuedDownload, path string, err error)

// WithQueueNotify sets a callback for terminal retry-queue outcomes. If not
// set, outcomes are logged and otherwise dropped.
func WithQueueNotify(fn QueueNotifyFunc) ManagerOption {
	return func(c *managerConfig) {
		c.queueNotify = fn
	}
}

// DownloadOption configures a single download operation.
type DownloadOption func(*downloadConfig)

// downloadConfig holds per-download configuration.
type downloadConfig struct {
	// root is the target storage root.
	root Origin

	// overwrite replaces an existing destination file.
	overwrite bool
}

// newDownloadConfig returns a downloadConfig with default values.
func newDownloadConfig() *downloadConfig {
	return &downloadConfig{
		root: OriginUser,
	}
}

// WithTargetRoot selects the storage root a download is written to.
// Default is OriginUser. Selecting OriginBundled fails with ErrReadOnlyRoot.
func WithTargetRoot(root Origin) DownloadOption {
	return func(c *downloadConfig) {
		c.root = root
	}
}

// WithOverwrite replaces the destination file if it already exists.
// Without it, downloads to an existing destination fail with
// ErrAlreadyExists.
func WithOverwrite() DownloadOption {
	return func(c *downloadConfig) {
		c.overwrite = true
	}
}

// HTTPClient is the interface for HTTP operations.
// *http.Client satisfies this interface.
type HTTPClient interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)
}

// Logger is the interface for diagnostic logging.
// Compatible with slog, zap, logrus, and other structured loggers.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, keysAndValues ...any)

	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, keysAndValues ...any)

	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, keysAndValues ...any)

	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, keysAndValues ...any)
}
