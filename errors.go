package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for model management operations.
// Use errors.Is() to check for specific error conditions.
var (
	// ErrModelNotFound indicates the model repository does not exist on the hub.
	ErrModelNotFound = errors.New("models: model not found on hub")

	// ErrFileNotFound indicates the requested file does not exist in the
	// model repository.
	ErrFileNotFound = errors.New("models: file not found in model repository")

	// ErrLocalNotFound indicates a local path does not reference an existing
	// file in any storage root.
	ErrLocalNotFound = errors.New("models: local file does not exist")

	// ErrRateLimited indicates the hub rejected the request due to rate
	// limiting. Requests failing with this error are eligible for the retry
	// queue; they are never retried inline.
	ErrRateLimited = errors.New("models: hub rate limit exceeded")

	// ErrNetworkError indicates a network or connection failure.
	ErrNetworkError = errors.New("models: network error")

	// ErrHubError indicates the hub returned invalid or unparseable data.
	ErrHubError = errors.New("models: invalid hub response")

	// ErrStorageError indicates a filesystem operation failed.
	ErrStorageError = errors.New("models: storage error")

	// ErrDownloadActive indicates a download for the same filename is
	// already in flight. The caller should wait for it rather than start a
	// second stream to the same destination.
	ErrDownloadActive = errors.New("models: download already in progress")

	// ErrDownloadCanceled indicates a download was canceled before
	// completion. The partial file has been removed.
	ErrDownloadCanceled = errors.New("models: download canceled")

	// ErrAlreadyExists indicates the destination file already exists.
	// Returned by download operations when WithOverwrite() is not specified.
	ErrAlreadyExists = errors.New("models: file already downloaded")

	// ErrReadOnlyRoot indicates an attempt to modify the bundled storage
	// root, which is managed by the application install.
	ErrReadOnlyRoot = errors.New("models: bundled storage root is read-only")

	// ErrInvalidRef indicates an invalid model repository reference format.
	ErrInvalidRef = errors.New("models: invalid model reference")
)

// DownloadError describes a failed transfer. It wraps one of the transport
// sentinels (ErrNetworkError, ErrRateLimited, ErrModelNotFound,
// ErrFileNotFound, ErrHubError) and carries the HTTP status when one was
// received.
type DownloadError struct {
	// Filename is the file whose transfer failed.
	Filename string

	// StatusCode is the HTTP status returned by the hub, or 0 if the
	// failure occurred before a response was received.
	StatusCode int

	// Err is the underlying sentinel or wrapped cause.
	Err error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("downloading %s: status %d: %v", e.Filename, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("downloading %s: %v", e.Filename, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}
