package models

import (
	"strings"
	"time"
)

// Config configures the models module.
type Config struct {
	// AppName determines the storage directory name and the prefix for
	// environment variable overrides.
	// Example: "clara" → ~/.local/share/clara/models/ on Linux
	AppName string

	// HubURL is the base URL of the remote model hub.
	// Example: "https://huggingface.co"
	HubURL string

	// Token is an optional bearer token passed through to hub requests
	// unmodified. Can also be set via environment variable:
	// <APPNAME>_HUB_TOKEN
	Token string

	// BundledDir is an optional read-only root containing models shipped
	// with the application. Models there can be listed but not deleted.
	BundledDir string

	// DataDir overrides the default user storage root.
	// If empty, uses platform-appropriate default.
	// Can also be set via environment variable: <APPNAME>_MODELS_DIR
	DataDir string

	// CustomDir is an optional additional writable root chosen by the user.
	CustomDir string
}

// Origin identifies which storage root a local model came from.
type Origin string

const (
	// OriginBundled marks models shipped with the application (read-only).
	OriginBundled Origin = "bundled"

	// OriginUser marks models in the default user storage root.
	OriginUser Origin = "user"

	// OriginCustom marks models in a user-chosen custom root.
	OriginCustom Origin = "custom"
)

// ParseRepoID validates a hub repository id of the form "owner/name".
// Returns ErrInvalidRef if the format is invalid.
func ParseRepoID(s string) (string, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", ErrInvalidRef
	}
	return s, nil
}

// FileEntry describes a downloadable file within a hub repository.
type FileEntry struct {
	// Name is the filename within the repository.
	Name string

	// Size is the file size in bytes, or 0 if the hub did not report one.
	Size int64
}

// RemoteModel describes a model repository on the hub. Instances are
// immutable once fetched; searches re-fetch them.
type RemoteModel struct {
	// ID is the repository id, e.g. "unsloth/Qwen2-VL-7B-Instruct-GGUF".
	ID string

	// Name is the display name (the id without the owner prefix).
	Name string

	// Author is the repository owner.
	Author string

	// Description is free-form text from the hub. May be empty.
	Description string

	// Pipeline is the declared pipeline tag, e.g. "text-generation".
	Pipeline string

	// Tags are the repository's tags.
	Tags []string

	// Downloads is the hub's download counter.
	Downloads int64

	// Likes is the hub's popularity counter.
	Likes int64

	// Vision is set when the hub declares a multimodal pipeline. It is one
	// of the signals IsVisionCapable considers; absence is not authoritative.
	Vision bool

	// Files lists the downloadable files in the repository.
	Files []FileEntry
}

// LocalModel describes a model file found in a storage root. Records are
// rebuilt on every listing; they are not cached across calls.
type LocalModel struct {
	// Name is the display name (filename without the .gguf extension).
	Name string

	// Filename is the bare filename.
	Filename string

	// Path is the absolute path to the file.
	Path string

	// Size is the file size in bytes.
	Size int64

	// Origin identifies the storage root the file was found in.
	Origin Origin

	// ModifiedAt is the file's last-modified timestamp.
	ModifiedAt time.Time

	// Vision reports whether the file's header declares a vision encoder.
	// False when the header could not be read.
	Vision bool

	// EmbeddingDim is the embedding dimensionality from the file's header,
	// or 0 when unknown (header unreadable or key absent).
	EmbeddingDim int

	// CompanionPath is the assigned companion file, or "" when none is
	// assigned.
	CompanionPath string
}

// CompanionMapping is a durable primary→companion assignment. One mapping
// exists per primary path; the last write wins.
type CompanionMapping struct {
	// PrimaryPath is the absolute path of the primary model file.
	PrimaryPath string `json:"primary_path"`

	// PrimaryName is the primary's display name at assignment time.
	PrimaryName string `json:"primary_name"`

	// CompanionPath is the absolute path of the companion file.
	CompanionPath string `json:"companion_path"`

	// CompanionName is the companion's display name at assignment time.
	CompanionName string `json:"companion_name"`

	// AssignedAt is when the mapping was created.
	AssignedAt time.Time `json:"assigned_at"`

	// Manual is true for user-made assignments, false for mappings created
	// automatically after a download with dependencies.
	Manual bool `json:"manual"`
}

// CompanionFile describes a companion-classified file available in some
// storage root, annotated with compatibility against a reference embedding
// dimension when one was supplied.
type CompanionFile struct {
	// Name is the bare filename.
	Name string

	// Path is the absolute path to the file.
	Path string

	// Size is the file size in bytes.
	Size int64

	// Origin identifies the storage root the file was found in.
	Origin Origin

	// EmbeddingDim is the projection dimensionality from the file's header,
	// or 0 when unknown.
	EmbeddingDim int

	// Compatibility is the classification against the caller's reference
	// dimension. State is CompatUnknown when no reference was supplied.
	Compatibility Compatibility
}

// DownloadProgress reports the state of an in-flight transfer. Events for a
// given filename are delivered in non-decreasing BytesDownloaded order.
type DownloadProgress struct {
	// Filename is the file being transferred.
	Filename string

	// BytesDownloaded is the bytes written so far.
	BytesDownloaded int64

	// BytesTotal is the expected total, or 0 if the hub did not report one.
	BytesTotal int64

	// Percent is BytesDownloaded/BytesTotal*100, or 0 when the total is
	// unknown.
	Percent float64
}

// PullResult reports the outcome of a download-with-dependencies operation.
// The primary download is authoritative: a failed or deferred companion
// never rolls it back.
type PullResult struct {
	// PrimaryPath is the final local path of the primary file.
	PrimaryPath string

	// CompanionPath is the final local path of the companion file, or ""
	// when no companion applied or it did not complete.
	CompanionPath string

	// CompanionQueued is true when the companion download was rate-limited
	// and handed to the retry queue. The automatic mapping is written when
	// the queued retry eventually succeeds.
	CompanionQueued bool

	// CompanionErr carries a companion failure other than rate limiting.
	// The primary remains usable standalone.
	CompanionErr error
}

// QueuedDownload is a download request absorbed by the retry queue after a
// rate-limit failure.
type QueuedDownload struct {
	// ID uniquely identifies the queued request.
	ID string

	// RepoID is the hub repository id.
	RepoID string

	// Filename is the file to download.
	Filename string

	// Root is the target storage root.
	Root Origin

	// CompanionOf is the primary's local path when this entry is a deferred
	// companion download; the automatic mapping is written on success.
	// Empty for ordinary retries.
	CompanionOf string

	// EnqueuedAt is when the request entered the queue.
	EnqueuedAt time.Time

	// Attempts is the number of attempts made so far.
	Attempts int

	// NextAttempt is the earliest time the next attempt may run.
	NextAttempt time.Time
}
