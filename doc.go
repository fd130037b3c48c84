// Package models provides functionality for discovering, downloading, and
// managing GGUF model files from a HuggingFace-style model hub.
//
// The package serves two primary use cases:
//
//  1. Programmatic API via the Manager interface - Applications can use
//     NewManager to create a Manager that provides methods for searching the
//     hub, downloading models with their multimodal projection companions,
//     and scanning the local catalog.
//
//  2. Embeddable CLI via NewCommand - Parent CLI tools can attach a complete
//     "models" subcommand tree to their Cobra root command, providing commands
//     like "mytool models pull", "mytool models list", etc.
//
// # Thread Safety
//
// The Manager interface is fully thread-safe. All methods can be called
// concurrently from multiple goroutines without external synchronization.
//
// # Companion Files
//
// Vision-capable models require a separate multimodal projection (mmproj)
// file at inference time. Downloads started through
// DownloadWithDependencies fetch the companion alongside the primary and
// record the pairing durably; AssignCompanion manages the pairing by hand.
// Compatibility between a model and a candidate companion is judged by
// comparing the embedding dimensions read from the files' GGUF headers.
//
// # Rate Limiting
//
// Hub requests rejected with HTTP 429 surface as ErrRateLimited. Companion
// downloads hit by rate limiting are absorbed by a background retry queue
// with exponential backoff rather than failing the pull.
//
// # Storage
//
// Models are stored in platform-appropriate directories:
//   - Linux: $XDG_DATA_HOME/<app>/models/ or ~/.local/share/<app>/models/
//   - macOS: ~/Library/Application Support/<app>/models/
//   - Windows: %APPDATA%\<app>\models\
//
// The storage location can be overridden via Config.DataDir or the
// <APPNAME>_MODELS_DIR environment variable. A read-only bundled root and an
// additional writable custom root can be configured alongside.
package models
