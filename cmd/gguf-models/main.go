// Command gguf-models is a test CLI harness for the models package.
// It demonstrates the CLI integration and provides a working example.
//
// Configuration is loaded from <data dir>/config.yaml plus environment
// variables:
//   - GGUF_HUB_URL: Base URL of the model hub (default https://huggingface.co)
//   - GGUF_HUB_TOKEN: Bearer token for hub requests (optional)
//   - GGUF_MODELS_DIR: Override for the user storage root (optional)
package main

import (
	"errors"
	"fmt"
	"os"

	models "github.com/prethora/gguf-models"
)

// defaultHubURL is used when neither the config file nor the environment
// names a hub.
const defaultHubURL = "https://huggingface.co"

// CLI exit codes for standardized error reporting.
const (
	// ExitSuccess indicates the operation completed successfully.
	ExitSuccess = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError = 1

	// ExitInvalidArgs indicates invalid command line arguments.
	ExitInvalidArgs = 2

	// ExitModelNotFound indicates the model or file was not found on the hub.
	ExitModelNotFound = 3

	// ExitNotLocal indicates the path is not a managed local model.
	ExitNotLocal = 4

	// ExitNetworkError indicates a network or connection failure.
	ExitNetworkError = 5

	// ExitRateLimited indicates the hub rejected the request for rate limiting.
	ExitRateLimited = 6

	// ExitStorageError indicates a filesystem operation failed.
	ExitStorageError = 7
)

func main() {
	cfg, err := models.LoadConfig("gguf", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitGeneralError)
	}
	if cfg.HubURL == "" {
		cfg.HubURL = defaultHubURL
	}

	cmd := models.NewCommand(cfg)
	if err := cmd.Execute(); err != nil {
		os.Exit(exitCodeFromError(err))
	}
}

// exitCodeFromError maps error types to exit codes.
func exitCodeFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch {
	case errors.Is(err, models.ErrModelNotFound):
		return ExitModelNotFound
	case errors.Is(err, models.ErrFileNotFound):
		return ExitModelNotFound
	case errors.Is(err, models.ErrLocalNotFound):
		return ExitNotLocal
	case errors.Is(err, models.ErrRateLimited):
		return ExitRateLimited
	case errors.Is(err, models.ErrNetworkError):
		return ExitNetworkError
	case errors.Is(err, models.ErrStorageError):
		return ExitStorageError
	case errors.Is(err, models.ErrReadOnlyRoot):
		return ExitStorageError
	case errors.Is(err, models.ErrInvalidRef):
		return ExitInvalidArgs
	default:
		return ExitGeneralError
	}
}
