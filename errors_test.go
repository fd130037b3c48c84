package models

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	// All sentinels carry the package prefix so wrapped errors stay
	// attributable in logs.
	sentinels := []error{
		ErrModelNotFound,
		ErrFileNotFound,
		ErrLocalNotFound,
		ErrRateLimited,
		ErrNetworkError,
		ErrHubError,
		ErrStorageError,
		ErrDownloadActive,
		ErrDownloadCanceled,
		ErrAlreadyExists,
		ErrReadOnlyRoot,
		ErrInvalidRef,
	}

	for _, err := range sentinels {
		if !strings.HasPrefix(err.Error(), "models: ") {
			t.Errorf("sentinel %q lacks the package prefix", err)
		}
	}
}

func TestErrorsIs(t *testing.T) {
	t.Run("wrapped sentinel matches", func(t *testing.T) {
		wrapped := fmt.Errorf("pulling file: %w", ErrRateLimited)
		if !errors.Is(wrapped, ErrRateLimited) {
			t.Error("errors.Is failed on a wrapped sentinel")
		}
	})

	t.Run("sentinels are distinct", func(t *testing.T) {
		if errors.Is(ErrRateLimited, ErrNetworkError) {
			t.Error("ErrRateLimited matches ErrNetworkError")
		}
		if errors.Is(ErrAlreadyExists, ErrDownloadActive) {
			t.Error("ErrAlreadyExists matches ErrDownloadActive")
		}
	})
}

func TestDownloadError(t *testing.T) {
	t.Run("unwraps to sentinel", func(t *testing.T) {
		err := &DownloadError{Filename: "model.gguf", StatusCode: 429, Err: ErrRateLimited}
		if !errors.Is(err, ErrRateLimited) {
			t.Error("DownloadError does not unwrap to its sentinel")
		}
	})

	t.Run("message carries filename and status", func(t *testing.T) {
		err := &DownloadError{Filename: "model.gguf", StatusCode: 404, Err: ErrFileNotFound}
		msg := err.Error()
		if !strings.Contains(msg, "model.gguf") {
			t.Errorf("message %q lacks the filename", msg)
		}
		if !strings.Contains(msg, "404") {
			t.Errorf("message %q lacks the status", msg)
		}
	})

	t.Run("message without status", func(t *testing.T) {
		err := &DownloadError{Filename: "model.gguf", Err: ErrNetworkError}
		if strings.Contains(err.Error(), "status") {
			t.Errorf("message %q mentions a status that was never received", err.Error())
		}
	})
}

func TestParseRepoID(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"unsloth/Qwen2-VL-7B-Instruct-GGUF", false},
		{"owner/name", false},
		{"no-slash", true},
		{"/leading", true},
		{"trailing/", true},
		{"too/many/parts", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := ParseRepoID(tt.input)
			if tt.wantErr && !errors.Is(err, ErrInvalidRef) {
				t.Errorf("ParseRepoID(%q) error = %v, want ErrInvalidRef", tt.input, err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ParseRepoID(%q) error = %v", tt.input, err)
			}
		})
	}
}
