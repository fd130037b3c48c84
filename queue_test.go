package models

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBackoffFor(t *testing.T) {
	t.Run("starts at the initial backoff", func(t *testing.T) {
		if got := backoffFor(1); got != QueueInitialBackoff {
			t.Errorf("backoffFor(1) = %v, want %v", got, QueueInitialBackoff)
		}
	})

	t.Run("non-decreasing", func(t *testing.T) {
		prev := time.Duration(0)
		for attempts := 1; attempts <= 20; attempts++ {
			d := backoffFor(attempts)
			if d < prev {
				t.Fatalf("backoffFor(%d) = %v, below previous %v", attempts, d, prev)
			}
			prev = d
		}
	})

	t.Run("caps at the maximum", func(t *testing.T) {
		if got := backoffFor(100); got != QueueMaxBackoff {
			t.Errorf("backoffFor(100) = %v, want %v", got, QueueMaxBackoff)
		}
	})

	t.Run("degenerate attempt counts", func(t *testing.T) {
		if got := backoffFor(0); got != QueueInitialBackoff {
			t.Errorf("backoffFor(0) = %v, want %v", got, QueueInitialBackoff)
		}
	})
}

// newIdleQueue builds a queue whose background loop is not running, so tests
// can drive the state machine directly.
func newIdleQueue(t *testing.T, serverURL string, notify QueueNotifyFunc) (*downloadQueue, *downloader, *mappingStore) {
	t.Helper()

	roots, err := newStorageRoots(Config{AppName: "testapp", DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	mappings, err := newMappingStore(filepath.Join(t.TempDir(), "mappings.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	d := newDownloader(newHubClient(serverURL, "", http.DefaultClient, nil), roots, mappings, newProgressBroker(), nil, 1)

	q := &downloadQueue{
		d:        d,
		mappings: mappings,
		notify:   notify,
		stop:     make(chan struct{}),
	}
	return q, d, mappings
}

func TestQueueEnqueueSnapshot(t *testing.T) {
	q, _, _ := newIdleQueue(t, "http://unused.invalid", nil)

	q.enqueue("owner/name", "mmproj-f16.gguf", OriginUser, "/models/primary.gguf")
	q.enqueue("owner/name", "other.gguf", OriginUser, "")

	snap := q.snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(snap))
	}
	if snap[0].ID == "" || snap[0].ID == snap[1].ID {
		t.Error("entries lack distinct ids")
	}
	if snap[0].Filename != "mmproj-f16.gguf" {
		t.Errorf("snapshot order: first = %s", snap[0].Filename)
	}
	if snap[0].CompanionOf != "/models/primary.gguf" {
		t.Errorf("CompanionOf = %q", snap[0].CompanionOf)
	}
	if !snap[0].NextAttempt.After(snap[0].EnqueuedAt) {
		t.Error("NextAttempt not pushed past EnqueuedAt")
	}

	// Snapshot is a copy; mutating it does not touch the queue.
	snap[0].Filename = "mutated"
	if q.snapshot()[0].Filename == "mutated" {
		t.Error("snapshot aliases internal state")
	}
}

func TestQueueAttempt(t *testing.T) {
	t.Run("success delivers path and deferred mapping", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "bytes")
		}))
		defer server.Close()

		var gotPath string
		var gotErr error
		q, _, mappings := newIdleQueue(t, server.URL, func(req QueuedDownload, path string, err error) {
			gotPath, gotErr = path, err
		})

		q.enqueue("owner/name", "mmproj-f16.gguf", OriginUser, "/models/primary.gguf")
		e := q.entries[0]
		q.attempt(e)

		if gotErr != nil {
			t.Fatalf("notify error = %v", gotErr)
		}
		if gotPath == "" {
			t.Fatal("notify path is empty")
		}
		if len(q.snapshot()) != 0 {
			t.Error("entry not removed after success")
		}

		m, ok := mappings.Get("/models/primary.gguf")
		if !ok {
			t.Fatal("deferred companion mapping not written")
		}
		if m.CompanionPath != gotPath {
			t.Errorf("mapping companion = %q, want %q", m.CompanionPath, gotPath)
		}
		if m.Manual {
			t.Error("deferred mapping marked manual")
		}
	})

	t.Run("rate limited backs off below the cap", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		notified := false
		q, _, _ := newIdleQueue(t, server.URL, func(QueuedDownload, string, error) { notified = true })

		q.enqueue("owner/name", "mmproj-f16.gguf", OriginUser, "")
		e := q.entries[0]
		before := time.Now()
		q.attempt(e)

		if notified {
			t.Error("terminal notification for a retryable failure")
		}
		if len(q.snapshot()) != 1 {
			t.Fatal("entry dropped while retries remain")
		}
		if e.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", e.Attempts)
		}
		if !e.NextAttempt.After(before) {
			t.Error("NextAttempt not rescheduled into the future")
		}
	})

	t.Run("attempt cap makes rate limiting permanent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		var gotErr error
		q, _, _ := newIdleQueue(t, server.URL, func(req QueuedDownload, path string, err error) { gotErr = err })

		q.enqueue("owner/name", "mmproj-f16.gguf", OriginUser, "")
		e := q.entries[0]
		e.Attempts = QueueMaxAttempts - 1
		q.attempt(e)

		if gotErr == nil {
			t.Fatal("no terminal notification at the attempt cap")
		}
		if !errors.Is(gotErr, ErrRateLimited) {
			t.Errorf("terminal error = %v, want ErrRateLimited cause", gotErr)
		}
		if len(q.snapshot()) != 0 {
			t.Error("entry survived its terminal failure")
		}
	})

	t.Run("non-rate-limit errors are terminal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		var gotErr error
		q, _, _ := newIdleQueue(t, server.URL, func(req QueuedDownload, path string, err error) { gotErr = err })

		q.enqueue("owner/name", "gone.gguf", OriginUser, "")
		q.attempt(q.entries[0])

		if !errors.Is(gotErr, ErrFileNotFound) {
			t.Errorf("terminal error = %v, want ErrFileNotFound", gotErr)
		}
		if len(q.snapshot()) != 0 {
			t.Error("entry survived a terminal error")
		}
	})

	t.Run("already-downloaded counts as success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "bytes")
		}))
		defer server.Close()

		var gotPath string
		var gotErr error
		q, d, _ := newIdleQueue(t, server.URL, func(req QueuedDownload, path string, err error) {
			gotPath, gotErr = path, err
		})

		existing := filepath.Join(d.roots.userDir(), "mmproj-f16.gguf")
		if err := writeFile(existing, "already here"); err != nil {
			t.Fatal(err)
		}

		q.enqueue("owner/name", "mmproj-f16.gguf", OriginUser, "")
		q.attempt(q.entries[0])

		if gotErr != nil {
			t.Errorf("notify error = %v, want success", gotErr)
		}
		if gotPath != existing {
			t.Errorf("notify path = %q, want the existing file", gotPath)
		}
	})

	t.Run("rate limit then recovery", func(t *testing.T) {
		var calls atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) <= 2 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			fmt.Fprint(w, "bytes")
		}))
		defer server.Close()

		var gotPath string
		var gotErr error
		q, _, mappings := newIdleQueue(t, server.URL, func(req QueuedDownload, path string, err error) {
			gotPath, gotErr = path, err
		})

		q.enqueue("owner/name", "mmproj-f16.gguf", OriginUser, "/models/primary.gguf")
		e := q.entries[0]

		// Two rate-limited attempts, then the hub recovers.
		q.attempt(e)
		q.attempt(e)
		if len(q.snapshot()) != 1 {
			t.Fatal("entry dropped during transient rate limiting")
		}
		q.attempt(e)

		if gotErr != nil {
			t.Fatalf("terminal error = %v after recovery", gotErr)
		}
		if gotPath == "" {
			t.Fatal("no path delivered after recovery")
		}
		if _, ok := mappings.Get("/models/primary.gguf"); !ok {
			t.Error("deferred mapping not written after recovery")
		}
	})

	t.Run("active transfer does not consume an attempt", func(t *testing.T) {
		q, d, _ := newIdleQueue(t, "http://unused.invalid", nil)

		// Another caller is mid-transfer to the same destination.
		dest := filepath.Join(d.roots.userDir(), "mmproj-f16.gguf")
		d.register(dest, &transfer{cancel: func() {}, done: make(chan struct{})})

		q.enqueue("owner/name", "mmproj-f16.gguf", OriginUser, "")
		e := q.entries[0]
		q.attempt(e)

		if e.Attempts != 0 {
			t.Errorf("Attempts = %d, want 0 while the file is busy elsewhere", e.Attempts)
		}
		if len(q.snapshot()) != 1 {
			t.Error("entry dropped while another transfer is active")
		}
	})
}

func TestQueueSnapshotDuringAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	q, _, _ := newIdleQueue(t, server.URL, nil)
	q.enqueue("owner/name", "mmproj-f16.gguf", OriginUser, "")
	e := q.entries[0]

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < QueueMaxAttempts-1; i++ {
			q.attempt(e)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			for _, s := range q.snapshot() {
				_ = s.Attempts
				_ = s.NextAttempt
			}
		}
	}()
	wg.Wait()

	if len(q.snapshot()) != 1 {
		t.Error("entry dropped while retries remain")
	}
}

func TestQueueLoop(t *testing.T) {
	restore := queuePollInterval
	queuePollInterval = 10 * time.Millisecond
	defer func() { queuePollInterval = restore }()

	var served atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		fmt.Fprint(w, "bytes")
	}))
	defer server.Close()

	roots, err := newStorageRoots(Config{AppName: "testapp", DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	mappings, err := newMappingStore(filepath.Join(t.TempDir(), "mappings.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	d := newDownloader(newHubClient(server.URL, "", http.DefaultClient, nil), roots, mappings, newProgressBroker(), nil, 1)

	done := make(chan error, 1)
	q := newDownloadQueue(d, mappings, nil, func(req QueuedDownload, path string, err error) {
		done <- err
	})
	defer q.close()

	q.enqueue("owner/name", "mmproj-f16.gguf", OriginUser, "")

	// Pull the entry's scheduled time into the past so the loop runs it on
	// its next tick.
	q.mu.Lock()
	q.entries[0].NextAttempt = time.Now().Add(-time.Second)
	q.mu.Unlock()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("queued download failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("queue loop never ran the due entry")
	}

	if served.Load() != 1 {
		t.Errorf("hub served %d requests, want 1", served.Load())
	}
}

func TestQueueCloseIdempotent(t *testing.T) {
	q, _, _ := newIdleQueue(t, "http://unused.invalid", nil)
	q.wg.Add(1)
	go q.loop()

	q.close()
	q.close()
}

// writeFile is a tiny helper for dropping fixture content.
func writeFile(path, content string) error {
	return atomicWrite(path, []byte(content))
}
