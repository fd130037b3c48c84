package models

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// queuePollInterval is how often the retry loop checks for due entries.
var queuePollInterval = time.Second

// downloadQueue absorbs requests the hub rejected for rate limiting and
// retries them in the background with exponential backoff, without blocking
// the caller.
//
// Per-request state machine:
//
//	queued → attempting → succeeded
//	                    → queued (backoff, rate-limited again)
//	                    → failed-permanently (attempt cap, or a non-rate-limit error)
//
// Terminal outcomes are always delivered through the notify callback; no
// request ends silently.
type downloadQueue struct {
	// d performs the retry attempts.
	d *downloader

	// mappings records deferred automatic companion assignments.
	mappings *mappingStore

	// logger receives diagnostic messages. May be nil.
	logger Logger

	// notify receives terminal outcomes. May be nil (logged only).
	notify QueueNotifyFunc

	// mu protects entries.
	mu sync.Mutex

	// entries holds pending requests in enqueue order.
	entries []*QueuedDownload

	// stop terminates the background loop.
	stop chan struct{}

	// stopped guards double-close.
	stopped bool

	// wg tracks the background loop for clean shutdown.
	wg sync.WaitGroup
}

// newDownloadQueue creates a queue and starts its background retry loop.
func newDownloadQueue(d *downloader, mappings *mappingStore, logger Logger, notify QueueNotifyFunc) *downloadQueue {
	q := &downloadQueue{
		d:        d,
		mappings: mappings,
		logger:   logger,
		notify:   notify,
		stop:     make(chan struct{}),
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

// backoffFor returns the delay before the next attempt: exponential in the
// attempt count, starting at QueueInitialBackoff and capped at
// QueueMaxBackoff. Non-decreasing in attempts.
func backoffFor(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := QueueInitialBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= QueueMaxBackoff {
			return QueueMaxBackoff
		}
	}
	if delay > QueueMaxBackoff {
		delay = QueueMaxBackoff
	}
	return delay
}

// enqueue adds a request to the queue. companionOf carries the primary's
// local path for deferred companion downloads (the automatic mapping is
// written when the retry succeeds), or "" for ordinary requests.
func (q *downloadQueue) enqueue(repoID, filename string, root Origin, companionOf string) {
	now := time.Now()
	req := &QueuedDownload{
		ID:          uuid.NewString(),
		RepoID:      repoID,
		Filename:    filename,
		Root:        root,
		CompanionOf: companionOf,
		EnqueuedAt:  now,
		NextAttempt: now.Add(backoffFor(1)),
	}

	q.mu.Lock()
	q.entries = append(q.entries, req)
	q.mu.Unlock()

	if q.logger != nil {
		q.logger.Info("download queued for retry", "repo", repoID, "file", filename, "id", req.ID)
	}
}

// snapshot returns a copy of the pending entries in enqueue order.
func (q *downloadQueue) snapshot() []QueuedDownload {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]QueuedDownload, len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
	}
	return out
}

// close stops the background loop and waits for it to drain.
func (q *downloadQueue) close() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	close(q.stop)
	q.wg.Wait()
}

// loop is the background retry driver.
func (q *downloadQueue) loop() {
	defer q.wg.Done()

	ticker := time.NewTicker(queuePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.runDue()
		}
	}
}

// runDue attempts every entry whose backoff has elapsed.
func (q *downloadQueue) runDue() {
	now := time.Now()

	q.mu.Lock()
	var due []*QueuedDownload
	for _, e := range q.entries {
		if !e.NextAttempt.After(now) {
			due = append(due, e)
		}
	}
	q.mu.Unlock()

	for _, e := range due {
		q.attempt(e)
	}
}

// attempt runs one retry for a queued entry and applies the state machine.
// Entry fields are mutated only under q.mu; snapshot reads them concurrently.
func (q *downloadQueue) attempt(e *QueuedDownload) {
	q.mu.Lock()
	e.Attempts++
	attempts := e.Attempts
	q.mu.Unlock()

	if q.logger != nil {
		q.logger.Debug("queue attempt", "file", e.Filename, "attempt", attempts)
	}

	cfg := newDownloadConfig()
	cfg.root = e.Root
	path, err := q.d.download(context.Background(), e.RepoID, e.Filename, cfg)

	switch {
	case err == nil, errors.Is(err, ErrAlreadyExists):
		if e.CompanionOf != "" {
			if mapErr := q.mappings.Set(e.CompanionOf, displayName(e.CompanionOf), path, displayName(e.Filename), false); mapErr != nil && q.logger != nil {
				q.logger.Error("failed to record deferred companion mapping", "error", mapErr)
			}
		}
		q.finish(e, path, nil)

	case errors.Is(err, ErrRateLimited):
		if attempts >= QueueMaxAttempts {
			q.finish(e, "", fmt.Errorf("giving up after %d attempts: %w", attempts, err))
			return
		}
		q.mu.Lock()
		e.NextAttempt = time.Now().Add(backoffFor(attempts + 1))
		q.mu.Unlock()

	case errors.Is(err, ErrDownloadActive):
		// Someone else is transferring this file right now; check back on
		// the next tick without consuming an attempt.
		q.mu.Lock()
		e.Attempts--
		e.NextAttempt = time.Now().Add(backoffFor(1))
		q.mu.Unlock()

	default:
		// Only rate limiting is retried here; everything else is terminal.
		q.finish(e, "", err)
	}
}

// finish removes an entry and reports its terminal outcome.
func (q *downloadQueue) finish(e *QueuedDownload, path string, err error) {
	q.mu.Lock()
	for i, cur := range q.entries {
		if cur.ID == e.ID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	q.mu.Unlock()

	if q.logger != nil {
		if err != nil {
			q.logger.Error("queued download failed permanently", "file", e.Filename, "error", err)
		} else {
			q.logger.Info("queued download completed", "file", e.Filename, "path", path)
		}
	}
	if q.notify != nil {
		q.notify(*e, path, err)
	}
}
