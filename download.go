package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// copyBufferSize is the transfer loop's read buffer.
const copyBufferSize = 256 * 1024

// transfer tracks one in-flight download.
type transfer struct {
	// cancel aborts the transfer's context.
	cancel context.CancelFunc

	// done is closed when the transfer has fully cleaned up.
	done chan struct{}
}

// enqueueFunc hands a rate-limited request to the retry queue.
// companionOf carries the primary's local path for deferred companion
// downloads, or "" for ordinary requests.
type enqueueFunc func(repoID, filename string, root Origin, companionOf string)

// downloader streams files from the hub into storage roots. Concurrency is
// bounded by a semaphore; each transfer owns its destination file handle
// exclusively and releases it on every exit path. Data is staged in a
// *.partial file and renamed into place only on success, so a partial
// download is never mistakable for a complete one.
type downloader struct {
	// hub fetches file streams.
	hub *hubClient

	// roots resolves destination directories.
	roots *storageRoots

	// mappings records automatic companion assignments.
	mappings *mappingStore

	// broker receives progress events.
	broker *progressBroker

	// logger receives diagnostic messages. May be nil.
	logger Logger

	// enqueue hands rate-limited companion downloads to the retry queue.
	// Set by the manager after queue construction; may be nil in tests.
	enqueue enqueueFunc

	// sem bounds concurrent transfers.
	sem chan struct{}

	// mu protects active.
	mu sync.Mutex

	// active tracks in-flight transfers by destination path. Hub filenames
	// may nest in subdirectories while destinations flatten to the base
	// name, so keying on the destination is what guarantees a second
	// request for the same target file is rejected, never silently
	// duplicated.
	active map[string]*transfer
}

// newDownloader creates a downloader with the given concurrency bound.
func newDownloader(hub *hubClient, roots *storageRoots, mappings *mappingStore, broker *progressBroker, logger Logger, concurrency int) *downloader {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &downloader{
		hub:      hub,
		roots:    roots,
		mappings: mappings,
		broker:   broker,
		logger:   logger,
		sem:      make(chan struct{}, concurrency),
		active:   make(map[string]*transfer),
	}
}

// register adds a transfer for destPath unless one is already in flight.
func (d *downloader) register(destPath string, t *transfer) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.active[destPath]; exists {
		return false
	}
	d.active[destPath] = t
	return true
}

// unregister removes the transfer for destPath.
func (d *downloader) unregister(destPath string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, destPath)
}

// lookup returns the in-flight transfer whose destination base name matches
// filename's, if any. Callers identify transfers by filename; the registry
// keys on destination paths.
func (d *downloader) lookup(filename string) (*transfer, bool) {
	base := filepath.Base(filename)
	d.mu.Lock()
	defer d.mu.Unlock()
	for dest, t := range d.active {
		if filepath.Base(dest) == base {
			return t, true
		}
	}
	return nil, false
}

// download streams a single file from repoID into the target root and
// returns the final local path. Progress events are published per filename
// with strictly non-decreasing byte counts.
func (d *downloader) download(ctx context.Context, repoID, filename string, cfg *downloadConfig) (string, error) {
	if _, err := ParseRepoID(repoID); err != nil {
		return "", err
	}

	destDir, err := d.roots.writableDir(cfg.root)
	if err != nil {
		return "", err
	}
	destPath := filepath.Join(destDir, filepath.Base(filename))

	if !cfg.overwrite {
		if _, err := os.Stat(destPath); err == nil {
			// The existing path is returned alongside the error so callers
			// can still use the file.
			return destPath, fmt.Errorf("%s: %w", destPath, ErrAlreadyExists)
		}
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &transfer{cancel: cancel, done: make(chan struct{})}
	if !d.register(destPath, t) {
		cancel()
		return "", fmt.Errorf("%s: %w", filename, ErrDownloadActive)
	}
	defer func() {
		d.unregister(destPath)
		cancel()
		close(t.done)
	}()

	// Bound concurrency before opening the stream.
	select {
	case d.sem <- struct{}{}:
	case <-tctx.Done():
		return "", fmt.Errorf("%s: %w", filename, ErrDownloadCanceled)
	}
	defer func() { <-d.sem }()

	if d.logger != nil {
		d.logger.Info("download starting", "repo", repoID, "file", filename, "root", cfg.root)
	}

	body, total, err := d.hub.fetchFile(tctx, repoID, filename)
	if err != nil {
		return "", err
	}
	defer body.Close()

	path, err := d.streamTo(tctx, body, destPath, filename, total)
	if err != nil {
		return "", err
	}

	if d.logger != nil {
		d.logger.Info("download complete", "file", filename, "path", path)
	}
	return path, nil
}

// streamTo copies body into destPath via the partial-file staging protocol.
func (d *downloader) streamTo(ctx context.Context, body io.Reader, destPath, filename string, total int64) (string, error) {
	partial := destPath + partialSuffix
	f, err := os.Create(partial)
	if err != nil {
		return "", fmt.Errorf("%w: creating %s: %v", ErrStorageError, partial, err)
	}

	// Every failure path closes the handle and removes the partial.
	fail := func(cause error) (string, error) {
		f.Close()
		os.Remove(partial)
		return "", cause
	}

	var written int64
	var lastPublished int64 = -1
	buf := make([]byte, copyBufferSize)
	for {
		if ctx.Err() != nil {
			return fail(fmt.Errorf("%s: %w", filename, ErrDownloadCanceled))
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return fail(fmt.Errorf("%w: writing %s: %v", ErrStorageError, partial, writeErr))
			}
			written += int64(n)
			lastPublished = written
			d.publishProgress(filename, written, total)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return fail(fmt.Errorf("%s: %w", filename, ErrDownloadCanceled))
			}
			return fail(&DownloadError{Filename: filename, Err: fmt.Errorf("%v: %w", readErr, ErrNetworkError)})
		}
	}

	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("%w: syncing %s: %v", ErrStorageError, partial, err))
	}
	if err := f.Close(); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("%w: closing %s: %v", ErrStorageError, partial, err)
	}
	if err := os.Rename(partial, destPath); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("%w: finalizing %s: %v", ErrStorageError, destPath, err)
	}

	// Final event: the full byte count, 100% when the total was known.
	// Skipped when the copy loop already emitted it, keeping the stream
	// strictly increasing per filename.
	if lastPublished != written {
		d.publishProgress(filename, written, total)
	}
	return destPath, nil
}

// publishProgress emits one progress event for filename.
func (d *downloader) publishProgress(filename string, written, total int64) {
	p := DownloadProgress{
		Filename:        filename,
		BytesDownloaded: written,
		BytesTotal:      total,
	}
	if total > 0 {
		p.Percent = float64(written) / float64(total) * 100
	}
	d.broker.publish(p)
}

// cancel aborts the in-flight transfer for filename, waits for its cleanup,
// and reports whether one was active. The canceled caller's pending download
// call resolves with ErrDownloadCanceled.
func (d *downloader) cancel(filename string) bool {
	t, ok := d.lookup(filename)
	if !ok {
		return false
	}
	t.cancel()
	<-t.done
	return true
}

// downloadWithDependencies downloads the primary file and, when the model is
// vision-capable and its file set carries a companion, the companion file
// too. An automatic mapping links the two on success of both.
//
// Partial-failure policy: the primary result stands on its own. A companion
// failure is surfaced in the result, never by rolling back the primary. A
// rate-limited companion is queued independently of its primary (the primary
// is already on disk); the queued entry carries the primary's path so the
// mapping is written when the retry eventually succeeds.
func (d *downloader) downloadWithDependencies(ctx context.Context, model RemoteModel, primaryFilename string, cfg *downloadConfig) (PullResult, error) {
	primaryPath, err := d.download(ctx, model.ID, primaryFilename, cfg)
	if err != nil {
		return PullResult{}, err
	}
	res := PullResult{PrimaryPath: primaryPath}

	if !IsVisionCapable(model) {
		return res, nil
	}
	companion, ok := findCompanion(model.Files, primaryFilename)
	if !ok {
		return res, nil
	}

	companionPath, err := d.download(ctx, model.ID, companion.Name, cfg)
	switch {
	case err == nil, errors.Is(err, ErrAlreadyExists):
		// Freshly downloaded or already local; link it either way.
		res.CompanionPath = companionPath
		if mapErr := d.mappings.Set(primaryPath, displayName(primaryFilename), companionPath, displayName(companion.Name), false); mapErr != nil {
			res.CompanionErr = mapErr
		}
	case errors.Is(err, ErrRateLimited) && d.enqueue != nil:
		d.enqueue(model.ID, companion.Name, cfg.root, primaryPath)
		res.CompanionQueued = true
		if d.logger != nil {
			d.logger.Warn("companion download rate-limited, queued for retry", "file", companion.Name)
		}
	default:
		res.CompanionErr = err
	}

	return res, nil
}

