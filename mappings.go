package models

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// DefaultLockTimeout is the maximum wait for the cross-process lock on the
// mapping file.
const DefaultLockTimeout = 30 * time.Second

// lockRetryDelay is the polling interval while waiting for the lock.
const lockRetryDelay = 25 * time.Millisecond

// mappingStore is the durable index of primary→companion assignments.
// It is an in-memory map over mappings.json in the user storage root; every
// mutation persists before returning, so a crash after a mutating call
// returns never loses the write. Mutations are serialized per store.
type mappingStore struct {
	// path is the location of mappings.json.
	path string

	// lockTimeout bounds cross-process lock acquisition.
	lockTimeout time.Duration

	// logger receives diagnostic messages. May be nil.
	logger Logger

	// mu protects entries and serializes persistence.
	mu sync.RWMutex

	// entries is keyed by primary path.
	entries map[string]CompanionMapping
}

// newMappingStore creates a store backed by the file at path and hydrates it
// from durable storage. A missing file yields an empty store.
func newMappingStore(path string, logger Logger) (*mappingStore, error) {
	s := &mappingStore{
		path:        path,
		lockTimeout: DefaultLockTimeout,
		logger:      logger,
		entries:     make(map[string]CompanionMapping),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads mappings.json into memory. Called at construction.
func (s *mappingStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	entries := make(map[string]CompanionMapping)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("%w: invalid mappings file: %v", ErrStorageError, err)
	}
	s.entries = entries

	if s.logger != nil {
		s.logger.Debug("companion mappings loaded", "count", len(entries), "path", s.path)
	}
	return nil
}

// persist flushes the in-memory index to mappings.json atomically, under a
// cross-process file lock. Callers must hold mu.
func (s *mappingStore) persist() error {
	lock := flock.New(s.path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()

	ok, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !ok {
		return fmt.Errorf("%w: failed to acquire mappings lock: %v", ErrStorageError, err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to marshal mappings: %v", ErrStorageError, err)
	}

	return atomicWrite(s.path, data)
}

// Set upserts the mapping for primaryPath, overwriting any prior assignment.
// The write is durable before Set returns.
func (s *mappingStore) Set(primaryPath, primaryName, companionPath, companionName string, manual bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.entries[primaryPath]
	s.entries[primaryPath] = CompanionMapping{
		PrimaryPath:   primaryPath,
		PrimaryName:   primaryName,
		CompanionPath: companionPath,
		CompanionName: companionName,
		AssignedAt:    time.Now(),
		Manual:        manual,
	}

	if err := s.persist(); err != nil {
		// The durable file still holds the prior state; keep memory in
		// step with it.
		if existed {
			s.entries[primaryPath] = prev
		} else {
			delete(s.entries, primaryPath)
		}
		return err
	}
	return nil
}

// Get returns the mapping for primaryPath. Absence is a valid result, not an
// error.
func (s *mappingStore) Get(primaryPath string) (CompanionMapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.entries[primaryPath]
	return m, ok
}

// Remove deletes the mapping for primaryPath. Removing an absent mapping is
// a no-op.
func (s *mappingStore) Remove(primaryPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[primaryPath]; !ok {
		return nil
	}
	delete(s.entries, primaryPath)
	return s.persist()
}

// RemoveWhereCompanion deletes every mapping whose companion is the given
// path. Used when a companion file is deleted from disk.
func (s *mappingStore) RemoveWhereCompanion(companionPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for primary, m := range s.entries {
		if m.CompanionPath == companionPath {
			delete(s.entries, primary)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.persist()
}

// All returns a copy of every mapping, keyed by primary path.
func (s *mappingStore) All() map[string]CompanionMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]CompanionMapping, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}
