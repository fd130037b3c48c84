package models

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// scanner enumerates the configured storage roots and builds enriched local
// model records. It is read-only: scanning never mutates storage or the
// mapping store, and concurrent scans are safe. A scan racing a delete may
// transiently report a record for a file removed moments later; callers
// treat listings as eventually consistent.
type scanner struct {
	// roots are the storage roots to enumerate.
	roots *storageRoots

	// inspector reads model file headers.
	inspector Inspector

	// mappings resolves assigned companions.
	mappings *mappingStore

	// logger receives diagnostic messages. May be nil.
	logger Logger
}

// newScanner creates a scanner over the given roots.
func newScanner(roots *storageRoots, inspector Inspector, mappings *mappingStore, logger Logger) *scanner {
	return &scanner{
		roots:     roots,
		inspector: inspector,
		mappings:  mappings,
		logger:    logger,
	}
}

// listLocal returns a record for every model artifact in every configured
// root. Records are rebuilt on each call. Enrichment failures for a single
// file degrade that record to unknown values; they never abort the listing.
// No ordering is guaranteed.
func (sc *scanner) listLocal() ([]LocalModel, error) {
	var out []LocalModel
	seen := make(map[string]bool)

	for _, root := range sc.roots.list() {
		err := filepath.WalkDir(root.dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Missing or unreadable roots (e.g. an absent bundled dir)
				// contribute nothing.
				if path == root.dir {
					return filepath.SkipAll
				}
				if sc.logger != nil {
					sc.logger.Warn("skipping unreadable path", "path", path, "error", err)
				}
				return nil
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != root.dir {
					return filepath.SkipDir
				}
				return nil
			}
			if !isArtifact(d.Name()) {
				return nil
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				abs = path
			}
			if seen[abs] {
				return nil
			}
			seen[abs] = true

			out = append(out, sc.buildRecord(abs, d, root.origin))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// buildRecord assembles and enriches a single local model record.
func (sc *scanner) buildRecord(path string, d fs.DirEntry, origin Origin) LocalModel {
	rec := LocalModel{
		Name:     displayName(d.Name()),
		Filename: d.Name(),
		Path:     path,
		Origin:   origin,
	}

	if info, err := d.Info(); err == nil {
		rec.Size = info.Size()
		rec.ModifiedAt = info.ModTime()
	}

	hdr, err := sc.inspector.Inspect(path)
	if err != nil {
		// Unknown, not fatal: the record survives with zero enrichment.
		if sc.logger != nil {
			sc.logger.Debug("header inspection failed", "path", path, "error", err)
		}
	} else {
		rec.EmbeddingDim = hdr.EmbeddingDim
		rec.Vision = hdr.Vision
	}

	if m, ok := sc.mappings.Get(path); ok {
		rec.CompanionPath = m.CompanionPath
	}

	return rec
}

// companionFiles returns every companion-classified file across the roots,
// annotated with compatibility against refDim. A refDim of 0 yields
// CompatUnknown annotations.
func (sc *scanner) companionFiles(refDim int) ([]CompanionFile, error) {
	locals, err := sc.listLocal()
	if err != nil {
		return nil, err
	}

	var out []CompanionFile
	for _, m := range locals {
		if !IsCompanionFile(m.Filename) {
			continue
		}
		out = append(out, CompanionFile{
			Name:          m.Filename,
			Path:          m.Path,
			Size:          m.Size,
			Origin:        m.Origin,
			EmbeddingDim:  m.EmbeddingDim,
			Compatibility: ClassifyCompatibility(refDim, m.EmbeddingDim),
		})
	}
	return out, nil
}
