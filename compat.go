package models

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// This file is the only place that knows the naming conventions separating
// primary model files from companion (multimodal projection) files and the
// heuristics for spotting vision-capable models. Everything here is a pure
// function over its inputs.

// CompatState classifies a primary/companion pairing.
type CompatState string

const (
	// CompatCompatible means both embedding dimensions are known and equal.
	CompatCompatible CompatState = "compatible"

	// CompatIncompatible means both dimensions are known and differ.
	CompatIncompatible CompatState = "incompatible"

	// CompatUnknown means at least one dimension is unknown. This is a
	// reduced-confidence result, not a failure; callers must treat it as a
	// third state distinct from incompatible.
	CompatUnknown CompatState = "unknown"
)

// Compatibility is the result of classifying a primary/companion pairing.
type Compatibility struct {
	// State is the classification.
	State CompatState

	// Reason is a human-readable explanation.
	Reason string
}

// visionTags are repository tags that mark a model as vision-capable.
var visionTags = map[string]bool{
	"vision":     true,
	"multimodal": true,
	"vl":         true,
}

// IsVisionCapable reports whether a hub model likely accepts image input.
// It ORs cheap signals: the descriptor's explicit flag, known tags, "vl" in
// the model name, or "vision" in the description. No single signal is
// authoritative. Only the name segment of the repo ID is inspected; the
// owner segment says nothing about the model's modality.
func IsVisionCapable(m RemoteModel) bool {
	if m.Vision {
		return true
	}
	for _, tag := range m.Tags {
		if visionTags[strings.ToLower(tag)] {
			return true
		}
	}
	idName := m.ID
	if i := strings.LastIndex(idName, "/"); i >= 0 {
		idName = idName[i+1:]
	}
	if strings.Contains(strings.ToLower(idName), "vl") || strings.Contains(strings.ToLower(m.Name), "vl") {
		return true
	}
	return strings.Contains(strings.ToLower(m.Description), "vision")
}

// companionMarkers are the filename substrings that classify a file as a
// multimodal projection companion rather than a primary model.
var companionMarkers = []string{"mmproj", "mm-proj", "projection"}

// IsCompanionFile reports whether a filename names a companion (projection)
// file.
func IsCompanionFile(filename string) bool {
	lower := strings.ToLower(filepath.Base(filename))
	for _, marker := range companionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ClassifyCompatibility compares a primary model's embedding dimension with
// a candidate companion's. A dimension of 0 means unknown; if either side is
// unknown the result is CompatUnknown, never CompatIncompatible.
func ClassifyCompatibility(primaryDim, companionDim int) Compatibility {
	if primaryDim <= 0 || companionDim <= 0 {
		return Compatibility{
			State:  CompatUnknown,
			Reason: "embedding dimension unknown for at least one file",
		}
	}
	if primaryDim == companionDim {
		return Compatibility{
			State:  CompatCompatible,
			Reason: fmt.Sprintf("embedding dimensions match (%d)", primaryDim),
		}
	}
	return Compatibility{
		State:  CompatIncompatible,
		Reason: fmt.Sprintf("embedding dimensions differ (%d vs %d)", primaryDim, companionDim),
	}
}

// quantPattern matches a quantization label such as "Q4_K_M", "q8_0" or
// "IQ2_XS" delimited by '.', '-', '_' or the start of the name.
var quantPattern = regexp.MustCompile(`(?i)(?:^|[._-])(i?q\d[\w]*?)(?:[.-]|$)`)

// QuantizationOf extracts the quantization label from a filename, upper-cased,
// or "" if the name carries none.
func QuantizationOf(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	m := quantPattern.FindStringSubmatch(base)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

// rankBand assigns a file to an ordering band for RankFilesForDownload.
// Lower bands sort first. Companion files are pushed behind primaries so the
// default selection is always a runnable model when one exists.
func rankBand(name string) int {
	band := 2 // unquantized or unlabeled
	switch q := QuantizationOf(name); {
	case strings.HasPrefix(q, "Q4") || strings.HasPrefix(q, "IQ4"):
		band = 0
	case q != "":
		band = 1
	}
	if IsCompanionFile(name) {
		band += 3
	}
	return band
}

// RankFilesForDownload orders a repository's file set so the most suitable
// default download comes first: 4-bit quantizations, then other quantized
// variants, then unquantized files, ascending by size within each band.
// The sort is stable; ties keep their original order. This is a
// display/default-selection aid, not a correctness constraint.
func RankFilesForDownload(files []FileEntry) []FileEntry {
	ranked := make([]FileEntry, len(files))
	copy(ranked, files)

	sort.SliceStable(ranked, func(i, j int) bool {
		bi, bj := rankBand(ranked[i].Name), rankBand(ranked[j].Name)
		if bi != bj {
			return bi < bj
		}
		if ranked[i].Size != ranked[j].Size && ranked[i].Size > 0 && ranked[j].Size > 0 {
			return ranked[i].Size < ranked[j].Size
		}
		return false
	})

	return ranked
}

// findCompanion returns the first companion-classified file in a file set
// that differs from the primary, or false when the set carries none.
func findCompanion(files []FileEntry, primary string) (FileEntry, bool) {
	for _, f := range files {
		if f.Name != primary && IsCompanionFile(f.Name) {
			return f, true
		}
	}
	return FileEntry{}, false
}
