package models

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ggufMagic is the little-endian "GGUF" magic at the start of every file.
const ggufMagic = 0x46554747

// GGUF metadata value type ids, per the GGUF v2/v3 specification.
const (
	ggufTypeUint8   = 0
	ggufTypeInt8    = 1
	ggufTypeUint16  = 2
	ggufTypeInt16   = 3
	ggufTypeUint32  = 4
	ggufTypeInt32   = 5
	ggufTypeFloat32 = 6
	ggufTypeBool    = 7
	ggufTypeString  = 8
	ggufTypeArray   = 9
	ggufTypeUint64  = 10
	ggufTypeInt64   = 11
	ggufTypeFloat64 = 12
)

// Parsing limits. Real-world metadata keys are short and the kv section of a
// valid file is small; anything beyond these bounds is treated as corrupt.
const (
	ggufMaxKeyLen    = 1024
	ggufMaxStringLen = 1 << 20
	ggufMaxKVCount   = 1 << 16
)

// errBadGGUF indicates the file is not a parseable GGUF file.
var errBadGGUF = errors.New("models: not a valid GGUF file")

// ModelHeader holds the metadata extracted from a GGUF file header.
type ModelHeader struct {
	// Architecture is the value of general.architecture, e.g. "llama" or
	// "clip" for projection files.
	Architecture string

	// Name is the value of general.name. May be empty.
	Name string

	// EmbeddingDim is the model's embedding dimensionality
	// (<arch>.embedding_length), or for projection files the projection
	// dimensionality (clip.vision.projection_dim). 0 when absent.
	EmbeddingDim int

	// Vision reports whether the header declares a vision encoder.
	Vision bool
}

// Inspector reads model file headers for local catalog enrichment.
// Implemented by ggufInspector for production and mocks for tests.
type Inspector interface {
	// Inspect parses the header of the file at path.
	// A failure applies to that file only; callers degrade the record to
	// unknown values rather than aborting.
	Inspect(path string) (ModelHeader, error)
}

// ggufInspector implements Inspector by reading GGUF metadata directly.
type ggufInspector struct{}

// Ensure ggufInspector implements Inspector.
var _ Inspector = ggufInspector{}

// Inspect reads the GGUF header and metadata section of the file at path.
// Only the metadata key-value section is read; tensor data is never touched.
func (ggufInspector) Inspect(path string) (ModelHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return ModelHeader{}, fmt.Errorf("opening model file: %w", err)
	}
	defer f.Close()

	return readGGUFHeader(bufio.NewReaderSize(f, 1<<16))
}

// readGGUFHeader parses the fixed header and metadata entries from r.
func readGGUFHeader(r io.Reader) (ModelHeader, error) {
	// Fixed header: magic(4) + version(4) + tensor_count(8) + kv_count(8).
	var fixed struct {
		Magic       uint32
		Version     uint32
		TensorCount uint64
		KVCount     uint64
	}
	if err := binary.Read(r, binary.LittleEndian, &fixed); err != nil {
		return ModelHeader{}, fmt.Errorf("reading GGUF header: %w", errBadGGUF)
	}
	if fixed.Magic != ggufMagic {
		return ModelHeader{}, fmt.Errorf("bad magic 0x%x: %w", fixed.Magic, errBadGGUF)
	}
	if fixed.KVCount > ggufMaxKVCount {
		return ModelHeader{}, fmt.Errorf("implausible metadata count %d: %w", fixed.KVCount, errBadGGUF)
	}

	// Values are collected by key suffix so the result does not depend on
	// general.architecture appearing before the arch-specific keys.
	var hdr ModelHeader
	var embeddingLen, projectionDim int

	for i := uint64(0); i < fixed.KVCount; i++ {
		key, err := readGGUFString(r, ggufMaxKeyLen)
		if err != nil {
			return ModelHeader{}, fmt.Errorf("reading metadata key: %w", err)
		}

		var valueType uint32
		if err := binary.Read(r, binary.LittleEndian, &valueType); err != nil {
			return ModelHeader{}, fmt.Errorf("reading metadata type: %w", errBadGGUF)
		}

		switch {
		case key == "general.architecture":
			if s, err := readGGUFScalar(r, valueType); err != nil {
				return ModelHeader{}, err
			} else if str, ok := s.(string); ok {
				hdr.Architecture = str
			}
		case key == "general.name":
			if s, err := readGGUFScalar(r, valueType); err != nil {
				return ModelHeader{}, err
			} else if str, ok := s.(string); ok {
				hdr.Name = str
			}
		case key == "clip.has_vision_encoder":
			if s, err := readGGUFScalar(r, valueType); err != nil {
				return ModelHeader{}, err
			} else if b, ok := s.(bool); ok && b {
				hdr.Vision = true
			}
		case strings.HasSuffix(key, ".embedding_length"):
			if s, err := readGGUFScalar(r, valueType); err != nil {
				return ModelHeader{}, err
			} else if n := intFromScalar(s); n > 0 && embeddingLen == 0 {
				embeddingLen = n
			}
		case key == "clip.vision.projection_dim":
			if s, err := readGGUFScalar(r, valueType); err != nil {
				return ModelHeader{}, err
			} else if n := intFromScalar(s); n > 0 {
				projectionDim = n
			}
		case strings.HasPrefix(key, "clip.vision."):
			hdr.Vision = true
			if err := skipGGUFValue(r, valueType); err != nil {
				return ModelHeader{}, err
			}
		default:
			if err := skipGGUFValue(r, valueType); err != nil {
				return ModelHeader{}, err
			}
		}
	}

	// Projection files expose the dimension that must match a primary's
	// embedding length; prefer it when the file is a clip projector.
	if hdr.Architecture == "clip" && projectionDim > 0 {
		hdr.EmbeddingDim = projectionDim
		hdr.Vision = true
	} else if embeddingLen > 0 {
		hdr.EmbeddingDim = embeddingLen
	} else if projectionDim > 0 {
		hdr.EmbeddingDim = projectionDim
	}

	return hdr, nil
}

// readGGUFString reads a length-prefixed string, rejecting implausible
// lengths.
func readGGUFString(r io.Reader, maxLen uint64) (string, error) {
	var length uint64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", fmt.Errorf("reading string length: %w", errBadGGUF)
	}
	if length > maxLen {
		return "", fmt.Errorf("string length %d exceeds limit: %w", length, errBadGGUF)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("reading string: %w", errBadGGUF)
	}
	return string(buf), nil
}

// readGGUFScalar reads a single typed metadata value. Arrays are skipped and
// returned as nil; callers only consume scalar keys.
func readGGUFScalar(r io.Reader, valueType uint32) (any, error) {
	switch valueType {
	case ggufTypeUint8:
		var v uint8
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, wrapBadGGUF(err)
	case ggufTypeInt8:
		var v int8
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, wrapBadGGUF(err)
	case ggufTypeUint16:
		var v uint16
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, wrapBadGGUF(err)
	case ggufTypeInt16:
		var v int16
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, wrapBadGGUF(err)
	case ggufTypeUint32:
		var v uint32
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, wrapBadGGUF(err)
	case ggufTypeInt32:
		var v int32
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, wrapBadGGUF(err)
	case ggufTypeFloat32:
		var v float32
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, wrapBadGGUF(err)
	case ggufTypeBool:
		var v uint8
		err := binary.Read(r, binary.LittleEndian, &v)
		return v != 0, wrapBadGGUF(err)
	case ggufTypeString:
		return readGGUFString(r, ggufMaxStringLen)
	case ggufTypeUint64:
		var v uint64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, wrapBadGGUF(err)
	case ggufTypeInt64:
		var v int64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, wrapBadGGUF(err)
	case ggufTypeFloat64:
		var v float64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, wrapBadGGUF(err)
	case ggufTypeArray:
		return nil, skipGGUFValue(r, ggufTypeArray)
	default:
		return nil, fmt.Errorf("unknown value type %d: %w", valueType, errBadGGUF)
	}
}

// ggufScalarSize maps fixed-width value types to their encoded size.
var ggufScalarSize = map[uint32]int64{
	ggufTypeUint8:   1,
	ggufTypeInt8:    1,
	ggufTypeBool:    1,
	ggufTypeUint16:  2,
	ggufTypeInt16:   2,
	ggufTypeUint32:  4,
	ggufTypeInt32:   4,
	ggufTypeFloat32: 4,
	ggufTypeUint64:  8,
	ggufTypeInt64:   8,
	ggufTypeFloat64: 8,
}

// skipGGUFValue advances r past a value of the given type without
// materializing it. String arrays are skipped element by element; everything
// else by its fixed width.
func skipGGUFValue(r io.Reader, valueType uint32) error {
	if size, ok := ggufScalarSize[valueType]; ok {
		_, err := io.CopyN(io.Discard, r, size)
		return wrapBadGGUF(err)
	}

	switch valueType {
	case ggufTypeString:
		_, err := readGGUFString(r, ggufMaxStringLen)
		return err
	case ggufTypeArray:
		var elemType uint32
		if err := binary.Read(r, binary.LittleEndian, &elemType); err != nil {
			return wrapBadGGUF(err)
		}
		var count uint64
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return wrapBadGGUF(err)
		}
		if size, ok := ggufScalarSize[elemType]; ok {
			_, err := io.CopyN(io.Discard, r, int64(count)*size)
			return wrapBadGGUF(err)
		}
		if elemType != ggufTypeString {
			return fmt.Errorf("unknown array element type %d: %w", elemType, errBadGGUF)
		}
		for i := uint64(0); i < count; i++ {
			if _, err := readGGUFString(r, ggufMaxStringLen); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown value type %d: %w", valueType, errBadGGUF)
	}
}

// intFromScalar converts any integer-typed metadata value to int, or 0.
func intFromScalar(v any) int {
	switch n := v.(type) {
	case uint8:
		return int(n)
	case int8:
		return int(n)
	case uint16:
		return int(n)
	case int16:
		return int(n)
	case uint32:
		return int(n)
	case int32:
		return int(n)
	case uint64:
		return int(n)
	case int64:
		return int(n)
	}
	return 0
}

// wrapBadGGUF folds low-level read errors into errBadGGUF.
func wrapBadGGUF(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%v: %w", err, errBadGGUF)
}
