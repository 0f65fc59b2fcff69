// Package checkpoint reads named weight arrays from external checkpoint
// layouts: a directory of numpy .npy files or a single safetensors file.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/truelegion47/alpa/internal/tensor"
)

var (
	ErrNotFound          = errors.New("checkpoint: tensor not found")
	ErrUnknownFormat     = errors.New("checkpoint: unrecognized format")
	ErrUnsupportedDType  = errors.New("checkpoint: unsupported dtype")
	ErrCorruptHeader     = errors.New("checkpoint: corrupt header")
	ErrFortranOrder      = errors.New("checkpoint: fortran-order arrays not supported")
	ErrDataSizeMismatch  = errors.New("checkpoint: data size mismatch")
	ErrShapeOverflow     = errors.New("checkpoint: shape element count overflow")
)

// Array is a named weight tensor read from a checkpoint.
type Array struct {
	Name  string
	DType tensor.DType
	Shape []int
	Raw   []byte
}

// Elems returns the number of elements implied by the shape.
func (a *Array) Elems() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// Float32s decodes the raw data into float32 values.
func (a *Array) Float32s() ([]float32, error) {
	n := a.Elems()
	switch a.DType {
	case tensor.F32:
		if len(a.Raw) != n*4 {
			return nil, fmt.Errorf("%w: %s", ErrDataSizeMismatch, a.Name)
		}
		out := make([]float32, n)
		for i := range out {
			out[i] = f32le(a.Raw, i*4)
		}
		return out, nil
	case tensor.F16:
		if len(a.Raw) != n*2 {
			return nil, fmt.Errorf("%w: %s", ErrDataSizeMismatch, a.Name)
		}
		out := make([]float32, n)
		for i := range out {
			out[i] = tensor.F16ToF32(u16le(a.Raw, i*2))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, a.Name)
	}
}

// Digest returns a content hash of the raw tensor bytes, used by inspection
// tooling and load-time verification logging.
func (a *Array) Digest() uint64 {
	return xxhash.Sum64(a.Raw)
}

// ShapeEquals reports whether the array shape matches dims exactly.
func (a *Array) ShapeEquals(dims ...int) bool {
	if len(a.Shape) != len(dims) {
		return false
	}
	for i, d := range dims {
		if a.Shape[i] != d {
			return false
		}
	}
	return true
}

// Store is a read handle on one checkpoint.
type Store interface {
	// Read returns the named array. The raw bytes may alias an internal
	// mapping and are only valid until Close.
	Read(name string) (*Array, error)
	// Names lists the available arrays in unspecified order.
	Names() []string
	Close() error
}

// Open dispatches on the checkpoint path: a directory holds numpy arrays,
// a .safetensors file holds a single-file checkpoint.
func Open(path string) (Store, error) {
	if strings.HasSuffix(path, ".safetensors") {
		return OpenSafetensors(path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return OpenDir(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}
