package tensor

import (
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
)

// Mat is a dense row-major matrix of float32 values.
//
// For f32 weights Data holds the decoded values. For f16 weights Raw holds
// the encoded bytes and rows are decoded on the fly in MatVec/RowTo so large
// checkpoints do not double their memory footprint.
type Mat struct {
	R, C  int
	DType DType
	Data  []float32
	Raw   []byte
}

var (
	ErrNegativeDim     = errors.New("tensor: negative dimension")
	ErrSizeMismatch    = errors.New("tensor: data length mismatch")
	ErrUnsupportedType = errors.New("tensor: unsupported dtype")
)

// NewMat allocates a zero-initialised f32 matrix.
func NewMat(r, c int) *Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return &Mat{R: r, C: c, DType: F32, Data: make([]float32, r*c)}
}

// NewMatFromData wraps existing f32 data. The length must equal r*c.
func NewMatFromData(r, c int, data []float32) (*Mat, error) {
	if r < 0 || c < 0 {
		return nil, ErrNegativeDim
	}
	if r*c != len(data) {
		return nil, ErrSizeMismatch
	}
	return &Mat{R: r, C: c, DType: F32, Data: data}, nil
}

// NewMatFromRaw wraps raw little-endian bytes in the given dtype.
func NewMatFromRaw(r, c int, dtype DType, raw []byte) (*Mat, error) {
	if r < 0 || c < 0 {
		return nil, ErrNegativeDim
	}
	es := dtype.ElemSize()
	if es == 0 {
		return nil, ErrUnsupportedType
	}
	if len(raw) != r*c*es {
		return nil, ErrSizeMismatch
	}
	if dtype == F32 {
		data := make([]float32, r*c)
		for i := range data {
			data[i] = f32le(raw, i*4)
		}
		return &Mat{R: r, C: c, DType: F32, Data: data}, nil
	}
	return &Mat{R: r, C: c, DType: dtype, Raw: raw}, nil
}

// Row returns the i-th row. For f32 matrices the slice aliases the matrix;
// for f16 it is a freshly decoded copy.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	if m.DType == F32 {
		start := i * m.C
		return m.Data[start : start+m.C]
	}
	row := make([]float32, m.C)
	m.RowTo(row, i)
	return row
}

// RowTo decodes the i-th row into dst. dst must have length >= C.
func (m *Mat) RowTo(dst []float32, i int) {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	if len(dst) < m.C {
		panic("row buffer too small")
	}
	switch m.DType {
	case F32:
		start := i * m.C
		copy(dst[:m.C], m.Data[start:start+m.C])
	case F16:
		off := i * m.C * 2
		for j := 0; j < m.C; j++ {
			dst[j] = F16ToF32(binary.LittleEndian.Uint16(m.Raw[off+j*2:]))
		}
	default:
		panic("unsupported dtype for row decode")
	}
}

// At returns element (i, j).
func (m *Mat) At(i, j int) float32 {
	if i < 0 || i >= m.R || j < 0 || j >= m.C {
		panic("index out of range")
	}
	if m.DType == F32 {
		return m.Data[i*m.C+j]
	}
	return F16ToF32(binary.LittleEndian.Uint16(m.Raw[(i*m.C+j)*2:]))
}

// FillRand fills an f32 matrix with reproducible values in roughly (-0.01, 0.01).
func FillRand(m *Mat, seed int64) {
	if m.DType != F32 {
		panic("FillRand only supports f32 mats")
	}
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * 0.02
	}
}

func f32le(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}
