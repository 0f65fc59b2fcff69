package checkpoint

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/truelegion47/alpa/internal/tensor"
)

var npyMagic = []byte("\x93NUMPY")

// ReadNPY parses a numpy .npy file. Only C-order little-endian float16 and
// float32 arrays are accepted, which covers the weight dumps this runtime
// consumes.
func ReadNPY(path, name string) (*Array, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseNPY(data, name)
}

func parseNPY(data []byte, name string) (*Array, error) {
	if len(data) < 10 || string(data[:6]) != string(npyMagic) {
		return nil, fmt.Errorf("%w: %s: bad magic", ErrCorruptHeader, name)
	}
	major := data[6]
	var headerLen, headerStart int
	switch major {
	case 1:
		headerLen = int(binary.LittleEndian.Uint16(data[8:10]))
		headerStart = 10
	case 2, 3:
		if len(data) < 12 {
			return nil, fmt.Errorf("%w: %s: truncated header", ErrCorruptHeader, name)
		}
		headerLen = int(binary.LittleEndian.Uint32(data[8:12]))
		headerStart = 12
	default:
		return nil, fmt.Errorf("%w: %s: unsupported npy version %d", ErrCorruptHeader, name, major)
	}
	if headerStart+headerLen > len(data) {
		return nil, fmt.Errorf("%w: %s: truncated header", ErrCorruptHeader, name)
	}
	header := string(data[headerStart : headerStart+headerLen])

	descr, err := headerField(header, "descr")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptHeader, name, err)
	}
	fortran, err := headerField(header, "fortran_order")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptHeader, name, err)
	}
	if strings.TrimSpace(fortran) != "False" {
		return nil, fmt.Errorf("%w: %s", ErrFortranOrder, name)
	}
	shapeStr, err := headerField(header, "shape")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptHeader, name, err)
	}
	shape, err := parseShape(shapeStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptHeader, name, err)
	}

	dtype, ok := dtypeFromDescr(strings.Trim(descr, "'\""))
	if !ok {
		return nil, fmt.Errorf("%w: %s: descr %s", ErrUnsupportedDType, name, descr)
	}

	elems := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("%w: %s: dim %d", ErrCorruptHeader, name, d)
		}
		if elems > math.MaxInt/d {
			return nil, fmt.Errorf("%w: %s", ErrShapeOverflow, name)
		}
		elems *= d
	}
	raw := data[headerStart+headerLen:]
	if len(raw) != elems*dtype.ElemSize() {
		return nil, fmt.Errorf("%w: %s: have %d bytes, want %d",
			ErrDataSizeMismatch, name, len(raw), elems*dtype.ElemSize())
	}
	return &Array{Name: name, DType: dtype, Shape: shape, Raw: raw}, nil
}

// WriteNPY writes a version-1.0 .npy file. Used by tooling that fabricates
// checkpoints and by tests.
func WriteNPY(w io.Writer, dtype tensor.DType, shape []int, raw []byte) error {
	descr, ok := descrFromDType(dtype)
	if !ok {
		return ErrUnsupportedDType
	}
	dims := make([]string, len(shape))
	elems := 1
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
		elems *= d
	}
	shapeStr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}
	if len(raw) != elems*dtype.ElemSize() {
		return ErrDataSizeMismatch
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shapeStr)
	// Pad so the data section starts 64-byte aligned, terminated by newline.
	total := len(npyMagic) + 4 + len(header) + 1
	pad := (64 - total%64) % 64
	header += strings.Repeat(" ", pad) + "\n"

	if _, err := w.Write(npyMagic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(header)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte(header)); err != nil {
		return err
	}
	_, err := w.Write(raw)
	return err
}

func dtypeFromDescr(descr string) (tensor.DType, bool) {
	switch descr {
	case "<f2", "|f2":
		return tensor.F16, true
	case "<f4", "|f4":
		return tensor.F32, true
	default:
		return 0, false
	}
}

func descrFromDType(d tensor.DType) (string, bool) {
	switch d {
	case tensor.F16:
		return "<f2", true
	case tensor.F32:
		return "<f4", true
	default:
		return "", false
	}
}

// headerField extracts the value following 'key': in a numpy header dict.
func headerField(header, key string) (string, error) {
	idx := strings.Index(header, "'"+key+"'")
	if idx < 0 {
		return "", fmt.Errorf("missing %s", key)
	}
	rest := header[idx+len(key)+2:]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return "", fmt.Errorf("malformed %s", key)
	}
	rest = strings.TrimLeft(rest[colon+1:], " ")
	if strings.HasPrefix(rest, "(") {
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return "", fmt.Errorf("unterminated shape")
		}
		return rest[:end+1], nil
	}
	end := strings.IndexAny(rest, ",}")
	if end < 0 {
		return "", fmt.Errorf("malformed %s", key)
	}
	return strings.TrimSpace(rest[:end]), nil
}

func parseShape(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	parts := strings.Split(s, ",")
	shape := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad shape element %q", p)
		}
		shape = append(shape, d)
	}
	if len(shape) == 0 {
		return nil, fmt.Errorf("scalar arrays not supported")
	}
	return shape, nil
}
