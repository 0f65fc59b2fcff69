package checkpoint

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	json "github.com/goccy/go-json"
	"golang.org/x/sys/unix"

	"github.com/truelegion47/alpa/internal/tensor"
)

type stTensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

type stInfo struct {
	dtype tensor.DType
	shape []int
	start int64
	end   int64
}

// SafetensorsStore reads a single-file safetensors checkpoint. The file is
// mapped read-only where mmap is available so tensor reads are zero-copy;
// otherwise the whole file is read into memory.
type SafetensorsStore struct {
	data      []byte
	mmapped   bool
	dataStart int64
	tensors   map[string]stInfo
}

// OpenSafetensors parses the header and maps the file.
func OpenSafetensors(path string) (*SafetensorsStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < 8 || size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%w: %s", ErrCorruptHeader, path)
	}
	size := int(size64)

	var data []byte
	mmapped := false
	if m, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED); err == nil {
		data = m
		mmapped = true
	} else {
		data = make([]byte, size)
		if _, err := f.ReadAt(data, 0); err != nil {
			return nil, err
		}
	}

	s, err := parseSafetensors(data, mmapped)
	if err != nil {
		if mmapped {
			_ = unix.Munmap(data)
		}
		return nil, err
	}
	return s, nil
}

func parseSafetensors(data []byte, mmapped bool) (*SafetensorsStore, error) {
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("%w: header length out of range", ErrCorruptHeader)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}
	delete(raw, "__metadata__")

	dataStart := int64(8 + headerLen)
	dataLen := int64(len(data)) - dataStart
	tensors := make(map[string]stInfo, len(raw))
	for name, msg := range raw {
		var th stTensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("%w: tensor %s: %v", ErrCorruptHeader, name, err)
		}
		if len(th.DataOffsets) != 2 || th.DataOffsets[0] < 0 ||
			th.DataOffsets[1] < th.DataOffsets[0] || th.DataOffsets[1] > dataLen {
			return nil, fmt.Errorf("%w: tensor %s: invalid data_offsets", ErrCorruptHeader, name)
		}
		dtype, ok := dtypeFromSafetensors(th.DType)
		if !ok {
			return nil, fmt.Errorf("%w: tensor %s: dtype %s", ErrUnsupportedDType, name, th.DType)
		}
		elems := 1
		for _, d := range th.Shape {
			if d <= 0 {
				return nil, fmt.Errorf("%w: tensor %s: dim %d", ErrCorruptHeader, name, d)
			}
			if elems > math.MaxInt/d {
				return nil, fmt.Errorf("%w: %s", ErrShapeOverflow, name)
			}
			elems *= d
		}
		if th.DataOffsets[1]-th.DataOffsets[0] != int64(elems*dtype.ElemSize()) {
			return nil, fmt.Errorf("%w: %s", ErrDataSizeMismatch, name)
		}
		tensors[name] = stInfo{
			dtype: dtype,
			shape: th.Shape,
			start: th.DataOffsets[0],
			end:   th.DataOffsets[1],
		}
	}
	return &SafetensorsStore{
		data:      data,
		mmapped:   mmapped,
		dataStart: dataStart,
		tensors:   tensors,
	}, nil
}

func (s *SafetensorsStore) Read(name string) (*Array, error) {
	info, ok := s.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	shape := make([]int, len(info.shape))
	copy(shape, info.shape)
	return &Array{
		Name:  name,
		DType: info.dtype,
		Shape: shape,
		Raw:   s.data[s.dataStart+info.start : s.dataStart+info.end],
	}, nil
}

func (s *SafetensorsStore) Names() []string {
	names := make([]string, 0, len(s.tensors))
	for name := range s.tensors {
		names = append(names, name)
	}
	return names
}

func (s *SafetensorsStore) Close() error {
	if s.mmapped && s.data != nil {
		err := unix.Munmap(s.data)
		s.data = nil
		return err
	}
	s.data = nil
	return nil
}

func dtypeFromSafetensors(dtype string) (tensor.DType, bool) {
	switch dtype {
	case "F16":
		return tensor.F16, true
	case "F32":
		return tensor.F32, true
	default:
		return 0, false
	}
}
