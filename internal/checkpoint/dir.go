package checkpoint

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// DirStore reads a checkpoint laid out as a directory of .npy files, one per
// tensor, named by the dotted parameter key (with or without the .npy
// extension), e.g. decoder.layers.0.self_attn.q_proj.weight.
type DirStore struct {
	path  string
	names []string
}

// OpenDir scans a checkpoint directory. Arrays are read lazily.
func OpenDir(path string) (*DirStore, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".npy"))
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("checkpoint: empty directory %s", path)
	}
	return &DirStore{path: path, names: names}, nil
}

func (s *DirStore) Read(name string) (*Array, error) {
	for _, candidate := range []string{name, name + ".npy"} {
		p := filepath.Join(s.path, candidate)
		if _, err := os.Stat(p); err == nil {
			return ReadNPY(p, name)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (s *DirStore) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

func (s *DirStore) Close() error { return nil }

func u16le(b []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(b[off:])
}

func f32le(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}
