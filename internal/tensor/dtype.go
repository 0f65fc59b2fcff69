package tensor

import "math"

// DType describes the element encoding of a weight matrix.
type DType int

const (
	F32 DType = iota
	F16
)

func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case F16:
		return "f16"
	default:
		return "unknown"
	}
}

// ElemSize returns the byte width of one element.
func (d DType) ElemSize() int {
	switch d {
	case F32:
		return 4
	case F16:
		return 2
	default:
		return 0
	}
}

// F16ToF32 decodes an IEEE-754 half-precision value.
func F16ToF32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h & 0x3FF)
	var f uint32
	switch exp {
	case 0:
		if frac == 0 {
			f = sign << 31
		} else {
			// subnormal: renormalize
			e := uint32(127 - 15 + 1)
			for (frac & 0x400) == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3FF
			f = (sign << 31) | (e << 23) | (frac << 13)
		}
	case 0x1F:
		f = (sign << 31) | 0x7F800000 | (frac << 13)
	default:
		e := exp + (127 - 15)
		f = (sign << 31) | (e << 23) | (frac << 13)
	}
	return math.Float32frombits(f)
}

// F32ToF16 encodes a float32 as IEEE-754 half precision with round-to-nearest-even.
func F32ToF16(f float32) uint16 {
	b := math.Float32bits(f)
	sign := uint16(b>>16) & 0x8000
	exp := int32(b>>23) & 0xFF
	frac := b & 0x7FFFFF

	switch {
	case exp == 0xFF: // inf / nan
		if frac != 0 {
			return sign | 0x7E00
		}
		return sign | 0x7C00
	case exp-127 > 15: // overflow to inf
		return sign | 0x7C00
	case exp-127 >= -14: // normal
		h := sign | uint16((exp-127+15)<<10) | uint16(frac>>13)
		// round to nearest even
		if frac&0x1FFF > 0x1000 || (frac&0x1FFF == 0x1000 && h&1 == 1) {
			h++
		}
		return h
	case exp-127 >= -24: // subnormal
		shift := uint32(-(exp - 127) - 14)
		frac |= 0x800000
		h := sign | uint16(frac>>(13+shift))
		rem := frac & ((1 << (13 + shift)) - 1)
		half := uint32(1) << (12 + shift)
		if rem > half || (rem == half && h&1 == 1) {
			h++
		}
		return h
	default: // underflow to zero
		return sign
	}
}
