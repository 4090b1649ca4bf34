package vector

import (
	"encoding/binary"
	"math"
)

// DType is a collection's storage dtype, fixed at creation.
type DType string

const (
	DTypeF32 DType = "f32"
	DTypeF16 DType = "f16"
)

func (d DType) valid() bool {
	return d == DTypeF32 || d == DTypeF16
}

// encodeVector packs vec per dtype: f32 stores raw little-endian IEEE-754
// bits, f16 stores IEEE-754 half-precision (round-to-nearest-even).
func encodeVector(vec []float32, dtype DType) []byte {
	switch dtype {
	case DTypeF16:
		out := make([]byte, 2*len(vec))
		for i, f := range vec {
			binary.LittleEndian.PutUint16(out[2*i:], float32ToHalf(f))
		}
		return out
	default:
		out := make([]byte, 4*len(vec))
		for i, f := range vec {
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
		}
		return out
	}
}

func decodeVector(data []byte, dtype DType) []float32 {
	switch dtype {
	case DTypeF16:
		out := make([]float32, len(data)/2)
		for i := range out {
			out[i] = halfToFloat32(binary.LittleEndian.Uint16(data[2*i:]))
		}
		return out
	default:
		out := make([]float32, len(data)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
		return out
	}
}

// float32ToHalf converts with round-to-nearest-even, saturating overflow to
// infinity and flushing values below the half subnormal range to zero.
func float32ToHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32((bits>>23)&0xff) - 127 + 15
	mant := bits & 0x7fffff

	if exp >= 0x1f {
		if (bits>>23)&0xff == 0xff && mant != 0 {
			return sign | 0x7e00 // NaN
		}
		return sign | 0x7c00 // Inf or overflow
	}
	if exp <= 0 {
		if exp < -10 {
			return sign // underflow to zero
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		half := uint16(mant >> shift)
		rem, halfway := mant&(1<<shift-1), uint32(1)<<(shift-1)
		if rem > halfway || (rem == halfway && half&1 != 0) {
			half++
		}
		return sign | half
	}
	half := sign | uint16(exp)<<10 | uint16(mant>>13)
	if rem := mant & 0x1fff; rem > 0x1000 || (rem == 0x1000 && half&1 != 0) {
		half++
	}
	return half
}

func halfToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)

	switch {
	case exp == 0x1f:
		if mant != 0 {
			return math.Float32frombits(sign | 0x7fc00000) // NaN
		}
		return math.Float32frombits(sign | 0x7f800000) // Inf
	case exp == 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		// subnormal: renormalize
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		mant &= 0x3ff
		exp++
		return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
	default:
		return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
	}
}
