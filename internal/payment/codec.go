package payment

import (
	"errors"
	"fmt"
)

// SCALE compact integer encoding. The two low bits of the first byte select
// the mode; values must use the shortest mode that fits, so every value has
// exactly one encoding.

var (
	// ErrTruncated means the buffer ended inside a compact integer.
	ErrTruncated = errors.New("truncated compact integer")

	// ErrNonCanonical means a value was encoded in a longer mode than needed.
	ErrNonCanonical = errors.New("non-canonical compact integer")
)

// AppendCompact appends the compact encoding of v to dst.
func AppendCompact(dst []byte, v uint64) []byte {
	switch {
	case v < 1<<6:
		return append(dst, byte(v)<<2)
	case v < 1<<14:
		x := uint16(v)<<2 | 0b01
		return append(dst, byte(x), byte(x>>8))
	case v < 1<<30:
		x := uint32(v)<<2 | 0b10
		return append(dst, byte(x), byte(x>>8), byte(x>>16), byte(x>>24))
	default:
		n := 8
		for n > 4 && byte(v>>(8*(n-1))) == 0 {
			n--
		}
		dst = append(dst, byte(n-4)<<2|0b11)
		for i := 0; i < n; i++ {
			dst = append(dst, byte(v>>(8*i)))
		}
		return dst
	}
}

// DecodeCompact reads one compact integer and returns it with the number of
// bytes consumed.
func DecodeCompact(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrTruncated
	}
	switch b[0] & 0b11 {
	case 0b00:
		return uint64(b[0] >> 2), 1, nil

	case 0b01:
		if len(b) < 2 {
			return 0, 0, ErrTruncated
		}
		v := (uint64(b[0]) | uint64(b[1])<<8) >> 2
		if v < 1<<6 {
			return 0, 0, ErrNonCanonical
		}
		return v, 2, nil

	case 0b10:
		if len(b) < 4 {
			return 0, 0, ErrTruncated
		}
		v := (uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24) >> 2
		if v < 1<<14 {
			return 0, 0, ErrNonCanonical
		}
		return v, 4, nil

	default:
		n := int(b[0]>>2) + 4
		if n > 8 {
			return 0, 0, fmt.Errorf("%w: %d-byte payload", ErrNonCanonical, n)
		}
		if len(b) < 1+n {
			return 0, 0, ErrTruncated
		}
		var v uint64
		for i := 0; i < n; i++ {
			v |= uint64(b[1+i]) << (8 * i)
		}
		if b[n] == 0 || v < 1<<30 {
			return 0, 0, ErrNonCanonical
		}
		return v, 1 + n, nil
	}
}

// Encode serializes the extension payload: the tip as a compact integer.
func (c Charge) Encode() []byte {
	return AppendCompact(nil, c.Tip)
}

// DecodeCharge parses an extension payload and returns the bytes consumed.
func DecodeCharge(b []byte) (Charge, int, error) {
	tip, n, err := DecodeCompact(b)
	if err != nil {
		return Charge{}, 0, fmt.Errorf("decode %s: %w", Identifier, err)
	}
	return Charge{Tip: tip}, n, nil
}
