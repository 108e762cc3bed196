package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// NumericFormat is the subtype/width pair shared by scalar and array channels.
type NumericFormat struct {
	Subtype Subtype
	Length  uint8
}

func (f NumericFormat) String() string {
	return fmt.Sprintf("%s%d", f.Subtype, int(f.Length)*8)
}

func (f NumericFormat) decodeValue(r *Reader) (any, error) {
	switch f.Subtype {
	case SubtypeUInt:
		if !validUIntWidth(f.Length) {
			return nil, fmt.Errorf("%w: uint width %d", ErrUnsupportedSubtype, f.Length)
		}
		raw, err := r.ReadBytes(int(f.Length))
		if err != nil {
			return nil, err
		}
		var v uint64
		for _, b := range raw {
			v = v<<8 | uint64(b)
		}
		return v, nil
	case SubtypeFloat:
		if f.Length != 4 {
			return nil, fmt.Errorf("%w: float width %d", ErrUnsupportedSubtype, f.Length)
		}
		bits, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		return float64(math.Float32frombits(bits)), nil
	case SubtypeSInt:
		return nil, fmt.Errorf("%w: sint is not implemented", ErrUnsupportedSubtype)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnsupportedSubtype, uint8(f.Subtype))
	}
}

func (f NumericFormat) appendValue(dst []byte, value any) ([]byte, error) {
	switch f.Subtype {
	case SubtypeUInt:
		if !validUIntWidth(f.Length) {
			return nil, fmt.Errorf("%w: uint width %d", ErrUnsupportedSubtype, f.Length)
		}
		v, err := toUint64(value)
		if err != nil {
			return nil, err
		}
		limit := uint64(1)<<(8*uint(f.Length)) - 1
		if v > limit {
			return nil, fmt.Errorf("%w: %d does not fit in uint%d", ErrEncodingRange, v, int(f.Length)*8)
		}
		switch f.Length {
		case 1:
			return append(dst, uint8(v)), nil
		case 2:
			return binary.BigEndian.AppendUint16(dst, uint16(v)), nil
		default:
			return binary.BigEndian.AppendUint32(dst, uint32(v)), nil
		}
	case SubtypeFloat:
		if f.Length != 4 {
			return nil, fmt.Errorf("%w: float width %d", ErrUnsupportedSubtype, f.Length)
		}
		v, err := toFloat64(value)
		if err != nil {
			return nil, err
		}
		if !math.IsInf(v, 0) && !math.IsNaN(v) && math.Abs(v) > math.MaxFloat32 {
			return nil, fmt.Errorf("%w: %g does not fit in float32", ErrEncodingRange, v)
		}
		return binary.BigEndian.AppendUint32(dst, math.Float32bits(float32(v))), nil
	case SubtypeSInt:
		return nil, fmt.Errorf("%w: sint is not implemented", ErrUnsupportedSubtype)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnsupportedSubtype, uint8(f.Subtype))
	}
}

func validUIntWidth(n uint8) bool {
	return n == 1 || n == 2 || n == 4
}

func toUint64(value any) (uint64, error) {
	switch n := value.(type) {
	case uint8:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case uint64:
		return n, nil
	case uint:
		return uint64(n), nil
	case int8:
		return signedToUint64(int64(n))
	case int16:
		return signedToUint64(int64(n))
	case int32:
		return signedToUint64(int64(n))
	case int64:
		return signedToUint64(n)
	case int:
		return signedToUint64(int64(n))
	case float32:
		return floatToUint64(float64(n))
	case float64:
		return floatToUint64(n)
	default:
		return 0, fmt.Errorf("%w: %T is not an unsigned integer", ErrEncodingRange, value)
	}
}

func signedToUint64(n int64) (uint64, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: negative value %d for unsigned channel", ErrEncodingRange, n)
	}
	return uint64(n), nil
}

// floatToUint64 accepts integral floats, which is how JSON numbers arrive.
func floatToUint64(f float64) (uint64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %g is not an integer", ErrEncodingRange, f)
	}
	if f < 0 || f >= math.MaxUint64 {
		return 0, fmt.Errorf("%w: %g out of unsigned range", ErrEncodingRange, f)
	}
	return uint64(f), nil
}

func toFloat64(value any) (float64, error) {
	switch n := value.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%w: %T is not a number", ErrEncodingRange, value)
	}
}
