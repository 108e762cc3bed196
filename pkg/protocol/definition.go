package protocol

import (
	"fmt"
	"strings"
)

// Definition is the decoded schema of one telemetry channel. Implementations
// are immutable once a Header has been decoded.
type Definition interface {
	ID() uint8
	Type() DataType
	Meta() Base
	// DecodeValue reads one value of this channel from a Data payload.
	DecodeValue(r *Reader) (any, error)
	// AppendValue encodes value after dst, validating it against the channel type.
	AppendValue(dst []byte, value any) ([]byte, error)
	// AppendRecords encodes the definition's type tag and records as they
	// appear in a Header payload.
	AppendRecords(dst []byte) []byte
}

// Base holds the records every definition carries.
type Base struct {
	DataID       uint8
	InternalName string
	DisplayName  string
	Units        string
}

func defaultBase(id uint8) Base {
	name := fmt.Sprintf("%02x", id)
	return Base{
		DataID:       id,
		InternalName: name,
		DisplayName:  name,
	}
}

func (b *Base) ID() uint8 {
	return b.DataID
}

func (b *Base) Meta() Base {
	return *b
}

func (b *Base) validate() error {
	for _, s := range []string{b.InternalName, b.DisplayName, b.Units} {
		if strings.IndexByte(s, 0x00) >= 0 {
			return fmt.Errorf("%w: string record %q contains NUL", ErrEncodingRange, s)
		}
	}
	return nil
}

// Numeric is a scalar numeric channel.
type Numeric struct {
	Base
	NumericFormat
}

func decodeNumeric(id uint8, r *Reader) (Definition, error) {
	def := &Numeric{Base: defaultBase(id)}
	if err := decodeRecords(r, def, numericRecords, DataTypeNumeric); err != nil {
		return nil, err
	}
	return def, nil
}

func (d *Numeric) Type() DataType {
	return DataTypeNumeric
}

func (d *Numeric) DecodeValue(r *Reader) (any, error) {
	return d.decodeValue(r)
}

func (d *Numeric) AppendValue(dst []byte, value any) ([]byte, error) {
	return d.appendValue(dst, value)
}

func (d *Numeric) AppendRecords(dst []byte) []byte {
	dst = append(dst, uint8(DataTypeNumeric))
	return encodeRecords(dst, d, numericRecords)
}

func (d *Numeric) String() string {
	return fmt.Sprintf("Numeric id=0x%02x name=%q units=%q %s", d.DataID, d.InternalName, d.Units, d.NumericFormat)
}

// NumericArray is a fixed-count array of numeric elements.
type NumericArray struct {
	Base
	NumericFormat
	Count uint32
}

func decodeNumericArray(id uint8, r *Reader) (Definition, error) {
	def := &NumericArray{Base: defaultBase(id)}
	if err := decodeRecords(r, def, numericArrayRecords, DataTypeNumericArray); err != nil {
		return nil, err
	}
	return def, nil
}

func (d *NumericArray) Type() DataType {
	return DataTypeNumericArray
}

func (d *NumericArray) DecodeValue(r *Reader) (any, error) {
	// Count comes off the wire; never preallocate more than the body can hold.
	out := make([]any, 0, min(int(d.Count), r.Remaining()))
	for i := uint32(0); i < d.Count; i++ {
		v, err := d.decodeValue(r)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *NumericArray) AppendValue(dst []byte, value any) ([]byte, error) {
	elems, ok := toSlice(value)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an array", ErrEncodingRange, value)
	}
	if uint64(len(elems)) != uint64(d.Count) {
		return nil, fmt.Errorf("%w: got %d elements, expected %d", ErrLengthMismatch, len(elems), d.Count)
	}
	var err error
	for i, elem := range elems {
		dst, err = d.appendValue(dst, elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return dst, nil
}

func (d *NumericArray) AppendRecords(dst []byte) []byte {
	dst = append(dst, uint8(DataTypeNumericArray))
	return encodeRecords(dst, d, numericArrayRecords)
}

func (d *NumericArray) String() string {
	return fmt.Sprintf("NumericArray id=0x%02x name=%q units=%q %s[%d]", d.DataID, d.InternalName, d.Units, d.NumericFormat, d.Count)
}

func toSlice(value any) ([]any, bool) {
	switch s := value.(type) {
	case []any:
		return s, true
	case []float64:
		return sliceOf(s), true
	case []float32:
		return sliceOf(s), true
	case []uint64:
		return sliceOf(s), true
	case []uint32:
		return sliceOf(s), true
	case []uint16:
		return sliceOf(s), true
	case []uint8:
		return sliceOf(s), true
	case []int:
		return sliceOf(s), true
	case []int64:
		return sliceOf(s), true
	case []int32:
		return sliceOf(s), true
	default:
		return nil, false
	}
}

func sliceOf[E any](s []E) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
