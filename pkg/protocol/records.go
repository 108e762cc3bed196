package protocol

import (
	"encoding/binary"
	"fmt"
)

// record is one entry of a definition's record table. Tables are ordered and
// fixed per variant; decode and encode both walk them in order.
type record[T any] struct {
	id       RecordID
	name     string
	required bool
	decode   func(r *Reader, def *T) error
	encode   func(dst []byte, def *T) []byte
}

func baseRecords[T any](base func(*T) *Base) []record[T] {
	return []record[T]{
		{
			id:   RecordInternalName,
			name: "internal_name",
			decode: func(r *Reader, def *T) (err error) {
				base(def).InternalName, err = r.ReadString()
				return err
			},
			encode: func(dst []byte, def *T) []byte {
				return appendString(dst, base(def).InternalName)
			},
		},
		{
			id:   RecordDisplayName,
			name: "display_name",
			decode: func(r *Reader, def *T) (err error) {
				base(def).DisplayName, err = r.ReadString()
				return err
			},
			encode: func(dst []byte, def *T) []byte {
				return appendString(dst, base(def).DisplayName)
			},
		},
		{
			id:   RecordUnits,
			name: "units",
			decode: func(r *Reader, def *T) (err error) {
				base(def).Units, err = r.ReadString()
				return err
			},
			encode: func(dst []byte, def *T) []byte {
				return appendString(dst, base(def).Units)
			},
		},
	}
}

func formatRecords[T any](format func(*T) *NumericFormat) []record[T] {
	return []record[T]{
		{
			id:       RecordSubtype,
			name:     "subtype",
			required: true,
			decode: func(r *Reader, def *T) error {
				v, err := r.ReadUint8()
				format(def).Subtype = Subtype(v)
				return err
			},
			encode: func(dst []byte, def *T) []byte {
				return append(dst, uint8(format(def).Subtype))
			},
		},
		{
			id:       RecordLength,
			name:     "length",
			required: true,
			decode: func(r *Reader, def *T) (err error) {
				format(def).Length, err = r.ReadUint8()
				return err
			},
			encode: func(dst []byte, def *T) []byte {
				return append(dst, format(def).Length)
			},
		},
	}
}

var numericRecords = concatRecords(
	baseRecords(func(d *Numeric) *Base { return &d.Base }),
	formatRecords(func(d *Numeric) *NumericFormat { return &d.NumericFormat }),
)

var numericArrayRecords = concatRecords(
	baseRecords(func(d *NumericArray) *Base { return &d.Base }),
	formatRecords(func(d *NumericArray) *NumericFormat { return &d.NumericFormat }),
	[]record[NumericArray]{{
		id:       RecordCount,
		name:     "count",
		required: true,
		decode: func(r *Reader, def *NumericArray) (err error) {
			def.Count, err = r.ReadUint32()
			return err
		},
		encode: func(dst []byte, def *NumericArray) []byte {
			return binary.BigEndian.AppendUint32(dst, def.Count)
		},
	}},
)

func concatRecords[T any](tables ...[]record[T]) []record[T] {
	var out []record[T]
	for _, t := range tables {
		out = append(out, t...)
	}
	return out
}

// decodeRecords reads (record_id, value) pairs into def until the record
// terminator, then checks that every required record was seen.
func decodeRecords[T any](r *Reader, def *T, table []record[T], kind DataType) error {
	seen := make([]bool, len(table))
	for {
		raw, err := r.ReadUint8()
		if err != nil {
			return err
		}
		id := RecordID(raw)
		if id == RecordTerminator {
			break
		}
		idx := -1
		for i := range table {
			if table[i].id == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: 0x%02x in %s definition", ErrUnknownRecordID, raw, kind)
		}
		if err := table[idx].decode(r, def); err != nil {
			return fmt.Errorf("record %s: %w", table[idx].name, err)
		}
		seen[idx] = true
	}

	for i, rec := range table {
		if rec.required && !seen[i] {
			return fmt.Errorf("%w: %s definition has no %s (0x%02x)", ErrMissingRecord, kind, rec.name, uint8(rec.id))
		}
	}
	return nil
}

func encodeRecords[T any](dst []byte, def *T, table []record[T]) []byte {
	for _, rec := range table {
		dst = append(dst, uint8(rec.id))
		dst = rec.encode(dst, def)
	}
	return append(dst, uint8(RecordTerminator))
}

func appendString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0x00)
}
