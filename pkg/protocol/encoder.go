package protocol

import (
	"encoding/binary"
	"fmt"
)

// EncodeSet builds the unstuffed body of a set command for one channel:
// opcode, data id, value, terminator.
func EncodeSet(def Definition, value any) ([]byte, error) {
	body := []byte{uint8(OpcodeData), def.ID()}
	body, err := def.AppendValue(body, value)
	if err != nil {
		return nil, fmt.Errorf("encode 0x%02x (%s): %w", def.ID(), def.Meta().InternalName, err)
	}
	return append(body, Terminator), nil
}

// DecodeSet parses a set command body as the receiving device does, and
// commits the values to ctx.
func DecodeSet(body []byte, ctx *Context) ([]Sample, error) {
	r := NewReader(body)
	op, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	if Opcode(op) != OpcodeData {
		return nil, fmt.Errorf("%w: 0x%02x in set command", ErrUnknownOpcode, op)
	}
	samples, err := decodeSamples(r, ctx)
	if err != nil {
		return nil, err
	}
	if r.Remaining() > 0 {
		return nil, fmt.Errorf("%w: %d bytes after set command", ErrPacketSize, r.Remaining())
	}
	ctx.commit(samples)
	return samples, nil
}

// EncodeHeader builds the unstuffed body of a Header packet announcing defs.
func EncodeHeader(seq uint8, defs []Definition) ([]byte, error) {
	body := []byte{uint8(OpcodeHeader), seq}
	seen := make(map[uint8]struct{}, len(defs))
	for _, def := range defs {
		id := def.ID()
		if id == Terminator {
			return nil, fmt.Errorf("%w: data id 0x00 is the list terminator", ErrEncodingRange)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: 0x%02x", ErrDuplicateDataID, id)
		}
		seen[id] = struct{}{}
		meta := def.Meta()
		if err := meta.validate(); err != nil {
			return nil, fmt.Errorf("definition 0x%02x: %w", id, err)
		}
		body = append(body, id)
		body = def.AppendRecords(body)
	}
	return append(body, Terminator), nil
}

// EncodeData builds the unstuffed body of a Data packet. Every sample must
// refer to a channel of ctx.
func EncodeData(seq uint8, ctx *Context, samples []Sample) ([]byte, error) {
	body := []byte{uint8(OpcodeData), seq}
	for _, s := range samples {
		def, ok := ctx.Definition(s.DataID)
		if !ok {
			return nil, fmt.Errorf("%w: 0x%02x", ErrUndefinedDataID, s.DataID)
		}
		body = append(body, s.DataID)
		var err error
		body, err = def.AppendValue(body, s.Value)
		if err != nil {
			return nil, fmt.Errorf("encode 0x%02x: %w", s.DataID, err)
		}
	}
	return append(body, Terminator), nil
}

// Frame wraps an unstuffed body for the wire: SOF, big-endian body length,
// stuffed body.
func Frame(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrFraming)
	}
	if len(body) > MaxPacketLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(body))
	}
	var length [LengthBytes]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(body)))
	if length[0] == SOF[0] && length[1] == SOF[1] {
		return nil, fmt.Errorf("%w: length %d collides with the frame marker", ErrPacketTooLarge, len(body))
	}

	out := make([]byte, 0, len(SOF)+LengthBytes+len(body)+len(body)/16+1)
	out = append(out, SOF[:]...)
	out = append(out, length[:]...)
	return append(out, Stuff(body)...), nil
}
