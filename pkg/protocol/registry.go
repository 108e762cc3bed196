package protocol

import "fmt"

type definitionDecoder func(id uint8, r *Reader) (Definition, error)

type payloadDecoder func(seq uint8, r *Reader, ctx *Context) (Packet, error)

// Registry maps the closed sets of data type tags and opcodes to their
// decoders. It is built once by NewRegistry and shared by reference.
type Registry struct {
	dataTypes map[DataType]definitionDecoder
	opcodes   map[Opcode]payloadDecoder
}

func NewRegistry() *Registry {
	reg := &Registry{
		dataTypes: map[DataType]definitionDecoder{
			DataTypeNumeric:      decodeNumeric,
			DataTypeNumericArray: decodeNumericArray,
		},
	}
	reg.opcodes = map[Opcode]payloadDecoder{
		OpcodeHeader: reg.decodeHeader,
		OpcodeData:   decodeData,
	}
	return reg
}

// DecodeDefinition reads a type tag and the records that follow it.
func (reg *Registry) DecodeDefinition(id uint8, r *Reader) (Definition, error) {
	tag, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	decode, ok := reg.dataTypes[DataType(tag)]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownDataType, tag)
	}
	return decode(id, r)
}

// DecodePacket decodes one destuffed packet body against ctx. Values of a Data
// packet become the Context's latest values only when the whole packet decodes.
func (reg *Registry) DecodePacket(body []byte, ctx *Context) (Packet, error) {
	if ctx == nil {
		ctx = EmptyContext()
	}
	r := NewReader(body)
	raw, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	decode, ok := reg.opcodes[Opcode(raw)]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownOpcode, raw)
	}
	seq, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}

	pkt, err := decode(seq, r, ctx)
	if err != nil {
		return nil, fmt.Errorf("%s packet: %w", Opcode(raw), err)
	}
	if r.Remaining() > 0 {
		return nil, fmt.Errorf("%w: %d bytes after %s payload", ErrPacketSize, r.Remaining(), Opcode(raw))
	}

	if data, ok := pkt.(*DataPacket); ok {
		ctx.commit(data.Samples)
	}
	return pkt, nil
}

func (reg *Registry) decodeHeader(seq uint8, r *Reader, _ *Context) (Packet, error) {
	pkt := &HeaderPacket{Seq: seq}
	seen := make(map[uint8]struct{})
	for {
		id, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		if id == Terminator {
			return pkt, nil
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: 0x%02x", ErrDuplicateDataID, id)
		}
		seen[id] = struct{}{}

		def, err := reg.DecodeDefinition(id, r)
		if err != nil {
			return nil, fmt.Errorf("data id 0x%02x: %w", id, err)
		}
		pkt.Definitions = append(pkt.Definitions, def)
	}
}

func decodeData(seq uint8, r *Reader, ctx *Context) (Packet, error) {
	samples, err := decodeSamples(r, ctx)
	if err != nil {
		return nil, err
	}
	return &DataPacket{Seq: seq, Samples: samples}, nil
}

func decodeSamples(r *Reader, ctx *Context) ([]Sample, error) {
	var samples []Sample
	for {
		id, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		if id == Terminator {
			return samples, nil
		}
		def, ok := ctx.Definition(id)
		if !ok {
			return nil, fmt.Errorf("%w: 0x%02x not defined in header", ErrUndefinedDataID, id)
		}
		value, err := def.DecodeValue(r)
		if err != nil {
			return nil, fmt.Errorf("data id 0x%02x: %w", id, err)
		}
		samples = append(samples, Sample{DataID: id, Value: value})
	}
}
