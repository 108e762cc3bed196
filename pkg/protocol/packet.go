package protocol

import (
	"fmt"
	"strings"
)

// Packet is a decoded telemetry packet.
type Packet interface {
	Opcode() Opcode
	Sequence() uint8
}

// HeaderPacket announces the channel definitions that following Data packets
// refer to.
type HeaderPacket struct {
	Seq         uint8
	Definitions []Definition
}

func (p *HeaderPacket) Opcode() Opcode  { return OpcodeHeader }
func (p *HeaderPacket) Sequence() uint8 { return p.Seq }

func (p *HeaderPacket) Definition(id uint8) (Definition, bool) {
	for _, def := range p.Definitions {
		if def.ID() == id {
			return def, true
		}
	}
	return nil, false
}

// Names returns the internal names of the announced channels.
func (p *HeaderPacket) Names() []string {
	out := make([]string, 0, len(p.Definitions))
	for _, def := range p.Definitions {
		out = append(out, def.Meta().InternalName)
	}
	return out
}

// Context builds the Context this Header establishes.
func (p *HeaderPacket) Context() (*Context, error) {
	return NewContext(p.Definitions)
}

func (p *HeaderPacket) String() string {
	parts := make([]string, 0, len(p.Definitions))
	for _, def := range p.Definitions {
		parts = append(parts, fmt.Sprint(def))
	}
	return fmt.Sprintf("[%d]Header: {%s}", p.Seq, strings.Join(parts, ", "))
}

// Sample is one decoded channel value.
type Sample struct {
	DataID uint8
	Value  any
}

// DataPacket carries channel values in wire order.
type DataPacket struct {
	Seq     uint8
	Samples []Sample
}

func (p *DataPacket) Opcode() Opcode  { return OpcodeData }
func (p *DataPacket) Sequence() uint8 { return p.Seq }

// Value returns the last value the packet carried for id.
func (p *DataPacket) Value(id uint8) (any, bool) {
	for i := len(p.Samples) - 1; i >= 0; i-- {
		if p.Samples[i].DataID == id {
			return p.Samples[i].Value, true
		}
	}
	return nil, false
}

func (p *DataPacket) Values() map[uint8]any {
	out := make(map[uint8]any, len(p.Samples))
	for _, s := range p.Samples {
		out[s.DataID] = s.Value
	}
	return out
}

func (p *DataPacket) String() string {
	parts := make([]string, 0, len(p.Samples))
	for _, s := range p.Samples {
		parts = append(parts, fmt.Sprintf("0x%02x=%v", s.DataID, s.Value))
	}
	return fmt.Sprintf("[%d]Data: {%s}", p.Seq, strings.Join(parts, ", "))
}
