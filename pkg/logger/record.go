package logger

import (
	"fmt"
	"time"

	"telemetry/pkg/protocol"
)

// Channel describes one definition announced by a Header.
type Channel struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Display string `json:"display" yaml:"display"`
	Units   string `json:"units,omitempty" yaml:"units,omitempty"`
	Type    string `json:"type" yaml:"type"`
}

// Record is the flat, serializable form of an event.
type Record struct {
	TS       string         `json:"ts,omitempty" yaml:"ts,omitempty"`
	Kind     string         `json:"kind" yaml:"kind"`
	Seq      *uint8         `json:"seq,omitempty" yaml:"seq,omitempty"`
	Values   map[string]any `json:"values,omitempty" yaml:"values,omitempty"`
	Channels []Channel      `json:"channels,omitempty" yaml:"channels,omitempty"`
	Text     string         `json:"text,omitempty" yaml:"text,omitempty"`
}

const (
	KindHeader    = "header"
	KindData      = "data"
	KindOutOfBand = "oob"
)

// Namer follows Header events so Data values can be keyed by internal name.
// Events must be passed in stream order.
type Namer struct {
	names map[uint8]string
}

func NewNamer() *Namer {
	return &Namer{names: make(map[uint8]string)}
}

func (n *Namer) Record(ev protocol.Event) Record {
	var rec Record
	if !ev.Timestamp.IsZero() {
		rec.TS = ev.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if ev.IsOutOfBand() {
		rec.Kind = KindOutOfBand
		rec.Text = string(ev.OutOfBand)
		return rec
	}

	seq := ev.Packet.Sequence()
	rec.Seq = &seq
	switch pkt := ev.Packet.(type) {
	case *protocol.HeaderPacket:
		rec.Kind = KindHeader
		n.names = make(map[uint8]string, len(pkt.Definitions))
		for _, def := range pkt.Definitions {
			rec.Channels = append(rec.Channels, Describe(def))
			n.names[def.ID()] = def.Meta().InternalName
		}
	case *protocol.DataPacket:
		rec.Kind = KindData
		rec.Values = make(map[string]any, len(pkt.Samples))
		for _, s := range pkt.Samples {
			rec.Values[n.name(s.DataID)] = s.Value
		}
	default:
		rec.Kind = ev.Packet.Opcode().String()
	}
	return rec
}

func (n *Namer) name(id uint8) string {
	if name, ok := n.names[id]; ok {
		return name
	}
	return formatID(id)
}

func Describe(def protocol.Definition) Channel {
	meta := def.Meta()
	return Channel{
		ID:      formatID(def.ID()),
		Name:    meta.InternalName,
		Display: meta.DisplayName,
		Units:   meta.Units,
		Type:    TypeName(def),
	}
}

// TypeName renders a definition's value type, e.g. "uint16" or "float32[3]".
func TypeName(def protocol.Definition) string {
	switch d := def.(type) {
	case *protocol.Numeric:
		return d.NumericFormat.String()
	case *protocol.NumericArray:
		return fmt.Sprintf("%s[%d]", d.NumericFormat, d.Count)
	default:
		return def.Type().String()
	}
}

func formatID(id uint8) string {
	return fmt.Sprintf("0x%02x", id)
}
