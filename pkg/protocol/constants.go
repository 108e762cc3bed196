package protocol

// ProtocolVersion identifies the record layout this package speaks. Version 1
// carries the array element count in record 0x50 and has no limits record.
const ProtocolVersion = 1

// SOF is the two-byte start-of-frame marker.
var SOF = [2]byte{0x05, 0x39}

const (
	// StuffByte is the literal that is always followed by StuffFill on the wire.
	StuffByte byte = 0x05
	StuffFill byte = 0x00

	// LengthBytes is the size of the big-endian length field after SOF.
	LengthBytes = 2

	// MaxPacketLength is the largest body the length field can describe.
	MaxPacketLength = 0xFFFF
)

// Opcode identifies the packet kind.
type Opcode uint8

const (
	OpcodeData   Opcode = 0x01
	OpcodeHeader Opcode = 0x81
)

func (o Opcode) String() string {
	switch o {
	case OpcodeData:
		return "data"
	case OpcodeHeader:
		return "header"
	default:
		return "opcode(0x" + hexByte(uint8(o)) + ")"
	}
}

// Terminator ends both the data id list and the record list.
const Terminator uint8 = 0x00

// DataType is the type tag of a channel definition.
type DataType uint8

const (
	DataTypeNumeric      DataType = 0x01
	DataTypeNumericArray DataType = 0x02
)

func (t DataType) String() string {
	switch t {
	case DataTypeNumeric:
		return "numeric"
	case DataTypeNumericArray:
		return "numeric_array"
	default:
		return "datatype(0x" + hexByte(uint8(t)) + ")"
	}
}

// Subtype selects the numeric representation.
type Subtype uint8

const (
	SubtypeUInt  Subtype = 0x01
	SubtypeSInt  Subtype = 0x02
	SubtypeFloat Subtype = 0x03
)

func (s Subtype) String() string {
	switch s {
	case SubtypeUInt:
		return "uint"
	case SubtypeSInt:
		return "sint"
	case SubtypeFloat:
		return "float"
	default:
		return "subtype(0x" + hexByte(uint8(s)) + ")"
	}
}

// RecordID keys one key-value record inside a definition.
type RecordID uint8

const (
	RecordTerminator   RecordID = 0x00
	RecordInternalName RecordID = 0x01
	RecordDisplayName  RecordID = 0x02
	RecordUnits        RecordID = 0x03
	RecordSubtype      RecordID = 0x40
	RecordLength       RecordID = 0x41
	RecordCount        RecordID = 0x50
)

const hexDigits = "0123456789abcdef"

func hexByte(b uint8) string {
	return string([]byte{hexDigits[b>>4], hexDigits[b&0x0f]})
}
