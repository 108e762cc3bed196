package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrShortPacket        = errors.New("telemetry: short packet")
	ErrFraming            = errors.New("telemetry: framing error")
	ErrTruncated          = errors.New("telemetry: truncated data")
	ErrUnknownOpcode      = errors.New("telemetry: unknown opcode")
	ErrUnknownDataType    = errors.New("telemetry: unknown data type")
	ErrUnknownRecordID    = errors.New("telemetry: unknown record id")
	ErrDuplicateDataID    = errors.New("telemetry: duplicate data id")
	ErrUndefinedDataID    = errors.New("telemetry: undefined data id")
	ErrMissingRecord      = errors.New("telemetry: missing record")
	ErrPacketSize         = errors.New("telemetry: unused bytes in packet")
	ErrUnsupportedSubtype = errors.New("telemetry: unsupported numeric subtype")
	ErrEncodingRange      = errors.New("telemetry: value out of encoding range")
	ErrLengthMismatch     = errors.New("telemetry: array length mismatch")
	ErrPacketTooLarge     = errors.New("telemetry: packet too large")
)

// FrameError reports a frame that was dropped by the Deserializer. Body holds
// the destuffed bytes that were collected before the frame was abandoned.
type FrameError struct {
	Body []byte
	Err  error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("drop frame (%d bytes): %v", len(e.Body), e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
