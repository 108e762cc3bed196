package protocol

import "time"

// Event is one item of the decoded stream: either a packet or a run of
// out-of-band bytes, in the order they appeared on the wire.
type Event struct {
	Timestamp time.Time
	Packet    Packet
	OutOfBand []byte
}

// IsOutOfBand reports whether the event carries passthrough bytes.
func (e Event) IsOutOfBand() bool {
	return e.Packet == nil
}
