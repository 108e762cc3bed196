package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Deserializer separates telemetry packets from the rest of a byte stream.
// Input may arrive in arbitrary chunks; state carries over between calls.
//
// Process and ProcessEvents must be called from a single goroutine. Context
// may be called from any goroutine.
type Deserializer struct {
	registry     *Registry
	log          zerolog.Logger
	errorHandler func(error)
	bodyHandler  func([]byte) error
	maxLength    int

	ctx atomic.Pointer[Context]

	buf      []byte
	inPacket bool
	length   int // -1 until the length field has been read
	body     []byte
}

type Option func(*Deserializer)

func WithRegistry(reg *Registry) Option {
	return func(d *Deserializer) {
		if reg != nil {
			d.registry = reg
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(d *Deserializer) {
		d.log = log
	}
}

// WithErrorHandler receives a *FrameError for every dropped frame.
func WithErrorHandler(fn func(error)) Option {
	return func(d *Deserializer) {
		if fn != nil {
			d.errorHandler = fn
		}
	}
}

// WithBodyHandler hands every complete destuffed body to fn instead of the
// registry. No packet events are produced; an error from fn drops the frame.
// The body is only valid for the duration of the call.
func WithBodyHandler(fn func(body []byte) error) Option {
	return func(d *Deserializer) {
		d.bodyHandler = fn
	}
}

// WithMaxPacketLength rejects frames declaring a longer body.
func WithMaxPacketLength(n int) Option {
	return func(d *Deserializer) {
		if n > 0 && n <= MaxPacketLength {
			d.maxLength = n
		}
	}
}

func NewDeserializer(opts ...Option) *Deserializer {
	d := &Deserializer{
		log:       zerolog.Nop(),
		maxLength: MaxPacketLength,
		length:    -1,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = NewRegistry()
	}
	d.ctx.Store(EmptyContext())
	return d
}

// Context returns the live channel context.
func (d *Deserializer) Context() *Context {
	return d.ctx.Load()
}

// Reset discards buffered bytes and any partially received packet. The
// context is kept.
func (d *Deserializer) Reset() {
	d.buf = nil
	d.resetPacket()
}

// Process consumes data and returns the packets completed by it and the
// out-of-band bytes seen outside any frame.
func (d *Deserializer) Process(data []byte) ([]Packet, []byte) {
	var (
		packets []Packet
		oob     []byte
	)
	for _, ev := range d.ProcessEvents(data) {
		if ev.IsOutOfBand() {
			oob = append(oob, ev.OutOfBand...)
		} else {
			packets = append(packets, ev.Packet)
		}
	}
	return packets, oob
}

// ProcessEvents consumes data and returns packets and out-of-band runs in
// wire order.
func (d *Deserializer) ProcessEvents(data []byte) []Event {
	var out eventList
	d.buf = append(d.buf, data...)

	for len(d.buf) > 0 {
		var progressed bool
		switch {
		case !d.inPacket:
			progressed = d.seek(&out)
		case d.length < 0:
			progressed = d.readLength()
		default:
			progressed = d.collect(&out)
		}
		if !progressed {
			break
		}
	}
	if len(d.buf) == 0 {
		d.buf = d.buf[:0]
	}
	return out.events
}

// seek looks for SOF. Bytes before it are out-of-band. A trailing StuffByte
// is held back because it may be the first half of a split marker.
func (d *Deserializer) seek(out *eventList) bool {
	idx := bytes.Index(d.buf, SOF[:])
	switch {
	case idx == 0:
		d.buf = d.buf[len(SOF):]
		d.inPacket = true
		d.length = -1
		d.body = d.body[:0]
		return true
	case idx > 0:
		out.outOfBand(d.buf[:idx])
		d.buf = d.buf[idx:]
		return true
	}

	last := len(d.buf) - 1
	if d.buf[last] == SOF[0] {
		out.outOfBand(d.buf[:last])
		d.buf = d.buf[last:]
		return false
	}
	out.outOfBand(d.buf)
	d.buf = d.buf[:0]
	return false
}

func (d *Deserializer) readLength() bool {
	if d.markerAt(0) {
		d.drop(fmt.Errorf("%w: marker in place of length field", ErrShortPacket))
		return true
	}
	if len(d.buf) < LengthBytes {
		return false
	}
	if d.buf[1] == SOF[0] {
		if len(d.buf) < LengthBytes+1 {
			return false
		}
		if d.markerAt(1) {
			d.buf = d.buf[1:]
			d.drop(fmt.Errorf("%w: marker inside length field", ErrShortPacket))
			return true
		}
	}

	length := int(binary.BigEndian.Uint16(d.buf[:LengthBytes]))
	d.buf = d.buf[LengthBytes:]
	if length == 0 || length > d.maxLength {
		d.drop(fmt.Errorf("%w: invalid length %d", ErrFraming, length))
		return true
	}
	d.length = length
	return true
}

// collect destuffs buffered bytes into the packet body until the declared
// length is reached, a marker interrupts the packet, or input runs out.
func (d *Deserializer) collect(out *eventList) bool {
	i := 0
	for len(d.body) < d.length && i < len(d.buf) {
		b := d.buf[i]
		if b != StuffByte {
			d.body = append(d.body, b)
			i++
			continue
		}
		if i+1 >= len(d.buf) {
			break
		}
		switch d.buf[i+1] {
		case StuffFill:
			d.body = append(d.body, b)
			i += 2
		case SOF[1]:
			d.buf = d.buf[i:]
			d.drop(fmt.Errorf("%w: marker after %d of %d bytes", ErrShortPacket, len(d.body), d.length))
			return true
		default:
			bad := d.buf[i+1]
			d.buf = d.buf[i+1:]
			d.drop(fmt.Errorf("%w: 0x%02x follows stuff byte", ErrFraming, bad))
			return true
		}
	}
	d.buf = d.buf[i:]
	if len(d.body) < d.length {
		return false
	}

	if d.bodyHandler != nil {
		if err := d.bodyHandler(d.body); err != nil {
			d.drop(err)
			return true
		}
		d.resetPacket()
		return true
	}

	pkt, err := d.registry.DecodePacket(d.body, d.ctx.Load())
	if err != nil {
		d.drop(err)
		return true
	}
	if hdr, ok := pkt.(*HeaderPacket); ok {
		ctx, err := hdr.Context()
		if err != nil {
			d.drop(err)
			return true
		}
		d.ctx.Store(ctx)
		d.log.Debug().Uint8("seq", hdr.Seq).Int("channels", ctx.Len()).Msg("context replaced")
	}
	out.packet(pkt)
	d.resetPacket()
	return true
}

func (d *Deserializer) markerAt(i int) bool {
	return len(d.buf) >= i+len(SOF) && d.buf[i] == SOF[0] && d.buf[i+1] == SOF[1]
}

func (d *Deserializer) drop(err error) {
	fe := &FrameError{Body: append([]byte(nil), d.body...), Err: err}
	d.log.Warn().Err(err).Int("bytes", len(fe.Body)).Int("declared", d.length).Msg("dropping frame")
	if d.errorHandler != nil {
		d.errorHandler(fe)
	}
	d.resetPacket()
}

func (d *Deserializer) resetPacket() {
	d.inPacket = false
	d.length = -1
	d.body = d.body[:0]
}

type eventList struct {
	events []Event
}

func (l *eventList) outOfBand(b []byte) {
	if len(b) == 0 {
		return
	}
	if n := len(l.events); n > 0 && l.events[n-1].IsOutOfBand() {
		l.events[n-1].OutOfBand = append(l.events[n-1].OutOfBand, b...)
		return
	}
	l.events = append(l.events, Event{OutOfBand: append([]byte(nil), b...)})
}

func (l *eventList) packet(p Packet) {
	l.events = append(l.events, Event{Packet: p})
}
