package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"telemetry/pkg/protocol"
	"telemetry/pkg/transport"
)

var ErrReceiveOnly = errors.New("engine: session has no link to send on")

// Observer receives counts from the decode loop.
type Observer interface {
	ObservePacket(pkt protocol.Packet)
	ObserveOutOfBand(n int)
	ObserveDrop(err error)
}

// Session runs the decoder over one link's byte stream and publishes the
// results on a Hub. It also sends set commands back over the link.
type Session struct {
	hub      *Hub
	out      io.Writer
	dec      *protocol.Deserializer
	decOpts  []protocol.Option
	observer Observer
	log      zerolog.Logger
	now      func() time.Time

	link    uint64
	writeMu sync.Mutex
}

type SessionOption func(*Session)

func WithDecoderOptions(opts ...protocol.Option) SessionOption {
	return func(s *Session) {
		s.decOpts = append(s.decOpts, opts...)
	}
}

func WithObserver(o Observer) SessionOption {
	return func(s *Session) {
		s.observer = o
	}
}

func WithSessionLogger(log zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.log = log
	}
}

func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSession decodes into hub and writes set commands to out. out may be nil
// for a receive-only session.
func NewSession(hub *Hub, out io.Writer, opts ...SessionOption) *Session {
	s := &Session{
		hub: hub,
		out: out,
		log: zerolog.Nop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	decOpts := []protocol.Option{
		protocol.WithLogger(s.log),
		protocol.WithErrorHandler(s.dropped),
	}
	s.dec = protocol.NewDeserializer(append(decOpts, s.decOpts...)...)
	return s
}

// Run feeds chunks from in to the decoder until in is closed or ctx ends.
func (s *Session) Run(ctx context.Context, in <-chan transport.Chunk) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-in:
			if !ok {
				return nil
			}
			s.FeedChunk(chunk)
		}
	}
}

// FeedChunk is Feed for listener output. The first chunk of a new link
// discards any partial frame left by the previous one.
func (s *Session) FeedChunk(chunk transport.Chunk) []protocol.Event {
	if chunk.Link != s.link {
		if s.link != 0 {
			s.dec.Reset()
			s.log.Debug().Uint64("link", chunk.Link).Msg("decoder reset after reconnect")
		}
		s.link = chunk.Link
	}
	return s.Feed(chunk.Data)
}

// Feed decodes one chunk and publishes the resulting events. It must not be
// called concurrently with Run.
func (s *Session) Feed(chunk []byte) []protocol.Event {
	events := s.dec.ProcessEvents(chunk)
	ts := s.now()
	for i := range events {
		events[i].Timestamp = ts
		if s.observer != nil {
			if events[i].IsOutOfBand() {
				s.observer.ObserveOutOfBand(len(events[i].OutOfBand))
			} else {
				s.observer.ObservePacket(events[i].Packet)
			}
		}
		if s.hub != nil {
			s.hub.Publish(events[i])
		}
	}
	return events
}

// Context returns the live channel context.
func (s *Session) Context() *protocol.Context {
	return s.dec.Context()
}

// Set encodes value for channel id and sends it to the device.
func (s *Session) Set(id uint8, value any) error {
	def, ok := s.Context().Definition(id)
	if !ok {
		return fmt.Errorf("%w: 0x%02x", protocol.ErrUndefinedDataID, id)
	}
	return s.send(def, value)
}

// SetByName is Set addressed by internal name.
func (s *Session) SetByName(name string, value any) error {
	def, ok := s.Context().Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", protocol.ErrUndefinedDataID, name)
	}
	return s.send(def, value)
}

func (s *Session) send(def protocol.Definition, value any) error {
	if s.out == nil {
		return ErrReceiveOnly
	}
	body, err := protocol.EncodeSet(def, value)
	if err != nil {
		return err
	}
	wire, err := protocol.Frame(body)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(wire); err != nil {
		return fmt.Errorf("send set 0x%02x: %w", def.ID(), err)
	}
	s.log.Info().Uint8("id", def.ID()).Str("name", def.Meta().InternalName).Interface("value", value).Msg("set sent")
	return nil
}

func (s *Session) dropped(err error) {
	if s.observer != nil {
		s.observer.ObserveDrop(err)
	}
}
