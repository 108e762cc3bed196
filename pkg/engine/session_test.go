package engine

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry/pkg/protocol"
	"telemetry/pkg/transport"
)

var altDef = &protocol.Numeric{
	Base:          protocol.Base{DataID: 0x10, InternalName: "alt", DisplayName: "Altitude", Units: "m"},
	NumericFormat: protocol.NumericFormat{Subtype: protocol.SubtypeUInt, Length: 1},
}

func wire(t *testing.T, body []byte, err error) []byte {
	t.Helper()
	require.NoError(t, err)
	out, err := protocol.Frame(body)
	require.NoError(t, err)
	return out
}

func headerWire(t *testing.T) []byte {
	body, err := protocol.EncodeHeader(0, []protocol.Definition{altDef})
	return wire(t, body, err)
}

type countingObserver struct {
	mu      sync.Mutex
	packets int
	oob     int
	drops   []error
}

func (o *countingObserver) ObservePacket(protocol.Packet) {
	o.mu.Lock()
	o.packets++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveOutOfBand(n int) {
	o.mu.Lock()
	o.oob += n
	o.mu.Unlock()
}

func (o *countingObserver) ObserveDrop(err error) {
	o.mu.Lock()
	o.drops = append(o.drops, err)
	o.mu.Unlock()
}

func TestSessionPublishesEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)
	sub := hub.Subscribe()

	obs := &countingObserver{}
	stamp := time.Unix(100, 0)
	s := NewSession(hub, nil, WithObserver(obs), WithClock(func() time.Time { return stamp }))

	in := make(chan transport.Chunk, 4)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, in) }()

	data := []byte{0x01, 0x01, 0x10, 0x2a, 0x00}
	in <- transport.Chunk{Link: 1, Data: append([]byte("hi "), headerWire(t)...)}
	in <- transport.Chunk{Link: 1, Data: wire(t, data, nil)}
	in <- transport.Chunk{Link: 1, Data: wire(t, []byte{0x01, 0x02, 0x77, 0x00}, nil)}
	close(in)
	require.NoError(t, <-done)

	var events []protocol.Event
	timeout := time.After(2 * time.Second)
	for len(events) < 3 {
		select {
		case ev := <-sub:
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("got %d events", len(events))
		}
	}

	assert.Equal(t, "hi ", string(events[0].OutOfBand))
	assert.Equal(t, protocol.OpcodeHeader, events[1].Packet.Opcode())
	assert.Equal(t, protocol.OpcodeData, events[2].Packet.Opcode())
	assert.Equal(t, stamp, events[2].Timestamp)

	v, ok := s.Context().Latest(0x10)
	require.True(t, ok)
	assert.Equal(t, uint64(42), v)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 2, obs.packets)
	assert.Equal(t, 3, obs.oob)
	require.Len(t, obs.drops, 1)
	assert.ErrorIs(t, obs.drops[0], protocol.ErrUndefinedDataID)
}

func TestSessionSet(t *testing.T) {
	var out bytes.Buffer
	s := NewSession(nil, &out)

	err := s.Set(0x10, 1)
	assert.ErrorIs(t, err, protocol.ErrUndefinedDataID)

	s.Feed(headerWire(t))
	require.NoError(t, s.Set(0x10, 42))

	body, err := protocol.EncodeSet(altDef, 42)
	assert.Equal(t, wire(t, body, err), out.Bytes())

	out.Reset()
	require.NoError(t, s.SetByName("alt", 7))
	assert.Equal(t, []byte{0x05, 0x39, 0x00, 0x04, 0x01, 0x10, 0x07, 0x00}, out.Bytes())

	assert.ErrorIs(t, s.Set(0x10, 300), protocol.ErrEncodingRange)
	assert.ErrorIs(t, s.SetByName("nope", 1), protocol.ErrUndefinedDataID)
}

func TestSessionReceiveOnly(t *testing.T) {
	s := NewSession(nil, nil)
	s.Feed(headerWire(t))
	assert.ErrorIs(t, s.Set(0x10, 1), ErrReceiveOnly)
}

func TestSessionReconnectDropsPartialFrame(t *testing.T) {
	obs := &countingObserver{}
	s := NewSession(nil, nil, WithObserver(obs))
	header := headerWire(t)

	s.FeedChunk(transport.Chunk{Link: 1, Data: header[:6]})
	events := s.FeedChunk(transport.Chunk{Link: 2, Data: header})
	require.Len(t, events, 1)
	assert.Equal(t, protocol.OpcodeHeader, events[0].Packet.Opcode())
	assert.Empty(t, obs.drops)
}

func TestSessionQueuedChunksOfOldLinkKeepTheirFrame(t *testing.T) {
	obs := &countingObserver{}
	s := NewSession(nil, nil, WithObserver(obs))
	header := headerWire(t)

	// The connect of link 2 has already happened when the tail of link 1's
	// frame is drained from the queue.
	in := make(chan transport.Chunk, 3)
	in <- transport.Chunk{Link: 1, Data: header[:6]}
	in <- transport.Chunk{Link: 1, Data: header[6:]}
	in <- transport.Chunk{Link: 2, Data: header}
	close(in)
	require.NoError(t, s.Run(context.Background(), in))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 2, obs.packets)
	assert.Zero(t, obs.oob)
	assert.Empty(t, obs.drops)
}

func TestHubFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(WithClientBuffer(4))
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	a := hub.Subscribe()
	b := hub.Subscribe()
	hub.Publish(protocol.Event{OutOfBand: []byte("x")})

	for _, ch := range []chan protocol.Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, "x", string(ev.OutOfBand))
		case <-time.After(time.Second):
			t.Fatalf("subscriber missed event")
		}
	}

	hub.Unsubscribe(a)
	_, open := <-a
	assert.False(t, open)

	cancel()
	<-stopped
	_, open = <-b
	assert.False(t, open)

	late := hub.Subscribe()
	_, open = <-late
	assert.False(t, open)
	hub.Publish(protocol.Event{})
}
