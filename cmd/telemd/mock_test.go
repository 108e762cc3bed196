package main

import (
	"context"
	"math"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry/pkg/config"
	"telemetry/pkg/protocol"
)

func TestMockQuaternionIsUnit(t *testing.T) {
	for _, ts := range []float64{0, 0.5, 1.7, 12.25} {
		q := mockQuaternion(ts)
		require.Len(t, q, 4)
		var sum float64
		for _, c := range q {
			sum += float64(c) * float64(c)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
	}
}

func TestMockFramesDecode(t *testing.T) {
	dev := newMockDevice(50, 0, zerolog.Nop())
	header, err := dev.headerFrame(7)
	require.NoError(t, err)
	data, err := dev.dataFrame(8, 1500*time.Millisecond)
	require.NoError(t, err)

	dec := protocol.NewDeserializer()
	packets, oob := dec.Process(append(header, data...))
	require.Empty(t, oob)
	require.Len(t, packets, 2)

	hdr := packets[0].(*protocol.HeaderPacket)
	assert.Equal(t, []string{"roll", "pitch", "yaw", "quat", "ticks", "led"}, hdr.Names())

	pkt := packets[1].(*protocol.DataPacket)
	assert.Equal(t, uint8(8), pkt.Seq)
	ticks, _ := pkt.Value(mockTicksID)
	assert.Equal(t, uint64(1500), ticks)
	led, _ := pkt.Value(mockLEDID)
	assert.Equal(t, uint64(0), led)
	quat, _ := pkt.Value(mockQuatID)
	assert.Len(t, quat, 4)

	roll, _, _ := mockEulerAngles(1.5)
	got, _ := pkt.Value(mockRollID)
	assert.InDelta(t, roll, got, 1e-6)
}

func TestParseValue(t *testing.T) {
	defs := mockDefinitions()
	ctx, err := protocol.NewContext(defs)
	require.NoError(t, err)
	led, _ := ctx.Lookup("led")
	quat, _ := ctx.Lookup("quat")
	roll, _ := ctx.Lookup("roll")

	v, err := parseValue(led, []string{"0x01"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	v, err = parseValue(roll, []string{"-0.25"})
	require.NoError(t, err)
	assert.Equal(t, -0.25, v)

	v, err = parseValue(quat, []string{"1", "0", "0", "0"})
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 0.0, 0.0, 0.0}, v)

	_, err = parseValue(quat, []string{"1", "0"})
	assert.ErrorIs(t, err, protocol.ErrLengthMismatch)
	_, err = parseValue(led, []string{"1", "2"})
	assert.ErrorIs(t, err, protocol.ErrLengthMismatch)
	_, err = parseValue(led, []string{"-3"})
	assert.ErrorIs(t, err, protocol.ErrEncodingRange)
	_, err = parseValue(roll, []string{"fast"})
	assert.ErrorIs(t, err, protocol.ErrEncodingRange)
}

func TestSetAgainstMockDevice(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev := newMockDevice(100, 0, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- dev.serve(ctx, ln) }()

	cfg := config.Default()
	cfg.Link.Addr = ln.Addr().String()
	cfg.Link.Reconnect = "50ms"

	setCtx, setCancel := context.WithTimeout(ctx, 5*time.Second)
	defer setCancel()
	def, err := sendSet(setCtx, cfg, "led", []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, mockLEDID, def.ID())

	require.Eventually(t, func() bool {
		v, ok := dev.ctx.Latest(mockLEDID)
		return ok && v == uint64(1)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("mock device did not stop")
	}
}

func TestSetTimesOutWithoutHeader(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			_, _ = conn.Write([]byte("no telemetry here\n"))
			time.Sleep(time.Second)
		}
	}()

	cfg := config.Default()
	cfg.Link.Addr = ln.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = sendSet(ctx, cfg, "led", []string{"1"})
	assert.ErrorIs(t, err, errNoHeader)
}
