package metrics

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"telemetry/pkg/protocol"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObservePacket(&protocol.HeaderPacket{Definitions: make([]protocol.Definition, 3)})
	c.ObservePacket(&protocol.DataPacket{})
	c.ObservePacket(&protocol.DataPacket{})
	c.ObserveOutOfBand(12)
	c.ObserveDrop(&protocol.FrameError{Err: fmt.Errorf("%w: x", protocol.ErrShortPacket)})
	c.LinkConnected()
	c.SetCommand(nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.packets.WithLabelValues("data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.packets.WithLabelValues("header")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.channels))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.outOfBand))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.drops.WithLabelValues("short_packet")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sets.WithLabelValues("ok")))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "undefined_id", Reason(fmt.Errorf("data: %w", protocol.ErrUndefinedDataID)))
	assert.Equal(t, "framing", Reason(protocol.ErrFraming))
	assert.Equal(t, "other", Reason(fmt.Errorf("boom")))
}
