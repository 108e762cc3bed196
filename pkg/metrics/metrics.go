package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"telemetry/pkg/protocol"
)

const namespace = "telemd"

// Collector counts decoder and link activity. It satisfies engine.Observer.
type Collector struct {
	packets    *prometheus.CounterVec
	drops      *prometheus.CounterVec
	outOfBand  prometheus.Counter
	reconnects prometheus.Counter
	linkErrors prometheus.Counter
	sets       *prometheus.CounterVec
	channels   prometheus.Gauge
}

// New registers the collector's metrics on reg. Pass prometheus.NewRegistry()
// in tests.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "packets_total",
			Help:      "Decoded packets by opcode.",
		}, []string{"opcode"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "dropped_total",
			Help:      "Dropped frames by reason.",
		}, []string{"reason"}),
		outOfBand: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "out_of_band_bytes_total",
			Help:      "Bytes seen outside any frame.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "connects_total",
			Help:      "Link connections established.",
		}),
		linkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "errors_total",
			Help:      "Dial and read errors on the link.",
		}),
		sets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "set_commands_total",
			Help:      "Set commands by result.",
		}, []string{"result"}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "channels",
			Help:      "Channels defined by the last header.",
		}),
	}
	reg.MustRegister(c.packets, c.drops, c.outOfBand, c.reconnects, c.linkErrors, c.sets, c.channels)
	return c
}

func (c *Collector) ObservePacket(pkt protocol.Packet) {
	c.packets.WithLabelValues(pkt.Opcode().String()).Inc()
	if hdr, ok := pkt.(*protocol.HeaderPacket); ok {
		c.channels.Set(float64(len(hdr.Definitions)))
	}
}

func (c *Collector) ObserveOutOfBand(n int) {
	c.outOfBand.Add(float64(n))
}

func (c *Collector) ObserveDrop(err error) {
	c.drops.WithLabelValues(Reason(err)).Inc()
}

func (c *Collector) LinkConnected() {
	c.reconnects.Inc()
}

func (c *Collector) LinkError(error) {
	c.linkErrors.Inc()
}

func (c *Collector) SetCommand(err error) {
	if err != nil {
		c.sets.WithLabelValues("error").Inc()
		return
	}
	c.sets.WithLabelValues("ok").Inc()
}

var reasons = []struct {
	err   error
	label string
}{
	{protocol.ErrShortPacket, "short_packet"},
	{protocol.ErrFraming, "framing"},
	{protocol.ErrUnknownOpcode, "unknown_opcode"},
	{protocol.ErrUnknownDataType, "unknown_data_type"},
	{protocol.ErrUnknownRecordID, "unknown_record"},
	{protocol.ErrDuplicateDataID, "duplicate_id"},
	{protocol.ErrUndefinedDataID, "undefined_id"},
	{protocol.ErrMissingRecord, "missing_record"},
	{protocol.ErrPacketSize, "packet_size"},
	{protocol.ErrUnsupportedSubtype, "unsupported_subtype"},
	{protocol.ErrTruncated, "truncated"},
}

// Reason maps a decoder error to a bounded label value.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "other"
}
