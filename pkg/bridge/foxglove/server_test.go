package foxglove

import (
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry/pkg/protocol"
)

type staticSource struct {
	ctx *protocol.Context
}

func (s staticSource) Context() *protocol.Context { return s.ctx }

var (
	altDef = &protocol.Numeric{
		Base:          protocol.Base{DataID: 0x10, InternalName: "alt", DisplayName: "Altitude", Units: "m"},
		NumericFormat: protocol.NumericFormat{Subtype: protocol.SubtypeUInt, Length: 1},
	}
	adcDef = &protocol.NumericArray{
		Base:          protocol.Base{DataID: 0x20, InternalName: "adc", DisplayName: "ADC"},
		NumericFormat: protocol.NumericFormat{Subtype: protocol.SubtypeUInt, Length: 2},
		Count:         4,
	}
)

func newTestServer(t *testing.T, defs ...protocol.Definition) *Server {
	t.Helper()
	ctx, err := protocol.NewContext(defs)
	require.NoError(t, err)
	return NewServer(DefaultConfig(), nil, staticSource{ctx})
}

func TestAdvertiseOneChannelPerDefinition(t *testing.T) {
	srv := newTestServer(t, altDef, adcDef)
	msg := srv.addClient(&client{subs: map[uint32]uint64{}})
	require.Len(t, msg.Channels, 3)

	topics := map[uint64]string{}
	for _, ch := range msg.Channels {
		topics[ch.ID] = ch.Topic
	}
	assert.Equal(t, "/telemetry/log", topics[logChannelID])
	assert.Equal(t, "/telemetry/alt", topics[sampleChannelID(0x10)])
	assert.Equal(t, "/telemetry/adc", topics[sampleChannelID(0x20)])

	adc := srv.sampleChannel(adcDef)
	assert.Equal(t, "telemetry.uint16[4]", adc.SchemaName)
	assert.Contains(t, adc.Schema, `"maxItems": 4`)
}

func TestSetDefinitionsDropsStaleSubscriptions(t *testing.T) {
	srv := newTestServer(t, altDef)
	c := &client{send: make(chan outbound, 4), subs: map[uint32]uint64{}}
	srv.addClient(c)
	c.addSub(1, sampleChannelID(0x10))
	c.addSub(2, logChannelID)

	srv.setDefinitions([]protocol.Definition{adcDef})

	assert.Empty(t, c.subIDsForChannel(sampleChannelID(0x10)))
	assert.Equal(t, []uint32{2}, c.subIDsForChannel(logChannelID))
	assert.False(t, srv.hasChannel(sampleChannelID(0x10)))
	assert.True(t, srv.hasChannel(sampleChannelID(0x20)))

	require.Len(t, c.send, 2)
	unadv := <-c.send
	assert.True(t, unadv.text)
	assert.Contains(t, string(unadv.data), `"op":"unadvertise"`)
	adv := <-c.send
	assert.Contains(t, string(adv.data), `"/telemetry/adc"`)
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestWebsocketSubscribeAndReceive(t *testing.T) {
	srv := newTestServer(t, altDef)
	hs := httptest.NewServer(http.HandlerFunc(srv.handleWS))
	defer hs.Close()

	dialer := websocket.Dialer{Subprotocols: []string{"foxglove.websocket.v1"}}
	conn, _, err := dialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var info ServerInfoMsg
	readJSON(t, conn, &info)
	assert.Equal(t, OpServerInfo, info.Op)
	assert.NotEmpty(t, info.SessionID)

	var adv AdvertiseMsg
	readJSON(t, conn, &adv)
	assert.Len(t, adv.Channels, 2)

	require.NoError(t, conn.WriteJSON(SubscribeMsg{
		Op:            OpSubscribe,
		Subscriptions: []Subscription{{ID: 7, ChannelID: sampleChannelID(0x10)}, {ID: 8, ChannelID: 999}},
	}))

	ts := time.Unix(1700000000, 5)
	require.Eventually(t, func() bool {
		for _, c := range srv.snapshotClients() {
			if len(c.subIDsForChannel(sampleChannelID(0x10))) == 1 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	srv.broadcastEvent(protocol.Event{Timestamp: ts, Packet: &protocol.DataPacket{
		Seq:     3,
		Samples: []protocol.Sample{{DataID: 0x10, Value: uint64(42)}},
	}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	require.Greater(t, len(data), 13)
	assert.Equal(t, byte(BinaryOpMessageData), data[0])
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(data[1:5]))
	assert.Equal(t, uint64(ts.UnixNano()), binary.LittleEndian.Uint64(data[5:13]))
	assert.JSONEq(t, `{"timestamp":{"sec":1700000000,"nsec":5},"seq":3,"value":42,"units":"m"}`, string(data[13:]))
}
