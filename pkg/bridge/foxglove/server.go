package foxglove

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"telemetry/pkg/codec"
	"telemetry/pkg/engine"
	"telemetry/pkg/logger"
	"telemetry/pkg/protocol"
)

var json = codec.JSON

const (
	logChannelID      uint64 = 1
	sampleChannelBase uint64 = 0x100
	logLevelInfo             = 2
)

// ContextSource provides the channel definitions known when the bridge starts.
type ContextSource interface {
	Context() *protocol.Context
}

// Server bridges decoded telemetry to Foxglove Studio. Every channel
// definition becomes its own topic; out-of-band text goes to a log topic.
type Server struct {
	cfg       Config
	hub       *engine.Hub
	source    ContextSource
	log       zerolog.Logger
	sessionID string

	mu       sync.RWMutex
	clients  map[*client]struct{}
	channels map[uint64]Channel
	units    map[uint8]string
}

type outbound struct {
	text bool
	data []byte
}

type client struct {
	conn *websocket.Conn
	send chan outbound
	subs map[uint32]uint64
	mu   sync.RWMutex
	once sync.Once
}

type Option func(*Server)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

func NewServer(cfg Config, hub *engine.Hub, source ContextSource, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg.withDefaults(),
		hub:       hub,
		source:    source,
		log:       zerolog.Nop(),
		sessionID: ksuid.New().String(),
		clients:   make(map[*client]struct{}),
		units:     make(map[uint8]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.channels = map[uint64]Channel{logChannelID: s.logChannel()}
	if source != nil {
		s.setDefinitions(source.Context().Definitions())
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)

	httpServer := &http.Server{
		Addr:              s.cfg.WSAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sub := s.hub.Subscribe()
	go s.broadcastLoop(ctx, sub)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	s.log.Info().Str("addr", s.cfg.WSAddr).Str("session", s.sessionID).Msg("foxglove bridge listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
		for _, c := range s.snapshotClients() {
			c.close()
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{"foxglove.websocket.v1"},
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newClient(conn, s.cfg.SendBuf)
	advertise := s.addClient(c)

	if err := conn.WriteJSON(s.serverInfo()); err != nil {
		s.dropClient(c)
		return
	}
	if err := conn.WriteJSON(advertise); err != nil {
		s.dropClient(c)
		return
	}

	go c.writeLoop()
	c.readLoop(s.hasChannel)
	s.dropClient(c)
}

func (s *Server) serverInfo() ServerInfoMsg {
	return ServerInfoMsg{
		Op:                 OpServerInfo,
		Name:               s.cfg.Name,
		Capabilities:       []string{},
		SupportedEncodings: []string{},
		Metadata:           map[string]string{"protocolVersion": fmt.Sprint(protocol.ProtocolVersion)},
		SessionID:          s.sessionID,
	}
}

func (s *Server) logChannel() Channel {
	return Channel{
		ID:             logChannelID,
		Topic:          s.cfg.TopicPrefix + "log",
		Encoding:       s.cfg.Encoding,
		SchemaName:     "foxglove.Log",
		SchemaEncoding: "jsonschema",
		Schema:         LogSchema,
	}
}

func sampleChannelID(id uint8) uint64 {
	return sampleChannelBase + uint64(id)
}

func (s *Server) sampleChannel(def protocol.Definition) Channel {
	meta := def.Meta()
	valueSchema := `{ "type": "number" }`
	if arr, ok := def.(*protocol.NumericArray); ok {
		valueSchema = fmt.Sprintf(`{ "type": "array", "items": { "type": "number" }, "minItems": %d, "maxItems": %d }`, arr.Count, arr.Count)
	}
	schema := fmt.Sprintf(`{
  "type": "object",
  "title": %q,
  "properties": {
    "timestamp": { "type": "object", "properties": { "sec": { "type": "integer" }, "nsec": { "type": "integer" } } },
    "seq": { "type": "integer" },
    "value": %s,
    "units": { "type": "string" }
  }
}`, meta.DisplayName, valueSchema)

	return Channel{
		ID:             sampleChannelID(def.ID()),
		Topic:          s.cfg.TopicPrefix + meta.InternalName,
		Encoding:       s.cfg.Encoding,
		SchemaName:     "telemetry." + logger.TypeName(def),
		SchemaEncoding: "jsonschema",
		Schema:         schema,
	}
}

// setDefinitions replaces the advertised sample channels and tells connected
// clients what changed.
func (s *Server) setDefinitions(defs []protocol.Definition) {
	next := map[uint64]Channel{logChannelID: s.logChannel()}
	units := make(map[uint8]string, len(defs))
	for _, def := range defs {
		ch := s.sampleChannel(def)
		next[ch.ID] = ch
		units[def.ID()] = def.Meta().Units
	}

	s.mu.Lock()
	var removed []uint64
	var added []Channel
	for id, old := range s.channels {
		if cur, ok := next[id]; !ok || cur != old {
			removed = append(removed, id)
		}
	}
	for id, cur := range next {
		if old, ok := s.channels[id]; !ok || old != cur {
			added = append(added, cur)
		}
	}
	s.channels = next
	s.units = units
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		msg, _ := json.Marshal(UnadvertiseMsg{Op: OpUnadvertise, ChannelIDs: removed})
		for _, c := range clients {
			c.dropChannels(removed)
			c.trySend(outbound{text: true, data: msg})
		}
	}
	if len(added) > 0 {
		msg, _ := json.Marshal(AdvertiseMsg{Op: OpAdvertise, Channels: added})
		for _, c := range clients {
			c.trySend(outbound{text: true, data: msg})
		}
	}
	s.log.Debug().Int("channels", len(next)).Int("removed", len(removed)).Int("added", len(added)).Msg("channels updated")
}

func (s *Server) hasChannel(id uint64) bool {
	s.mu.RLock()
	_, ok := s.channels[id]
	s.mu.RUnlock()
	return ok
}

func (s *Server) broadcastLoop(ctx context.Context, sub <-chan protocol.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			s.broadcastEvent(ev)
		}
	}
}

func (s *Server) broadcastEvent(ev protocol.Event) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	stamp := FrameTime{Sec: uint32(ts.Unix()), Nsec: uint32(ts.Nanosecond())}

	if ev.IsOutOfBand() {
		s.publishJSONToChannel(logChannelID, ts, LogMessage{
			Timestamp: stamp,
			Level:     logLevelInfo,
			Message:   string(ev.OutOfBand),
			Name:      s.cfg.LogName,
		})
		return
	}

	switch pkt := ev.Packet.(type) {
	case *protocol.HeaderPacket:
		s.setDefinitions(pkt.Definitions)
	case *protocol.DataPacket:
		s.mu.RLock()
		units := s.units
		s.mu.RUnlock()
		for _, sample := range pkt.Samples {
			s.publishJSONToChannel(sampleChannelID(sample.DataID), ts, SampleMessage{
				Timestamp: stamp,
				Seq:       pkt.Seq,
				Value:     sample.Value,
				Units:     units[sample.DataID],
			})
		}
	}
}

func (s *Server) publishJSONToChannel(channelID uint64, ts time.Time, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		s.log.Debug().Err(err).Uint64("channel", channelID).Msg("encode message")
		return
	}

	logTime := uint64(ts.UnixNano())
	for _, c := range s.snapshotClients() {
		for _, subID := range c.subIDsForChannel(channelID) {
			c.trySend(outbound{data: EncodeMessageData(subID, logTime, payload)})
		}
	}
}

// addClient registers c and returns the advertisement it should start from.
func (s *Server) addClient(c *client) AdvertiseMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
	msg := AdvertiseMsg{Op: OpAdvertise, Channels: make([]Channel, 0, len(s.channels))}
	for _, ch := range s.channels {
		msg.Channels = append(msg.Channels, ch)
	}
	return msg
}

func (s *Server) dropClient(c *client) {
	c.close()
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) snapshotClients() []*client {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	return clients
}

func newClient(conn *websocket.Conn, sendBuf int) *client {
	if sendBuf <= 0 {
		sendBuf = DefaultConfig().SendBuf
	}
	return &client{
		conn: conn,
		send: make(chan outbound, sendBuf),
		subs: make(map[uint32]uint64),
	}
}

func (c *client) readLoop(supported func(uint64) bool) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var header struct {
			Op string `json:"op"`
		}
		if err := json.Unmarshal(data, &header); err != nil {
			continue
		}

		switch header.Op {
		case OpSubscribe:
			var msg SubscribeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			for _, sub := range msg.Subscriptions {
				if supported(sub.ChannelID) {
					c.addSub(sub.ID, sub.ChannelID)
				}
			}
		case OpUnsubscribe:
			var msg UnsubscribeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			for _, id := range msg.SubscriptionIDs {
				c.removeSub(id)
			}
		}
	}
}

func (c *client) writeLoop() {
	for msg := range c.send {
		kind := websocket.BinaryMessage
		if msg.text {
			kind = websocket.TextMessage
		}
		if err := c.conn.WriteMessage(kind, msg.data); err != nil {
			c.close()
			return
		}
	}
}

func (c *client) trySend(msg outbound) {
	defer func() {
		_ = recover()
	}()
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) addSub(id uint32, channelID uint64) {
	c.mu.Lock()
	c.subs[id] = channelID
	c.mu.Unlock()
}

func (c *client) removeSub(id uint32) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

func (c *client) dropChannels(ids []uint64) {
	c.mu.Lock()
	for subID, ch := range c.subs {
		for _, id := range ids {
			if ch == id {
				delete(c.subs, subID)
			}
		}
	}
	c.mu.Unlock()
}

func (c *client) subIDsForChannel(channelID uint64) []uint32 {
	c.mu.RLock()
	ids := make([]uint32, 0, len(c.subs))
	for id, ch := range c.subs {
		if ch == channelID {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()
	return ids
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}
