package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"

	"telemetry/pkg/codec"
	"telemetry/pkg/protocol"
)

var json = codec.Numbers

const keyLen = 1 + 8

// Store records Data samples in Pebble, keyed by data id then timestamp.
type Store struct {
	db  *pebble.DB
	log zerolog.Logger

	mu   sync.Mutex
	last map[uint8]int64
}

// Point is one recorded sample.
type Point struct {
	Time  time.Time `json:"ts"`
	Value any       `json:"value"`
}

type Option func(*Store)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

func Open(path string, opts ...Option) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open recorder %s: %w", path, err)
	}
	s := &Store{
		db:   db,
		log:  zerolog.Nop(),
		last: make(map[uint8]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record writes samples taken at ts. Timestamps per channel are made strictly
// increasing so repeated samples within one packet are all kept. A sample that
// cannot be encoded is logged and skipped; the rest of the batch is written.
func (s *Store) Record(ts time.Time, samples []protocol.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	b := s.db.NewBatch()
	defer b.Close()

	s.mu.Lock()
	for _, sample := range samples {
		data, err := json.Marshal(sample.Value)
		if err != nil {
			s.log.Warn().Err(err).Uint8("id", sample.DataID).Msg("skip unencodable sample")
			continue
		}
		nanos := ts.UnixNano()
		if last, ok := s.last[sample.DataID]; ok && nanos <= last {
			nanos = last + 1
		}
		s.last[sample.DataID] = nanos
		if err := b.Set(sampleKey(sample.DataID, nanos), data, nil); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	return b.Commit(pebble.NoSync)
}

// Consume records every Data event until in closes or ctx ends.
func (s *Store) Consume(ctx context.Context, in <-chan protocol.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			data, ok := ev.Packet.(*protocol.DataPacket)
			if !ok {
				continue
			}
			if err := s.Record(ev.Timestamp, data.Samples); err != nil {
				s.log.Error().Err(err).Msg("record samples")
			}
		}
	}
}

// History returns up to limit of the most recent samples of id at or after
// since, oldest first. limit <= 0 means no limit.
func (s *Store) History(id uint8, since time.Time, limit int) ([]Point, error) {
	var from int64
	if !since.IsZero() {
		from = max(since.UnixNano(), 0)
	}
	lower := sampleKey(id, from)
	var upper []byte
	if id < 0xff {
		upper = []byte{id + 1}
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Point
	for valid := iter.Last(); valid; valid = iter.Prev() {
		p, err := decodePoint(iter.Key(), iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func sampleKey(id uint8, nanos int64) []byte {
	key := make([]byte, keyLen)
	key[0] = id
	binary.BigEndian.PutUint64(key[1:], uint64(nanos))
	return key
}

func decodePoint(key, value []byte) (Point, error) {
	if len(key) != keyLen {
		return Point{}, fmt.Errorf("recorder key has %d bytes", len(key))
	}
	var v any
	if err := json.Unmarshal(value, &v); err != nil {
		return Point{}, fmt.Errorf("decode recorded value: %w", err)
	}
	nanos := int64(binary.BigEndian.Uint64(key[1:]))
	return Point{Time: time.Unix(0, nanos).UTC(), Value: v}, nil
}
