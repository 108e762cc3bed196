package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry/pkg/protocol"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "rec"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndHistory(t *testing.T) {
	s := openTemp(t)
	base := time.Unix(1000, 0)

	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.Record(ts, []protocol.Sample{
			{DataID: 0x10, Value: uint64(i)},
			{DataID: 0x11, Value: float64(i) / 2},
		}))
	}

	all, err := s.History(0x10, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "0", fmt.Sprint(all[0].Value))
	assert.Equal(t, base.UTC(), all[0].Time)

	recent, err := s.History(0x10, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", fmt.Sprint(recent[0].Value))
	assert.Equal(t, "4", fmt.Sprint(recent[1].Value))

	since, err := s.History(0x11, base.Add(3*time.Second), 0)
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "1.5", fmt.Sprint(since[0].Value))

	none, err := s.History(0xff, time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecordKeepsRepeatedSamples(t *testing.T) {
	s := openTemp(t)
	ts := time.Unix(50, 0)
	require.NoError(t, s.Record(ts, []protocol.Sample{
		{DataID: 0x20, Value: []any{uint64(1), uint64(2)}},
		{DataID: 0x20, Value: []any{uint64(3), uint64(4)}},
	}))

	points, err := s.History(0x20, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.True(t, points[1].Time.After(points[0].Time))
	assert.Equal(t, "[3 4]", fmt.Sprint(points[1].Value))
}

func TestRecordNonFiniteFloats(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Record(time.Unix(60, 0), []protocol.Sample{
		{DataID: 0x11, Value: math.NaN()},
		{DataID: 0x12, Value: 2.5},
		{DataID: 0x13, Value: []any{math.Inf(-1), 1.0}},
	}))

	nan, err := s.History(0x11, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, nan, 1)
	assert.Equal(t, "NaN", nan[0].Value)

	finite, err := s.History(0x12, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, finite, 1)
	assert.Equal(t, "2.5", fmt.Sprint(finite[0].Value))

	arr, err := s.History(0x13, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, arr, 1)
	assert.Equal(t, "[-Inf 1]", fmt.Sprint(arr[0].Value))
}

func TestConsumeRecordsDataOnly(t *testing.T) {
	s := openTemp(t)
	in := make(chan protocol.Event, 3)
	in <- protocol.Event{OutOfBand: []byte("x")}
	in <- protocol.Event{Packet: &protocol.HeaderPacket{}}
	in <- protocol.Event{Timestamp: time.Unix(7, 0), Packet: &protocol.DataPacket{
		Samples: []protocol.Sample{{DataID: 0x01, Value: uint64(9)}},
	}}
	close(in)

	s.Consume(context.Background(), in)

	points, err := s.History(0x01, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, time.Unix(7, 0).UTC(), points[0].Time)
}
