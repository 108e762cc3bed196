package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry/pkg/protocol"
)

var altDef = &protocol.Numeric{
	Base:          protocol.Base{DataID: 0x10, InternalName: "alt", DisplayName: "Altitude", Units: "m"},
	NumericFormat: protocol.NumericFormat{Subtype: protocol.SubtypeUInt, Length: 2},
}

func step(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestModelTracksChannelsAndLog(t *testing.T) {
	now := time.Unix(100, 0)
	m := New("telemd", nil, nil)
	m.now = func() time.Time { return now }

	assert.Contains(t, m.View(), "waiting for header")

	m = step(t, m, eventMsg{Timestamp: now, Packet: &protocol.HeaderPacket{Definitions: []protocol.Definition{altDef}}})
	m = step(t, m, eventMsg{Timestamp: now, Packet: &protocol.DataPacket{Samples: []protocol.Sample{{DataID: 0x10, Value: uint64(1234)}}}})
	m = step(t, m, eventMsg{Timestamp: now, OutOfBand: []byte("boot ok\r\nsens")})
	m = step(t, m, eventMsg{Timestamp: now, OutOfBand: []byte("or ready\n")})

	view := m.View()
	assert.Contains(t, view, "Altitude")
	assert.Contains(t, view, "1,234")
	assert.Contains(t, view, "boot ok")
	assert.Contains(t, view, "sensor ready")
	assert.Equal(t, []string{"boot ok", "sensor ready"}, m.log)
	assert.Equal(t, 2, m.packets)

	m = step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'c'}})
	assert.Empty(t, m.log)

	m = step(t, m, closedMsg{})
	assert.Contains(t, m.View(), "stream closed")
}

func TestModelNewHeaderResetsRows(t *testing.T) {
	m := New("telemd", nil, []protocol.Definition{altDef})
	m = step(t, m, eventMsg{Packet: &protocol.DataPacket{Samples: []protocol.Sample{{DataID: 0x10, Value: uint64(1)}}}})
	require.NotNil(t, m.rows[0x10].value)

	m = step(t, m, eventMsg{Packet: &protocol.HeaderPacket{}})
	assert.Empty(t, m.order)
	assert.Contains(t, m.View(), "waiting for header")
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "[1 2.5]", formatValue([]any{uint64(1), 2.5}))
}
