package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func altDefinition() *Numeric {
	return &Numeric{
		Base:          Base{DataID: 0x10, InternalName: "alt", DisplayName: "Altitude", Units: "m"},
		NumericFormat: NumericFormat{Subtype: SubtypeUInt, Length: 1},
	}
}

func testDefinitions() []Definition {
	return []Definition{
		altDefinition(),
		&Numeric{
			Base:          Base{DataID: 0x11, InternalName: "temp", DisplayName: "Temperature", Units: "C"},
			NumericFormat: NumericFormat{Subtype: SubtypeFloat, Length: 4},
		},
		&Numeric{
			Base:          Base{DataID: 0x12, InternalName: "ticks", DisplayName: "Ticks", Units: ""},
			NumericFormat: NumericFormat{Subtype: SubtypeUInt, Length: 4},
		},
		&NumericArray{
			Base:          Base{DataID: 0x20, InternalName: "adc", DisplayName: "ADC", Units: "counts"},
			NumericFormat: NumericFormat{Subtype: SubtypeUInt, Length: 2},
			Count:         3,
		},
	}
}

func testContext(t *testing.T) *Context {
	t.Helper()
	ctx, err := NewContext(testDefinitions())
	require.NoError(t, err)
	return ctx
}

func frameHeader(t *testing.T, seq uint8, defs []Definition) []byte {
	t.Helper()
	body, err := EncodeHeader(seq, defs)
	require.NoError(t, err)
	wire, err := Frame(body)
	require.NoError(t, err)
	return wire
}

func frameData(t *testing.T, seq uint8, ctx *Context, samples ...Sample) []byte {
	t.Helper()
	body, err := EncodeData(seq, ctx, samples)
	require.NoError(t, err)
	wire, err := Frame(body)
	require.NoError(t, err)
	return wire
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
