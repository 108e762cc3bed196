// Package codec holds the JSON configuration shared by every output path:
// the event log, the HTTP API, the recorder and the foxglove bridge.
//
// Float channels can carry NaN and infinities straight off the wire. JSON has
// no literal for them, so both configurations encode such values as the
// strings "NaN", "+Inf" and "-Inf" instead of failing the whole document.
package codec

import (
	"math"
	"unsafe"

	jsoniter "github.com/json-iterator/go"
)

var (
	// JSON behaves like encoding/json apart from non-finite floats.
	JSON = jsoniter.ConfigCompatibleWithStandardLibrary

	// Numbers decodes numbers into json.Number so integers survive a round
	// trip through any.
	Numbers = jsoniter.Config{UseNumber: true}.Froze()

	// Lines is JSON without HTML escaping, for line-oriented logs.
	Lines = jsoniter.Config{SortMapKeys: true, ValidateJsonRawMessage: true}.Froze()
)

// Non-finite float spellings.
const (
	NaN    = "NaN"
	PosInf = "+Inf"
	NegInf = "-Inf"
)

func init() {
	jsoniter.RegisterTypeEncoderFunc("float64", func(ptr unsafe.Pointer, stream *jsoniter.Stream) {
		f := *(*float64)(ptr)
		if s, ok := nonFinite(f); ok {
			stream.WriteString(s)
			return
		}
		stream.WriteFloat64(f)
	}, func(ptr unsafe.Pointer) bool {
		return *(*float64)(ptr) == 0
	})
	jsoniter.RegisterTypeEncoderFunc("float32", func(ptr unsafe.Pointer, stream *jsoniter.Stream) {
		f := *(*float32)(ptr)
		if s, ok := nonFinite(float64(f)); ok {
			stream.WriteString(s)
			return
		}
		stream.WriteFloat32(f)
	}, func(ptr unsafe.Pointer) bool {
		return *(*float32)(ptr) == 0
	})
}

func nonFinite(f float64) (string, bool) {
	switch {
	case math.IsNaN(f):
		return NaN, true
	case math.IsInf(f, 1):
		return PosInf, true
	case math.IsInf(f, -1):
		return NegInf, true
	}
	return "", false
}
