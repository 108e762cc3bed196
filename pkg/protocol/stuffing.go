package protocol

import "fmt"

// Stuff inserts StuffFill after every StuffByte so the body can never contain
// the SOF marker.
func Stuff(body []byte) []byte {
	out := make([]byte, 0, len(body)+len(body)/16+1)
	for _, b := range body {
		out = append(out, b)
		if b == StuffByte {
			out = append(out, StuffFill)
		}
	}
	return out
}

// Destuff removes the fill byte following every StuffByte.
func Destuff(wire []byte) ([]byte, error) {
	out := make([]byte, 0, len(wire))
	for i := 0; i < len(wire); i++ {
		b := wire[i]
		out = append(out, b)
		if b != StuffByte {
			continue
		}
		if i+1 >= len(wire) {
			return nil, fmt.Errorf("%w: stuff byte at end of input", ErrFraming)
		}
		if wire[i+1] != StuffFill {
			return nil, fmt.Errorf("%w: 0x%02x follows stuff byte at offset %d", ErrFraming, wire[i+1], i)
		}
		i++
	}
	return out, nil
}
