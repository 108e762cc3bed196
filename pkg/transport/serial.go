package transport

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialDialer opens a local serial device. A positive readTimeout bounds each
// Read so the listener can notice cancellation.
func SerialDialer(port string, baud int, readTimeout time.Duration) Dialer {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return func(ctx context.Context) (Link, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := serial.Open(port, mode)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", port, err)
		}
		if readTimeout > 0 {
			if err := p.SetReadTimeout(readTimeout); err != nil {
				_ = p.Close()
				return nil, fmt.Errorf("set read timeout on %s: %w", port, err)
			}
		}
		return p, nil
	}
}

// SerialPorts lists the serial devices present on this machine.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
