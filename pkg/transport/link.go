package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"time"
)

var ErrNotConnected = errors.New("transport: not connected")

// Link is an open byte channel to a device.
type Link = io.ReadWriteCloser

// Dialer opens a new Link. It is called again after every disconnect.
type Dialer func(ctx context.Context) (Link, error)

// TCPDialer connects to a device exposed over TCP, e.g. a serial bridge.
func TCPDialer(addr string, timeout time.Duration) Dialer {
	d := &net.Dialer{Timeout: timeout}
	return func(ctx context.Context) (Link, error) {
		return d.DialContext(ctx, "tcp", addr)
	}
}
