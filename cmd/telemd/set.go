package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"telemetry/pkg/config"
	"telemetry/pkg/engine"
	"telemetry/pkg/logging"
	"telemetry/pkg/protocol"
	"telemetry/pkg/transport"
)

var errNoHeader = errors.New("no header announcing the channel was received")

func (a *app) setCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "set <channel> <value>...",
		Short: "Send a set command once the device has announced the channel",
		Long: `Connects to the device, waits for a header that defines the channel,
then sends one set command. The channel is a hex id (0x10), a decimal id or an
internal name. Array channels take one value per element.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if addr != "" {
				cfg.Link.Kind, cfg.Link.Addr = config.LinkTCP, addr
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			def, err := sendSet(ctx, cfg, args[0], args[1:])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "set %s (0x%02x) = %v\n", def.Meta().InternalName, def.ID(), args[1:])
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "connect to a TCP link at host:port (overrides config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the link and header")
	return cmd
}

func sendSet(ctx context.Context, cfg config.Config, key string, raw []string) (protocol.Definition, error) {
	frames := make(chan transport.Chunk, 64)
	dial, _ := dialerFor(cfg.Link)
	listener := transport.StartListener(ctx, dial, frames,
		transport.WithReconnectInterval(cfg.ReconnectInterval()),
		transport.WithReconnectMax(cfg.ReconnectMaxInterval()),
		transport.WithBufferSize(cfg.Link.ReadBuf),
		transport.WithLogger(logging.New("link")),
	)
	session := engine.NewSession(nil, listener,
		engine.WithDecoderOptions(protocol.WithMaxPacketLength(cfg.Link.MaxPacket)),
		engine.WithSessionLogger(logging.New("session")),
	)

	for {
		if def, ok := session.Context().Resolve(key); ok {
			value, err := parseValue(def, raw)
			if err != nil {
				return nil, err
			}
			return def, session.Set(def.ID(), value)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", errNoHeader, key)
		case chunk := <-frames:
			session.FeedChunk(chunk)
		}
	}
}

// parseValue converts command-line words to the Go value the definition
// encodes: one word for a scalar, one per element for an array.
func parseValue(def protocol.Definition, raw []string) (any, error) {
	var (
		format protocol.NumericFormat
		array  bool
		count  int
	)
	switch d := def.(type) {
	case *protocol.Numeric:
		format = d.NumericFormat
	case *protocol.NumericArray:
		format = d.NumericFormat
		array, count = true, int(d.Count)
	default:
		return nil, fmt.Errorf("%w: %T", protocol.ErrUnsupportedSubtype, def)
	}

	if !array {
		if len(raw) != 1 {
			return nil, fmt.Errorf("%w: %s takes one value, got %d", protocol.ErrLengthMismatch, def.Meta().InternalName, len(raw))
		}
		return parseScalar(format, raw[0])
	}
	if len(raw) != count {
		return nil, fmt.Errorf("%w: %s takes %d values, got %d", protocol.ErrLengthMismatch, def.Meta().InternalName, count, len(raw))
	}
	values := make([]any, 0, count)
	for _, word := range raw {
		v, err := parseScalar(format, word)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func parseScalar(format protocol.NumericFormat, word string) (any, error) {
	switch format.Subtype {
	case protocol.SubtypeFloat:
		v, err := strconv.ParseFloat(word, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", protocol.ErrEncodingRange, word)
		}
		return v, nil
	case protocol.SubtypeUInt:
		v, err := strconv.ParseUint(word, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an unsigned integer", protocol.ErrEncodingRange, word)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnsupportedSubtype, format.Subtype)
	}
}
