package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"telemetry/pkg/logger"
	"telemetry/pkg/logging"
	"telemetry/pkg/metrics"
	"telemetry/pkg/protocol"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// decodeStats summarizes one offline decode.
type decodeStats struct {
	bytes    int
	headers  int
	data     int
	oobBytes int
	dropped  int
	byReason map[string]int
	channels int
}

func (a *app) decodeCmd() *cobra.Command {
	var (
		format   string
		hexInput bool
		chunk    int
	)
	cmd := &cobra.Command{
		Use:   "decode <capture>",
		Short: "Decode a captured byte stream offline",
		Long: `Feeds a capture file through the frame decoder and prints every packet and
out-of-band run. Use "-" to read standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != formatJSON && format != formatYAML {
				return usageError{fmt.Errorf("unknown format %q (want json or yaml)", format)}
			}
			data, err := readCapture(args[0], cmd.InOrStdin(), hexInput)
			if err != nil {
				return err
			}
			stats, err := decodeCapture(data, chunk, a.cfg.Link.MaxPacket, format, a.stdout)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stderr, stats.summary())
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatJSON, "output format: json (one object per line) or yaml")
	cmd.Flags().BoolVar(&hexInput, "hex", false, "capture is hex text rather than raw bytes")
	cmd.Flags().IntVar(&chunk, "chunk", 0, "feed the decoder this many bytes at a time (0: all at once)")
	return cmd
}

func readCapture(path string, stdin io.Reader, hexInput bool) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}
	if !hexInput {
		return data, nil
	}
	clean := strings.Join(strings.Fields(string(data)), "")
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("parse hex capture: %w", err)
	}
	return raw, nil
}

func decodeCapture(data []byte, chunk int, maxPacket int, format string, out io.Writer) (decodeStats, error) {
	stats := decodeStats{bytes: len(data), byReason: make(map[string]int)}
	dec := protocol.NewDeserializer(
		protocol.WithLogger(logging.New("decode")),
		protocol.WithMaxPacketLength(maxPacket),
		protocol.WithErrorHandler(func(err error) {
			stats.dropped++
			stats.byReason[metrics.Reason(err)]++
		}),
	)

	var events []protocol.Event
	if chunk <= 0 {
		chunk = len(data)
	}
	for rest := data; len(rest) > 0; {
		n := min(chunk, len(rest))
		events = appendEvents(events, dec.ProcessEvents(rest[:n]))
		rest = rest[n:]
	}

	namer := logger.NewNamer()
	records := make([]logger.Record, 0, len(events))
	for _, ev := range events {
		switch {
		case ev.IsOutOfBand():
			stats.oobBytes += len(ev.OutOfBand)
		case ev.Packet.Opcode() == protocol.OpcodeHeader:
			stats.headers++
		default:
			stats.data++
		}
		records = append(records, namer.Record(ev))
	}
	stats.channels = dec.Context().Len()

	if err := writeRecords(out, format, records); err != nil {
		return stats, err
	}
	return stats, nil
}

// appendEvents merges out-of-band text split across chunk boundaries so the
// output does not depend on how the capture was fed.
func appendEvents(dst, next []protocol.Event) []protocol.Event {
	if len(dst) > 0 && len(next) > 0 && dst[len(dst)-1].IsOutOfBand() && next[0].IsOutOfBand() {
		dst[len(dst)-1].OutOfBand = append(dst[len(dst)-1].OutOfBand, next[0].OutOfBand...)
		next = next[1:]
	}
	return append(dst, next...)
}

func writeRecords(out io.Writer, format string, records []logger.Record) error {
	if format == formatYAML {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("write yaml: %w", err)
		}
		return enc.Close()
	}

	w := logger.NewJSONLWriter(out)
	for _, rec := range records {
		if err := w.WriteRecord(rec); err != nil {
			return fmt.Errorf("write json: %w", err)
		}
	}
	return nil
}

func (s decodeStats) summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s decoded: %s header, %s data, %s out-of-band, %s channels defined",
		humanize.Bytes(uint64(s.bytes)),
		humanize.Comma(int64(s.headers)),
		humanize.Comma(int64(s.data)),
		humanize.Bytes(uint64(s.oobBytes)),
		humanize.Comma(int64(s.channels)),
	)
	if s.dropped > 0 {
		reasons := make([]string, 0, len(s.byReason))
		for reason, n := range s.byReason {
			reasons = append(reasons, fmt.Sprintf("%s: %d", reason, n))
		}
		sort.Strings(reasons)
		fmt.Fprintf(&b, "; %s dropped (%s)", humanize.Comma(int64(s.dropped)), strings.Join(reasons, ", "))
	}
	return b.String()
}
