package logger

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"telemetry/pkg/codec"
	"telemetry/pkg/protocol"
)

// JSONLWriter writes one JSON object per event. Each line is encoded in full
// before any of it reaches the output.
type JSONLWriter struct {
	out   io.Writer
	namer *Namer
	log   zerolog.Logger
}

type JSONLOption func(*JSONLWriter)

// WithLogger reports records Consume could not write.
func WithLogger(log zerolog.Logger) JSONLOption {
	return func(j *JSONLWriter) {
		j.log = log
	}
}

func NewJSONLWriter(w io.Writer, opts ...JSONLOption) *JSONLWriter {
	j := &JSONLWriter{
		out:   w,
		namer: NewNamer(),
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *JSONLWriter) Write(ev protocol.Event) error {
	return j.WriteRecord(j.namer.Record(ev))
}

// WriteRecord writes an already flattened record.
func (j *JSONLWriter) WriteRecord(rec Record) error {
	line, err := codec.Lines.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", rec.Kind, err)
	}
	_, err = j.out.Write(append(line, '\n'))
	return err
}

func (j *JSONLWriter) Consume(ctx context.Context, in <-chan protocol.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if err := j.Write(ev); err != nil {
				j.log.Error().Err(err).Msg("write event")
			}
		}
	}
}
