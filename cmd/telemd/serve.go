package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"telemetry/pkg/config"
	"telemetry/pkg/logger"
	"telemetry/pkg/logging"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		addr   string
		port   string
		output string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the host pipeline: link, event log, recorder, HTTP API and foxglove bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if addr != "" {
				cfg.Link.Kind, cfg.Link.Addr = config.LinkTCP, addr
			}
			if port != "" {
				cfg.Link.Kind, cfg.Link.Port = config.LinkSerial, port
			}
			if err := cfg.Validate(); err != nil {
				return usageError{err}
			}

			var out io.Writer = a.stdout
			path := cfg.LogPath()
			if output != "" {
				path = output
			}
			if path != "" {
				file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return fmt.Errorf("open event log: %w", err)
				}
				defer file.Close()
				out = file
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, newPipeline(cfg), out)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "connect to a TCP link at host:port (overrides config)")
	cmd.Flags().StringVar(&port, "port", "", "open a serial link on this device (overrides config)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "JSONL event log path (default: stdout)")
	return cmd
}

func runServe(ctx context.Context, p *pipeline, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if err := p.start(ctx, g); err != nil {
		return err
	}
	defer p.close()

	events := logger.NewJSONLWriter(out, logger.WithLogger(logging.New("events")))
	sub := p.hub.Subscribe()
	g.Go(func() error {
		events.Consume(ctx, sub)
		return nil
	})

	log := logging.New("telemd")
	log.Info().Msg("serving; press Ctrl+C to stop")
	return g.Wait()
}
