package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"telemetry/pkg/config"
	"telemetry/pkg/logging"
	"telemetry/pkg/tui"
)

func (a *app) watchCmd() *cobra.Command {
	var (
		addr     string
		debugLog string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the pipeline with a live terminal view of channels and device output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if addr != "" {
				cfg.Link.Kind, cfg.Link.Addr = config.LinkTCP, addr
			}
			if err := cfg.Validate(); err != nil {
				return usageError{err}
			}

			// The terminal belongs to the view; logs go to a file or nowhere.
			var logOut io.Writer = io.Discard
			if debugLog != "" {
				file, err := os.OpenFile(debugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return fmt.Errorf("open debug log: %w", err)
				}
				defer file.Close()
				logOut = file
			}
			logCfg := logging.DefaultConfig(logging.ProfileRuntime)
			logCfg.Out = logOut
			logCfg.NoColor = true
			if lvl, ok := logging.ParseLevel(a.levelFor(cfg)); ok {
				logCfg.Level = lvl
			}
			logging.Apply(logCfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, newPipeline(cfg), a.stdout, describeLink(cfg.Link))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "connect to a TCP link at host:port (overrides config)")
	cmd.Flags().StringVar(&debugLog, "debug-log", "", "write daemon logs to this file")
	return cmd
}

func (a *app) levelFor(cfg config.Config) string {
	if a.logLevel != "" {
		return a.logLevel
	}
	return cfg.Log.Level
}

func describeLink(link config.LinkConfig) string {
	if link.Kind == config.LinkSerial {
		return fmt.Sprintf("telemd · %s @ %d", link.Port, link.Baud)
	}
	return "telemd · " + link.Addr
}

func runWatch(ctx context.Context, p *pipeline, out io.Writer, title string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if err := p.start(ctx, g); err != nil {
		return err
	}
	defer p.close()

	sub := p.hub.Subscribe()
	model := tui.New(title, sub, p.session.Context().Definitions())
	prog := tea.NewProgram(model, tea.WithContext(ctx), tea.WithOutput(out), tea.WithAltScreen())

	g.Go(func() error {
		defer cancel()
		if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return err
		}
		return nil
	})
	return g.Wait()
}
