package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"telemetry/pkg/config"
	"telemetry/pkg/logging"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// app carries the global flags and the loaded configuration shared by every
// subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string

	cfg config.Config
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		var usage usageError
		if errors.As(err, &usage) {
			return 2
		}
		return 1
	}
	return 0
}

type usageError struct{ error }

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "telemd",
		Short:         "Host daemon for self-describing binary telemetry",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()

			cfg, exists, err := config.LoadOrDefault(a.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.cfg = cfg

			level := cfg.Log.Level
			if a.logLevel != "" {
				level = a.logLevel
			}
			if !logging.SetLevel(level) {
				return usageError{fmt.Errorf("invalid log level %q", level)}
			}
			log := logging.New("telemd")
			log.Debug().Str("config", cfg.ConfigPath()).Bool("exists", exists).Msg("configuration loaded")
			return nil
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultConfigPath, "config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error, off (default from config)")

	root.AddCommand(
		a.serveCmd(),
		a.watchCmd(),
		a.setCmd(),
		a.decodeCmd(),
		a.mockCmd(),
		a.portsCmd(),
	)
	return root
}
