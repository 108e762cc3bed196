package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"telemetry/pkg/transport"
)

func (a *app) portsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports a device link can open",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := transport.SerialPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Fprintln(a.stdout, "no serial ports found")
				return nil
			}
			for _, p := range ports {
				fmt.Fprintln(a.stdout, p)
			}
			return nil
		},
	}
}
