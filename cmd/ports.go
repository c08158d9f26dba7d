package cmd

import (
	"fmt"
	"os"

	"github.com/ethpandaops/atrunner/internal/output"
	"github.com/ethpandaops/atrunner/internal/transport"
	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List local serial ports",
	RunE: func(_ *cobra.Command, _ []string) error {
		return listPorts()
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func listPorts() error {
	ports, err := transport.ListPorts()
	if err != nil {
		return fmt.Errorf("failed to list ports: %w", err)
	}

	output.NewFormatter(Logger, os.Stdout, verbose).PrintPorts(ports)

	return nil
}
