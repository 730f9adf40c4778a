package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "aditrace",
	Short:   "ARM ADIv5 debug-port trace replay and analysis tool",
	Version: "0.1.0",
	Long: `aditrace replays a captured ARM debug-port trace against a
deterministic ADIv5 virtual machine and prints the DP/AP register
accesses and MEM-AP memory effects it observed.

Examples:
  aditrace replay -i trace.pdml --mode cmsis-dap-ws-pdml --raw-dp --raw-ap
  aditrace replay -i trace.txt --mode sigrok-swd -m --ts -s target.svd`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
