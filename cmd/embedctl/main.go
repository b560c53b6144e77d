// Command embedctl is an operational CLI for a running embedsrv instance:
// plain one-shot subcommands for scripting, plus an interactive "watch" TUI
// for operators. Grounded on the teacher's cmd/aleutian cobra-based CLI
// structure, generalized to this service's small, flat command set.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var baseURL string

	root := &cobra.Command{
		Use:   "embedctl",
		Short: "Operate a running embedcore server",
		Long:  "embedctl talks HTTP to a running embedsrv instance: check health and status, register or deregister clients, and submit ad-hoc embed requests.",
	}
	root.PersistentFlags().StringVar(&baseURL, "addr", "http://localhost:8766", "base URL of the embedsrv instance")

	root.AddCommand(
		newStatusCmd(&baseURL),
		newHealthCmd(&baseURL),
		newRegisterCmd(&baseURL),
		newDeregisterCmd(&baseURL),
		newEmbedCmd(&baseURL),
		newWatchCmd(&baseURL),
	)
	return root
}
