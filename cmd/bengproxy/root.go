// Command bengproxy is the front-controller binary: it wires
// internal/config into the server package's collaborators and runs
// the reverse-proxy and admin listeners until interrupted.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bengproxy",
		Short: "bengproxy",
		Long:  "HTTP reverse proxy, content assembler and template processor",
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func main() {
	root := newRootCmd()
	root.SetContext(context.Background())
	root.SetOut(os.Stdout)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
