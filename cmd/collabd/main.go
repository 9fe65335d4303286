// Command collabd runs the collaborative document-editing server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/collab/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "collabd",
		Short: "Real-time collaborative document editing server",
		Long: `collabd serves shared editing sessions over WebSocket.

Clients join a document by title, receive its current markup, and
exchange edit transactions that every participant applies in the
same order. One participant at a time holds publish rights and may
save the document.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		serveCmd(),
		versionCmd(),
	)
	return root
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}
