// Command pampax is the context assembly engine CLI: it indexes a
// repository, answers retrieval queries, packs token-budgeted context
// bundles, and serves the same operations over MCP stdio.
package main

import (
	"os"

	"github.com/pampax/pampax/cmd/pampax/cmd"
	"github.com/pampax/pampax/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(errors.ExitCode(err))
	}
}
