// Command docket runs the Docket document store: a sharded record store
// with write-ahead logging, an adaptive ingestion pipeline, pluggable
// object storage, and similarity search over document embeddings.
package main

import (
	"fmt"
	"os"

	"github.com/docket-io/docket/cmd/docket/commands"
)

// Version information set via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version, commands.Commit, commands.Date = version, commit, date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "docket: %v\n", err)
		os.Exit(1)
	}
}
