// Command streamx runs and serves multiplexed generation streams.
//
// Usage:
//
//	streamx [flags] <command> [args]
//
// Commands:
//
//	run      - Run a batch of streams and print the health snapshot
//	serve    - Serve streams over HTTP and websocket
//	dial     - Connect to endpoints with retry and backoff
//	replay   - Materialize a stream into the replay cache and print it
//	version  - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/streamx/cmd/streamx/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
