// Command bot runs the NIFTY option strategies against the configured gateway and replays
// them over synthetic price paths.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
