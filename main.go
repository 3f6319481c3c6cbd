// Command moira-checker runs the alerting engine's checker core: a
// dispatcher that turns incoming metrics into pending trigger checks, a
// worker pool that evaluates them, and an optional AMQP ingest bridge.
package main

import (
	"fmt"
	"os"

	"github.com/moira-alert/moira/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
