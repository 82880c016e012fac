// Command shootpoints drives a total station through an archaeological
// survey: sites and stations, instrument setup, shots and GeoJSON export.
//
// Each invocation is its own process. The current session, grouping and
// field conditions are kept in the database and picked up by the next
// command, so a survey can be run as a sequence of shell commands or
// through the HTTP API started by "shootpoints serve".
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := newApp(os.Stdin, os.Stdout)
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
