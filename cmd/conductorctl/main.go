// Command conductorctl drives stored workflow conductors from the shell.
//
// Every command loads a snapshot from the configured store, applies one
// operation and writes the snapshot back under a store lease, so external
// executors can run the actions and report their outcome one event at a
// time:
//
//	conductorctl init order.yaml --id order-1 --input sku=gopher
//	conductorctl next order-1
//	conductorctl event order-1 charge running
//	conductorctl event order-1 charge succeeded --result '{"receipt": 7}'
//	conductorctl inspect order-1 -o yaml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
