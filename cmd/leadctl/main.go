// Command leadctl runs lead CRM maintenance tasks against the configured
// database: migrations, operator tokens, simulation and transcript
// processing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lead-crm/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.Load).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
