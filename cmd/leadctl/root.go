package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"lead-crm/internal/app"
	"lead-crm/internal/config"
	"lead-crm/pkg/logger"

	"github.com/spf13/cobra"
)

type loader func() (config.Config, error)

// env carries the lazily opened dependencies shared by subcommands.
type env struct {
	load loader
	cfg  config.Config
	log  *slog.Logger
}

func newRootCmd(load loader) *cobra.Command {
	e := &env{load: load}
	root := &cobra.Command{
		Use:           "leadctl",
		Short:         "Lead CRM maintenance CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			e.cfg = cfg
			e.log = logger.NewWithWriter(cfg.App.Env, cmd.ErrOrStderr())
			return nil
		},
	}

	root.AddCommand(
		newMigrateCmd(e),
		newTokenCmd(e),
		newSimulateCmd(e),
		newProcessTranscriptCmd(e),
		newLeadsCmd(e),
		newSummaryCmd(e),
	)
	return root
}

// open connects to postgres without the listener or the shared call lock.
func (e *env) open(ctx context.Context) (*app.App, error) {
	return app.Open(ctx, e.cfg, e.log, app.Options{})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "" || path == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}
