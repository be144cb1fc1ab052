package main

import (
	"fmt"
	"time"

	"lead-crm/internal/auth"
	"lead-crm/internal/leads"
	"lead-crm/internal/leads/migrations"
	"lead-crm/internal/rbac"
	"lead-crm/internal/reporting"
	"lead-crm/pkg/utils"

	"github.com/spf13/cobra"
)

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply, roll back or inspect schema migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "up"
			if len(args) == 1 {
				dir = args[0]
			}
			ctx := cmd.Context()
			db, err := utils.OpenPostgres(ctx, "pgx", e.cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 2})
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer db.Close()

			switch dir {
			case "down":
				err = migrations.Down(ctx, db)
			case "status":
				err = migrations.Status(ctx, db)
			default:
				err = migrations.Up(ctx, db)
			}
			if err != nil {
				return fmt.Errorf("migrate %s: %w", dir, err)
			}
			e.log.Info("migrations done", "direction", dir)
			return nil
		},
	}
}

func newTokenCmd(e *env) *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator access/refresh token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("token: --user is required")
			}
			if !rbac.Valid(role) {
				return fmt.Errorf("token: unknown role %q", role)
			}
			m, err := auth.NewManager(e.cfg.Auth)
			if err != nil {
				return fmt.Errorf("token: %w", err)
			}
			pair, err := m.IssuePair(time.Now(), userID, role)
			if err != nil {
				return fmt.Errorf("token: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), pair)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "operator user id")
	cmd.Flags().StringVar(&role, "role", rbac.RoleOperator, "role: admin, operator or viewer")
	return cmd
}

func newSimulateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate <lead-id>",
		Short: "Qualify a lead with a simulated call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Simulator.Run(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("simulate: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newProcessTranscriptCmd(e *env) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "process-transcript <lead-id>",
		Short: "Extract qualification fields from a call transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			transcript, err := readInput(cmd, file)
			if err != nil {
				return fmt.Errorf("process-transcript: %w", err)
			}
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			l, err := a.Processor.Process(cmd.Context(), args[0], transcript)
			if err != nil {
				return fmt.Errorf("process-transcript: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), l)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "transcript file, - for stdin")
	return cmd
}

func newLeadsCmd(e *env) *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "leads",
		Short: "List leads, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := leads.ListFilter{Status: leads.Status(status), Limit: limit}
			if status != "" && !f.Status.Valid() {
				return fmt.Errorf("leads: unknown status %q", status)
			}
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.Leads.List(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("leads: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newSummaryCmd(e *env) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print dashboard totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var req reporting.LeadsSummaryRequest
			if since > 0 {
				now := time.Now().UTC()
				req.Range = reporting.TimeRange{From: now.Add(-since), To: now}
			}
			out, err := a.Reports.LeadsSummary(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("summary: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only leads created within this window")
	return cmd
}
