package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/persona-ai/persona/pkg/audit"
	"github.com/persona-ai/persona/pkg/config"
	"github.com/persona-ai/persona/pkg/models"
	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	var (
		configPath string
		outcome    string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !cfg.Audit.Enabled {
				return fmt.Errorf("audit logging is disabled in config")
			}

			logger, err := audit.New(cfg.Audit)
			if err != nil {
				return err
			}
			defer logger.Close()

			entries, err := logger.Query(context.Background(), models.AuditQueryOpts{
				Outcome: outcome,
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No audit entries found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tREQUEST\tOUTCOME\tSTATUS\tLATENCY\tCALLER")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%dms\t%s\n",
					e.CreatedAt.Format("2006-01-02T15:04:05"),
					e.RequestID, e.Outcome, e.StatusCode, e.LatencyMs,
					e.FingerprintPrefix)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "persona.yaml", "path to config file")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (hit, miss, rate_limited, rejected, error)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")
	return cmd
}
