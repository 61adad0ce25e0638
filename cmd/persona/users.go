package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/persona-ai/persona/pkg/config"
	"github.com/persona-ai/persona/pkg/users"
	"github.com/spf13/cobra"
)

func newUsersCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "users",
		Short: "List tracked users",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			reg, err := users.New(cfg.UsersPath)
			if err != nil {
				return err
			}
			defer reg.Close()

			records, err := reg.All(context.Background())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No users tracked yet.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FINGERPRINT\tREQUESTS\tFIRST SEEN\tLAST SEEN\tADDRESSES")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\n",
					r.Fingerprint, r.RequestCount,
					r.FirstSeen.Format("2006-01-02T15:04:05"),
					r.LastSeen.Format("2006-01-02T15:04:05"),
					len(r.Addresses))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "persona.yaml", "path to config file")
	return cmd
}
