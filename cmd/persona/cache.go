package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/persona-ai/persona/pkg/config"
	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the response cache",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "persona.yaml", "path to config file")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show cache performance statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(configPath)
		},
	}

	expire := &cobra.Command{
		Use:   "expire",
		Short: "Delete entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.Expire(context.Background(), st.Retention())
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d expired entries\n", n)
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <entry-id>",
		Short: "Print a cache entry as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			entry, err := st.GetByID(context.Background(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entry)
		},
	}

	cmd.AddCommand(stats, expire, get)
	return cmd
}
