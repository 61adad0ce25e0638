package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/persona-ai/persona/pkg/config"
	"github.com/persona-ai/persona/pkg/store"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache performance statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "persona.yaml", "path to config file")
	return cmd
}

func runStats(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(context.Background())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Total requests\t%d\n", stats.TotalRequests)
	fmt.Fprintf(w, "Cache hits\t%d\n", stats.CacheHits)
	fmt.Fprintf(w, "Cache misses\t%d\n", stats.CacheMisses)
	fmt.Fprintf(w, "Hit rate\t%.1f%%\n", stats.HitRatePct)
	fmt.Fprintf(w, "API calls saved\t%d\n", stats.APICallsSaved)
	fmt.Fprintf(w, "Avg response time\t%.1fms\n", stats.AverageResponseMs)
	fmt.Fprintf(w, "Entries\t%d\n", stats.Entries)
	fmt.Fprintf(w, "Size\t%.2fMB\n", stats.SizeMB)
	fmt.Fprintf(w, "Similarity threshold\t%.2f\n", stats.SimilarityThreshold)
	return w.Flush()
}

func openStore(cfg *config.Config) (*store.Store, error) {
	return store.New(cfg.DBPath, store.Options{
		MaxEntries: cfg.Cache.MaxEntries,
		Retention:  time.Duration(cfg.Cache.RetentionDays) * 24 * time.Hour,
		Threshold:  cfg.Cache.SimilarityThreshold,
	})
}
