package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/persona-ai/persona/pkg/admin"
	"github.com/persona-ai/persona/pkg/analyzer"
	"github.com/persona-ai/persona/pkg/audit"
	"github.com/persona-ai/persona/pkg/config"
	"github.com/persona-ai/persona/pkg/coordinator"
	"github.com/persona-ai/persona/pkg/metrics"
	"github.com/persona-ai/persona/pkg/ratelimit"
	"github.com/persona-ai/persona/pkg/server"
	"github.com/persona-ai/persona/pkg/store"
	"github.com/persona-ai/persona/pkg/users"
	"github.com/persona-ai/persona/pkg/validation"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the analysis HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Gemini.URL == "" {
				return fmt.Errorf("gemini.url is required")
			}
			if cfg.Admin.Password == "" {
				return fmt.Errorf("admin.password is required")
			}

			st, err := store.New(cfg.DBPath, store.Options{
				MaxEntries: cfg.Cache.MaxEntries,
				Retention:  time.Duration(cfg.Cache.RetentionDays) * 24 * time.Hour,
				Threshold:  cfg.Cache.SimilarityThreshold,
			})
			if err != nil {
				return fmt.Errorf("init store: %w", err)
			}
			defer func() { _ = st.Close() }()

			u, err := users.New(cfg.UsersPath)
			if err != nil {
				return fmt.Errorf("init user registry: %w", err)
			}
			defer func() { _ = u.Close() }()

			var auditor *audit.Logger
			if cfg.Audit.Enabled {
				auditor, err = audit.New(cfg.Audit)
				if err != nil {
					return fmt.Errorf("init audit logger: %w", err)
				}
				defer func() { _ = auditor.Close() }()
			}

			limiter := ratelimit.New(cfg.RateLimit.MaxPerHour, cfg.RateLimit.Window)
			guard := ratelimit.NewGuard(cfg.RateLimit.BurstRPS, cfg.RateLimit.Burst)
			coord := coordinator.New(st, u, limiter, cfg.Cache.SimilarityThreshold)
			auth := admin.New(cfg.Admin.Username, cfg.Admin.Password,
				time.Duration(cfg.Admin.SessionTimeoutHours)*time.Hour)

			srv := server.New(cfg, server.Deps{
				Coordinator: coord,
				Analyzer:    analyzer.New(cfg.Gemini.URL, cfg.Gemini.Timeout),
				Validator:   validation.New(cfg.Validation.MinLength, cfg.Validation.MaxLength),
				Store:       st,
				Users:       u,
				Auth:        auth,
				Auditor:     auditor,
				Metrics:     metrics.New(),
				Guard:       guard,
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			guard.StartJanitor(ctx, 5*time.Minute)
			go maintenanceLoop(ctx, st, limiter, auth)

			log.Printf("starting persona with config: %s", configPath)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "persona.yaml", "path to config file")
	return cmd
}

// maintenanceLoop expires old cache entries and prunes idle limiter and
// session state once an hour.
func maintenanceLoop(ctx context.Context, st *store.Store, limiter *ratelimit.Limiter, auth *admin.Auth) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := st.Expire(ctx, st.Retention()); err != nil {
				log.Printf("cache expire error: %v", err)
			} else if n > 0 {
				log.Printf("expired %d cache entries", n)
			}
			limiter.Sweep()
			if n := auth.CleanupExpired(); n > 0 {
				log.Printf("removed %d expired admin sessions", n)
			}
		}
	}
}
