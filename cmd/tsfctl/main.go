package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dan9191/tsf-backend/internal/app"
	"github.com/Dan9191/tsf-backend/internal/config"
	"github.com/Dan9191/tsf-backend/internal/forecast"
	"github.com/Dan9191/tsf-backend/internal/jobs"
	"github.com/Dan9191/tsf-backend/internal/middleware"
	"github.com/Dan9191/tsf-backend/internal/models"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tsfctl",
		Short: "Operations tool for the forecast backend",
		Long: `Runs the Redis queue worker, one-off forecasts and job cleanup.
Configuration is read from the same environment variables as the API server.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return app.New(ctx, cfg, app.NewLogger(cfg.LogLevel))
}

// workerCmd consumes the Redis job queue
func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume forecast jobs from the Redis queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Redis == nil {
				return fmt.Errorf("worker requires TSF_JOB_BACKEND=redis")
			}

			w := jobs.NewWorker(a.Redis, a.Store, a.Runner, a.Config.JobTimeout, a.Log)
			return w.Run(ctx)
		},
	}
}

// runCmd forecasts one selection synchronously and writes the CSV
func runCmd() *cobra.Command {
	var req models.StartRequest
	var out string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one forecast in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := req.Normalize(); err != nil {
				return err
			}
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			daily, err := a.Service.LoadDailySeries(ctx, req.TargetValue, req.Agg, req.Filters())
			if err != nil {
				return err
			}
			progress := func(pct int, label string) {
				a.Log.WithField("progress", pct).Debug(label)
			}
			table, err := forecast.NewForecaster(a.Log).BuildForecastTable(ctx, daily, progress)
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				return forecast.WriteCSV(cmd.OutOrStdout(), table)
			}
			if err := forecast.WriteCSVFile(out, table); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", len(table.Rows), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.TargetValue, "target", "t", "", "Parameter name to forecast")
	cmd.Flags().StringVar(&req.StateName, "state", "", "State Name filter")
	cmd.Flags().StringVar(&req.CountyName, "county", "", "County Name filter")
	cmd.Flags().StringVar(&req.CityName, "city", "", "City Name filter")
	cmd.Flags().StringVar(&req.CBSAName, "cbsa", "", "CBSA Name filter")
	cmd.Flags().StringVar(&req.Agg, "agg", "mean", "Daily aggregation: mean or sum")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "Output CSV path, - for stdout")
	cmd.MarkFlagRequired("target")
	return cmd
}

// cleanupCmd runs one retention sweep over the jobs directory
func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove job files older than TSF_JOB_RETENTION",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			n, err := jobs.NewJanitor(cfg.JobsDir, cfg.JobRetention, app.NewLogger(cfg.LogLevel)).Sweep()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d files from %s\n", n, cfg.JobsDir)
			return nil
		},
	}
}

// tokenCmd signs a bearer token for the protected routes
func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			token, err := middleware.IssueToken(cfg.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "tsfctl", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
