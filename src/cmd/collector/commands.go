package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"build-collector/src/api"
	"build-collector/src/bamboo"
	"build-collector/src/broker"
	"build-collector/src/lock"
	"build-collector/src/pipeline"
	"build-collector/src/provider"
	"build-collector/src/store"
	"build-collector/src/tui"
)

// runCmd runs the collector as a daemon.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the collector on its cron schedule",
	Long: `Starts the scheduler and, when http.enabled is set, the status API
(/healthz, /metrics, /api/jobs, /api/jobs/{id}/builds, /api/collector).

Stops cleanly on SIGINT or SIGTERM after the running cycle finishes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := pipeline.New(ctx, appConfig, appLogger)
		if err != nil {
			return err
		}
		defer p.Close()

		appLogger.Info("[Collector] Starting %s in %s mode for %d server(s)", appConfig.Collector.Name, p.Mode, len(appConfig.Bamboo.Servers))

		var httpServer *http.Server
		if appConfig.HTTP.Enabled {
			httpServer = &http.Server{
				Addr:              appConfig.HTTP.Addr,
				Handler:           api.New(p.Store, appConfig.Collector.Name, appLogger).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				appLogger.Info("[API] Listening on %s", appConfig.HTTP.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					appLogger.Error("[API] Server failed: %v", err)
					stop()
				}
			}()
		}

		if now, _ := cmd.Flags().GetBool("now"); now {
			if _, err := p.Runner.RunOnce(ctx); err != nil && !errors.Is(err, lock.ErrNotAcquired) {
				appLogger.Error("[Collector] Initial cycle failed: %v", err)
			}
		}

		err = p.Runner.Start(ctx)

		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}
		return err
	},
}

// onceCmd runs a single cycle.
var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single collection cycle and print the report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := pipeline.New(ctx, appConfig, appLogger)
		if err != nil {
			return err
		}
		defer p.Close()

		report, err := p.Runner.RunOnce(ctx)
		if errors.Is(err, lock.ErrNotAcquired) {
			return fmt.Errorf("collector %s is already running elsewhere", appConfig.Collector.Name)
		}
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tui.RenderReport(tui.DefaultStyles(), report))
		return nil
	},
}

// checkCmd verifies connectivity and credentials without writing anything.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that every configured server can be listed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := bamboo.NewClient(appConfig.Bamboo.Username, appConfig.Bamboo.APIKey, appConfig.Bamboo.Timeout)
		gateway := bamboo.NewGateway(client, appLogger, appConfig.Bamboo.MaxResults)

		failed := 0
		for _, server := range appConfig.Bamboo.Servers {
			jobs, err := gateway.ListJobs(cmd.Context(), server)
			if err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s\n%v\n\n", server, provider.WrapError(err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %d plans\n", server, len(jobs))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d servers failed", failed, len(appConfig.Bamboo.Servers))
		}
		return nil
	},
}

// jobsCmd lists stored jobs.
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List the jobs collected so far",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		onlyEnabled, _ := cmd.Flags().GetBool("enabled")
		rows, err := jobRows(ctx, st, appConfig.Collector.Name, onlyEnabled)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tui.RenderJobs(tui.DefaultStyles(), rows))
		return nil
	},
}

// attachCmd marks a job as consumed by a dashboard component.
var attachCmd = &cobra.Command{
	Use:   "attach <job-id> <component-name>",
	Short: "Reference a job from a component so its builds are collected",
	Long: `Adds the job as a Build item of the named component, creating the
component if needed. The job is enabled at the next cleanup, after which
its builds are collected.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		changed, err := attachJob(ctx, st, args[0], args[1])
		if err != nil {
			return err
		}
		if !changed {
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s is already attached to %s\n", args[0], args[1])
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Attached job %s to %s\n", args[0], args[1])
		return nil
	},
}

// detachCmd removes a job reference from a component.
var detachCmd = &cobra.Command{
	Use:   "detach <job-id> <component-name>",
	Short: "Remove a job from a component",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		changed, err := detachJob(ctx, st, args[0], args[1])
		if err != nil {
			return err
		}
		if !changed {
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s is not attached to %s\n", args[0], args[1])
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Detached job %s from %s\n", args[0], args[1])
		return nil
	},
}

// eventsCmd tails the events published by running collectors.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print job and build events as collectors publish them",
	Long: `Subscribes to collector.jobs.discovered and collector.builds.collected
and prints each event until interrupted. Requires REDPANDA_BROKERS, since
the in-memory broker only lives inside one process.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(appConfig.Broker.Brokers) == 0 {
			return fmt.Errorf("events requires REDPANDA_BROKERS or [broker].brokers")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		group, _ := cmd.Flags().GetString("group")
		fromStart, _ := cmd.Flags().GetBool("from-start")
		b, err := broker.NewRedpandaBroker(broker.RedpandaOptions{
			Brokers:   appConfig.Broker.Brokers,
			FromStart: fromStart,
		}, appLogger)
		if err != nil {
			return err
		}
		defer b.Close()

		return tailEvents(ctx, b, group, cmd.OutOrStdout())
	},
}

// migrateCmd applies the schema.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long: `Creates the collector tables if they do not exist. Every other command
applies the schema on startup as well; this command only does that.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if _, ok := st.(*store.SQLStore); !ok {
			fmt.Fprintf(cmd.OutOrStdout(), "Driver %s has no schema\n", appConfig.Database.Driver)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema applied (%s)\n", appConfig.Database.Driver)
		return nil
	},
}

func openStore(ctx context.Context) (store.Store, error) {
	db := appConfig.Database
	st, err := store.Open(ctx, db.Driver, db.DSN, store.Options{
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", db.Driver, err)
	}
	if sqlStore, ok := st.(*store.SQLStore); ok {
		if err := sqlStore.Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}
	return st, nil
}
