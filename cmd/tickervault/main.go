package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"TickerVault/internal/config"
	"TickerVault/internal/model"
	"TickerVault/internal/scheduler"
	"TickerVault/internal/updatelog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	defaultPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultPath = v
	}

	root := &cobra.Command{
		Use:           "tickervault",
		Short:         "Daily price history and RSI/MACD indicators kept fresh by a cron scheduler",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultPath, "path to the YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the scheduler and the operator HTTP surface",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context(), cfgPath)
			},
		},
		newUpdateCmd(&cfgPath),
		newBackfillCmd(&cfgPath),
		&cobra.Command{
			Use:   "jobs",
			Short: "Print the status of every scheduler job",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), cfgPath, func(ctx context.Context, a *app) error {
					if err := a.sched.Load(ctx); err != nil {
						return err
					}
					return printJSON(cmd, a.sched.Status())
				})
			},
		},
		&cobra.Command{
			Use:   "run <jobId>",
			Short: "Run one scheduler job now and print its status",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), cfgPath, func(ctx context.Context, a *app) error {
					if err := a.sched.Load(ctx); err != nil {
						return err
					}
					st, err := a.sched.RunJobNow(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd, st)
				})
			},
		},
	)
	return root
}

func newUpdateCmd(cfgPath *string) *cobra.Command {
	var (
		region string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Fetch new bars and update indicators once, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *cfgPath, func(ctx context.Context, a *app) error {
				run := a.updates.Start(ctx, updatelog.TypeManualUpdate, map[string]any{"region": region, "force": force})
				var (
					summary model.RunSummary
					err     error
				)
				if region == "" {
					summary, err = a.orc.UpdateAllRegions(ctx, force)
				} else {
					var results []model.SymbolResult
					results, err = a.orc.UpdatePortfolio(ctx, region, force)
					summary = model.Summarize(results)
				}
				run.FinishSummary(ctx, err, summary)
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			})
		},
	}
	cmd.Flags().StringVarP(&region, "region", "r", "", "only update this region (default: benchmarks and every region)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "recompute the most recent indicator row")
	return cmd
}

func newBackfillCmd(cfgPath *string) *cobra.Command {
	var region string
	cmd := &cobra.Command{
		Use:   "backfill <symbol>",
		Short: "Delete a symbol's stored series and fetch its full history again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *cfgPath, func(ctx context.Context, a *app) error {
				run := a.updates.Start(ctx, updatelog.TypeRebackfill, map[string]any{"symbol": args[0], "region": region})
				res, err := a.orc.Rebackfill(ctx, args[0], region)
				if err == nil && !res.Success {
					err = fmt.Errorf("rebackfill %s/%s: %s", args[0], region, res.Error)
				}
				run.Finish(ctx, err, fmt.Sprintf("%d bars written", res.BarsWritten), nil)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().StringVarP(&region, "region", "r", "USD", "region of the symbol")
	return cmd
}

// withApp loads config, builds the services and closes them after fn.
func withApp(parent context.Context, cfgPath string, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(contextOrBackground(parent), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func serve(parent context.Context, cfgPath string) error {
	ctx, stop := signal.NotifyContext(contextOrBackground(parent), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.sched.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Serve(gctx) })
	if a.telegram != nil {
		g.Go(func() error {
			a.telegram.StartPolling(gctx, a.sched.HandleCommand)
			return nil
		})
		a.log.Info().Msg("telegram polling started")
	}
	if cfg.RunOnStart {
		g.Go(func() error {
			a.log.Info().Msg("RUN_ON_START enabled, running historical job")
			if _, err := a.sched.RunJobNow(gctx, scheduler.JobHistoricalPrices); err != nil {
				a.log.Warn().Err(err).Msg("startup run skipped")
			}
			return nil
		})
	}

	a.log.Info().Str("addr", cfg.HTTP.Addr).Msg("tickervault running")
	<-gctx.Done()
	a.log.Info().Msg("shutdown signal received, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := a.sched.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("scheduler shutdown")
	}
	return g.Wait()
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
