package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/domtaint/internal/browser/loader"
	"github.com/xkilldash9x/domtaint/internal/observability"
	"github.com/xkilldash9x/domtaint/internal/reporting"
	"github.com/xkilldash9x/domtaint/internal/session"
)

// newTrackCmd creates the `track` command.
func newTrackCmd() *cobra.Command {
	trackCmd := &cobra.Command{
		Use:   "track [targets...]",
		Short: "Loads each target, runs its scripts with tainting and reports the labels",
		Long: `Loads each target (a local HTML file, a file:// URL or an http(s) URL), runs the
page's scripts in an instrumented JavaScript host and reports every label that was
derived from the tainted element.

Remote targets are fetched with a headless Chrome, or with a plain HTTP client when
--engine=http. Local files are read directly.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger().Named("track")

			var reporter reporting.Reporter
			if out := cfg.Report().Output; reporting.IsStdout(out) {
				reporter, err = reporting.NewForWriter(cfg.Report().Format, cmd.OutOrStdout(), Version, logger)
			} else {
				reporter, err = reporting.New(cfg.Report().Format, out, Version, logger)
			}
			if err != nil {
				return fmt.Errorf("failed to create reporter: %w", err)
			}

			monitor := session.NewMonitor(cfg.Tracker(), logger)
			defer monitor.Shutdown()

			logger.Info("Tracking targets",
				zap.Strings("targets", args),
				zap.String("label", cfg.Tracker().Label),
				zap.Int("concurrency", cfg.Browser().Concurrency),
			)
			start := time.Now()
			results, trackErr := trackTargets(ctx, args, loader.New(cfg, logger), monitor, cfg.Browser().Concurrency, logger)

			for _, res := range results {
				if err := reporter.Write(res); err != nil {
					_ = reporter.Close()
					return fmt.Errorf("failed to write result for %s: %w", res.URL, err)
				}
			}
			if err := reporter.Close(); err != nil {
				return fmt.Errorf("failed to finalize report: %w", err)
			}

			logger.Info("Tracking finished", zap.Int("results", len(results)), zap.Duration("elapsed", time.Since(start)))
			return trackErr
		},
	}

	trackCmd.Flags().String("label", "", "name of the tainted value and its global binding (overrides config)")
	trackCmd.Flags().String("selector", "", "CSS selector of the element to taint (overrides config)")
	trackCmd.Flags().String("locator", "", "JavaScript expression evaluating to the element to taint (overrides config)")
	trackCmd.Flags().Bool("start-immediately", false, "taint from the first script instead of waiting for the element")
	trackCmd.Flags().String("seed-code", "", "JavaScript run once tainting starts, may call __taint__(value, label)")
	trackCmd.Flags().StringSlice("trigger", nil, "selector@event to dispatch after load, repeatable")
	trackCmd.Flags().Duration("settle", 0, "how long to wait for pending timers after load (overrides config)")
	trackCmd.Flags().Duration("script-timeout", 0, "upper bound for a single script or callback (overrides config)")
	trackCmd.Flags().String("engine", "", "how remote targets are fetched: chrome or http (overrides config)")
	trackCmd.Flags().Bool("headless", true, "run the browser used for remote targets headless")
	trackCmd.Flags().IntP("concurrency", "j", 0, "number of targets tracked at once (overrides config)")
	trackCmd.Flags().StringP("format", "f", "", "report format: text, json or sarif (overrides config)")
	trackCmd.Flags().StringP("output", "o", "", "report file, '-' for stdout (overrides config)")

	return trackCmd
}

// trackTargets loads and tracks targets with at most limit running at once. Results
// keep the order of targets. A target that fails to load or run is logged and counted;
// the others still complete.
func trackTargets(ctx context.Context, targets []string, ld loader.Loader, monitor *session.Monitor, limit int, logger *zap.Logger) ([]*session.Result, error) {
	results := make([]*session.Result, len(targets))
	var failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			page, err := ld.Load(gctx, target)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Error("Failed to load target.", zap.String("target", target), zap.Error(err))
				failed.Add(1)
				return nil
			}

			res, err := monitor.Track(gctx, page)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				logger.Error("Failed to track target.", zap.String("target", target), zap.Error(err))
				failed.Add(1)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	waitErr := g.Wait()

	out := make([]*session.Result, 0, len(results))
	for _, res := range results {
		if res != nil {
			out = append(out, res)
		}
	}
	if waitErr != nil {
		return out, waitErr
	}
	if n := failed.Load(); n > 0 {
		return out, fmt.Errorf("%d of %d targets failed", n, len(targets))
	}
	return out, nil
}
