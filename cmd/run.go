package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/listing-sync/internal/collect"
	"github.com/sells-group/listing-sync/internal/config"
	"github.com/sells-group/listing-sync/internal/fetch"
	"github.com/sells-group/listing-sync/internal/lifecycle"
	"github.com/sells-group/listing-sync/internal/model"
	"github.com/sells-group/listing-sync/internal/normalize"
	"github.com/sells-group/listing-sync/internal/notify"
	"github.com/sells-group/listing-sync/internal/provider"
	"github.com/sells-group/listing-sync/internal/route"
	"github.com/sells-group/listing-sync/internal/runner"
	"github.com/sells-group/listing-sync/internal/store"
	"github.com/sells-group/listing-sync/internal/upsert"
)

var (
	runUnits  []string
	runRegion string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect listings for the configured units and reconcile them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate(); err != nil {
			return err
		}

		region := runRegion
		if region == "" {
			region = cfg.Run.Region
		}
		units, err := cfg.SelectUnits(runUnits)
		if err != nil {
			return err
		}
		units = filterRegion(units, region)

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pool, closePool, err := buildRoutePool(ctx, cfg)
		if err != nil {
			return err
		}
		defer closePool()

		engine, err := buildEngine(cfg, st, pool, region)
		if err != nil {
			return err
		}

		res, err := engine.Run(ctx, units)
		if err != nil {
			return err
		}
		if run := engine.LastRun(); run != nil {
			zap.L().Info("run recorded", zap.String("run_id", run.ID), zap.String("status", string(run.Status)))
		}

		return writeJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runUnits, "units", nil, "units to collect (default: all configured)")
	runCmd.Flags().StringVar(&runRegion, "region", "", "only collect units in this region")
	rootCmd.AddCommand(runCmd)
}

// buildRoutePool loads the static route list and attaches the configured
// counter backend. A missing route file means direct egress only.
func buildRoutePool(ctx context.Context, c *config.Config) (*route.Pool, func(), error) {
	routes, err := route.LoadRoutes(c.Routes.File)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, err
		}
		zap.L().Warn("route file not found, using direct egress", zap.String("file", c.Routes.File))
		routes = nil
	}

	var state route.StateStore
	closeFn := func() {}
	if c.Routes.StateBackend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, eris.Wrap(err, "connect redis route state")
		}
		state = route.NewRedisState(rdb, c.Routes.KeyPrefix)
		closeFn = func() { _ = rdb.Close() }
	}

	pool := route.NewPool(routes, state, route.Config{
		MaxFailures: c.Routes.MaxFailures,
		RotateEvery: c.Routes.RotateEveryRequests,
		RotateAfter: time.Duration(c.Routes.RotateEverySecs) * time.Second,
	})
	return pool, closeFn, nil
}

// buildEngine wires providers, fetch, collection, normalization,
// reconciliation, upsert and notification into a run engine.
func buildEngine(c *config.Config, st store.Store, pool *route.Pool, region string) (*runner.Engine, error) {
	client := provider.NewClient(provider.ClientOptions{
		UserAgent:      c.Fetch.UserAgent,
		Timeout:        time.Duration(c.Fetch.RequestTimeoutSecs) * time.Second,
		RequestsPerSec: c.Fetch.RequestsPerSec,
	})
	providers, err := provider.NewRegistry(c.Providers, client)
	if err != nil {
		return nil, err
	}

	orch := fetch.New(pool, fetch.FromConfig(c.Fetch))
	coord := collect.NewCoordinator(orch, providers.Providers()...)

	notifier := notify.Multi{notify.NewLogNotifier()}
	if c.Notify.WebhookURL != "" {
		notifier = append(notifier, notify.NewWebhookNotifier(c.Notify.WebhookURL, time.Duration(c.Notify.TimeoutSecs)*time.Second))
	}

	return runner.New(runner.Deps{
		Collector:  coord,
		Normalizer: normalize.DefaultRegistry(normalize.Options{DefaultCountry: c.Run.DefaultCountry}),
		Reconciler: lifecycle.New(st, lifecycle.WithUnseenStatus(model.ListingStatus(c.Run.UnseenStatus))),
		Upserter: upsert.NewExecutor(upsert.Config{
			ChunkSize:   c.Upsert.ChunkSize,
			MaxAttempts: c.Upsert.MaxAttempts,
			RetryStep:   time.Duration(c.Upsert.RetryDelayMs) * time.Millisecond,
		}),
		Store:    st,
		Notifier: notifier,
	}, runner.Config{
		Concurrency: c.Run.Concurrency,
		MaxDuration: time.Duration(c.Run.MaxDurationMins) * time.Minute,
		Region:      region,
	}), nil
}

func filterRegion(units []model.Unit, region string) []model.Unit {
	if region == "" {
		return units
	}
	var out []model.Unit
	for _, u := range units {
		if strings.EqualFold(u.Region, region) {
			out = append(out, u)
		}
	}
	return out
}

// writeJSON is shared by commands that print a single document.
func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
