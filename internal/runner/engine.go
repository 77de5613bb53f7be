// Package runner drives one collection run across a set of units.
package runner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/listing-sync/internal/collect"
	"github.com/sells-group/listing-sync/internal/lifecycle"
	"github.com/sells-group/listing-sync/internal/model"
	"github.com/sells-group/listing-sync/internal/normalize"
	"github.com/sells-group/listing-sync/internal/notify"
	"github.com/sells-group/listing-sync/internal/store"
	"github.com/sells-group/listing-sync/internal/upsert"
)

// Collector gathers the raw batch for a unit. *collect.Coordinator
// satisfies it.
type Collector interface {
	Collect(ctx context.Context, unit model.Unit) *collect.Batch
	Len() int
}

// Normalizer converts a raw batch. *normalize.Registry satisfies it.
type Normalizer interface {
	NormalizeAll(items []model.RawItem, nctx normalize.Context) normalize.Result
}

// Reconciler derives lifecycle transitions. *lifecycle.Reconciler
// satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context, in lifecycle.ReconcileInput) (*lifecycle.Outcome, error)
}

// Upserter writes records in retried chunks. *upsert.Executor satisfies it.
type Upserter interface {
	Upsert(ctx context.Context, records []model.Listing, target upsert.Writer) upsert.Stats
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Collector  Collector
	Normalizer Normalizer
	Reconciler Reconciler
	Upserter   Upserter
	Store      store.Store
	// Notifier receives the result. Nil skips notification.
	Notifier notify.Notifier
}

// Config controls run-level scheduling.
type Config struct {
	// Concurrency bounds the units processed at once. Default: 3.
	Concurrency int
	// MaxDuration caps total wall-clock time. Zero means no cap.
	MaxDuration time.Duration
	// Region tags the run record.
	Region string
}

// Engine runs units through collect, normalize, reconcile and upsert.
type Engine struct {
	deps    Deps
	cfg     Config
	nowFunc func() time.Time
	log     *zap.Logger

	lastRun *model.Run
}

// New creates an Engine.
func New(deps Deps, cfg Config) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	return &Engine{
		deps:    deps,
		cfg:     cfg,
		nowFunc: time.Now,
		log:     zap.L().With(zap.String("component", "runner.engine")),
	}
}

// LastRun returns the run record written by the most recent Run call.
func (e *Engine) LastRun() *model.Run {
	return e.lastRun
}

// Run processes every unit and finalizes the run record. Only configuration
// problems and an unreachable run log are returned as errors; unit failures
// are reported in the result.
func (e *Engine) Run(ctx context.Context, units []model.Unit) (*notify.Result, error) {
	if e.deps.Collector == nil || e.deps.Collector.Len() == 0 {
		return nil, eris.New("runner: no providers configured")
	}
	if len(units) == 0 {
		return nil, eris.New("runner: no units selected")
	}

	run := &model.Run{
		ID:        uuid.NewString(),
		Region:    e.cfg.Region,
		Units:     unitNames(units),
		Status:    model.RunStatusRunning,
		StartedAt: e.nowFunc().UTC(),
	}
	if err := e.deps.Store.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "runner: create run")
	}
	e.lastRun = run
	log := e.log.With(zap.String("run_id", run.ID))
	log.Info("run started", zap.Int("units", len(units)), zap.Int("concurrency", e.cfg.Concurrency))

	runCtx := ctx
	if e.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.MaxDuration)
		defer cancel()
	}

	reports := make([]model.UnitReport, len(units))
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, unit := range units {
		g.Go(func() error {
			reports[i] = e.processUnit(runCtx, run, unit)
			return nil
		})
	}
	_ = g.Wait()

	e.finalize(run, reports)
	// The watchdog may have fired; the run record is still finalized.
	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := e.deps.Store.CompleteRun(finalizeCtx, run); err != nil {
		log.Error("failed to finalize run", zap.Error(err))
	}

	res := buildResult(run)
	log.Info("run finished",
		zap.String("status", string(run.Status)),
		zap.Int("listings", res.TotalListings),
		zap.Int("new", run.Counts.New),
		zap.Int("sold", run.Counts.Sold),
		zap.Int("failed_units", len(res.FailedCities)),
		zap.Duration("duration", run.Duration),
	)

	if e.deps.Notifier != nil {
		if err := e.deps.Notifier.Notify(finalizeCtx, res); err != nil {
			log.Warn("notification failed", zap.Error(err))
		}
	}
	return res, nil
}

func (e *Engine) processUnit(ctx context.Context, run *model.Run, unit model.Unit) model.UnitReport {
	start := e.nowFunc()
	rep := model.UnitReport{Unit: unit.Name}
	defer func() { rep.Duration = e.nowFunc().Sub(start).Seconds() }()
	log := e.log.With(zap.String("run_id", run.ID), zap.String("unit", unit.Name))

	if err := ctx.Err(); err != nil {
		rep.Failed = true
		rep.Reasons = []string{"run deadline reached before unit started"}
		rep.Counts.Errors++
		return rep
	}

	batch := e.deps.Collector.Collect(ctx, unit)
	rep.Provider = batch.Provider
	rep.Pages = batch.Pages
	rep.Complete = batch.Complete
	if batch.Failed() {
		rep.Failed = true
		rep.Reasons = batch.Reasons()
		rep.Counts.Errors++
		log.Warn("unit failed", zap.Strings("reasons", rep.Reasons))
		return rep
	}

	norm := e.deps.Normalizer.NormalizeAll(batch.Items, normalize.Context{
		Unit:     unit,
		RunID:    run.ID,
		Region:   unit.Region,
		Provider: batch.Provider,
	})
	rep.Listings = len(norm.Listings)
	rep.Dropped = norm.Dropped + norm.Invalid

	outcome, err := e.deps.Reconciler.Reconcile(ctx, lifecycle.ReconcileInput{
		Unit:     unit.Name,
		RunID:    run.ID,
		RunStart: run.StartedAt,
		Listings: norm.Listings,
		Complete: batch.Complete,
	})
	if err != nil {
		rep.Failed = true
		rep.Reasons = []string{err.Error()}
		rep.Counts.Errors++
		log.Error("reconcile failed", zap.Error(err))
		return rep
	}
	rep.SoldCheck = outcome.SoldCheck

	stats := e.deps.Upserter.Upsert(ctx, outcome.Records, e.deps.Store)
	counts := outcome.Counts
	if stats.Unwritten > 0 {
		// Only persisted transitions are reported; the rest recur next run.
		counts = lifecycle.Tally(persisted(outcome.Records, stats.UnwrittenIDs))
		rep.Reasons = append(rep.Reasons, stats.Errors...)
		if stats.Written == 0 {
			rep.Failed = true
			log.Error("unit not persisted", zap.Int("unwritten", stats.Unwritten))
		}
	}
	rep.Counts = model.RunCounts{
		New:          counts.New,
		Updated:      counts.Active,
		PriceChanged: counts.PriceChanged,
		Sold:         counts.Sold,
		Relisted:     counts.Relisted,
		Errors:       stats.FailedChunks,
		Unwritten:    stats.Unwritten,
	}

	log.Info("unit done",
		zap.String("provider", rep.Provider),
		zap.Int("listings", rep.Listings),
		zap.Int("new", rep.Counts.New),
		zap.Int("price_changed", rep.Counts.PriceChanged),
		zap.Int("sold", rep.Counts.Sold),
		zap.Int("unwritten", rep.Counts.Unwritten),
		zap.Bool("complete", rep.Complete),
	)
	return rep
}

// finalize sets the aggregate counts and terminal status. A run fails only
// when every unit failed.
func (e *Engine) finalize(run *model.Run, reports []model.UnitReport) {
	allFailed := len(reports) > 0
	for _, r := range reports {
		run.Counts.Add(r.Counts)
		if !r.Failed {
			allFailed = false
		}
	}
	run.Details = reports
	now := e.nowFunc().UTC()
	run.CompletedAt = &now
	run.Duration = now.Sub(run.StartedAt)
	run.Status = model.RunStatusCompleted
	if allFailed {
		run.Status = model.RunStatusFailed
	}
}

func buildResult(run *model.Run) *notify.Result {
	res := &notify.Result{
		Success:      run.Status == model.RunStatusCompleted,
		JustListed:   run.Counts.New,
		SoldListings: run.Counts.Sold,
		CityDetails:  make([]notify.CityDetail, 0, len(run.Details)),
		FailedCities: []string{},
	}
	for _, r := range run.Details {
		res.TotalListings += r.Listings
		d := notify.CityDetail{
			City:         r.Unit,
			Listings:     r.Listings,
			JustListed:   r.Counts.New,
			PriceChanged: r.Counts.PriceChanged,
			Sold:         r.Counts.Sold,
			Provider:     r.Provider,
			Pages:        r.Pages,
		}
		if r.Failed {
			res.FailedCities = append(res.FailedCities, r.Unit)
			if len(r.Reasons) > 0 {
				d.Error = r.Reasons[0]
			}
		}
		res.CityDetails = append(res.CityDetails, d)
	}
	return res
}

func persisted(records []model.Listing, unwritten []string) []model.Listing {
	skip := make(map[string]bool, len(unwritten))
	for _, id := range unwritten {
		skip[id] = true
	}
	out := make([]model.Listing, 0, len(records))
	for _, l := range records {
		if !skip[l.ID] {
			out = append(out, l)
		}
	}
	return out
}

func unitNames(units []model.Unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Name
	}
	return out
}
