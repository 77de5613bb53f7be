// Package collect runs providers for a unit in priority order and keeps the
// first non-empty result.
package collect

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/listing-sync/internal/fetch"
	"github.com/sells-group/listing-sync/internal/model"
	"github.com/sells-group/listing-sync/internal/provider"
)

// UnitCollector paginates one unit on one provider. *fetch.Orchestrator
// satisfies it.
type UnitCollector interface {
	CollectUnit(ctx context.Context, p provider.Provider, unit model.Unit) *fetch.UnitResult
}

// Attempt records one provider's run for a unit.
type Attempt struct {
	Provider string
	Items    int
	Pages    int
	Outcome  fetch.Outcome
	Err      error
	Duration time.Duration
}

// Reason describes why the attempt produced no batch.
func (a Attempt) Reason() string {
	switch {
	case a.Err != nil:
		return fmt.Sprintf("%s: %s: %v", a.Provider, a.Outcome, a.Err)
	case a.Items == 0:
		return fmt.Sprintf("%s: no listings", a.Provider)
	default:
		return fmt.Sprintf("%s: %s", a.Provider, a.Outcome)
	}
}

// Batch is the collected result for one unit.
type Batch struct {
	Unit     model.Unit
	Provider string
	Items    []model.RawItem
	Pages    int
	Attempts []Attempt

	// Complete is true when the winning provider paginated to a natural end
	// without losing pages, or when every provider finished cleanly with
	// zero items. Only complete batches may mark unseen listings as removed.
	Complete bool
}

// Failed reports whether the unit produced nothing because of errors.
func (b *Batch) Failed() bool {
	return len(b.Items) == 0 && !b.Complete
}

// Reasons lists per-provider failure reasons for an empty batch.
func (b *Batch) Reasons() []string {
	if len(b.Items) > 0 {
		return nil
	}
	out := make([]string, 0, len(b.Attempts))
	for _, a := range b.Attempts {
		out = append(out, a.Reason())
	}
	return out
}

// Stats is a snapshot of coordinator counters.
type Stats struct {
	Usage     map[string]int
	Failures  map[string]int
	Fallbacks int
}

// Coordinator tries providers in priority order. It is safe for concurrent
// use across units.
type Coordinator struct {
	providers []provider.Provider
	fetcher   UnitCollector

	mu        sync.Mutex
	usage     map[string]int
	failures  map[string]int
	fallbacks int

	log *zap.Logger
}

// NewCoordinator creates a Coordinator. providers are tried in order.
func NewCoordinator(fetcher UnitCollector, providers ...provider.Provider) *Coordinator {
	return &Coordinator{
		providers: providers,
		fetcher:   fetcher,
		usage:     make(map[string]int),
		failures:  make(map[string]int),
		log:       zap.L().With(zap.String("component", "collect.coordinator")),
	}
}

// Collect returns the first non-empty provider result for unit. An empty
// result never errors; per-provider reasons are kept on the batch.
func (c *Coordinator) Collect(ctx context.Context, unit model.Unit) *Batch {
	batch := &Batch{Unit: unit}
	allClean := len(c.providers) > 0

	for i, p := range c.providers {
		if ctx.Err() != nil {
			allClean = false
			break
		}

		res := c.fetcher.CollectUnit(ctx, p, unit)
		attempt := Attempt{
			Provider: p.Name(),
			Items:    len(res.Items),
			Pages:    res.Pages,
			Outcome:  res.Outcome,
			Err:      res.Err,
			Duration: res.Duration,
		}
		batch.Attempts = append(batch.Attempts, attempt)
		c.recordUsage(p.Name(), !res.Complete())

		if len(res.Items) > 0 {
			batch.Provider = p.Name()
			batch.Items = res.Items
			batch.Pages = res.Pages
			batch.Complete = res.Complete()
			if i > 0 {
				c.recordFallback()
				c.log.Info("provider fallback produced batch",
					zap.String("unit", unit.Name),
					zap.String("provider", p.Name()),
					zap.Int("position", i),
				)
			}
			return batch
		}

		if !res.Complete() {
			allClean = false
		}
		c.log.Debug("provider yielded nothing, trying next",
			zap.String("unit", unit.Name),
			zap.String("provider", p.Name()),
			zap.String("outcome", string(res.Outcome)),
			zap.Error(res.Err),
		)
	}

	batch.Complete = allClean
	if !batch.Complete {
		c.log.Warn("all providers failed for unit",
			zap.String("unit", unit.Name),
			zap.Strings("reasons", batch.Reasons()),
		)
	}
	return batch
}

// Len returns the number of configured providers.
func (c *Coordinator) Len() int { return len(c.providers) }

// Stats returns a copy of the usage, failure and fallback counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Usage:     maps.Clone(c.usage),
		Failures:  maps.Clone(c.failures),
		Fallbacks: c.fallbacks,
	}
}

func (c *Coordinator) recordUsage(name string, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage[name]++
	if failed {
		c.failures[name]++
	}
}

func (c *Coordinator) recordFallback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallbacks++
}
