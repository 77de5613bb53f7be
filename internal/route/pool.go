// Package route selects egress routes (proxy endpoints) for upstream fetches
// and tracks their success and failure counts.
package route

import (
	"context"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/listing-sync/internal/model"
)

// Config controls exclusion and rotation.
type Config struct {
	// MaxFailures excludes a route once its failure count reaches it. Default: 3.
	MaxFailures int
	// RotateEvery forces a fresh draw after this many selections of the
	// current route for a region. Default: 25.
	RotateEvery int
	// RotateAfter forces a fresh draw once the current route has been held
	// this long. Default: 5m.
	RotateAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.RotateEvery <= 0 {
		c.RotateEvery = 25
	}
	if c.RotateAfter <= 0 {
		c.RotateAfter = 5 * time.Minute
	}
	return c
}

type sticky struct {
	id    string
	uses  int
	since time.Time
}

// Pool is the shared route pool. Selection and counter updates are
// serialized by one mutex; with a RedisState the counters are shared across
// processes too.
type Pool struct {
	cfg    Config
	routes []model.Route
	ids    []string
	state  StateStore

	mu      sync.Mutex
	local   map[string]Counters
	current map[string]*sticky

	rand    func() float64
	nowFunc func() time.Time
	log     *zap.Logger
}

// NewPool creates a pool over a static route list. A nil state uses
// MemoryState.
func NewPool(routes []model.Route, state StateStore, cfg Config) *Pool {
	if state == nil {
		state = NewMemoryState()
	}
	ids := make([]string, len(routes))
	for i, r := range routes {
		ids[i] = r.ID
	}
	return &Pool{
		cfg:     cfg.withDefaults(),
		routes:  routes,
		ids:     ids,
		state:   state,
		local:   make(map[string]Counters, len(routes)),
		current: make(map[string]*sticky),
		rand:    rand.Float64,
		nowFunc: time.Now,
		log:     zap.L().With(zap.String("component", "route.pool")),
	}
}

// Len returns the number of configured routes.
func (p *Pool) Len() int {
	return len(p.routes)
}

// Select returns the route to use for the next request in region. It never
// fails: an empty pool yields the zero route (direct egress). Region-tagged
// routes are preferred; when none of them is usable the rest of the pool is
// tried before anything excluded. Failure counters are reset only when every
// route in the pool is excluded. Routes listed in avoid are skipped unless
// nothing else is left.
func (p *Pool) Select(ctx context.Context, region string, avoid ...string) model.Route {
	if len(p.routes) == 0 {
		return model.Route{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	counters := p.loadCounters(ctx)
	now := p.nowFunc()
	key := strings.ToLower(region)
	tagged := p.candidates(region)

	eligible := p.usable(tagged, counters, avoid)
	if len(eligible) == 0 {
		eligible = p.usable(p.routes, counters, avoid)
	}
	if len(eligible) == 0 {
		eligible = p.usable(tagged, counters, nil)
	}
	if len(eligible) == 0 {
		eligible = p.usable(p.routes, counters, nil)
	}
	if len(eligible) == 0 {
		p.log.Warn("every route excluded, resetting failure counters",
			zap.String("region", region),
			zap.Int("routes", len(p.routes)),
		)
		p.resetFailures(ctx, counters)
		eligible = tagged
		if rest := without(tagged, avoid); len(rest) > 0 {
			eligible = rest
		}
	}

	if cur := p.current[key]; cur != nil && !slices.Contains(avoid, cur.id) {
		if r, ok := findRoute(eligible, cur.id); ok &&
			cur.uses < p.cfg.RotateEvery &&
			now.Sub(cur.since) < p.cfg.RotateAfter {
			cur.uses++
			return p.withCounters(r, counters[r.ID])
		}
	}

	r := p.draw(eligible, counters)
	p.current[key] = &sticky{id: r.ID, uses: 1, since: now}

	c := counters[r.ID]
	c.LastUsed = now
	p.local[r.ID] = c
	if err := p.state.MarkUsed(ctx, r.ID, now); err != nil {
		p.log.Debug("route state mark used failed", zap.String("route", r.ID), zap.Error(err))
	}
	return p.withCounters(r, c)
}

// RecordSuccess credits a successful request to route id.
func (p *Pool) RecordSuccess(ctx context.Context, id string) {
	if id == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.local[id]
	c.Successes++
	p.local[id] = c
	if err := p.state.RecordSuccess(ctx, id); err != nil {
		p.log.Warn("route state record success failed", zap.String("route", id), zap.Error(err))
	}
}

// RecordFailure charges a failed request to route id and drops it as the
// sticky route for every region so the next selection draws afresh.
func (p *Pool) RecordFailure(ctx context.Context, id string) {
	if id == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.local[id]
	c.Failures++
	p.local[id] = c
	if err := p.state.RecordFailure(ctx, id); err != nil {
		p.log.Warn("route state record failure failed", zap.String("route", id), zap.Error(err))
	}
	for region, cur := range p.current {
		if cur.id == id {
			delete(p.current, region)
		}
	}
}

// Snapshot returns every route with its current counters.
func (p *Pool) Snapshot(ctx context.Context) []model.Route {
	p.mu.Lock()
	defer p.mu.Unlock()

	counters := p.loadCounters(ctx)
	out := make([]model.Route, len(p.routes))
	for i, r := range p.routes {
		out[i] = p.withCounters(r, counters[r.ID])
	}
	return out
}

// loadCounters must be called with mu held. State errors fall back to the
// last-known local counters.
func (p *Pool) loadCounters(ctx context.Context) map[string]Counters {
	counters, err := p.state.Load(ctx, p.ids)
	if err != nil {
		p.log.Warn("route state unavailable, using local counters", zap.Error(err))
		out := make(map[string]Counters, len(p.local))
		for id, c := range p.local {
			out[id] = c
		}
		return out
	}
	for id, c := range counters {
		p.local[id] = c
	}
	return counters
}

func (p *Pool) resetFailures(ctx context.Context, counters map[string]Counters) {
	for _, id := range p.ids {
		c := counters[id]
		c.Failures = 0
		counters[id] = c
		l := p.local[id]
		l.Failures = 0
		p.local[id] = l
	}
	if err := p.state.ResetFailures(ctx, p.ids); err != nil {
		p.log.Warn("route state reset failed", zap.Error(err))
	}
}

// usable returns the routes below MaxFailures that are not in avoid.
func (p *Pool) usable(routes []model.Route, counters map[string]Counters, avoid []string) []model.Route {
	var out []model.Route
	for _, r := range routes {
		if counters[r.ID].Failures < p.cfg.MaxFailures && !slices.Contains(avoid, r.ID) {
			out = append(out, r)
		}
	}
	return out
}

func (p *Pool) candidates(region string) []model.Route {
	if region != "" {
		var tagged []model.Route
		for _, r := range p.routes {
			if strings.EqualFold(r.Region, region) {
				tagged = append(tagged, r)
			}
		}
		if len(tagged) > 0 {
			return tagged
		}
	}
	return p.routes
}

// draw performs weighted random sampling over routes.
func (p *Pool) draw(routes []model.Route, counters map[string]Counters) model.Route {
	weights := make([]float64, len(routes))
	var total float64
	for i, r := range routes {
		weights[i] = p.withCounters(r, counters[r.ID]).Weight()
		total += weights[i]
	}
	target := p.rand() * total
	for i, w := range weights {
		if target < w {
			return routes[i]
		}
		target -= w
	}
	return routes[len(routes)-1]
}

func (p *Pool) withCounters(r model.Route, c Counters) model.Route {
	r.Successes = c.Successes
	r.Failures = c.Failures
	r.LastUsed = c.LastUsed
	return r
}

func findRoute(routes []model.Route, id string) (model.Route, bool) {
	for _, r := range routes {
		if r.ID == id {
			return r, true
		}
	}
	return model.Route{}, false
}

func without(routes []model.Route, ids []string) []model.Route {
	var out []model.Route
	for _, r := range routes {
		if !slices.Contains(ids, r.ID) {
			out = append(out, r)
		}
	}
	return out
}
