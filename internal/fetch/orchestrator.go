// Package fetch retrieves listing pages for one collection unit through the
// route pool, retrying each page and paginating until a natural end.
package fetch

import (
	"context"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-sync/internal/config"
	"github.com/sells-group/listing-sync/internal/model"
	"github.com/sells-group/listing-sync/internal/provider"
	"github.com/sells-group/listing-sync/internal/resilience"
)

// RouteSelector picks egress routes and receives request outcomes.
// *route.Pool satisfies it.
type RouteSelector interface {
	Select(ctx context.Context, region string, avoid ...string) model.Route
	RecordSuccess(ctx context.Context, id string)
	RecordFailure(ctx context.Context, id string)
}

// Config controls page retries, pagination and pacing.
type Config struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	RateLimitWait    time.Duration
	MalformedMax     int
	MaxPages         int
	CircuitThreshold int
	PerPage          int

	PolitenessMin        time.Duration
	PolitenessMax        time.Duration
	LongPauseProbability float64
	LongPauseMin         time.Duration
	LongPauseMax         time.Duration
}

// FromConfig converts the fetch config section.
func FromConfig(c config.FetchConfig) Config {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return Config{
		MaxAttempts:          c.MaxAttempts,
		InitialBackoff:       ms(c.InitialBackoffMs),
		MaxBackoff:           ms(c.MaxBackoffMs),
		RateLimitWait:        ms(c.RateLimitWaitMs),
		MalformedMax:         c.MalformedMax,
		MaxPages:             c.MaxPages,
		CircuitThreshold:     c.CircuitThreshold,
		PolitenessMin:        ms(c.PolitenessMinMs),
		PolitenessMax:        ms(c.PolitenessMaxMs),
		LongPauseProbability: c.LongPauseProbability,
		LongPauseMin:         ms(c.LongPauseMinMs),
		LongPauseMax:         ms(c.LongPauseMaxMs),
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.RateLimitWait <= 0 {
		c.RateLimitWait = time.Minute
	}
	if c.MalformedMax < 0 {
		c.MalformedMax = 0
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 50
	}
	if c.CircuitThreshold <= 0 {
		c.CircuitThreshold = 3
	}
	if c.PolitenessMax < c.PolitenessMin {
		c.PolitenessMax = c.PolitenessMin
	}
	if c.LongPauseMax < c.LongPauseMin {
		c.LongPauseMax = c.LongPauseMin
	}
	return c
}

// Orchestrator fetches pages with bounded retries and paginates units.
type Orchestrator struct {
	cfg     Config
	routes  RouteSelector
	backoff []time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
	log   *zap.Logger
}

// New creates an Orchestrator drawing routes from routes.
func New(routes RouteSelector, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:     cfg,
		routes:  routes,
		backoff: resilience.ExponentialTable(cfg.InitialBackoff, cfg.MaxBackoff, cfg.MaxAttempts-1),
		sleep:   resilience.SleepContext,
		rand:    rand.Float64,
		log:     zap.L().With(zap.String("component", "fetch.orchestrator")),
	}
}

// FetchPage retrieves one page of unit from p. Each attempt selects a route.
// Network errors back off, rate limits wait longer, auth failures switch
// route immediately and malformed bodies are retried MalformedMax times.
// The returned error keeps the last attempt's resilience kind.
func (o *Orchestrator) FetchPage(ctx context.Context, p provider.Provider, unit model.Unit, page int) (*provider.Page, error) {
	log := o.log.With(
		zap.String("provider", p.Name()),
		zap.String("unit", unit.Name),
		zap.Int("page", page),
	)

	var (
		avoid     []string
		lastErr   error
		malformed int
	)
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "fetch: page canceled")
		}

		rt := o.routes.Select(ctx, unit.Region, avoid...)
		res, err := p.FetchPage(ctx, rt, provider.PageRequest{Unit: unit, Page: page, PerPage: o.cfg.PerPage})
		if err == nil {
			o.routes.RecordSuccess(ctx, rt.ID)
			log.Debug("page fetched", zap.String("route", rt.ID), zap.Int("attempt", attempt), zap.Int("items", len(res.Items)))
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, eris.Wrap(err, "fetch: page canceled")
		}

		kind := resilience.KindOf(err)
		var wait time.Duration
		switch kind {
		case resilience.KindNetwork:
			o.routes.RecordFailure(ctx, rt.ID)
			wait = o.delay(attempt)
		case resilience.KindRateLimited:
			o.routes.RecordFailure(ctx, rt.ID)
			wait = max(o.cfg.RateLimitWait, resilience.RetryAfterOf(err), o.delay(attempt))
		case resilience.KindAuth:
			o.routes.RecordFailure(ctx, rt.ID)
			if rt.Direct() || slices.Contains(avoid, rt.ID) {
				return nil, eris.Wrapf(err, "fetch: %s page %d: no route left after auth failure", p.Name(), page)
			}
			avoid = append(avoid, rt.ID)
		case resilience.KindMalformed:
			malformed++
			if malformed > o.cfg.MalformedMax {
				return nil, eris.Wrapf(err, "fetch: %s page %d: malformed response", p.Name(), page)
			}
			wait = o.delay(attempt)
		default:
			return nil, eris.Wrapf(err, "fetch: %s page %d", p.Name(), page)
		}

		if attempt == o.cfg.MaxAttempts {
			break
		}
		log.Warn("page attempt failed, retrying",
			zap.String("route", rt.ID),
			zap.Int("attempt", attempt),
			zap.String("kind", kind.String()),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if err := o.sleep(ctx, wait); err != nil {
			return nil, eris.Wrap(lastErr, "fetch: page canceled")
		}
	}

	return nil, eris.Wrapf(lastErr, "fetch: %s page %d: exhausted %d attempts", p.Name(), page, o.cfg.MaxAttempts)
}

// delay returns the backoff after the given 1-based attempt.
func (o *Orchestrator) delay(attempt int) time.Duration {
	if len(o.backoff) == 0 {
		return 0
	}
	i := attempt - 1
	if i >= len(o.backoff) {
		i = len(o.backoff) - 1
	}
	return o.backoff[i]
}
