package fetch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/listing-sync/internal/model"
	"github.com/sells-group/listing-sync/internal/provider"
	"github.com/sells-group/listing-sync/internal/resilience"
)

// Outcome is the terminal state of a unit's pagination.
type Outcome string

const (
	// OutcomeComplete means pagination reached an empty or last page.
	OutcomeComplete Outcome = "complete"
	// OutcomeTruncated means MaxPages was reached before a natural end.
	OutcomeTruncated Outcome = "truncated"
	// OutcomeTripped means consecutive page failures opened the breaker.
	OutcomeTripped Outcome = "tripped"
	// OutcomeCanceled means the context ended mid-unit.
	OutcomeCanceled Outcome = "canceled"
)

// UnitResult is everything one provider yielded for one unit.
type UnitResult struct {
	Provider    string
	Unit        string
	Items       []model.RawItem
	Pages       int
	FailedPages []int
	Outcome     Outcome
	Err         error
	Duration    time.Duration
}

// Tripped reports whether the circuit breaker stopped pagination.
func (r *UnitResult) Tripped() bool { return r.Outcome == OutcomeTripped }

// Truncated reports whether the page cap stopped pagination.
func (r *UnitResult) Truncated() bool { return r.Outcome == OutcomeTruncated }

// Complete reports whether every page up to a natural end was fetched.
func (r *UnitResult) Complete() bool {
	return r.Outcome == OutcomeComplete && len(r.FailedPages) == 0
}

type pageState int

const (
	stateFetching pageState = iota
	stateSuccess
	statePageFailed
	stateDone
)

// CollectUnit paginates unit on p from page 1. Pages are strictly sequential.
// A failed page is skipped; CircuitThreshold consecutive failures stop the
// unit and the pages already collected are returned.
func (o *Orchestrator) CollectUnit(ctx context.Context, p provider.Provider, unit model.Unit) *UnitResult {
	start := time.Now()
	res := &UnitResult{Provider: p.Name(), Unit: unit.Name}
	log := o.log.With(zap.String("provider", p.Name()), zap.String("unit", unit.Name))

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: o.cfg.CircuitThreshold,
		OnStateChange: func(from, to resilience.CircuitState) {
			if to == resilience.CircuitOpen {
				log.Warn("consecutive page failures, stopping unit", zap.Int("threshold", o.cfg.CircuitThreshold), zap.Stringer("breaker", to))
			}
		},
	})

	var (
		page    = 1
		current *provider.Page
		err     error
		state   = stateFetching
	)
	for state != stateDone {
		switch state {
		case stateFetching:
			if page > o.cfg.MaxPages {
				res.Outcome = OutcomeTruncated
				state = stateDone
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				res.Outcome, res.Err = OutcomeCanceled, ctxErr
				state = stateDone
				continue
			}
			current, err = o.FetchPage(ctx, p, unit, page)
			breaker.Record(err)
			if err != nil {
				state = statePageFailed
			} else {
				state = stateSuccess
			}

		case statePageFailed:
			res.FailedPages = append(res.FailedPages, page)
			res.Err = err
			log.Warn("page failed", zap.Int("page", page), zap.Int("consecutive", breaker.Streak()), zap.Error(err))
			switch {
			case ctx.Err() != nil:
				res.Outcome = OutcomeCanceled
				state = stateDone
			case breaker.Open():
				res.Outcome = OutcomeTripped
				state = stateDone
			default:
				page++
				state = stateFetching
			}

		case stateSuccess:
			if len(current.Items) == 0 {
				res.Outcome = OutcomeComplete
				state = stateDone
				continue
			}
			res.Items = append(res.Items, current.Items...)
			res.Pages++
			if current.Last(page) {
				res.Outcome = OutcomeComplete
				state = stateDone
				continue
			}
			page++
			state = stateFetching
			if page <= o.cfg.MaxPages {
				if sleepErr := o.sleep(ctx, o.pause()); sleepErr != nil {
					res.Outcome, res.Err = OutcomeCanceled, sleepErr
					state = stateDone
				}
			}
		}
	}

	res.Duration = time.Since(start)
	log.Info("unit pagination finished",
		zap.String("outcome", string(res.Outcome)),
		zap.Int("pages", res.Pages),
		zap.Int("failed_pages", len(res.FailedPages)),
		zap.Int("items", len(res.Items)),
	)
	return res
}

// pause draws the politeness delay between successful pages: usually uniform
// in [PolitenessMin, PolitenessMax], occasionally a long pause.
func (o *Orchestrator) pause() time.Duration {
	if o.cfg.LongPauseProbability > 0 && o.rand() < o.cfg.LongPauseProbability {
		return o.uniform(o.cfg.LongPauseMin, o.cfg.LongPauseMax)
	}
	return o.uniform(o.cfg.PolitenessMin, o.cfg.PolitenessMax)
}

func (o *Orchestrator) uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(o.rand()*float64(hi-lo))
}
