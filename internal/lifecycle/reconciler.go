// Package lifecycle derives listing status transitions by comparing a unit's
// observed batch against stored state.
package lifecycle

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-sync/internal/model"
	"github.com/sells-group/listing-sync/internal/store"
)

// Reader is the store surface reconciliation needs.
type Reader interface {
	GetListings(ctx context.Context, ids []string) (map[string]model.Listing, error)
	ListListings(ctx context.Context, filter store.ListingFilter) ([]model.Listing, error)
}

// ReconcileInput is one unit's normalized batch for a run.
type ReconcileInput struct {
	Unit     string
	RunID    string
	RunStart time.Time
	Listings []model.Listing
	// Complete is true only when every page of the unit was collected. The
	// unseen step runs only for complete units.
	Complete bool
}

// Counts tallies the transitions derived for one unit.
type Counts struct {
	New          int `json:"new"`
	Active       int `json:"active"`
	PriceChanged int `json:"price_changed"`
	Sold         int `json:"sold"`
	Relisted     int `json:"relisted"`
}

// Outcome holds the records to upsert and the derived counts.
type Outcome struct {
	// Records are the observed listings followed by the removed ones.
	Records []model.Listing
	Counts  Counts
	// SoldCheck reports whether the unseen step ran.
	SoldCheck bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithNow injects the clock.
func WithNow(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithUnseenStatus sets the status applied to live listings missing from a
// complete batch. Only sold and off_market are accepted; anything else keeps
// the default of sold.
func WithUnseenStatus(s model.ListingStatus) Option {
	return func(r *Reconciler) {
		if s.IsRemoved() {
			r.unseen = s
		}
	}
}

// Reconciler applies the listing state machine.
type Reconciler struct {
	store  Reader
	unseen model.ListingStatus
	now    func() time.Time
	log    *zap.Logger
}

// New creates a Reconciler reading stored state from st.
func New(st Reader, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  st,
		unseen: model.StatusSold,
		now:    time.Now,
		log:    zap.L().With(zap.String("component", "lifecycle.reconciler")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile derives the new state of every observed listing and, for
// complete units, of every stored live listing that was not observed.
// Comparison is always against stored state, so applying the same batch twice
// converges to active.
func (r *Reconciler) Reconcile(ctx context.Context, in ReconcileInput) (*Outcome, error) {
	now := r.now().UTC()
	out := &Outcome{Records: make([]model.Listing, 0, len(in.Listings))}

	ids := make([]string, 0, len(in.Listings))
	for _, l := range in.Listings {
		ids = append(ids, l.ID)
	}
	stored, err := r.store.GetListings(ctx, ids)
	if err != nil {
		return nil, eris.Wrapf(err, "lifecycle: load stored listings for %s", in.Unit)
	}

	observed := make(map[string]bool, len(in.Listings))
	for _, l := range in.Listings {
		observed[l.ID] = true
		prev, ok := stored[l.ID]
		next := r.observe(l, prev, ok, in, now, &out.Counts)
		out.Records = append(out.Records, next)
	}

	if !in.Complete {
		r.log.Debug("skipping unseen check for incomplete unit", zap.String("unit", in.Unit))
		return out, nil
	}
	out.SoldCheck = true

	live, err := r.store.ListListings(ctx, store.ListingFilter{
		Unit:       in.Unit,
		Statuses:   model.LiveStatuses(),
		SeenBefore: in.RunStart,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "lifecycle: list unseen listings for %s", in.Unit)
	}
	for _, l := range live {
		// Observed listings are not written yet, so their stored last_seen_at
		// still predates the run.
		if observed[l.ID] {
			continue
		}
		removed := l
		removed.Status = r.unseen
		removed.RemovedAt = &now
		removed.LastUpdatedAt = now
		removed.RunID = in.RunID
		out.Records = append(out.Records, removed)
		out.Counts.Sold++
	}

	if out.Counts.Sold > 0 {
		r.log.Info("marked unseen listings",
			zap.String("unit", in.Unit),
			zap.String("status", string(r.unseen)),
			zap.Int("count", out.Counts.Sold),
		)
	}
	return out, nil
}

// Tally counts the transitions carried by reconciled records. A removed
// status counts as sold; a just_listed record whose relisted_at equals its
// last_seen_at was relisted in that run.
func Tally(records []model.Listing) Counts {
	var c Counts
	for _, l := range records {
		switch {
		case l.Status.IsRemoved():
			c.Sold++
		case l.Status == model.StatusJustListed:
			c.New++
			if l.RelistedAt != nil && l.RelistedAt.Equal(l.LastSeenAt) {
				c.Relisted++
			}
		case l.Status == model.StatusPriceChanged:
			c.PriceChanged++
		case l.Status == model.StatusActive:
			c.Active++
		}
	}
	return c
}

func (r *Reconciler) observe(l, prev model.Listing, exists bool, in ReconcileInput, now time.Time, c *Counts) model.Listing {
	next := l
	next.RunID = in.RunID
	next.LastSeenAt = now
	next.LastUpdatedAt = now
	next.RemovedAt = nil

	if !exists {
		next.Status = model.StatusJustListed
		next.FirstSeenAt = now
		next.PreviousPrice = nil
		next.PriceChangedAt = nil
		next.RelistedAt = nil
		next.RelistCount = 0
		c.New++
		return next
	}

	next.FirstSeenAt = prev.FirstSeenAt
	next.PreviousPrice = prev.PreviousPrice
	next.PriceChangedAt = prev.PriceChangedAt
	next.RelistedAt = prev.RelistedAt
	next.RelistCount = prev.RelistCount
	if next.Price == nil {
		next.Price = prev.Price
		next.PriceDisplay = prev.PriceDisplay
	}

	switch {
	case prev.Status.IsRemoved():
		next.Status = model.StatusJustListed
		next.RelistedAt = &now
		next.RelistCount = prev.RelistCount + 1
		c.New++
		c.Relisted++
	case !model.SamePrice(prev.Price, l.Price):
		next.Status = model.StatusPriceChanged
		next.PreviousPrice = prev.Price
		next.PriceChangedAt = &now
		c.PriceChanged++
	default:
		next.Status = model.StatusActive
		c.Active++
	}
	return next
}
