// Package store persists listings and the run log in Postgres or SQLite.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-sync/internal/model"
)

// ListingFilter narrows ListListings. Zero fields are not applied.
type ListingFilter struct {
	Unit       string                `json:"unit,omitempty"`
	Statuses   []model.ListingStatus `json:"statuses,omitempty"`
	SeenBefore time.Time             `json:"seen_before,omitempty"`
	Limit      int                   `json:"limit,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Region string          `json:"region,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for listings and the run log.
type Store interface {
	// Listings
	GetListings(ctx context.Context, ids []string) (map[string]model.Listing, error)
	UpsertListings(ctx context.Context, listings []model.Listing) error
	ListListings(ctx context.Context, filter ListingFilter) ([]model.Listing, error)

	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	CompleteRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ErrRunFinalized is returned by CompleteRun when the run is missing or no
// longer running.
var ErrRunFinalized = eris.New("store: run not found or already finalized")

// listingColumns is the column order shared by both dialects.
var listingColumns = []string{
	"id", "unit", "region", "country", "currency", "status", "provider", "url",
	"price", "price_display", "previous_price", "price_change_date",
	"street", "city", "address_region", "postal_code",
	"beds", "baths", "area_sqft", "lat", "lng", "media",
	"run_id", "first_seen_at", "last_seen_at", "last_updated_at",
	"removed_at", "relisted_at", "relist_count",
}

const defaultRunLimit = 100

func statusStrings(statuses []model.ListingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func geoValues(g *model.GeoPoint) (lat, lng any) {
	if g == nil {
		return nil, nil
	}
	return g.Lat, g.Lng
}

func geoFrom(lat, lng *float64) *model.GeoPoint {
	if lat == nil || lng == nil {
		return nil
	}
	return &model.GeoPoint{Lat: *lat, Lng: *lng}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
