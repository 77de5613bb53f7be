package model

import "time"

// ListingStatus is the lifecycle state assigned to a listing by reconciliation.
type ListingStatus string

const (
	StatusJustListed   ListingStatus = "just_listed"
	StatusActive       ListingStatus = "active"
	StatusPriceChanged ListingStatus = "price_changed"
	StatusSold         ListingStatus = "sold"
	StatusOffMarket    ListingStatus = "off_market"
)

// LiveStatuses returns the statuses of listings still considered on the market.
// Only listings in one of these states can be marked as removed.
func LiveStatuses() []ListingStatus {
	return []ListingStatus{StatusActive, StatusJustListed, StatusPriceChanged}
}

// IsRemoved reports whether the status is one of the terminal removal states.
func (s ListingStatus) IsRemoved() bool {
	return s == StatusSold || s == StatusOffMarket
}

// IsLive reports whether the status is an on-market state.
func (s ListingStatus) IsLive() bool {
	switch s {
	case StatusActive, StatusJustListed, StatusPriceChanged:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s ListingStatus) Valid() bool {
	return s.IsLive() || s.IsRemoved()
}

// Address holds the postal components of a listing.
type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Listing is the canonical, provider-independent listing record.
type Listing struct {
	ID       string        `json:"id"`
	Unit     string        `json:"unit"`
	Region   string        `json:"region"`
	Country  string        `json:"country"`
	Currency string        `json:"currency"`
	Status   ListingStatus `json:"status"`
	Provider string        `json:"provider,omitempty"`
	URL      string        `json:"url,omitempty"`

	Price          *int64     `json:"price,omitempty"`
	PriceDisplay   string     `json:"price_display,omitempty"`
	PreviousPrice  *int64     `json:"previous_price,omitempty"`
	PriceChangedAt *time.Time `json:"price_change_date,omitempty"`

	Address  Address   `json:"address"`
	Beds     *int      `json:"beds,omitempty"`
	Baths    *int      `json:"baths,omitempty"`
	AreaSqft *int      `json:"area_sqft,omitempty"`
	Geo      *GeoPoint `json:"geo,omitempty"`
	Media    []string  `json:"media,omitempty"`

	RunID         string     `json:"run_id"`
	FirstSeenAt   time.Time  `json:"first_seen_at"`
	LastSeenAt    time.Time  `json:"last_seen_at"`
	LastUpdatedAt time.Time  `json:"last_updated_at"`
	RemovedAt     *time.Time `json:"removed_at,omitempty"`
	RelistedAt    *time.Time `json:"relisted_at,omitempty"`
	RelistCount   int        `json:"relist_count"`
}

// SamePrice reports whether two optional prices should be treated as equal.
// An unknown price on either side never counts as a change.
func SamePrice(a, b *int64) bool {
	if a == nil || b == nil {
		return true
	}
	return *a == *b
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
