package model

import (
	"strings"

	"github.com/twpayne/go-geom"
)

// Unit is a collection unit (a city) scraped as one independent pagination sequence.
type Unit struct {
	Name    string
	Region  string
	Country string
	// Bounds optionally restricts searches and coordinates to a bounding box
	// in XY (lng, lat) layout.
	Bounds *geom.Bounds
}

// Slug returns a lower-case, dash-separated form of the unit name for URLs.
func (u Unit) Slug() string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(u.Name)), " ", "-")
}

// NewBounds builds an XY bounding box from min/max longitude and latitude.
func NewBounds(minLng, minLat, maxLng, maxLat float64) *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(minLng, minLat, maxLng, maxLat)
}

// ProviderKind tags the payload shape of a raw provider item.
type ProviderKind string

const (
	KindSearchAPI ProviderKind = "search_api"
	KindHTMLCards ProviderKind = "html_cards"
)

// RawItem is one provider record before normalization. Payload is the
// provider's JSON representation of the item.
type RawItem struct {
	Kind     ProviderKind
	Provider string
	Payload  []byte
}
