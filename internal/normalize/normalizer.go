// Package normalize maps raw provider items into canonical listings.
package normalize

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/listing-sync/internal/model"
	"github.com/sells-group/listing-sync/internal/resilience"
)

// Context is the collection context a raw item was fetched in.
type Context struct {
	Unit     model.Unit
	Page     int
	RunID    string
	Region   string
	Provider string
}

// Normalizer converts one provider kind's payload into a listing. A nil
// listing with a nil error means the item had no identifying key.
type Normalizer interface {
	Kind() model.ProviderKind
	Normalize(item model.RawItem, nctx Context) (*model.Listing, error)
}

// Options tunes country and currency derivation.
type Options struct {
	// DefaultCountry applies when neither the payload, the unit nor the
	// region identifies one. Default: US.
	DefaultCountry string
}

func (o Options) withDefaults() Options {
	if o.DefaultCountry == "" {
		o.DefaultCountry = "US"
	}
	o.DefaultCountry = strings.ToUpper(o.DefaultCountry)
	return o
}

// fieldPaths lists candidate gjson paths per canonical field, most specific
// first.
type fieldPaths struct {
	id, price, beds, baths, area       []string
	street, city, region, postal       []string
	lat, lng, url, media               []string
	country, currency, priceDisplayStr []string
}

var searchAPIPaths = fieldPaths{
	id:              []string{"id", "listing_id", "listingId", "mls_id", "mlsNumber"},
	price:           []string{"price.amount", "price", "list_price", "listPrice"},
	beds:            []string{"beds", "bedrooms", "bed"},
	baths:           []string{"baths", "bathrooms", "bath"},
	area:            []string{"area_sqft", "sqft", "living_area", "livingArea", "area"},
	street:          []string{"address.street", "address.line1", "street", "address"},
	city:            []string{"address.city", "city"},
	region:          []string{"address.region", "address.province", "address.state", "region", "province", "state"},
	postal:          []string{"address.postal_code", "address.zip", "postal_code", "postalCode", "zip"},
	lat:             []string{"geo.lat", "location.lat", "coordinates.lat", "lat", "latitude"},
	lng:             []string{"geo.lng", "location.lng", "location.lon", "coordinates.lng", "lng", "lon", "longitude"},
	url:             []string{"url", "link", "permalink"},
	media:           []string{"media", "photos", "images"},
	country:         []string{"address.country", "country"},
	currency:        []string{"price.currency", "currency"},
	priceDisplayStr: []string{"price.display", "price_display", "priceDisplay"},
}

var htmlCardPaths = fieldPaths{
	id:              []string{"listing_id", "id", "mls"},
	price:           []string{"price"},
	beds:            []string{"beds", "bedrooms"},
	baths:           []string{"baths", "bathrooms"},
	area:            []string{"sqft", "area"},
	street:          []string{"street_address", "street", "address"},
	city:            []string{"city", "locality"},
	region:          []string{"region", "province", "state"},
	postal:          []string{"postal_code", "zip"},
	lat:             []string{"lat", "latitude"},
	lng:             []string{"lng", "lon", "longitude"},
	url:             []string{"url"},
	media:           []string{"media"},
	country:         []string{"country"},
	currency:        []string{"currency"},
	priceDisplayStr: []string{"price_display"},
}

// PathNormalizer probes a JSON payload with a fixed set of field paths.
type PathNormalizer struct {
	kind  model.ProviderKind
	paths fieldPaths
	opts  Options
}

// NewSearchAPINormalizer handles search_api payloads.
func NewSearchAPINormalizer(opts Options) *PathNormalizer {
	return &PathNormalizer{kind: model.KindSearchAPI, paths: searchAPIPaths, opts: opts.withDefaults()}
}

// NewHTMLCardNormalizer handles html_cards payloads built from card data
// attributes.
func NewHTMLCardNormalizer(opts Options) *PathNormalizer {
	return &PathNormalizer{kind: model.KindHTMLCards, paths: htmlCardPaths, opts: opts.withDefaults()}
}

// Kind implements Normalizer.
func (n *PathNormalizer) Kind() model.ProviderKind { return n.kind }

// Normalize implements Normalizer.
func (n *PathNormalizer) Normalize(item model.RawItem, nctx Context) (*model.Listing, error) {
	if !gjson.ValidBytes(item.Payload) {
		return nil, resilience.NewError(resilience.KindValidation,
			eris.Errorf("normalize: %s item on page %d is not valid json", n.kind, nctx.Page))
	}
	doc := gjson.ParseBytes(item.Payload)
	if !doc.IsObject() {
		return nil, resilience.NewError(resilience.KindValidation,
			eris.Errorf("normalize: %s item on page %d is not an object", n.kind, nctx.Page))
	}
	p := n.paths

	id := text(first(doc, p.id))
	if id == "" {
		return nil, nil
	}

	l := &model.Listing{
		ID:       id,
		Unit:     nctx.Unit.Name,
		Provider: firstNonEmpty(item.Provider, nctx.Provider),
		URL:      text(first(doc, p.url)),
		RunID:    nctx.RunID,
		Price:    amount(first(doc, p.price)),
		Beds:     roomCount(first(doc, p.beds)),
		Baths:    roomCount(first(doc, p.baths)),
		AreaSqft: toInt(measure(first(doc, p.area))),
		Media:    mediaURLs(first(doc, p.media)),
	}

	region := canonicalRegion(firstNonEmpty(text(first(doc, p.region)), nctx.Region, nctx.Unit.Region))
	l.Region = region
	l.Address = model.Address{
		Street:     text(first(doc, p.street)),
		City:       firstNonEmpty(text(first(doc, p.city)), nctx.Unit.Name),
		Region:     region,
		PostalCode: strings.ToUpper(text(first(doc, p.postal))),
	}

	l.Country = strings.ToUpper(firstNonEmpty(
		text(first(doc, p.country)),
		nctx.Unit.Country,
		countryForRegion(region),
		n.opts.DefaultCountry,
	))
	l.Currency = strings.ToUpper(firstNonEmpty(text(first(doc, p.currency)), currencyFor(l.Country)))

	if l.Price != nil {
		l.PriceDisplay = priceDisplay(*l.Price)
	} else {
		l.PriceDisplay = text(first(doc, p.priceDisplayStr))
	}

	lat, latOK := coordinate(first(doc, p.lat))
	lng, lngOK := coordinate(first(doc, p.lng))
	if latOK && lngOK {
		l.Geo = validGeo(lat, lng, nctx.Unit.Bounds)
	}

	return l, nil
}

// first returns the first path that resolves to a non-null value. A nested
// object only counts when nothing more specific matched.
func first(doc gjson.Result, paths []string) gjson.Result {
	for _, path := range paths {
		r := doc.Get(path)
		if r.Exists() && r.Type != gjson.Null && !r.IsObject() {
			if r.Type == gjson.String && strings.TrimSpace(r.Str) == "" {
				continue
			}
			return r
		}
	}
	return gjson.Result{}
}

// mediaURLs accepts an array of strings or of objects with url, href or src.
// Empty and duplicate entries are dropped, order is kept.
func mediaURLs(r gjson.Result) []string {
	if !r.IsArray() {
		if u := text(r); u != "" {
			return []string{u}
		}
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	r.ForEach(func(_, v gjson.Result) bool {
		u := text(v)
		if v.IsObject() {
			u = text(first(v, []string{"url", "href", "src"}))
		}
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
		return true
	})
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
