// Package provider implements the upstream listing-search contract: one
// paginated page of raw items per request, fetched through an egress route.
package provider

import (
	"context"
	"net/http"

	"github.com/sells-group/listing-sync/internal/model"
)

// PageRequest identifies one page of one unit's search. Page is 1-based.
type PageRequest struct {
	Unit    model.Unit
	Page    int
	PerPage int
}

// Page is one page of raw provider items. TotalItems and TotalPages are zero
// when the provider does not report them.
type Page struct {
	Items      []model.RawItem
	TotalItems int
	TotalPages int
}

// Last reports whether the provider says no page follows p.
func (p *Page) Last(page int) bool {
	return p.TotalPages > 0 && page >= p.TotalPages
}

// Provider fetches search pages from one upstream source.
type Provider interface {
	Name() string
	Kind() model.ProviderKind
	FetchPage(ctx context.Context, rt model.Route, req PageRequest) (*Page, error)
}

// Getter performs a GET through a route. *Client satisfies it.
type Getter interface {
	Get(ctx context.Context, rt model.Route, rawURL string, header http.Header) ([]byte, error)
}
