package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/listing-sync/internal/config"
	"github.com/sells-group/listing-sync/internal/model"
	"github.com/sells-group/listing-sync/internal/resilience"
)

// JSONProvider queries a JSON search API. Item, total and page-count
// locations are gjson paths taken from configuration.
type JSONProvider struct {
	name      string
	baseURL   string
	apiKey    string
	itemsPath string
	totalPath string
	pagesPath string
	perPage   int
	http      Getter
}

// NewJSONProvider creates a search_api provider.
func NewJSONProvider(cfg config.ProviderConfig, getter Getter) *JSONProvider {
	p := &JSONProvider{
		name:      cfg.Name,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		itemsPath: cfg.ItemsPath,
		totalPath: cfg.TotalPath,
		pagesPath: cfg.PagesPath,
		perPage:   cfg.PerPage,
		http:      getter,
	}
	if p.itemsPath == "" {
		p.itemsPath = "items"
	}
	if p.totalPath == "" {
		p.totalPath = "total"
	}
	if p.pagesPath == "" {
		p.pagesPath = "pages"
	}
	if p.perPage <= 0 {
		p.perPage = 50
	}
	return p
}

// Name implements Provider.
func (p *JSONProvider) Name() string { return p.name }

// Kind implements Provider.
func (p *JSONProvider) Kind() model.ProviderKind { return model.KindSearchAPI }

// FetchPage implements Provider.
func (p *JSONProvider) FetchPage(ctx context.Context, rt model.Route, req PageRequest) (*Page, error) {
	perPage := req.PerPage
	if perPage <= 0 {
		perPage = p.perPage
	}

	body, err := p.http.Get(ctx, rt, p.searchURL(req.Unit, req.Page, perPage), p.header())
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, resilience.NewError(resilience.KindMalformed,
			eris.Errorf("provider: %s page %d: invalid json", p.name, req.Page))
	}
	items := gjson.GetBytes(body, p.itemsPath)
	if !items.Exists() || !items.IsArray() {
		return nil, resilience.NewError(resilience.KindMalformed,
			eris.Errorf("provider: %s page %d: no array at %q", p.name, req.Page, p.itemsPath))
	}

	page := &Page{
		TotalItems: int(gjson.GetBytes(body, p.totalPath).Int()),
		TotalPages: int(gjson.GetBytes(body, p.pagesPath).Int()),
	}
	if page.TotalPages == 0 && page.TotalItems > 0 {
		page.TotalPages = (page.TotalItems + perPage - 1) / perPage
	}
	items.ForEach(func(_, item gjson.Result) bool {
		if item.IsObject() {
			page.Items = append(page.Items, model.RawItem{
				Kind:     model.KindSearchAPI,
				Provider: p.name,
				Payload:  []byte(item.Raw),
			})
		}
		return true
	})
	return page, nil
}

func (p *JSONProvider) searchURL(unit model.Unit, page, perPage int) string {
	q := url.Values{}
	q.Set("city", unit.Name)
	if unit.Region != "" {
		q.Set("region", unit.Region)
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	if b := unit.Bounds; b != nil && !b.IsEmpty() {
		q.Set("bbox", strings.Join([]string{
			formatCoord(b.Min(0)), formatCoord(b.Min(1)),
			formatCoord(b.Max(0)), formatCoord(b.Max(1)),
		}, ","))
	}
	return p.baseURL + "/search?" + q.Encode()
}

func (p *JSONProvider) header() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	if p.apiKey != "" {
		h.Set("X-API-Key", p.apiKey)
	}
	return h
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
