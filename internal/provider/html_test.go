package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/sells-group/listing-sync/internal/config"
	"github.com/sells-group/listing-sync/internal/model"
)

const cardsPage = `<!doctype html>
<html><head><title>Homes for sale</title></head><body>
<nav class="pager" data-total-pages="4">Page 1 of 4</nav>
<ul>
  <li class="card" data-listing-id="w-1" data-price="$649,900" data-beds="3" data-street-address="12 Ouellette Ave">
    <a href="/listing/w-1">12 Ouellette Ave</a>
    <img src="/img/w-1-a.jpg"><img src="https://cdn.example.com/w-1-b.jpg"><img src="">
  </li>
  <li class="card" data-listing-id="w-2" data-price="729000">
    <a href="https://other.example.com/w-2">Listing</a>
  </li>
</ul>
</body></html>`

func TestHTMLProvider_FetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/homes/new-windsor", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(cardsPage)) //nolint:errcheck
	}))
	defer srv.Close()

	p := NewHTMLProvider(config.ProviderConfig{
		Name:      "beta",
		BaseURL:   srv.URL + "/homes",
		Selectors: config.HTMLSelectors{Card: "li.card", TotalPages: "nav.pager"},
	}, newTestClient())
	assert.Equal(t, model.KindHTMLCards, p.Kind())

	page, err := p.FetchPage(context.Background(), model.Route{}, PageRequest{Unit: model.Unit{Name: "New Windsor"}, Page: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, 4, page.TotalPages)

	first := page.Items[0]
	assert.Equal(t, model.KindHTMLCards, first.Kind)
	assert.Equal(t, "beta", first.Provider)
	assert.Equal(t, "w-1", gjson.GetBytes(first.Payload, "listing_id").String())
	assert.Equal(t, "$649,900", gjson.GetBytes(first.Payload, "price").String())
	assert.Equal(t, "12 Ouellette Ave", gjson.GetBytes(first.Payload, "street_address").String())
	assert.Equal(t, srv.URL+"/listing/w-1", gjson.GetBytes(first.Payload, "url").String())

	media := gjson.GetBytes(first.Payload, "media").Array()
	require.Len(t, media, 2)
	assert.Equal(t, srv.URL+"/img/w-1-a.jpg", media[0].String())
	assert.Equal(t, "https://cdn.example.com/w-1-b.jpg", media[1].String())

	second := page.Items[1]
	assert.Equal(t, "https://other.example.com/w-2", gjson.GetBytes(second.Payload, "url").String())
	assert.False(t, gjson.GetBytes(second.Payload, "media").Exists())
}

func TestHTMLProvider_DefaultSelectorAndEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Query().Get("page") == "1" {
			w.Write([]byte(`<html><body><div data-listing-id="d-1"></div></body></html>`)) //nolint:errcheck
			return
		}
		w.Write([]byte(`<html><body><p>No more results for this area. Try widening your filters to see more homes nearby.</p></body></html>`)) //nolint:errcheck
	}))
	defer srv.Close()

	p := NewHTMLProvider(config.ProviderConfig{Name: "beta", BaseURL: srv.URL}, newTestClient())

	page, err := p.FetchPage(context.Background(), model.Route{}, PageRequest{Unit: model.Unit{Name: "London"}, Page: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 0, page.TotalPages)

	page, err = p.FetchPage(context.Background(), model.Route{}, PageRequest{Unit: model.Unit{Name: "London"}, Page: 2})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestResolveURL(t *testing.T) {
	assert.Equal(t, "https://a.example.com/x/y", resolveURL("https://a.example.com/x/list?page=1", "y"))
	assert.Equal(t, "https://b.example.com/z", resolveURL("https://a.example.com/", "https://b.example.com/z"))
}
