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
	"github.com/sells-group/listing-sync/internal/resilience"
)

func TestJSONProvider_FetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "Windsor", q.Get("city"))
		assert.Equal(t, "ON", q.Get("region"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "25", q.Get("per_page"))
		assert.Equal(t, "-83.2,42.2,-82.8,42.4", q.Get("bbox"))
		assert.Equal(t, "k-123", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"results":[{"id":"a1","price":500000},{"id":"a2"},"junk"]},"meta":{"count":60}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	p := NewJSONProvider(config.ProviderConfig{
		Name:      "alpha",
		BaseURL:   srv.URL + "/v1/",
		APIKey:    "k-123",
		ItemsPath: "data.results",
		TotalPath: "meta.count",
		PerPage:   25,
	}, newTestClient())

	unit := model.Unit{Name: "Windsor", Region: "ON", Bounds: model.NewBounds(-83.2, 42.2, -82.8, 42.4)}
	page, err := p.FetchPage(context.Background(), model.Route{}, PageRequest{Unit: unit, Page: 2})
	require.NoError(t, err)

	require.Len(t, page.Items, 2, "non-object entries are skipped")
	assert.Equal(t, model.KindSearchAPI, page.Items[0].Kind)
	assert.Equal(t, "alpha", page.Items[0].Provider)
	assert.Equal(t, "a1", gjson.GetBytes(page.Items[0].Payload, "id").String())
	assert.Equal(t, 60, page.TotalItems)
	assert.Equal(t, 3, page.TotalPages, "derived from total and per_page")
	assert.False(t, page.Last(2))
	assert.True(t, page.Last(3))
}

func TestJSONProvider_DefaultPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "50", r.URL.Query().Get("per_page"))
		assert.Empty(t, r.URL.Query().Get("bbox"))
		w.Write([]byte(`{"items":[{"id":"x"}],"total":1,"pages":1}`)) //nolint:errcheck
	}))
	defer srv.Close()

	p := NewJSONProvider(config.ProviderConfig{Name: "alpha", BaseURL: srv.URL}, newTestClient())
	assert.Equal(t, "alpha", p.Name())
	assert.Equal(t, model.KindSearchAPI, p.Kind())

	page, err := p.FetchPage(context.Background(), model.Route{}, PageRequest{Unit: model.Unit{Name: "London"}, Page: 1})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, 1, page.TotalPages)
	assert.True(t, page.Last(1))
}

func TestJSONProvider_EmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	p := NewJSONProvider(config.ProviderConfig{Name: "alpha", BaseURL: srv.URL}, newTestClient())
	page, err := p.FetchPage(context.Background(), model.Route{}, PageRequest{Unit: model.Unit{Name: "London"}, Page: 4})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.Last(4), "unknown page count never reports last")
}

func TestJSONProvider_MalformedBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"truncated json", `{"items":[{"id":"a"`},
		{"html instead of json", `<html><body>maintenance</body></html>`},
		{"missing items", `{"results":[]}`},
		{"items not an array", `{"items":{"id":"a"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body)) //nolint:errcheck
			}))
			defer srv.Close()

			p := NewJSONProvider(config.ProviderConfig{Name: "alpha", BaseURL: srv.URL}, newTestClient())
			_, err := p.FetchPage(context.Background(), model.Route{}, PageRequest{Unit: model.Unit{Name: "London"}, Page: 1})
			require.Error(t, err)
			assert.Equal(t, resilience.KindMalformed, resilience.KindOf(err))
		})
	}
}

func TestJSONProvider_PropagatesClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewJSONProvider(config.ProviderConfig{Name: "alpha", BaseURL: srv.URL}, newTestClient())
	_, err := p.FetchPage(context.Background(), model.Route{}, PageRequest{Unit: model.Unit{Name: "London"}, Page: 1})
	require.Error(t, err)
	assert.Equal(t, resilience.KindNetwork, resilience.KindOf(err))
}
