package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-sync/internal/config"
	"github.com/sells-group/listing-sync/internal/model"
	"github.com/sells-group/listing-sync/internal/resilience"
)

const (
	defaultCardSelector  = "[data-listing-id]"
	defaultLinkSelector  = "a[href]"
	defaultImageSelector = "img[src]"
)

// HTMLProvider scrapes listing cards from server-rendered search pages.
// Each card's data-* attributes become the item payload, with the card link
// as "url" and image sources as "media".
type HTMLProvider struct {
	name      string
	baseURL   string
	selectors config.HTMLSelectors
	http      Getter
}

// NewHTMLProvider creates an html_cards provider.
func NewHTMLProvider(cfg config.ProviderConfig, getter Getter) *HTMLProvider {
	sel := cfg.Selectors
	if sel.Card == "" {
		sel.Card = defaultCardSelector
	}
	if sel.Link == "" {
		sel.Link = defaultLinkSelector
	}
	if sel.Image == "" {
		sel.Image = defaultImageSelector
	}
	return &HTMLProvider{
		name:      cfg.Name,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		selectors: sel,
		http:      getter,
	}
}

// Name implements Provider.
func (p *HTMLProvider) Name() string { return p.name }

// Kind implements Provider.
func (p *HTMLProvider) Kind() model.ProviderKind { return model.KindHTMLCards }

// FetchPage implements Provider.
func (p *HTMLProvider) FetchPage(ctx context.Context, rt model.Route, req PageRequest) (*Page, error) {
	pageURL := p.baseURL + "/" + url.PathEscape(req.Unit.Slug()) + "?page=" + strconv.Itoa(req.Page)

	h := http.Header{}
	h.Set("Accept", "text/html")
	body, err := p.http.Get(ctx, rt, pageURL, h)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, resilience.NewError(resilience.KindMalformed,
			eris.Wrapf(err, "provider: %s page %d: parse html", p.name, req.Page))
	}

	page := &Page{TotalPages: p.totalPages(doc)}
	var encodeErr error
	doc.Find(p.selectors.Card).EachWithBreak(func(_ int, card *goquery.Selection) bool {
		payload, err := json.Marshal(p.cardFields(card, pageURL))
		if err != nil {
			encodeErr = err
			return false
		}
		page.Items = append(page.Items, model.RawItem{
			Kind:     model.KindHTMLCards,
			Provider: p.name,
			Payload:  payload,
		})
		return true
	})
	if encodeErr != nil {
		return nil, resilience.NewError(resilience.KindMalformed,
			eris.Wrapf(encodeErr, "provider: %s page %d: encode card", p.name, req.Page))
	}
	return page, nil
}

func (p *HTMLProvider) cardFields(card *goquery.Selection, pageURL string) map[string]any {
	fields := make(map[string]any)
	if len(card.Nodes) > 0 {
		for _, attr := range card.Nodes[0].Attr {
			if key, ok := strings.CutPrefix(attr.Key, "data-"); ok && key != "" {
				fields[strings.ReplaceAll(key, "-", "_")] = strings.TrimSpace(attr.Val)
			}
		}
	}

	if href, ok := card.Find(p.selectors.Link).First().Attr("href"); ok {
		fields["url"] = resolveURL(pageURL, href)
	}

	var media []string
	card.Find(p.selectors.Image).Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && strings.TrimSpace(src) != "" {
			media = append(media, resolveURL(pageURL, src))
		}
	})
	if len(media) > 0 {
		fields["media"] = media
	}
	return fields
}

// totalPages reads the page count from the configured element's
// data-total-pages attribute or, failing that, its text.
func (p *HTMLProvider) totalPages(doc *goquery.Document) int {
	if p.selectors.TotalPages == "" {
		return 0
	}
	sel := doc.Find(p.selectors.TotalPages).First()
	raw, ok := sel.Attr("data-total-pages")
	if !ok {
		raw = sel.Text()
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
