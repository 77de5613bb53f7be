// Package notify hands the finished run result to a downstream consumer.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CityDetail is the per-unit breakdown of a run.
type CityDetail struct {
	City         string `json:"city"`
	Listings     int    `json:"listings"`
	JustListed   int    `json:"justListed"`
	PriceChanged int    `json:"priceChanged"`
	Sold         int    `json:"sold"`
	Provider     string `json:"provider,omitempty"`
	Pages        int    `json:"pages"`
	Error        string `json:"error,omitempty"`
}

// Result is the run summary consumed by the message formatter.
type Result struct {
	Success       bool         `json:"success"`
	TotalListings int          `json:"totalListings"`
	JustListed    int          `json:"justListed"`
	SoldListings  int          `json:"soldListings"`
	CityDetails   []CityDetail `json:"cityDetails"`
	FailedCities  []string     `json:"failedCities"`
}

// Notifier delivers a run result.
type Notifier interface {
	Notify(ctx context.Context, res *Result) error
}

// WebhookNotifier POSTs the JSON result to a URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier. A non-positive timeout uses 10s.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

// Notify implements Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, res *Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "notify: marshal result")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	zap.L().Info("notify: result sent",
		zap.Bool("success", res.Success),
		zap.Int("total_listings", res.TotalListings),
	)
	return nil
}

// LogNotifier writes the result to the logger.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a LogNotifier on the global logger.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: zap.L().With(zap.String("component", "notify.log"))}
}

// Notify implements Notifier.
func (l *LogNotifier) Notify(_ context.Context, res *Result) error {
	l.log.Info("run result",
		zap.Bool("success", res.Success),
		zap.Int("total_listings", res.TotalListings),
		zap.Int("just_listed", res.JustListed),
		zap.Int("sold", res.SoldListings),
		zap.Int("cities", len(res.CityDetails)),
		zap.Strings("failed_cities", res.FailedCities),
	)
	return nil
}

// Multi fans a result out to several notifiers and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, res *Result) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return eris.Wrap(errors.Join(errs...), "notify")
}
