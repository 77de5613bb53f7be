package provider

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/listing-sync/internal/model"
	"github.com/sells-group/listing-sync/internal/resilience"
)

const maxBodyBytes = 16 << 20

// ClientOptions configures the shared provider HTTP client.
type ClientOptions struct {
	UserAgent      string
	Timeout        time.Duration
	RequestsPerSec float64
}

// Client issues provider requests through egress routes and classifies
// failures into resilience kinds. It keeps one http.Client per route and one
// adaptive limiter per upstream host.
type Client struct {
	opts ClientOptions

	mu       sync.Mutex
	clients  map[string]*http.Client
	limiters map[string]*AdaptiveLimiter

	nowFunc func() time.Time
	log     *zap.Logger
}

// NewClient creates a Client with the given options.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "listing-sync/1.0"
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 2
	}
	return &Client{
		opts:     opts,
		clients:  make(map[string]*http.Client),
		limiters: make(map[string]*AdaptiveLimiter),
		nowFunc:  time.Now,
		log:      zap.L().With(zap.String("component", "provider.client")),
	}
}

// Get fetches rawURL through route rt. Non-2xx responses and block pages are
// returned as *resilience.Error values.
func (c *Client) Get(ctx context.Context, rt model.Route, rawURL string, header http.Header) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, resilience.NewError(resilience.KindMalformed, eris.Wrapf(err, "provider: parse url %s", rawURL))
	}

	lim := c.limiterFor(u.Host)
	if err := lim.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "provider: rate limiter wait")
	}

	hc, err := c.httpClient(rt)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "provider: create request")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "provider: request canceled")
		}
		return nil, resilience.NewError(resilience.KindNetwork, eris.Wrapf(err, "provider: GET %s", u.Redacted()))
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resilience.NewHTTPError(resilience.KindNetwork, eris.Wrap(err, "provider: read body"), resp.StatusCode)
	}

	if blocked, bt := DetectBlock(resp, body); blocked {
		lim.OnRateLimit()
		c.log.Warn("block page detected",
			zap.String("host", u.Host),
			zap.String("route", rt.ID),
			zap.String("block", string(bt)),
			zap.Int("status", resp.StatusCode),
		)
		e := resilience.NewHTTPError(resilience.KindRateLimited,
			eris.Errorf("provider: GET %s: blocked (%s)", u.Redacted(), bt), resp.StatusCode)
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), c.nowFunc())
		return nil, e
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := resilience.KindForStatus(resp.StatusCode)
		if kind == resilience.KindRateLimited {
			lim.OnRateLimit()
		}
		e := resilience.NewHTTPError(kind,
			eris.Errorf("provider: GET %s: status %d", u.Redacted(), resp.StatusCode), resp.StatusCode)
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), c.nowFunc())
		return nil, e
	}

	lim.OnSuccess()
	return body, nil
}

// Limiter returns the adaptive limiter for host, creating it on first use.
func (c *Client) Limiter(host string) *AdaptiveLimiter {
	return c.limiterFor(host)
}

func (c *Client) limiterFor(host string) *AdaptiveLimiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[host]
	if !ok {
		burst := int(c.opts.RequestsPerSec)
		if burst < 1 {
			burst = 1
		}
		lim = NewAdaptiveLimiter(host, rate.Limit(c.opts.RequestsPerSec), burst)
		c.limiters[host] = lim
	}
	return lim
}

// httpClient returns the cached client for rt. A bad route endpoint is an
// auth-kind failure so callers exclude the route instead of retrying it.
func (c *Client) httpClient(rt model.Route) (*http.Client, error) {
	key := rt.ID + "|" + rt.Endpoint
	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.clients[key]; ok {
		return hc, nil
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	if !rt.Direct() {
		proxyURL, err := routeProxyURL(rt)
		if err != nil {
			return nil, resilience.NewError(resilience.KindAuth, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	hc := &http.Client{Timeout: c.opts.Timeout, Transport: transport}
	c.clients[key] = hc
	return hc, nil
}

// routeProxyURL builds the proxy URL for rt. A credential of the form
// "user:pass" becomes URL userinfo.
func routeProxyURL(rt model.Route) (*url.URL, error) {
	endpoint := rt.Endpoint
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, eris.Errorf("provider: route %s has invalid endpoint %q", rt.ID, rt.Endpoint)
	}
	if rt.Credential != "" {
		user, pass, ok := strings.Cut(rt.Credential, ":")
		if ok {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}
	return u, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
