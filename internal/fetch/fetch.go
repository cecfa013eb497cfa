// Package fetch provides the rate-limited, caching, retrying HTTP client
// every pricing source talks through. It has no domain knowledge; sources
// layer their endpoint and response handling on top of it.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"pricearbiter/internal/metrics"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=fetch_test -destination=mock_http_client_test.go -source=fetch.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config controls one client instance. One instance serves one external
// service; the rate limiter and cache are per instance, never shared.
type Config struct {
	// Name labels logs and metrics, e.g. "ninja".
	Name string
	// BaseURL is prefixed to every request path.
	BaseURL string
	// RequestsPerSecond paces network calls. <= 0 disables pacing.
	RequestsPerSecond float64
	// CacheTTL is how long a successful response body is reused.
	// <= 0 disables caching.
	CacheTTL time.Duration
	// MaxCacheEntries bounds the cache; the oldest inserted entry is
	// evicted first. <= 0 means unbounded.
	MaxCacheEntries int
	// MaxRetries caps total network attempts, the first included.
	// Values below 1 are treated as 1 (a single attempt, no retry).
	MaxRetries int
	// RetryBaseDelay and RetryMaxDelay shape the exponential backoff.
	RetryBaseDelay time.Duration // default 250ms
	RetryMaxDelay  time.Duration // default 5s

	UserAgent string
	Header    http.Header
	// HTTP overrides the underlying client; used by tests. Defaults to a
	// tuned http.Client.
	HTTP HTTPClient
}

// Client executes requests against one external service under three
// constraints: never exceed the configured request rate, reuse recent
// identical responses, and survive transient failures without surfacing
// them to the caller.
type Client struct {
	cfg     Config
	limiter *rate.Limiter
	cache   *ttlCache
	sf      singleflight.Group
	log     *logrus.Entry
}

// New builds a Client. The zero-ish defaults follow the upstream services'
// published limits, which are strict enough that the transport keeps
// generous connection reuse.
func New(cfg Config) *Client {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 250 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 5 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "pricearbiter/1.0"
	}
	if cfg.HTTP == nil {
		cfg.HTTP = defaultHTTPClient()
	}
	c := &Client{
		cfg: cfg,
		log: logrus.WithField("client", cfg.Name),
	}
	if cfg.RequestsPerSecond > 0 {
		// Burst 1: a cold call is delayed at most 1/rps, which is the
		// latency bound callers are promised.
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if cfg.CacheTTL > 0 {
		c.cache = newTTLCache(cfg.CacheTTL, cfg.MaxCacheEntries)
	}
	return c
}

func defaultHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
	return &http.Client{Timeout: 30 * time.Second, Transport: transport}
}

// GetJSON performs a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &PermanentError{Err: fmt.Errorf("decoding %s response: %w", path, err)}
	}
	return nil
}

// PostJSON performs a POST with a JSON body and decodes the JSON response.
func (c *Client) PostJSON(ctx context.Context, path string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("encoding %s request: %w", path, err)}
	}
	body, err := c.do(ctx, http.MethodPost, path, nil, raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &PermanentError{Err: fmt.Errorf("decoding %s response: %w", path, err)}
	}
	return nil
}

// do is the single request core: cache check, singleflight coalescing, rate
// pacing, retry with backoff, cache fill.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte) ([]byte, error) {
	key := cacheKey(method, path, params, body)

	// Cache hits cost no network I/O and no rate-limit budget.
	if b, ok := c.cache.get(key, time.Now()); ok {
		metrics.ClientCacheHitsTotal.WithLabelValues(c.cfg.Name).Inc()
		return b, nil
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		b, err := c.doUncached(ctx, method, path, params, body)
		if err != nil {
			return nil, err
		}
		c.cache.put(key, b, time.Now())
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Client) doUncached(ctx context.Context, method, path string, params url.Values, body []byte) ([]byte, error) {
	var lastTransient *TransientError
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.ClientRetriesTotal.WithLabelValues(c.cfg.Name).Inc()
			if err := sleepCtx(ctx, c.backoff(attempt-1, lastTransient)); err != nil {
				return nil, &PermanentError{Err: err}
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, &PermanentError{Err: err}
			}
		}

		b, err := c.attempt(ctx, method, path, params, body)
		if err == nil {
			return b, nil
		}
		var te *TransientError
		if !errors.As(err, &te) {
			return nil, err
		}
		lastTransient = te
		c.log.WithFields(logrus.Fields{
			"method":  method,
			"path":    path,
			"attempt": attempt + 1,
			"status":  te.Status,
		}).WithError(te.Err).Warn("transient failure")
	}
	return nil, &PermanentError{Status: lastTransient.Status, Err: fmt.Errorf("giving up after %d attempts: %w", c.cfg.MaxRetries, lastTransient)}
}

// attempt performs exactly one network call and classifies the outcome.
func (c *Client) attempt(ctx context.Context, method, path string, params url.Values, body []byte) ([]byte, error) {
	u := c.cfg.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	var rdr io.Reader = http.NoBody
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("creating request: %w", err)}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for k, vs := range c.cfg.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.cfg.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &PermanentError{Err: ctx.Err()}
		}
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		b, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return nil, &TransientError{Status: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
		}
		return b, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransientError{
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("rate limited by upstream"),
		}

	case resp.StatusCode >= 500:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &TransientError{Status: resp.StatusCode, Err: fmt.Errorf("%s %s: %s", method, path, bytes.TrimSpace(snippet))}

	default:
		// Retrying a malformed request only burns rate-limit budget.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &PermanentError{Status: resp.StatusCode, Err: fmt.Errorf("%s %s: %s", method, path, bytes.TrimSpace(snippet))}
	}
}

// backoff computes the delay before retry number attempt (0-based). A server
// supplied Retry-After wins over the computed exponential delay.
func (c *Client) backoff(attempt int, last *TransientError) time.Duration {
	if last != nil && last.RetryAfter > 0 {
		return last.RetryAfter
	}
	d := time.Duration(float64(c.cfg.RetryBaseDelay) * math.Pow(2, float64(attempt)))
	if d > c.cfg.RetryMaxDelay {
		d = c.cfg.RetryMaxDelay
	}
	return d + time.Duration(rand.Float64()*float64(d)*0.1)
}

// CacheLen reports the current number of live cache entries.
func (c *Client) CacheLen() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.len()
}

// Name reports the configured client label.
func (c *Client) Name() string { return c.cfg.Name }

func cacheKey(method, path string, params url.Values, body []byte) string {
	// url.Values.Encode sorts keys, so the query part is canonical.
	k := method + " " + path + "?" + params.Encode()
	if len(body) > 0 {
		h := fnv.New64a()
		_, _ = h.Write(body)
		k += "#" + strconv.FormatUint(h.Sum64(), 16)
	}
	return k
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
