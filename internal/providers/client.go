package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JaimeStill/compass/internal/dispatch"
	"github.com/JaimeStill/compass/pkg/cache"
	"github.com/JaimeStill/compass/pkg/formatting"
)

// CallTimeout is the hard bound on a single provider request.
const CallTimeout = 10 * time.Second

const (
	searchPath = "/api/v1/search"
	healthPath = "/health"

	// DefaultMaxBody caps how much of a provider response is read.
	DefaultMaxBody int64 = 8 << 20
)

// Client calls configured providers. It satisfies dispatch.Caller.
type Client struct {
	providers map[string]Provider
	order     []string
	limiters  map[string]*rate.Limiter
	http      *http.Client
	cache     cache.Store
	cacheTTL  time.Duration
	logger    *slog.Logger

	maxResults int
	threshold  float64
	maxBody    int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCache caches successful responses in store for ttl.
func WithCache(store cache.Store, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = store
		c.cacheTTL = ttl
	}
}

// WithSearchDefaults sets max_results and similarity_threshold for requests
// that leave them unset.
func WithSearchDefaults(maxResults int, threshold float64) Option {
	return func(c *Client) {
		c.maxResults = maxResults
		c.threshold = threshold
	}
}

// WithMaxBody caps the response size read from a provider. Larger search
// responses are rejected as invalid.
func WithMaxBody(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// New creates a client for providers. Ids must be unique.
func New(providers []Provider, logger *slog.Logger, opts ...Option) (*Client, error) {
	c := &Client{
		providers:  make(map[string]Provider, len(providers)),
		limiters:   make(map[string]*rate.Limiter, len(providers)),
		http:       &http.Client{Timeout: CallTimeout},
		logger:     logger.With("system", "providers"),
		maxResults: 5,
		threshold:  0.5,
		maxBody:    DefaultMaxBody,
	}

	for _, p := range providers {
		if err := p.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.providers[p.ID]; dup {
			return nil, fmt.Errorf("duplicate provider %s", p.ID)
		}
		p.URL = strings.TrimRight(p.URL, "/")
		c.providers[p.ID] = p
		c.order = append(c.order, p.ID)

		if p.RateLimit > 0 {
			burst := max(p.Burst, 1)
			c.limiters[p.ID] = rate.NewLimiter(rate.Limit(p.RateLimit), burst)
		}
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Providers returns the configured providers in configuration order.
func (c *Client) Providers() []Provider {
	out := make([]Provider, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.providers[id])
	}
	return out
}

// ForJurisdictions returns providers serving any of jurisdictions, matched
// case-insensitively. An empty filter returns every provider.
func (c *Client) ForJurisdictions(jurisdictions []string) []Provider {
	all := c.Providers()
	if len(jurisdictions) == 0 {
		return all
	}
	return slices.DeleteFunc(all, func(p Provider) bool {
		return !slices.ContainsFunc(jurisdictions, func(j string) bool {
			return strings.EqualFold(j, p.Jurisdiction)
		})
	})
}

// Call performs a search against providerID. request must decode as a
// SearchRequest.
func (c *Client) Call(ctx context.Context, providerID string, request json.RawMessage) (json.RawMessage, error) {
	p, ok := c.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}

	var req SearchRequest
	if err := json.Unmarshal(request, &req); err != nil {
		return nil, fmt.Errorf("%w: decode request: %v", ErrProviderRejected, err)
	}
	req = req.normalize(c.maxResults, c.threshold)

	key := cache.Key(
		p.ID,
		req.Query,
		req.Context,
		strconv.Itoa(req.MaxResults),
		strconv.FormatFloat(req.SimilarityThreshold, 'f', -1, 64),
	)

	if c.cache != nil {
		if data, err := c.cache.Get(ctx, key); err == nil {
			c.logger.DebugContext(ctx, "search cache hit", "provider", p.ID)
			return data, nil
		} else if !errors.Is(err, cache.ErrMiss) {
			c.logger.WarnContext(ctx, "search cache read failed", "provider", p.ID, "error", err)
		}
	}

	if lim, ok := c.limiters[p.ID]; ok {
		if err := lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s: rate limit wait: %w", ErrProviderUnavailable, p.ID, err)
		}
	}

	data, err := c.search(ctx, p, req)
	if err != nil {
		return nil, err
	}

	if c.cache != nil && c.cacheTTL > 0 {
		if err := c.cache.Set(ctx, key, data, c.cacheTTL); err != nil {
			c.logger.WarnContext(ctx, "search cache write failed", "provider", p.ID, "error", err)
		}
	}
	return data, nil
}

func (c *Client) search(ctx context.Context, p Provider, req SearchRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, transportError(p.ID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, transportError(p.ID, err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("%w: %s: response exceeds %s", ErrInvalidResponse, p.ID, formatting.FormatBytes(c.maxBody, 1))
	}

	if err := statusError(p.ID, resp.StatusCode, data); err != nil {
		return nil, err
	}

	var parsed SearchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidResponse, p.ID, err)
	}
	if parsed.Jurisdiction == "" {
		parsed.Jurisdiction = p.Jurisdiction
	}

	c.logger.DebugContext(ctx, "search completed",
		"provider", p.ID,
		"results", len(parsed.Results),
		"duration", time.Since(start),
	)

	return json.Marshal(parsed)
}

// Health checks every provider concurrently. A failed check is reported in
// its entry, never as an error.
func (c *Client) Health(ctx context.Context) []Health {
	ps := c.Providers()
	out := make([]Health, len(ps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, p := range ps {
		g.Go(func() error {
			out[i] = c.check(gctx, p)
			return nil
		})
	}
	g.Wait()

	return out
}

func (c *Client) check(ctx context.Context, p Provider) Health {
	h := Health{ID: p.ID, Jurisdiction: p.Jurisdiction}

	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL+healthPath, nil)
	if err != nil {
		h.Error = err.Error()
		return h
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	h.Latency = time.Since(start)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBody))
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.Error = fmt.Sprintf("health returned %d", resp.StatusCode)
		return h
	}
	h.Healthy = true
	return h
}

func transportError(id string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %v", dispatch.ErrProviderTimeout, id, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrProviderUnavailable, id, err)
}

// maxErrorBody caps the response body quoted in status errors, in bytes.
const maxErrorBody = 256

func statusError(id string, code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		n := maxErrorBody
		for n > 0 && !utf8.RuneStart(msg[n]) {
			n--
		}
		msg = msg[:n]
	}

	if code == http.StatusTooManyRequests || code >= 500 {
		return fmt.Errorf("%w: %s: status %d: %s", ErrProviderUnavailable, id, code, msg)
	}
	return fmt.Errorf("%w: %s: status %d: %s", ErrProviderRejected, id, code, msg)
}

var _ dispatch.Caller = (*Client)(nil)
