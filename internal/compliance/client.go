package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/rwamarkets/settlecore/pkg/circuit"
)

// Client queries the external identity registry over HTTP. Results are cached
// in Redis with a short TTL because the check is cheap, idempotent and called
// on every approval attempt; the circuit breaker keeps a registry outage from
// stalling every approver.
type Client struct {
	baseURL  string
	http     *http.Client
	breaker  *circuit.Breaker
	redis    *redis.Client
	cacheTTL time.Duration
	group    singleflight.Group
}

// ClientConfig configures the registry client.
type ClientConfig struct {
	BaseURL  string
	Timeout  time.Duration
	Redis    *redis.Client // optional; nil disables caching
	CacheTTL time.Duration
}

type claimResponse struct {
	Authorized bool `json:"authorized"`
}

// NewClient creates a compliance registry client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 30 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: circuit.NewBreaker(circuit.Config{
			Name:        "compliance-registry",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			HalfOpenMax: 3,
		}),
		redis:    cfg.Redis,
		cacheTTL: cacheTTL,
	}
}

// IsAuthorized reports whether principal may receive asset. Only transport
// failures surface as errors; a negative answer is a plain false.
func (c *Client) IsAuthorized(ctx context.Context, principal, asset string) (bool, error) {
	cacheKey := "compliance:" + principal + ":" + asset

	if c.redis != nil {
		if cached, err := c.redis.Get(ctx, cacheKey).Result(); err == nil {
			return cached == "1", nil
		}
	}

	// Concurrent checks for the same (principal, asset) collapse into one
	// upstream request.
	v, err, _ := c.group.Do(cacheKey, func() (interface{}, error) {
		var authorized bool
		err := c.breaker.Execute(ctx, func() error {
			var err error
			authorized, err = c.fetch(ctx, principal, asset)
			return err
		})
		return authorized, err
	})
	if err != nil {
		return false, fmt.Errorf("compliance registry unavailable: %w", err)
	}
	authorized := v.(bool)

	if c.redis != nil {
		val := "0"
		if authorized {
			val = "1"
		}
		c.redis.Set(ctx, cacheKey, val, c.cacheTTL)
	}

	return authorized, nil
}

func (c *Client) fetch(ctx context.Context, principal, asset string) (bool, error) {
	endpoint := fmt.Sprintf("%s/api/v1/claims/%s/%s",
		c.baseURL, url.PathEscape(principal), url.PathEscape(asset))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var claim claimResponse
		if err := json.NewDecoder(resp.Body).Decode(&claim); err != nil {
			return false, fmt.Errorf("failed to decode claim: %w", err)
		}
		return claim.Authorized, nil
	case http.StatusNotFound:
		// No claim on file means not compliant, not a system error.
		return false, nil
	default:
		return false, fmt.Errorf("registry returned %d", resp.StatusCode)
	}
}
