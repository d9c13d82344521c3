// Package quote resolves authoritative prices and provider availability from
// the provider service. Client-supplied prices are never trusted; the quote
// returned here is the only money source for a booking.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"booking-service/internal/redisclient"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// Quote is the authoritative price and duration for a provider service.
type Quote struct {
	PriceMinorUnits int64  `json:"price_minor_units"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	ProviderAuthID  string `json:"provider_auth_id"`
}

// MinuteInterval is a half-open interval in minutes from midnight.
type MinuteInterval struct {
	StartMinutes int `json:"start_minutes"`
	EndMinutes   int `json:"end_minutes"`
}

type openIntervalsResponse struct {
	OpenIntervals []MinuteInterval `json:"open_intervals"`
}

// Client fetches quotes over HTTP with a short-lived Redis cache in front.
// Cache failures degrade to a direct call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *redisclient.Client
	cacheTTL   time.Duration
	logger     *zap.Logger
}

type Config struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// NewClient creates a new quote resolver client. cache may be nil.
func NewClient(cfg Config, cache *redisclient.Client) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		cacheTTL:   cfg.CacheTTL,
		logger:     util.NamedLogger("quote"),
	}
}

// GetQuote fetches the authoritative price for a provider service.
func (c *Client) GetQuote(ctx context.Context, providerID, serviceID string) (*Quote, error) {
	start := time.Now()
	defer func() {
		util.QuoteLookupLatency.Observe(time.Since(start).Seconds())
	}()

	cacheKey := fmt.Sprintf("quote:%s:%s", providerID, serviceID)
	if c.cache != nil {
		var cached Quote
		err := c.cache.GetJSON(ctx, cacheKey, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, redisclient.ErrCacheMiss) {
			c.logger.Warn("Quote cache read failed, falling back to provider service",
				zap.String("provider_id", providerID),
				zap.Error(err))
		}
	}

	path := fmt.Sprintf("/internal/providers/%s/services/%s/quote",
		url.PathEscape(providerID), url.PathEscape(serviceID))

	var q Quote
	if err := c.get(ctx, path, &q); err != nil {
		return nil, fmt.Errorf("get quote: %w", err)
	}

	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, cacheKey, &q, c.cacheTTL); err != nil {
			c.logger.Warn("Quote cache write failed", zap.Error(err))
		}
	}
	return &q, nil
}

// GetOpenIntervals fetches the provider's open time intervals for a date
// (format 2006-01-02), in minutes from midnight.
func (c *Client) GetOpenIntervals(ctx context.Context, providerID, date string) ([]MinuteInterval, error) {
	cacheKey := fmt.Sprintf("open-intervals:%s:%s", providerID, date)
	if c.cache != nil {
		var cached []MinuteInterval
		err := c.cache.GetJSON(ctx, cacheKey, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, redisclient.ErrCacheMiss) {
			c.logger.Warn("Open-intervals cache read failed, falling back to provider service",
				zap.String("provider_id", providerID),
				zap.Error(err))
		}
	}

	path := fmt.Sprintf("/internal/providers/%s/availability?date=%s",
		url.PathEscape(providerID), url.QueryEscape(date))

	var resp openIntervalsResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("get open intervals: %w", err)
	}

	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, cacheKey, resp.OpenIntervals, c.cacheTTL); err != nil {
			c.logger.Warn("Open-intervals cache write failed", zap.Error(err))
		}
	}
	return resp.OpenIntervals, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider service returned status %d: %s", resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}
