// Package rates maintains the BTC/USD reference rate used to express dollar
// amounts as coin quantities on statements and transfer records.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"qfs/pkg/cache"
	"qfs/pkg/errors"
	"qfs/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	cacheKey = "rates:btc_usd"
	cacheTTL = 24 * time.Hour
)

// Provider fetches the current BTC/USD rate from an upstream feed.
type Provider interface {
	Rate(ctx context.Context) (decimal.Decimal, error)
}

// CoinGeckoProvider reads the simple-price endpoint.
type CoinGeckoProvider struct {
	endpoint string
	client   *http.Client
}

func NewCoinGeckoProvider(endpoint string) *CoinGeckoProvider {
	return &CoinGeckoProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *CoinGeckoProvider) Rate(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "failed to build rate request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "failed to fetch rate")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("rate feed returned status %d", resp.StatusCode)
	}

	var payload struct {
		Bitcoin struct {
			USD json.Number `json:"usd"`
		} `json:"bitcoin"`
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "failed to decode rate response")
	}

	rate, err := decimal.NewFromString(payload.Bitcoin.USD.String())
	if err != nil || !rate.IsPositive() {
		return decimal.Decimal{}, errors.ErrRateNotAvailable
	}
	return rate, nil
}

// Service polls the provider on an interval and serves the latest rate.
// When no fetch has succeeded yet it falls back to the last cached value,
// then to the configured static rate, so balance math never blocks on the
// upstream feed.
type Service struct {
	provider Provider
	cache    *cache.RedisCache
	logger   logger.Logger

	interval time.Duration
	fallback decimal.Decimal

	mu        sync.RWMutex
	current   decimal.Decimal
	fetchedAt time.Time
}

func NewService(provider Provider, redisCache *cache.RedisCache, fallback decimal.Decimal, interval time.Duration, log logger.Logger) *Service {
	return &Service{
		provider: provider,
		cache:    redisCache,
		logger:   log,
		interval: interval,
		fallback: fallback,
	}
}

// Start runs the poll loop until ctx is cancelled. The first fetch happens
// immediately so the server comes up with a live rate when the feed is
// reachable.
func (s *Service) Start(ctx context.Context) {
	s.refresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *Service) refresh(ctx context.Context) {
	rate, err := s.provider.Rate(ctx)
	if err != nil {
		s.logger.Warn("Rate refresh failed, keeping previous value", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	s.mu.Lock()
	s.current = rate
	s.fetchedAt = time.Now()
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, rate.String(), cacheTTL); err != nil {
			s.logger.Warn("Rate cache write failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	s.logger.Debug("Rate refreshed", map[string]interface{}{
		"btc_usd": rate.String(),
	})
}

// Current returns the BTC/USD rate: the last live fetch, else the cached
// value from a previous process, else the static fallback.
func (s *Service) Current(ctx context.Context) decimal.Decimal {
	s.mu.RLock()
	rate := s.current
	s.mu.RUnlock()
	if rate.IsPositive() {
		return rate
	}

	if s.cache != nil {
		var cached string
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			if d, err := decimal.NewFromString(cached); err == nil && d.IsPositive() {
				return d
			}
		}
	}

	return s.fallback
}

// FetchedAt reports when the current live rate was obtained; zero when the
// service is still on the cached or fallback value.
func (s *Service) FetchedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchedAt
}

// ReferenceAmount converts a dollar amount into its coin quantity at the
// given rate, rounded to five decimal places.
func ReferenceAmount(amountUSD, rate decimal.Decimal) (decimal.Decimal, error) {
	if !rate.IsPositive() {
		return decimal.Decimal{}, errors.ErrRateNotAvailable
	}
	return amountUSD.DivRound(rate, 5), nil
}
