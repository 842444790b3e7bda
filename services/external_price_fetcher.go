package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"price_alert_backend/metrics"
	"price_alert_backend/models"
)

var errEmptyPrice = errors.New("ticker response has no price")

// ExternalPriceFetcher is the cache-miss fallback: one request against the
// exchange ticker endpoint, result written to the cache.
type ExternalPriceFetcher struct {
	url     string
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
	cache   PriceCache
	logger  *zap.Logger
}

// NewExternalPriceFetcher creates a fetcher for tickerURL
func NewExternalPriceFetcher(tickerURL string, timeout time.Duration, cache PriceCache, logger *zap.Logger) *ExternalPriceFetcher {
	logger = logger.Named("fetcher")
	return &ExternalPriceFetcher{
		url:    tickerURL,
		client: resty.New().SetTimeout(timeout).SetHeader("Accept", "application/json"),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ticker",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Ticker circuit breaker state changed",
					zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}),
		cache:  cache,
		logger: logger,
	}
}

// Fetch returns the current price, or found == false on any failure
func (f *ExternalPriceFetcher) Fetch(ctx context.Context) (string, bool) {
	res, err := f.breaker.Execute(func() (interface{}, error) {
		return f.fetch(ctx)
	})
	if err != nil {
		metrics.FallbackFetches.WithLabelValues(metrics.ResultFailure).Inc()
		f.logger.Warn("Fallback price fetch failed", zap.String("url", f.url), zap.Error(err))
		return "", false
	}
	price := res.(string)

	if err := f.cache.Set(ctx, price); err != nil {
		f.logger.Error("Failed to cache fetched price", zap.String("price", price), zap.Error(err))
	}
	metrics.FallbackFetches.WithLabelValues(metrics.ResultSuccess).Inc()
	return price, true
}

func (f *ExternalPriceFetcher) fetch(ctx context.Context) (string, error) {
	resp, err := f.client.R().SetContext(ctx).Get(f.url)
	if err != nil {
		return "", fmt.Errorf("request ticker: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("ticker endpoint returned status %d", resp.StatusCode())
	}

	var ticker models.TickerPrice
	if err := json.Unmarshal(resp.Body(), &ticker); err != nil {
		return "", fmt.Errorf("decode ticker: %w", err)
	}
	if ticker.Price == "" {
		return "", errEmptyPrice
	}
	if _, err := models.ParsePrice(ticker.Price); err != nil {
		return "", fmt.Errorf("invalid ticker price %q: %w", ticker.Price, err)
	}
	return ticker.Price, nil
}
