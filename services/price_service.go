package services

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultFallbackTimeout bounds one shared fallback fetch
const DefaultFallbackTimeout = 10 * time.Second

// PriceFetcher is a pull source consulted on cache miss
type PriceFetcher interface {
	Fetch(ctx context.Context) (string, bool)
}

// PriceService reads the current price cache-aside: cache first, fetcher on miss.
// Concurrent misses share one fetch.
type PriceService struct {
	cache        PriceCache
	fetcher      PriceFetcher
	group        singleflight.Group
	fetchTimeout time.Duration
	logger       *zap.Logger
}

func NewPriceService(cache PriceCache, fetcher PriceFetcher, logger *zap.Logger) *PriceService {
	return &PriceService{
		cache:        cache,
		fetcher:      fetcher,
		fetchTimeout: DefaultFallbackTimeout,
		logger:       logger.Named("price"),
	}
}

// CurrentPrice returns found == false when neither the cache nor the fetcher has a price,
// or when ctx ends before the shared fetch completes.
func (s *PriceService) CurrentPrice(ctx context.Context) (string, bool) {
	price, found, err := s.cache.Get(ctx)
	if err != nil {
		// A broken cache reads as a miss
		s.logger.Warn("Price cache read failed", zap.Error(err))
	} else if found {
		return price, true
	}

	// The shared fetch outlives any single caller; each caller waits on its own ctx
	ch := s.group.DoChan("fallback", func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		p, ok := s.fetcher.Fetch(fctx)
		if !ok {
			return "", nil
		}
		return p, nil
	})

	select {
	case res := <-ch:
		price, _ = res.Val.(string)
		return price, price != ""
	case <-ctx.Done():
		return "", false
	}
}
