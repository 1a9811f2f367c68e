package venue

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"github.com/apexmev/flasharb/metrics"
)

// CachedQuoterConfig bounds the quote cache and the upstream call rate.
type CachedQuoterConfig struct {
	CacheSize int
	MaxAge    time.Duration
	RateLimit rate.Limit
	RateBurst int
}

// CachedQuoter wraps a Quoter with an LRU quote cache and a rate limiter on
// upstream calls. Cached quotes are advisory: execution amounts always come
// from swap results, so serving a quote up to MaxAge old is safe.
type CachedQuoter struct {
	inner   Quoter
	cache   *lru.Cache
	limiter *rate.Limiter
	maxAge  time.Duration
	metrics *metrics.QuoterMetrics
	now     func() time.Time
}

type cachedQuote struct {
	amounts []*big.Int
	at      time.Time
}

// NewCachedQuoter wraps inner with caching and rate limiting.
func NewCachedQuoter(inner Quoter, cfg CachedQuoterConfig, m *metrics.QuoterMetrics) (*CachedQuoter, error) {
	if inner == nil {
		return nil, errors.New("inner quoter is required")
	}
	if m == nil {
		return nil, errors.New("quoter metrics are required")
	}
	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", cfg.CacheSize)
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("max age must be positive, got %s", cfg.MaxAge)
	}
	if cfg.RateLimit <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %v", cfg.RateLimit)
	}

	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create quote cache: %w", err)
	}

	return &CachedQuoter{
		inner:   inner,
		cache:   cache,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		maxAge:  cfg.MaxAge,
		metrics: m,
		now:     time.Now,
	}, nil
}

// GetAmountsOut serves the quote from cache when fresh, otherwise waits for
// the rate limiter and asks the wrapped quoter.
func (c *CachedQuoter) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if amountIn == nil {
		return nil, errors.New("input amount is required")
	}

	key := quoteKey(amountIn, path)
	if v, ok := c.cache.Get(key); ok {
		q := v.(cachedQuote)
		if c.now().Sub(q.at) <= c.maxAge {
			c.metrics.CacheHits.Inc()
			return copyAmounts(q.amounts), nil
		}
		c.cache.Remove(key)
	}
	c.metrics.CacheMisses.Inc()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	amounts, err := c.inner.GetAmountsOut(ctx, amountIn, path)
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, cachedQuote{amounts: copyAmounts(amounts), at: c.now()})
	return amounts, nil
}

// quoteKey hashes the input amount and path into one cache key.
func quoteKey(amountIn *big.Int, path []common.Address) uint64 {
	h := xxhash.New()
	_, _ = h.Write(amountIn.Bytes())
	_, _ = h.Write([]byte{0})
	for _, a := range path {
		_, _ = h.Write(a.Bytes())
	}
	return h.Sum64()
}

func copyAmounts(amounts []*big.Int) []*big.Int {
	out := make([]*big.Int, len(amounts))
	for i, a := range amounts {
		out[i] = new(big.Int).Set(a)
	}
	return out
}
