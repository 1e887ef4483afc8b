// Package priceapi implements the TTL price cache described in
// SPEC_FULL.md §4.7/§8: a single cached (price, captured_at) pair with
// a 300-second freshness window and graceful degradation to the stale
// value on fetch error. Grounded on original_source's
// get_bitcoin_price/fetch_bitcoin_price.
package priceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/btcsuite/btclog"
	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/mplsgrant/mutiny-node/mutinyerr"
)

// TTL matches original_source's BITCOIN_PRICE_CACHE_SEC.
const TTL = 300 * time.Second

// CoingeckoURL is the price feed endpoint per SPEC_FULL.md §6.
const CoingeckoURL = "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd"

var log = btclog.Disabled

// UseLogger installs a subsystem logger, matching the teacher's
// per-package UseLogger convention.
func UseLogger(l btclog.Logger) { log = l }

// Fetcher retrieves a fresh price. HTTPFetcher is the production
// implementation; tests supply a stub.
type Fetcher interface {
	FetchPrice(ctx context.Context) (float64, error)
}

// HTTPFetcher calls the CoinGecko simple-price endpoint.
type HTTPFetcher struct {
	Client *http.Client
	URL    string
}

func (f *HTTPFetcher) url() string {
	if f.URL != "" {
		return f.URL
	}
	return CoingeckoURL
}

func (f *HTTPFetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

type coingeckoResponse struct {
	Bitcoin struct {
		USD float64 `json:"usd"`
	} `json:"bitcoin"`
}

func (f *HTTPFetcher) FetchPrice(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url(), nil)
	if err != nil {
		return 0, goerrors.Wrap(err, 1)
	}

	resp, err := f.client().Do(req)
	if err != nil {
		return 0, goerrors.Wrap(err, 1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("priceapi: unexpected status %d", resp.StatusCode)
	}

	var out coingeckoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, goerrors.Wrap(err, 1)
	}
	return out.Bitcoin.USD, nil
}

// priceCacheKey is the single fixed key under which the cached price
// lives — the cache holds exactly one entry, so a constant key suffices
// while still exercising neutrino/cache's generic eviction machinery.
type priceCacheKey struct{}

func (priceCacheKey) Hash() [32]byte { return [32]byte{} }

type priceCacheValue struct {
	price      float64
	capturedAt time.Time
}

func (v *priceCacheValue) Size() (uint64, error) { return 1, nil }

// Cache is the TTL-guarded price cache. The zero value is not usable;
// construct with New.
type Cache struct {
	mu      sync.Mutex
	fetcher Fetcher
	clock   clock.Clock
	inner   *lru.Cache
}

// New builds a Cache backed by fetcher, using clk for time so tests can
// control TTL expiry deterministically.
func New(fetcher Fetcher, clk clock.Clock) *Cache {
	return &Cache{
		fetcher: fetcher,
		clock:   clk,
		inner:   lru.NewCache(1),
	}
}

// Get returns the current price, serving the cached value if captured
// within the last TTL seconds (§4.7). On fetch failure it falls back to
// any previously cached value, however stale, logging a warning; with
// no cached value at all the error is surfaced as
// mutinyerr.BitcoinPriceError.
func (c *Cache) Get(ctx context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()

	if cached := c.peek(); cached != nil && now.Before(cached.capturedAt.Add(TTL)) {
		return cached.price, nil
	}

	price, err := c.fetcher.FetchPrice(ctx)
	if err != nil {
		if cached := c.peek(); cached != nil {
			log.Warnf("priceapi: fetch failed, serving stale price from %s: %v",
				cached.capturedAt, err)
			return cached.price, nil
		}
		return 0, mutinyerr.Wrap(mutinyerr.BitcoinPriceError, err)
	}

	if _, err := c.inner.Put(priceCacheKey{}, &priceCacheValue{price: price, capturedAt: now}); err != nil {
		log.Warnf("priceapi: failed to store cached price: %v", err)
	}
	return price, nil
}

func (c *Cache) peek() *priceCacheValue {
	v, err := c.inner.Get(priceCacheKey{})
	if err != nil || v == nil {
		return nil
	}
	pv, ok := v.(*priceCacheValue)
	if !ok {
		return nil
	}
	return pv
}

var _ cache.Value = (*priceCacheValue)(nil)
var _ cache.Hashable = priceCacheKey{}
