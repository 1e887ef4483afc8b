package priceapi

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var fixedStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type stubFetcher struct {
	calls int
	price float64
	err   error
}

func (s *stubFetcher) FetchPrice(ctx context.Context) (float64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.price, nil
}

func TestGetServesCacheWithinTTL(t *testing.T) {
	clk := clock.NewTestClock(fixedStart)
	fetcher := &stubFetcher{price: 50000}
	c := New(fetcher, clk)

	price, err := c.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 50000.0, price)
	require.Equal(t, 1, fetcher.calls)

	clk.SetTime(clk.Now().Add(TTL - 1))
	price, err = c.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 50000.0, price)
	require.Equal(t, 1, fetcher.calls, "second call within TTL must not refetch")
}

func TestGetRefetchesAfterTTL(t *testing.T) {
	clk := clock.NewTestClock(fixedStart)
	fetcher := &stubFetcher{price: 50000}
	c := New(fetcher, clk)

	_, err := c.Get(context.Background())
	require.NoError(t, err)

	clk.SetTime(clk.Now().Add(TTL + 1))
	fetcher.price = 60000
	price, err := c.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 60000.0, price)
	require.Equal(t, 2, fetcher.calls)
}

func TestGetFallsBackToStaleOnFetchError(t *testing.T) {
	clk := clock.NewTestClock(fixedStart)
	fetcher := &stubFetcher{price: 50000}
	c := New(fetcher, clk)

	_, err := c.Get(context.Background())
	require.NoError(t, err)

	clk.SetTime(clk.Now().Add(TTL + 1))
	fetcher.err = fmt.Errorf("network down")
	price, err := c.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 50000.0, price)
}

func TestGetSurfacesErrorWithNoCachedValue(t *testing.T) {
	clk := clock.NewTestClock(fixedStart)
	fetcher := &stubFetcher{err: fmt.Errorf("network down")}
	c := New(fetcher, clk)

	_, err := c.Get(context.Background())
	require.Error(t, err)
}
