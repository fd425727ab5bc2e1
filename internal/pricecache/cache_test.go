package pricecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quoterelay/quoterelay/internal/aggregate"
)

func testSamples() []aggregate.Sample {
	return []aggregate.Sample{
		{Source: "coinbase", Value: 60000, TsMs: 1},
		{Source: "kraken", Value: 60010, TsMs: 1},
	}
}

func TestMemoryCacheHit(t *testing.T) {
	c := NewMemoryCache(2 * time.Second)
	ctx := context.Background()

	_, _, err := c.Get(ctx, "BTC-USD")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "BTC-USD", testSamples()))
	entry, ageMs, err := c.Get(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Len(t, entry.Samples, 2)
	assert.GreaterOrEqual(t, ageMs, int64(0))
	assert.Less(t, ageMs, int64(2000))
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(10 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "BTC-USD", testSamples()))
	time.Sleep(30 * time.Millisecond)
	_, _, err := c.Get(ctx, "BTC-USD")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryCacheOverwrite(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "BTC-USD", testSamples()))
	require.NoError(t, c.Set(ctx, "BTC-USD", testSamples()[:1]))
	entry, _, err := c.Get(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Len(t, entry.Samples, 1)
}

func TestFlightCoalesces(t *testing.T) {
	f := NewFlight()
	release := make(chan struct{})
	var fanouts int64

	const waiters = 8
	var wg sync.WaitGroup
	var sharedCount int64
	results := make([][]aggregate.Sample, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			samples, shared, err := f.Do(context.Background(), "BTC-USD", func() ([]aggregate.Sample, error) {
				atomic.AddInt64(&fanouts, 1)
				<-release
				return testSamples(), nil
			})
			assert.NoError(t, err)
			if shared {
				atomic.AddInt64(&sharedCount, 1)
			}
			results[i] = samples
		}(i)
	}

	// Give every goroutine a chance to enter Do before the leader's
	// fetch resolves.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&fanouts))
	assert.Equal(t, int64(waiters-1), atomic.LoadInt64(&sharedCount))
	for _, r := range results {
		assert.Len(t, r, 2)
	}
}

func TestFlightSharesError(t *testing.T) {
	f := NewFlight()
	release := make(chan struct{})
	wantErr := errors.New("insufficient quorum")

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = f.Do(context.Background(), "BTC-USD", func() ([]aggregate.Sample, error) {
				<-release
				return nil, wantErr
			})
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, wantErr)
	}
}

func TestFlightNewCallAfterResolution(t *testing.T) {
	f := NewFlight()
	var fanouts int64
	fn := func() ([]aggregate.Sample, error) {
		atomic.AddInt64(&fanouts, 1)
		return testSamples(), nil
	}

	_, shared, err := f.Do(context.Background(), "BTC-USD", fn)
	require.NoError(t, err)
	assert.False(t, shared)

	_, shared, err = f.Do(context.Background(), "BTC-USD", fn)
	require.NoError(t, err)
	assert.False(t, shared)
	assert.Equal(t, int64(2), atomic.LoadInt64(&fanouts))
}

func TestFlightWaiterHonorsContext(t *testing.T) {
	f := NewFlight()
	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{})
	go func() {
		_, _, _ = f.Do(context.Background(), "BTC-USD", func() ([]aggregate.Sample, error) {
			close(started)
			<-release
			return testSamples(), nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, shared, err := f.Do(ctx, "BTC-USD", func() ([]aggregate.Sample, error) {
		t.Fatal("joiner must not run the fetch")
		return nil, nil
	})
	assert.True(t, shared)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
