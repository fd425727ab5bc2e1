// Package pricecache keeps the most recent upstream sample set behind a
// TTL and coalesces concurrent fan-outs with a single in-flight record
// per pair.
package pricecache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quoterelay/quoterelay/internal/aggregate"
)

// ErrMiss is returned when no fresh entry exists.
var ErrMiss = errors.New("price cache miss")

// Entry is one cached sample set. Sources within an entry are unique.
type Entry struct {
	TsMs    int64             `json:"ts_ms"`
	Samples []aggregate.Sample `json:"samples"`
}

// SampleCache stores at most one entry per pair. Get reports the entry
// and its age iff the age is within the TTL; otherwise ErrMiss.
type SampleCache interface {
	Get(ctx context.Context, pair string) (Entry, int64, error)
	Set(ctx context.Context, pair string, samples []aggregate.Sample) error
}

// MemoryCache is the default process-local backend.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, pair string) (Entry, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[pair]
	if !ok {
		return Entry{}, 0, ErrMiss
	}
	ageMs := c.now().UnixMilli() - entry.TsMs
	if ageMs > c.ttl.Milliseconds() {
		return Entry{}, 0, ErrMiss
	}
	return entry, ageMs, nil
}

func (c *MemoryCache) Set(_ context.Context, pair string, samples []aggregate.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[pair] = Entry{TsMs: c.now().UnixMilli(), Samples: samples}
	return nil
}

// Flight coalesces concurrent fan-outs per pair: the first caller runs
// fn, later callers block on the same result and aggregate it with
// their own method afterwards.
type Flight struct {
	mu    sync.Mutex
	calls map[string]*call
}

type call struct {
	done    chan struct{}
	samples []aggregate.Sample
	err     error
}

func NewFlight() *Flight {
	return &Flight{calls: make(map[string]*call)}
}

// Do returns fn's samples, running it at most once across concurrent
// callers for the same pair. shared reports whether this caller joined
// an existing flight. The leader's ctx drives fn; joiners still honor
// their own ctx while waiting.
func (f *Flight) Do(ctx context.Context, pair string, fn func() ([]aggregate.Sample, error)) (samples []aggregate.Sample, shared bool, err error) {
	f.mu.Lock()
	if c, ok := f.calls[pair]; ok {
		f.mu.Unlock()
		select {
		case <-c.done:
			return c.samples, true, c.err
		case <-ctx.Done():
			return nil, true, ctx.Err()
		}
	}
	c := &call{done: make(chan struct{})}
	f.calls[pair] = c
	f.mu.Unlock()

	c.samples, c.err = fn()
	close(c.done)

	f.mu.Lock()
	delete(f.calls, pair)
	f.mu.Unlock()

	return c.samples, false, c.err
}
