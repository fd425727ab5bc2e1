package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/quoterelay/quoterelay/internal/aggregate"
	"github.com/quoterelay/quoterelay/internal/metrics"
)

const userAgent = "quoterelay/1.0"

// Config bounds a single upstream attempt.
type Config struct {
	Timeout time.Duration // per-attempt deadline
	Retries int           // additional attempts after the first failure
}

// Fetcher runs HTTP ticker fetches against the source table with a
// per-attempt deadline, one retry by default, and a circuit breaker per
// source. A tripped breaker fails the attempt immediately.
type Fetcher struct {
	client   *http.Client
	table    map[string]Source
	order    []string
	cfg      Config
	breakers map[string]*gobreaker.CircuitBreaker
	metrics  *metrics.Metrics
}

func NewFetcher(cfg Config, srcs []Source, m *metrics.Metrics) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2500 * time.Millisecond
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	f := &Fetcher{
		client:   &http.Client{Timeout: cfg.Timeout},
		table:    make(map[string]Source, len(srcs)),
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(srcs)),
		metrics:  m,
	}
	for _, s := range srcs {
		f.table[s.Name] = s
		f.order = append(f.order, s.Name)
		f.breakers[s.Name] = gobreaker.NewCircuitBreaker(breakerSettings(s.Name))
	}
	return f
}

func breakerSettings(name string) gobreaker.Settings {
	st := gobreaker.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}
	return st
}

// SourceNames returns the recognized names in table order.
func (f *Fetcher) SourceNames() []string {
	names := make([]string, len(f.order))
	copy(names, f.order)
	return names
}

// FilterRecognized drops unknown names, preserving table order. An
// empty result means the caller should fall back to all sources.
func (f *Fetcher) FilterRecognized(requested []string) []string {
	if len(requested) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(requested))
	for _, name := range requested {
		wanted[name] = true
	}
	var out []string
	for _, name := range f.order {
		if wanted[name] {
			out = append(out, name)
		}
	}
	return out
}

// Fetch gets one sample from the named source, retrying on any failure.
// Each attempt gets a fresh deadline.
func (f *Fetcher) Fetch(ctx context.Context, name string) (aggregate.Sample, error) {
	src, ok := f.table[name]
	if !ok {
		return aggregate.Sample{}, fmt.Errorf("unknown source %q", name)
	}

	var lastErr error
	for attempt := 0; attempt <= f.cfg.Retries; attempt++ {
		start := time.Now()
		value, err := f.attempt(ctx, src)
		f.metrics.ObserveFetch(name, time.Since(start).Seconds())
		if err == nil {
			f.metrics.IncFetch(name, "ok")
			return aggregate.Sample{Source: name, Value: value, TsMs: time.Now().UnixMilli()}, nil
		}
		f.metrics.IncFetch(name, "error")
		lastErr = err
		log.Debug().Err(err).Str("source", name).Int("attempt", attempt+1).Msg("upstream fetch failed")
	}
	return aggregate.Sample{}, fmt.Errorf("%s: %w", name, lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, src Source) (float64, error) {
	result, err := f.breakers[src.Name].Execute(func() (interface{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, src.URL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("http %d", resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		return src.Extract(body)
	})
	if err != nil {
		return 0, err
	}
	return result.(float64), nil
}

// FetchAll fans out every named source in parallel and returns the
// successful samples. Individual failures are absorbed here; the caller
// decides whether the survivors meet quorum.
func (f *Fetcher) FetchAll(ctx context.Context, names []string) []aggregate.Sample {
	results := make([]aggregate.Sample, len(names))
	errs := make([]error, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i], errs[i] = f.Fetch(ctx, name)
		}(i, name)
	}
	wg.Wait()

	samples := make([]aggregate.Sample, 0, len(names))
	for i := range results {
		if errs[i] == nil {
			samples = append(samples, results[i])
		}
	}
	return samples
}
