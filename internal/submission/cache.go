// Package submission prepares and memoizes the static assets of each
// configured workflow.
package submission

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"lira/pkg/models"
)

const defaultBuildTimeout = 2 * time.Minute

// Fetcher downloads the content behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetchError reports which asset could not be downloaded.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"currsize"`
}

// Cache memoizes one Artifact per distinct workflow configuration.
// Concurrent requests for the same configuration share a single build;
// different configurations build independently. Failed builds are not
// stored. Entries are never evicted.
type Cache struct {
	fetcher      Fetcher
	enabled      bool
	buildTimeout time.Duration

	mu      sync.RWMutex
	entries map[string]*Artifact
	group   singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64

	hitCounter  metric.Int64Counter
	missCounter metric.Int64Counter
}

// Option configures a Cache.
type Option func(*Cache)

// WithMemoization turns storing of built artifacts on or off. With it off
// every call builds a fresh artifact.
func WithMemoization(enabled bool) Option {
	return func(c *Cache) { c.enabled = enabled }
}

// WithBuildTimeout bounds a single build, independent of any caller.
func WithBuildTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.buildTimeout = d
		}
	}
}

// NewCache creates a Cache that downloads assets with fetcher.
func NewCache(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher:      fetcher,
		enabled:      true,
		buildTimeout: defaultBuildTimeout,
		entries:      make(map[string]*Artifact),
	}
	for _, opt := range opts {
		opt(c)
	}

	meter := otel.Meter("lira/submission")
	var err error
	if c.hitCounter, err = meter.Int64Counter("lira.submission_cache.hits"); err != nil {
		c.hitCounter = noop.Int64Counter{}
	}
	if c.missCounter, err = meter.Int64Counter("lira.submission_cache.misses"); err != nil {
		c.missCounter = noop.Int64Counter{}
	}
	return c
}

// GetOrBuild returns the artifact for cfg, building it on first use.
// If ctx ends while waiting, GetOrBuild returns ctx.Err() but a build
// already in flight continues for the other waiters.
func (c *Cache) GetOrBuild(ctx context.Context, cfg models.WorkflowConfig, submitWDL string) (*Artifact, error) {
	if !c.enabled {
		c.recordMiss(ctx)
		return c.build(ctx, cfg, submitWDL)
	}

	key := cfg.Key() + strconv.Itoa(len(submitWDL)) + ":" + submitWDL
	if a := c.lookup(key); a != nil {
		c.recordHit(ctx)
		return a, nil
	}

	executed := false
	ch := c.group.DoChan(key, func() (any, error) {
		executed = true
		// another caller may have stored it between lookup and DoChan
		if a := c.lookup(key); a != nil {
			c.recordHit(ctx)
			return a, nil
		}
		c.recordMiss(ctx)

		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.buildTimeout)
		defer cancel()
		a, err := c.build(buildCtx, cfg, submitWDL)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = a
		c.mu.Unlock()
		return a, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if !executed {
			c.recordHit(ctx)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Artifact), nil
	}
}

// Stats returns the current hit, miss and size counts.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: size}
}

// Enabled reports whether artifacts are memoized.
func (c *Cache) Enabled() bool {
	return c.enabled
}

func (c *Cache) lookup(key string) *Artifact {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key]
}

func (c *Cache) recordHit(ctx context.Context) {
	c.hits.Add(1)
	c.hitCounter.Add(ctx, 1)
}

func (c *Cache) recordMiss(ctx context.Context) {
	c.misses.Add(1)
	c.missCounter.Add(ctx, 1)
}

// build downloads the WDL, static inputs and options in that order, then
// every dependency concurrently.
func (c *Cache) build(ctx context.Context, cfg models.WorkflowConfig, submitWDL string) (*Artifact, error) {
	wdl, err := c.fetch(ctx, cfg.WDLLink)
	if err != nil {
		return nil, err
	}
	inputs, err := c.fetch(ctx, cfg.StaticInputsLink)
	if err != nil {
		return nil, err
	}
	options, err := c.fetch(ctx, cfg.OptionsLink)
	if err != nil {
		return nil, err
	}

	links := cfg.Links(submitWDL)
	deps := make(map[string][]byte, len(links))
	var depsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, link := range links {
		g.Go(func() error {
			body, err := c.fetch(gctx, link)
			if err != nil {
				return err
			}
			depsMu.Lock()
			deps[link] = body
			depsMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Artifact{WDL: wdl, StaticInputs: inputs, Options: options, Dependencies: deps}, nil
}

func (c *Cache) fetch(ctx context.Context, link string) ([]byte, error) {
	body, err := c.fetcher.Fetch(ctx, link)
	if err != nil {
		return nil, &FetchError{URL: link, Err: err}
	}
	return body, nil
}
