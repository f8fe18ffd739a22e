package registry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/metrics"
	"github.com/honeycombio/rebalancer/types"
)

type blendedRate struct {
	rate    float64
	defined bool
}

// CachedRegistry fronts a Source with short-lived LRU caches. Only
// successful lookups are cached; ErrNotFound and backend errors always go
// to the source.
type CachedRegistry struct {
	Config  config.Config   `inject:""`
	Logger  logger.Logger   `inject:""`
	Metrics metrics.Metrics `inject:"metrics"`
	Source  Source          `inject:"registrySource"`

	caches atomic.Pointer[registryCaches]
}

type registryCaches struct {
	orgs     *expirable.LRU[types.OrgID, Organization]
	projects *expirable.LRU[types.OrgID, []types.ProjectID]
	blended  *expirable.LRU[types.OrgID, blendedRate]
}

var _ Source = (*CachedRegistry)(nil)

var cachedRegistryMetrics = []metrics.Metadata{
	{Name: "registry_cache_hits", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "registry lookups answered from cache"},
	{Name: "registry_cache_misses", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "registry lookups sent to the database"},
}

func (c *CachedRegistry) Start() error {
	for _, m := range cachedRegistryMetrics {
		c.Metrics.Register(m)
	}
	c.resetCaches()
	c.Config.RegisterReloadCallback(func(string) { c.resetCaches() })
	return nil
}

func (c *CachedRegistry) resetCaches() {
	cfg := c.Config.GetRegistryConfig()
	size := cfg.CacheSize
	if size <= 0 {
		size = 1
	}
	ttl := time.Duration(cfg.CacheTTL)
	c.caches.Store(&registryCaches{
		orgs:     expirable.NewLRU[types.OrgID, Organization](size, nil, ttl),
		projects: expirable.NewLRU[types.OrgID, []types.ProjectID](size, nil, ttl),
		blended:  expirable.NewLRU[types.OrgID, blendedRate](size, nil, ttl),
	})
}

func (c *CachedRegistry) hit(found bool) {
	if found {
		c.Metrics.Increment("registry_cache_hits")
	} else {
		c.Metrics.Increment("registry_cache_misses")
	}
}

func (c *CachedRegistry) GetOrganization(ctx context.Context, id types.OrgID) (Organization, error) {
	org, ok := c.caches.Load().orgs.Get(id)
	c.hit(ok)
	if ok {
		return org, nil
	}
	org, err := c.Source.GetOrganization(ctx, id)
	if err != nil {
		return Organization{}, err
	}
	c.caches.Load().orgs.Add(id, org)
	return org, nil
}

func (c *CachedRegistry) ActiveProjectIDs(ctx context.Context, org types.OrgID) ([]types.ProjectID, error) {
	ids, ok := c.caches.Load().projects.Get(org)
	c.hit(ok)
	if ok {
		return append([]types.ProjectID(nil), ids...), nil
	}
	ids, err := c.Source.ActiveProjectIDs(ctx, org)
	if err != nil {
		return nil, err
	}
	c.caches.Load().projects.Add(org, append([]types.ProjectID(nil), ids...))
	return ids, nil
}

// ActiveOrganizations is read once per pass and is never cached.
func (c *CachedRegistry) ActiveOrganizations(ctx context.Context) ([]OrgSummary, error) {
	return c.Source.ActiveOrganizations(ctx)
}

func (c *CachedRegistry) GetBlendedSampleRate(ctx context.Context, org types.OrgID) (float64, bool, error) {
	br, ok := c.caches.Load().blended.Get(org)
	c.hit(ok)
	if ok {
		return br.rate, br.defined, nil
	}
	rate, defined, err := c.Source.GetBlendedSampleRate(ctx, org)
	if err != nil {
		return 0, false, err
	}
	c.caches.Load().blended.Add(org, blendedRate{rate: rate, defined: defined})
	return rate, defined, nil
}
