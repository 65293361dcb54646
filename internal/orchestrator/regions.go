package orchestrator

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/shubhanshu-sudo/Scrapper/internal/geo"
)

// regionCache resolves each location once per task. Concurrent keyword
// contexts asking for the same location share one geocoder call.
type regionCache struct {
	resolver RegionResolver
	group    singleflight.Group

	mu   sync.Mutex
	seen map[string]geo.Region
}

func newRegionCache(r RegionResolver) *regionCache {
	return &regionCache{resolver: r, seen: make(map[string]geo.Region)}
}

func (c *regionCache) resolve(ctx context.Context, location string) geo.Region {
	c.mu.Lock()
	r, ok := c.seen[location]
	c.mu.Unlock()
	if ok {
		return r
	}

	v, _, _ := c.group.Do(location, func() (any, error) {
		c.mu.Lock()
		r, ok := c.seen[location]
		c.mu.Unlock()
		if ok {
			return r, nil
		}
		r = c.resolver.Resolve(ctx, location)
		c.mu.Lock()
		c.seen[location] = r
		c.mu.Unlock()
		return r, nil
	})
	return v.(geo.Region)
}
