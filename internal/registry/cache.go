package registry

import (
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"clear25/internal/types"
)

// StationSource is the loading interface the cache memoizes. Satisfied by
// *Loader; swapped for a fake in tests.
type StationSource interface {
	Load(cityKey string) ([]types.Station, []RowWarning)
}

// Cache is a read-through, memoizing station cache keyed by city. Entries are
// populated once and persist for the process lifetime; explicit invalidation
// is deliberately absent. Concurrent first access to the same city collapses
// into a single workbook read via singleflight, so racing cycles cannot
// populate an entry twice or observe a partial one.
type Cache struct {
	source StationSource

	group singleflight.Group
	mu    sync.RWMutex
	byCity map[string][]types.Station
	all    []types.Station
	allSet bool
}

// NewCache creates a Cache over the given source.
func NewCache(source StationSource) *Cache {
	return &Cache{
		source: source,
		byCity: make(map[string][]types.Station),
	}
}

// Load returns the station registry for one city, reading the workbook at
// most once per process. Repeated calls return the same slice; callers must
// treat it as immutable.
func (c *Cache) Load(cityKey string) []types.Station {
	c.mu.RLock()
	cached, ok := c.byCity[cityKey]
	c.mu.RUnlock()
	if ok {
		return cached
	}

	v, _, _ := c.group.Do(cityKey, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have stored
		// the entry between the RLock and Do.
		c.mu.RLock()
		cached, ok := c.byCity[cityKey]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		stations, _ := c.source.Load(cityKey)
		if stations == nil {
			stations = []types.Station{}
		}

		c.mu.Lock()
		c.byCity[cityKey] = stations
		c.mu.Unlock()
		return stations, nil
	})

	return v.([]types.Station)
}

// LoadAll returns stations from every monitored city, each tagged with its
// target city, sorted by (target_city ascending, tier ascending, distance
// descending). The aggregate is memoized like the per-city entries.
func (c *Cache) LoadAll() []types.Station {
	c.mu.RLock()
	if c.allSet {
		all := c.all
		c.mu.RUnlock()
		return all
	}
	c.mu.RUnlock()

	v, _, _ := c.group.Do("_all", func() (any, error) {
		c.mu.RLock()
		if c.allSet {
			all := c.all
			c.mu.RUnlock()
			return all, nil
		}
		c.mu.RUnlock()

		var all []types.Station
		for _, city := range types.CityKeys() {
			all = append(all, c.Load(city)...)
		}

		sort.SliceStable(all, func(i, j int) bool {
			if all[i].TargetCity != all[j].TargetCity {
				return all[i].TargetCity < all[j].TargetCity
			}
			if all[i].Tier != all[j].Tier {
				return all[i].Tier < all[j].Tier
			}
			return all[i].DistanceKm > all[j].DistanceKm
		})

		c.mu.Lock()
		c.all = all
		c.allSet = true
		c.mu.Unlock()
		return all, nil
	})

	return v.([]types.Station)
}
