package permissions

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/peopleops/portal/pkg/observability"
)

// ResolvedSetCache is the process-wide cache of resolved permission sets,
// keyed by (tenant, user). Entries expire on a TTL and are explicitly
// invalidated whenever roles, overrides or the catalog change.
type ResolvedSetCache struct {
	resolver *Resolver
	lru      *expirable.LRU[string, *ResolvedSet]
	sf       singleflight.Group
	metrics  *observability.Metrics
}

// NewResolvedSetCache creates a cache holding up to size entries for ttl
func NewResolvedSetCache(resolver *Resolver, size int, ttl time.Duration, metrics *observability.Metrics) *ResolvedSetCache {
	return &ResolvedSetCache{
		resolver: resolver,
		lru:      expirable.NewLRU[string, *ResolvedSet](size, nil, ttl),
		metrics:  metrics,
	}
}

func cacheKey(userID, tenantID string) string {
	return tenantID + "/" + userID
}

// GetOrResolve returns the cached set for the pair, resolving on a miss.
// Concurrent misses for the same key are deduplicated: a second caller
// reuses the in-flight resolution instead of double-querying the store.
func (c *ResolvedSetCache) GetOrResolve(ctx context.Context, userID, tenantID string) (*ResolvedSet, error) {
	key := cacheKey(userID, tenantID)

	if set, ok := c.lru.Get(key); ok {
		if c.metrics != nil {
			c.metrics.CacheHitsTotal.Inc()
		}
		return set, nil
	}
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		set, err := c.resolver.Resolve(ctx, userID, tenantID)
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, set)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*ResolvedSet), nil
}

// Invalidate drops the cached set for one (user, tenant) pair
func (c *ResolvedSetCache) Invalidate(userID, tenantID string) {
	if c.lru.Remove(cacheKey(userID, tenantID)) && c.metrics != nil {
		c.metrics.CacheInvalidations.Inc()
	}
}

// InvalidateTenant drops every cached set for a tenant. Used after role or
// catalog changes, which can affect any user in the tenant.
func (c *ResolvedSetCache) InvalidateTenant(tenantID string) {
	prefix := tenantID + "/"
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			if c.lru.Remove(key) && c.metrics != nil {
				c.metrics.CacheInvalidations.Inc()
			}
		}
	}
}

// Clear drops every cached set
func (c *ResolvedSetCache) Clear() {
	c.lru.Purge()
	if c.metrics != nil {
		c.metrics.CacheInvalidations.Inc()
	}
}

// Len returns the number of cached sets
func (c *ResolvedSetCache) Len() int {
	return c.lru.Len()
}

// Source selects where a session's permissions come from. Exactly one
// variant is active per session: a real user resolved against the store,
// or a demo role served from a fixed table.
type Source interface {
	sourceKey() string
}

// RealSource resolves permissions for an authenticated user in a tenant
type RealSource struct {
	UserID   string
	TenantID string
}

func (s RealSource) sourceKey() string { return "real/" + s.TenantID + "/" + s.UserID }

// DemoSource serves a fixed permission table for an unauthenticated demo
type DemoSource struct {
	Role string
}

func (s DemoSource) sourceKey() string { return "demo/" + s.Role }

// SessionCache holds the resolved set for one caller session and exposes
// the synchronous check predicates. It is created per session, never
// shared across sessions, so a server-rendered request can't observe
// another user's permissions.
//
// Fetch suspends; the predicates never do. They read the last settled
// snapshot, which may be momentarily stale relative to an in-flight fetch.
// On any error state the predicates fail closed.
type SessionCache struct {
	shared *ResolvedSetCache
	demo   *DemoTable

	mu       sync.Mutex
	source   Source
	seq      uint64
	loading  bool
	resolved *ResolvedSet
	err      error
}

// NewSessionCache creates an empty session cache. A source must be set
// with UseReal or UseDemo before Fetch.
func NewSessionCache(shared *ResolvedSetCache, demo *DemoTable) *SessionCache {
	return &SessionCache{
		shared: shared,
		demo:   demo,
	}
}

// UseReal points the session at an authenticated (user, tenant) pair.
// Switching source invalidates the current snapshot; an in-flight fetch
// for the old source is discarded when it completes.
func (sc *SessionCache) UseReal(userID, tenantID string) {
	sc.setSource(RealSource{UserID: userID, TenantID: tenantID})
}

// UseDemo points the session at a demo role
func (sc *SessionCache) UseDemo(role string) {
	sc.setSource(DemoSource{Role: role})
}

func (sc *SessionCache) setSource(source Source) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.source != nil && sc.source.sourceKey() == source.sourceKey() {
		return
	}
	sc.source = source
	sc.seq++
	sc.resolved = nil
	sc.err = nil
	sc.loading = false
}

// Fetch resolves the current source and stores the result. Completions of
// older fetches are discarded via a per-session sequence number, so a slow
// fetch can never overwrite the result of a newer one.
func (sc *SessionCache) Fetch(ctx context.Context) error {
	sc.mu.Lock()
	source := sc.source
	if source == nil {
		sc.mu.Unlock()
		return invalidArgument("no permission source selected")
	}
	sc.seq++
	seq := sc.seq
	sc.loading = true
	sc.err = nil
	sc.mu.Unlock()

	var set *ResolvedSet
	var err error
	switch src := source.(type) {
	case DemoSource:
		set, err = sc.demo.Resolve(src.Role)
	case RealSource:
		set, err = sc.shared.GetOrResolve(ctx, src.UserID, src.TenantID)
	default:
		err = invalidArgument("unknown permission source")
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.seq != seq {
		// A newer fetch started (or the source changed) while this one was
		// in flight. Its result is stale and must not be applied.
		return nil
	}
	sc.loading = false
	if err != nil {
		sc.resolved = nil
		sc.err = err
		return err
	}
	sc.resolved = set
	return nil
}

// Clear invalidates the session snapshot, forcing the next predicate call
// to reflect a not-yet-loaded state until Fetch completes again.
func (sc *SessionCache) Clear() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.seq++
	sc.resolved = nil
	sc.err = nil
	sc.loading = false
}

// IsLoading reports whether a fetch is in flight
func (sc *SessionCache) IsLoading() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.loading
}

// Err returns the error from the most recent fetch, if any
func (sc *SessionCache) Err() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.err
}

// Resolved returns the current snapshot, or nil if never loaded
func (sc *SessionCache) Resolved() *ResolvedSet {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.resolved
}

// snapshot returns the current set only when it is safe to trust: a failed
// or unloaded state reads as nil, which every predicate treats as denied.
func (sc *SessionCache) snapshot() *ResolvedSet {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.err != nil {
		return nil
	}
	return sc.resolved
}

// Can reports whether the exact permission code is in the resolved set
func (sc *SessionCache) Can(code string) bool {
	return sc.snapshot().Has(code)
}

// CanMenu reports whether a menu-category permission exposes the key.
// While resolution is pending or failed it returns false, so navigation
// defaults to hidden rather than flashing visible entries.
func (sc *SessionCache) CanMenu(menuKey string) bool {
	return sc.snapshot().HasMenu(menuKey)
}

// CanAny reports whether any of the codes is present
func (sc *SessionCache) CanAny(codes ...string) bool {
	set := sc.snapshot()
	for _, code := range codes {
		if set.Has(code) {
			return true
		}
	}
	return false
}

// CanAll reports whether every code is present
func (sc *SessionCache) CanAll(codes ...string) bool {
	set := sc.snapshot()
	if set == nil {
		return false
	}
	for _, code := range codes {
		if !set.Has(code) {
			return false
		}
	}
	return true
}

// CanResource reports whether the set satisfies (resource, action, scope),
// applying scope containment.
func (sc *SessionCache) CanResource(resource Resource, action Action, scope Scope) bool {
	return sc.snapshot().HasResource(resource, action, scope)
}
