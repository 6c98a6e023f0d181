// Package cache provides the stores that sit in front of the primary lookup.
//
// Two implementations share the Store contract:
//
//   - Expiring: an in-process, bounded, lazily-expiring cache. Expired
//     entries are drained from an oldest-deadline-first heap on every Get,
//     so no background goroutine is needed. When the cache grows beyond its
//     configured maximum, it is cleared completely before the next insert.
//   - Redis: a shared cache backed by Redis, storing JSON-encoded values
//     with native key expiry.
//
// # Basic Usage
//
//	c := cache.NewExpiring[[]mashup.Subject]("primary", 1000)
//
//	if err := c.Set(ctx, key, subjects, time.Minute); err != nil {
//		return err
//	}
//
//	subjects, err := c.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from upstream
//	}
//
// A TTL <= 0 means "do not cache": Set returns nil and stores nothing.
//
// # Metrics
//
// With WithMetrics, Expiring reports:
//
//   - <name>_cache_expired - entries removed by lazy expiry
//   - <name>_cache_purges - full clears caused by the size limit
package cache
