package cache

import "context"

// Cache is the optional cache-aside collaborator shared by the resolver, the
// provisioner, and the CRUD services. Implementations must degrade rather
// than fail: a lookup error is a miss, a write error is a no-op. Callers
// never branch on whether caching is configured; the zero configuration is
// the Noop implementation.
//
// Connection-string entries are registered with dependency fragments
// (entity ids, tenant codes, user names, role names). One mutation, e.g. a
// password rotation, must invalidate every cached string that was built
// from that user, across all the selector/role combinations that happened
// to resolve to it. Exact-key deletion cannot express that, so invalidation
// works through a fragment index plus a substring scan over the tracked
// key registry.
type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) (string, bool)

	// Put stores value under key.
	Put(ctx context.Context, key, value string)

	// Remove deletes a single exact key.
	Remove(ctx context.Context, key string)

	// RegisterConnectionKey tracks key in the connection-key registry and
	// indexes it under each dependency fragment for later invalidation.
	RegisterConnectionKey(ctx context.Context, key string, deps ...string)

	// InvalidateByFragment removes every tracked connection key that was
	// registered with fragment as a dependency, plus any tracked key that
	// contains fragment as a substring.
	InvalidateByFragment(ctx context.Context, fragment string)
}

// Noop satisfies Cache with an always-empty store. It is the default when
// no backing cache is configured.
type Noop struct{}

func (Noop) Get(context.Context, string) (string, bool)               { return "", false }
func (Noop) Put(context.Context, string, string)                      {}
func (Noop) Remove(context.Context, string)                           {}
func (Noop) RegisterConnectionKey(context.Context, string, ...string) {}
func (Noop) InvalidateByFragment(context.Context, string)             {}

var _ Cache = Noop{}
