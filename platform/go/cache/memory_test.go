package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryGetPutRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	_, ok := m.Get(ctx, "missing")
	require.False(t, ok)

	m.Put(ctx, "k", "v")
	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	require.Equal(t, "v", got)

	m.Remove(ctx, "k")
	_, ok = m.Get(ctx, "k")
	require.False(t, ok)
}

func TestMemoryInvalidateByDependency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	// Two selector shapes cached for the same resolved user; the key itself
	// does not mention the user id, only the dependency registration does.
	m.Put(ctx, "connstr:tenant=t1:type=3:roles=DataWriter", "cs1")
	m.RegisterConnectionKey(ctx, "connstr:tenant=t1:type=3:roles=DataWriter", "user-42", "t1", "DataWriter")

	m.Put(ctx, "connstr:tenantcode=ACME:type=3:roles=DataWriter", "cs2")
	m.RegisterConnectionKey(ctx, "connstr:tenantcode=ACME:type=3:roles=DataWriter", "user-42", "ACME", "DataWriter")

	m.Put(ctx, "connstr:tenant=t2:type=1:roles=none", "cs3")
	m.RegisterConnectionKey(ctx, "connstr:tenant=t2:type=1:roles=none", "user-7", "t2")

	m.InvalidateByFragment(ctx, "user-42")

	_, ok := m.Get(ctx, "connstr:tenant=t1:type=3:roles=DataWriter")
	require.False(t, ok)
	_, ok = m.Get(ctx, "connstr:tenantcode=ACME:type=3:roles=DataWriter")
	require.False(t, ok)

	got, ok := m.Get(ctx, "connstr:tenant=t2:type=1:roles=none")
	require.True(t, ok)
	require.Equal(t, "cs3", got)
}

func TestMemoryInvalidateBySubstring(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	m.Put(ctx, "connstr:tenant=t1:type=3:roles=none", "cs1")
	m.RegisterConnectionKey(ctx, "connstr:tenant=t1:type=3:roles=none")

	// No dependency registration for "t1"; the registry substring scan
	// still has to find the key.
	m.InvalidateByFragment(ctx, "tenant=t1")

	_, ok := m.Get(ctx, "connstr:tenant=t1:type=3:roles=none")
	require.False(t, ok)
}

func TestMemoryInvalidateIgnoresUntrackedEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	// Plain Put without registration: entity-lookup entries are removed by
	// exact key only, never swept by fragment invalidation.
	m.Put(ctx, "dbusers:all", "[...]")
	m.InvalidateByFragment(ctx, "dbusers")

	got, ok := m.Get(ctx, "dbusers:all")
	require.True(t, ok)
	require.Equal(t, "[...]", got)
}

func TestNoopAlwaysMisses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var c Cache = Noop{}

	c.Put(ctx, "k", "v")
	c.RegisterConnectionKey(ctx, "k", "dep")
	_, ok := c.Get(ctx, "k")
	require.False(t, ok)

	c.Remove(ctx, "k")
	c.InvalidateByFragment(ctx, "dep")
}
