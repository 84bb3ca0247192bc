package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTier2 is an in-memory stand-in for a Redis-backed tier-2 used in tests.
type fakeTier2 struct {
	mu   sync.Mutex
	data map[string][]byte
	fail bool
}

func newFakeTier2() *fakeTier2 { return &fakeTier2{data: make(map[string][]byte)} }

func (f *fakeTier2) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.fail {
		return nil, false, assert.AnError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeTier2) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.fail {
		return assert.AnError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeTier2) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func TestCacheCoherenceGetAfterSet(t *testing.T) {
	c := New(nil, zerolog.Nop())
	require.NoError(t, c.ConfigureNamespace("prices", NamespaceConfig{TTL: time.Minute, MaxEntries: 10}))

	require.NoError(t, c.Set(context.Background(), "prices", "weth", []byte("2000")))
	val, found, err := c.Get(context.Background(), "prices", "weth")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("2000"), val)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New(nil, zerolog.Nop())
	require.NoError(t, c.ConfigureNamespace("prices", NamespaceConfig{TTL: time.Millisecond, MaxEntries: 10}))
	require.NoError(t, c.Set(context.Background(), "prices", "weth", []byte("2000")))

	time.Sleep(5 * time.Millisecond)
	_, found, err := c.Get(context.Background(), "prices", "weth")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCacheTier2RepopulatesTier1(t *testing.T) {
	tier2 := newFakeTier2()
	c := New(tier2, zerolog.Nop())
	require.NoError(t, c.ConfigureNamespace("prices", NamespaceConfig{
		TTL: time.Minute, MaxEntries: 10, ExternalEnabled: true,
	}))

	require.NoError(t, c.Set(context.Background(), "prices", "weth", []byte("2000")))

	// Simulate a cold tier-1 by creating a fresh Cache sharing tier2.
	c2 := New(tier2, zerolog.Nop())
	require.NoError(t, c2.ConfigureNamespace("prices", NamespaceConfig{
		TTL: time.Minute, MaxEntries: 10, ExternalEnabled: true,
	}))

	val, found, err := c2.Get(context.Background(), "prices", "weth")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("2000"), val)

	// Tier-1 of c2 must now be populated without hitting tier-2 again.
	tier2.fail = true
	val, found, err = c2.Get(context.Background(), "prices", "weth")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("2000"), val)
}

func TestCacheTier2FailureDegradesGracefully(t *testing.T) {
	tier2 := newFakeTier2()
	tier2.fail = true
	c := New(tier2, zerolog.Nop())
	require.NoError(t, c.ConfigureNamespace("prices", NamespaceConfig{
		TTL: time.Minute, MaxEntries: 10, ExternalEnabled: true,
	}))

	err := c.Set(context.Background(), "prices", "weth", []byte("2000"))
	require.NoError(t, err, "tier-2 failure must not be fatal")

	val, found, err := c.Get(context.Background(), "prices", "weth")
	require.NoError(t, err)
	require.True(t, found, "tier-1 must still serve the value")
	assert.Equal(t, []byte("2000"), val)
}

func TestNegativeCaching(t *testing.T) {
	c := New(nil, zerolog.Nop())
	require.NoError(t, c.ConfigureNamespace("prices", NamespaceConfig{
		TTL: time.Minute, NegativeTTL: time.Millisecond, MaxEntries: 10,
	}))

	require.NoError(t, c.SetNegative(context.Background(), "prices", "missing"))
	_, found, err := c.Get(context.Background(), "prices", "missing")
	assert.True(t, found)
	assert.ErrorIs(t, err, ErrNegative)

	time.Sleep(5 * time.Millisecond)
	_, found, _ = c.Get(context.Background(), "prices", "missing")
	assert.False(t, found, "negative entries expire per NegativeTTL")
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	c := New(nil, zerolog.Nop())
	require.NoError(t, c.ConfigureNamespace("prices", NamespaceConfig{TTL: time.Minute, MaxEntries: 10}))

	_, _, _ = c.Get(context.Background(), "prices", "missing")
	require.NoError(t, c.Set(context.Background(), "prices", "weth", []byte("2000")))
	_, _, _ = c.Get(context.Background(), "prices", "weth")

	stats := c.Stats("prices")
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, 1, stats.Size)
}
