// Package cache implements the two-tier cache (C2): an in-process
// LRU+TTL tier backed by hashicorp/golang-lru, optionally write-through to an
// external KV tier backed by go-redis. Tier-2 is optional; when absent the
// cache degrades to tier-1 only.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// NamespaceConfig is the per-namespace configuration from §6.
type NamespaceConfig struct {
	TTL             time.Duration
	MaxEntries      int
	NegativeTTL     time.Duration
	ExternalEnabled bool
}

// Tier2 is the external KV store abstraction tier-1 writes through to.
// Implemented by the Redis-backed store in tier2_redis.go; nil is a valid
// Tier2 meaning "absent".
type Tier2 interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type entry struct {
	value     []byte
	expiresAt time.Time
	negative  bool
}

func (e entry) expired(now time.Time) bool { return now.After(e.expiresAt) }

type namespace struct {
	cfg  NamespaceConfig
	lru  *lru.Cache[string, entry]
	stat Stats
	mu   sync.Mutex
}

// Cache is the two-tier, namespaced cache described in §4.2.
type Cache struct {
	tier2 Tier2
	log   zerolog.Logger

	mu         sync.Mutex
	namespaces map[string]*namespace

	// serializes cache writes per key so readers never observe a torn
	// value (§4.4 ordering guarantee, §5 "ValidatedPrice writes ... serialized").
	keyLocks sync.Map // map[string]*sync.Mutex
}

// New creates a cache. tier2 may be nil.
func New(tier2 Tier2, log zerolog.Logger) *Cache {
	return &Cache{
		tier2:      tier2,
		log:        log.With().Str("component", "cache").Logger(),
		namespaces: make(map[string]*namespace),
	}
}

// ConfigureNamespace registers (or reconfigures) a namespace. Must be called
// before Get/Set/Remove are used against it.
func (c *Cache) ConfigureNamespace(ns string, cfg NamespaceConfig) error {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1024
	}
	n := &namespace{cfg: cfg}
	l, err := lru.NewWithEvict[string, entry](cfg.MaxEntries, func(_ string, _ entry) {
		n.stat.Evictions++
	})
	if err != nil {
		return err
	}
	n.lru = l

	c.mu.Lock()
	defer c.mu.Unlock()
	c.namespaces[ns] = n
	return nil
}

func (c *Cache) nsOrDefault(ns string) *namespace {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.namespaces[ns]
	if !ok {
		n = &namespace{cfg: NamespaceConfig{TTL: time.Minute, MaxEntries: 1024}}
		l, _ := lru.NewWithEvict[string, entry](1024, func(_ string, _ entry) {
			n.stat.Evictions++
		})
		n.lru = l
		c.namespaces[ns] = n
	}
	return n
}

func namespacedKey(ns, key string) string { return ns + "\x00" + key }

// lockFor returns (and lazily creates) the per-(ns,key) mutex serializing
// writes to that key.
func (c *Cache) lockFor(ns, key string) *sync.Mutex {
	k := namespacedKey(ns, key)
	v, _ := c.keyLocks.LoadOrStore(k, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// ErrNegative is returned by Get when the cached entry is a negative-caching
// sentinel: the underlying lookup is known, recently, to have failed.
var ErrNegative = errors.New("cache: negative entry")

// Get checks tier-1 first, then tier-2 on miss, repopulating tier-1 on a
// tier-2 hit (§4.2 item 1).
func (c *Cache) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	n := c.nsOrDefault(ns)
	now := time.Now()

	n.mu.Lock()
	if e, ok := n.lru.Get(key); ok {
		if !e.expired(now) {
			n.mu.Unlock()
			n.stat.recordHit()
			if e.negative {
				return nil, true, ErrNegative
			}
			return e.value, true, nil
		}
		n.lru.Remove(key)
	}
	n.mu.Unlock()

	if c.tier2 == nil || !n.cfg.ExternalEnabled {
		n.stat.recordMiss()
		return nil, false, nil
	}

	val, found, err := c.tier2.Get(ctx, namespacedKey(ns, key))
	if err != nil {
		c.log.Warn().Err(err).Str("namespace", ns).Msg("tier-2 get failed, treating as miss")
		n.stat.recordMiss()
		return nil, false, nil
	}
	if !found {
		n.stat.recordMiss()
		return nil, false, nil
	}

	decoded, negative, ok := decodeEnvelope(val)
	if !ok {
		// Schema mismatch from an older code version: treat as a miss.
		n.stat.recordMiss()
		return nil, false, nil
	}

	n.mu.Lock()
	n.lru.Add(key, entry{value: decoded, expiresAt: now.Add(n.cfg.TTL), negative: negative})
	n.mu.Unlock()

	n.stat.recordHit()
	if negative {
		return nil, true, ErrNegative
	}
	return decoded, true, nil
}

// Set writes both tiers (§4.2 item 2). Tier-2 failure degrades to tier-1
// only and is logged, never fatal.
func (c *Cache) Set(ctx context.Context, ns, key string, value []byte) error {
	lock := c.lockFor(ns, key)
	lock.Lock()
	defer lock.Unlock()

	n := c.nsOrDefault(ns)
	now := time.Now()

	n.mu.Lock()
	n.lru.Add(key, entry{value: value, expiresAt: now.Add(n.cfg.TTL)})
	n.mu.Unlock()

	if c.tier2 != nil && n.cfg.ExternalEnabled {
		env := encodeEnvelope(value, false)
		if err := c.tier2.Set(ctx, namespacedKey(ns, key), env, n.cfg.TTL); err != nil {
			c.log.Warn().Err(err).Str("namespace", ns).Msg("tier-2 set failed, tier-1 only")
		}
	}
	return nil
}

// SetNegative stores a "not found" sentinel with the namespace's (shorter)
// negative TTL, to avoid hammering upstream on repeated misses (§4.2 item 4).
func (c *Cache) SetNegative(ctx context.Context, ns, key string) error {
	lock := c.lockFor(ns, key)
	lock.Lock()
	defer lock.Unlock()

	n := c.nsOrDefault(ns)
	now := time.Now()

	n.mu.Lock()
	n.lru.Add(key, entry{expiresAt: now.Add(n.cfg.NegativeTTL), negative: true})
	n.mu.Unlock()

	if c.tier2 != nil && n.cfg.ExternalEnabled {
		env := encodeEnvelope(nil, true)
		if err := c.tier2.Set(ctx, namespacedKey(ns, key), env, n.cfg.NegativeTTL); err != nil {
			c.log.Warn().Err(err).Str("namespace", ns).Msg("tier-2 negative set failed, tier-1 only")
		}
	}
	return nil
}

// Remove removes both tiers (§4.2 item 3).
func (c *Cache) Remove(ctx context.Context, ns, key string) error {
	lock := c.lockFor(ns, key)
	lock.Lock()
	defer lock.Unlock()

	n := c.nsOrDefault(ns)
	n.mu.Lock()
	n.lru.Remove(key)
	n.mu.Unlock()

	if c.tier2 != nil {
		if err := c.tier2.Delete(ctx, namespacedKey(ns, key)); err != nil {
			c.log.Warn().Err(err).Str("namespace", ns).Msg("tier-2 remove failed")
		}
	}
	return nil
}

// Stats returns a snapshot of hit/miss/eviction/size counters for a
// namespace (§4.2 item 5).
func (c *Cache) Stats(ns string) Stats {
	n := c.nsOrDefault(ns)
	n.mu.Lock()
	defer n.mu.Unlock()
	s := n.stat
	s.Size = n.lru.Len()
	return s
}
