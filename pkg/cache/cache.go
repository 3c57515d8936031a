// Package cache keeps compiled expression programs keyed by a digest of
// their source and grammar.
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/edwingeng/deque"
	"github.com/lemonberrylabs/mexpr/pkg/expr"
	"github.com/segmentio/fasthash/fnv1a"
	"github.com/zeebo/blake3"
)

const (
	// NumShards is the number of independently locked shards.
	NumShards = 16
	// DefaultCapacity is the total number of programs kept by New(0).
	DefaultCapacity = 4096
)

// Key identifies a compiled program.
type Key [32]byte

// KeyOf returns the cache key for input compiled with grammar.
func KeyOf(input string, grammar expr.Grammar) Key {
	h := blake3.New()
	h.WriteString(grammar.String())
	h.WriteString("\x00")
	h.WriteString(input)
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

type shard struct {
	mu       sync.Mutex
	programs map[Key]*expr.Program
	order    deque.Deque // insertion order of keys, oldest first
}

// Cache is a sharded, size-bounded store of compiled programs. Programs
// are immutable so a cached program can be shared between goroutines; every
// evaluation builds its own tree from it.
type Cache struct {
	shards   [NumShards]*shard
	perShard int

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache holding up to capacity programs. Capacity <= 0 selects
// DefaultCapacity. Each shard evicts its oldest entry when full.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	perShard := capacity / NumShards
	if perShard < 1 {
		perShard = 1
	}
	c := &Cache{perShard: perShard}
	for i := range c.shards {
		c.shards[i] = &shard{
			programs: make(map[Key]*expr.Program),
			order:    deque.NewDeque(),
		}
	}
	return c
}

func (c *Cache) shardFor(k Key) *shard {
	return c.shards[fnv1a.HashBytes64(k[:])%NumShards]
}

// Get returns the cached program for input and grammar, if any.
func (c *Cache) Get(input string, grammar expr.Grammar) (*expr.Program, bool) {
	k := KeyOf(input, grammar)
	s := c.shardFor(k)
	s.mu.Lock()
	p, ok := s.programs[k]
	s.mu.Unlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return p, ok
}

// Compile returns the cached program for input and grammar, compiling and
// storing it on a miss. Compile errors are not cached.
func (c *Cache) Compile(input string, grammar expr.Grammar) (*expr.Program, error) {
	if p, ok := c.Get(input, grammar); ok {
		return p, nil
	}
	p, err := expr.Compile(input, grammar)
	if err != nil {
		return nil, err
	}
	return c.add(KeyOf(input, grammar), p), nil
}

// add stores p unless another goroutine stored the same key first, in
// which case the stored program wins.
func (c *Cache) add(k Key, p *expr.Program) *expr.Program {
	s := c.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.programs[k]; ok {
		return existing
	}
	for len(s.programs) >= c.perShard && !s.order.Empty() {
		oldest := s.order.PopFront().(Key)
		delete(s.programs, oldest)
	}
	s.programs[k] = p
	s.order.PushBack(k)
	return p
}

// Len returns the number of cached programs.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.programs)
		s.mu.Unlock()
	}
	return n
}

// Purge drops every cached program.
func (c *Cache) Purge() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.programs = make(map[Key]*expr.Program)
		s.order = deque.NewDeque()
		s.mu.Unlock()
	}
}

// Stats reports lookups that hit and missed since creation.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
