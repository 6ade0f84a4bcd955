package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/awmpietro/golang-cascade-escalation/internal/pipeline"
)

// InMemory caches compiled pipelines by the sha256 of their DOT source. Concurrent
// misses on one key share a single compile; errors are not cached.
type InMemory struct {
	mu    sync.RWMutex
	max   int
	items map[string]*pipeline.Pipeline
	group singleflight.Group
}

func NewInMemory(max int) *InMemory {
	if max < 0 {
		max = 0
	}
	return &InMemory{
		max:   max,
		items: make(map[string]*pipeline.Pipeline, max),
	}
}

func (c *InMemory) GetOrCompute(dot string, fn func() (*pipeline.Pipeline, error)) (*pipeline.Pipeline, error) {
	key := hash(dot)

	c.mu.RLock()
	if v, ok := c.items[key]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(key, func() (out any, err error) {
		c.mu.RLock()
		cached, ok := c.items[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		defer func() {
			if r := recover(); r != nil {
				out, err = nil, fmt.Errorf("compile pipeline panicked: %v", r)
			}
		}()

		p, err := fn()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if len(c.items) < c.max {
			c.items[key] = p
		}
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pipeline.Pipeline), nil
}

func (c *InMemory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
