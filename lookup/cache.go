package lookup

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached memoizes successful lookups, including not-found results, for ttl.
// Failures are never cached.
type Cached struct {
	next  Adapter
	cache *expirable.LRU[string, *Result]
}

// NewCached wraps next with an expiring LRU of the given size.
func NewCached(next Adapter, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 256
	}
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[string, *Result](size, nil, ttl),
	}
}

func (c *Cached) Kind() Kind { return c.next.Kind() }

func (c *Cached) Lookup(ctx context.Context, query string) (*Result, error) {
	key := strings.ToLower(strings.Join(strings.Fields(query), " "))
	if res, ok := c.cache.Get(key); ok {
		out := *res
		out.Query = query
		return &out, nil
	}
	res, err := c.next.Lookup(ctx, query)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, res)
	return res, nil
}

// Len reports the number of cached entries.
func (c *Cached) Len() int {
	return c.cache.Len()
}
