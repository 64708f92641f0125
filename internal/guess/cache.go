package guess

import (
	"container/list"
	"sync"
)

const DefaultCacheSize = 1000

type cacheItem struct {
	key   string
	guess string
}

// Cache remembers guesses by drawing hash so an unchanged drawing is not
// sent to the guesser again. Least recently used entries are evicted.
type Cache struct {
	mu    sync.Mutex
	max   int
	order *list.List
	items map[string]*list.Element
}

func NewCache(max int) *Cache {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &Cache{
		max:   max,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

func (c *Cache) Get(hash string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[hash]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheItem).guess, true
}

func (c *Cache) Set(hash, guess string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[hash]; ok {
		el.Value.(*cacheItem).guess = guess
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheItem).key)
	}
	c.items[hash] = c.order.PushFront(&cacheItem{key: hash, guess: guess})
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
