package msgbox

import (
	"container/list"
	"context"
	"sync"
)

type (
	// lruSet remembers the most recently added keys up to a fixed size
	lruSet struct {
		index   map[string]*list.Element
		lru     *list.List
		maxSize int
		mu      sync.Mutex
	}

	idempotent struct {
		next Consumer
		seen *lruSet
	}
)

func newLRUSet(maxSize int) *lruSet {
	if maxSize <= 0 {
		maxSize = DefaultDedupeSize
	}
	return &lruSet{
		index:   map[string]*list.Element{},
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// Idempotent wraps a Consumer so that Messages whose event id was recently
// handled successfully, or is being handled right now, are skipped. Messages
// without an event id are always handled. A failed Message is forgotten and
// will be handled again when redelivered
func Idempotent(c Consumer, size int) Consumer {
	return &idempotent{
		next: c,
		seen: newLRUSet(size),
	}
}

func (i *idempotent) Handle(ctx context.Context, msg *Message) error {
	id := msg.EventID()
	if id == "" {
		return i.next.Handle(ctx, msg)
	}
	if !i.seen.reserve(id) {
		return nil
	}
	if err := i.next.Handle(ctx, msg); err != nil {
		i.seen.remove(id)
		return err
	}
	return nil
}

// reserve adds the key unless it's already present, reporting whether it
// was added
func (c *lruSet) reserve(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		c.lru.MoveToFront(elem)
		return false
	}

	c.index[key] = c.lru.PushFront(key)
	if c.lru.Len() > c.maxSize {
		c.evictLast()
	}
	return true
}

func (c *lruSet) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		c.lru.Remove(elem)
		delete(c.index, key)
	}
}

func (c *lruSet) evictLast() {
	back := c.lru.Back()
	if back != nil {
		c.lru.Remove(back)
		delete(c.index, back.Value.(string))
	}
}
