package msgboxtest

import (
	"context"
	"slices"
	"sync"

	"github.com/kode4food/msgbox"
)

// Collector is a Consumer that records the Messages it handles. It can be
// told to fail on specific event types. It is safe for concurrent use
type Collector struct {
	failures map[msgbox.EventType]error
	messages []*msgbox.Message
	mu       sync.Mutex
}

func NewCollector() *Collector {
	return &Collector{
		failures: map[msgbox.EventType]error{},
	}
}

// FailOn makes the Collector return err for Messages of the given type
// instead of recording them
func (c *Collector) FailOn(typ msgbox.EventType, err error) *Collector {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[typ] = err
	return c
}

func (c *Collector) Handle(_ context.Context, msg *msgbox.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.failures[msg.EventType()]; ok {
		return err
	}
	c.messages = append(c.messages, msg)
	return nil
}

// Messages returns the recorded Messages in the order they were handled
func (c *Collector) Messages() []*msgbox.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// Events returns the events wrapped by the recorded Messages
func (c *Collector) Events() []any {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := make([]any, len(c.messages))
	for i, msg := range c.messages {
		res[i] = msg.Event
	}
	return res
}

// Reset forgets the recorded Messages but keeps configured failures
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}
