package msgbox

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/closer"
	"github.com/kode4food/caravan/topic"
	"go.uber.org/zap"
)

type (
	// Hub fans Messages out to subscribed Consumers asynchronously. Each
	// Subscription handles its Messages in order on its own goroutine
	Hub struct {
		ctx      context.Context
		inner    topic.Topic[*Message]
		producer topic.Producer[*Message]
		registry *registry
		logger   *zap.Logger
		onError  ErrorHandler
		cancel   context.CancelFunc
		subs     map[*Subscription]struct{}
		wg       sync.WaitGroup
		mu       sync.Mutex
		closed   bool
	}

	// HubOption configures a Hub
	HubOption func(*Hub)

	// ErrorHandler receives Consumer failures that a Hub can't return to
	// the dispatching caller
	ErrorHandler func(*Message, error)

	// Subscription attaches a Consumer to a Hub
	Subscription struct {
		hub       *Hub
		inner     topic.Consumer[*Message]
		consumer  Consumer
		interests *interests
		stop      chan struct{}
		done      chan struct{}
		closeOnce sync.Once
	}

	// registry tracks active subscriptions and counts references
	registry struct {
		subscriptions  map[EventType]map[string]int64
		allEventsCount int64
		mu             sync.RWMutex
	}

	// interests describes what Messages a Subscription is interested in
	interests struct {
		eventTypes map[EventType]bool // empty = all event types
		prefix     AggregateID        // nil = all aggregates
	}
)

const aggIDSep = "\x00"

// ErrHubClosed is returned when dispatching to or subscribing on a closed Hub
var ErrHubClosed = errors.New("hub closed")

// WithHubLogger sets the logger used for delivery failures
func WithHubLogger(logger *zap.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithErrorHandler replaces the default handler, which logs the failure
func WithErrorHandler(fn ErrorHandler) HubOption {
	return func(h *Hub) {
		if fn != nil {
			h.onError = fn
		}
	}
}

// NewHub creates a Hub backed by an in-process caravan topic
func NewHub(opts ...HubOption) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	inner := caravan.NewTopic[*Message]()
	h := &Hub{
		ctx:      ctx,
		cancel:   cancel,
		inner:    inner,
		producer: inner.NewProducer(),
		registry: &registry{
			subscriptions: map[EventType]map[string]int64{},
		},
		logger: zap.NewNop(),
		subs:   map[*Subscription]struct{}{},
	}
	h.onError = h.logFailure
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe attaches a Consumer interested in specific event types. If no
// event types are specified, the Consumer receives all Messages
func (h *Hub) Subscribe(
	c Consumer, eventTypes ...EventType,
) (*Subscription, error) {
	return h.subscribe(c, newInterests(nil, eventTypes))
}

// SubscribeAggregate attaches a Consumer interested in Messages from
// aggregates matching the provided prefix. If no event types are specified,
// the Consumer receives all Messages for aggregates matching the prefix
func (h *Hub) SubscribeAggregate(
	prefix AggregateID, c Consumer, eventTypes ...EventType,
) (*Subscription, error) {
	return h.subscribe(c, newInterests(prefix, eventTypes))
}

func (h *Hub) subscribe(c Consumer, i *interests) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	h.registry.register(i)
	s := &Subscription{
		hub:       h,
		inner:     h.inner.NewConsumer(),
		consumer:  c,
		interests: i,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	h.subs[s] = struct{}{}

	h.wg.Add(1)
	go s.run()
	return s, nil
}

// Dispatch publishes the Messages to the Hub's subscriptions. Messages that
// no Subscription is interested in are dropped
func (h *Hub) Dispatch(ctx context.Context, msgs ...*Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	for _, msg := range msgs {
		if !h.registry.hasSubscribers(msg.EventType(), msg.AggregateID()) {
			continue
		}
		select {
		case h.producer.Send() <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops every Subscription and waits for in-flight Messages to finish.
// It must not be called from within a subscribed Consumer's Handle
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	h.wg.Wait()
	h.producer.Close()
	if c, ok := h.inner.(closer.Closer); ok {
		c.Close()
	}
	h.cancel()
	return nil
}

func (h *Hub) logFailure(msg *Message, err error) {
	h.logger.Error("subscription consumer failed",
		zap.String("event_id", msg.EventID()),
		zap.String("event_type", string(msg.EventType())),
		zap.Error(err),
	)
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

// Close detaches the Subscription and waits for its goroutine to exit. A
// Consumer must not call Close, or Hub.Close, from within its own Handle, as
// that waits on the goroutine doing the calling. Closing from a separate
// goroutine is fine
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.hub.registry.unregister(s.interests)
		close(s.stop)
		<-s.done
		s.inner.Close()
		s.hub.remove(s)
	})
	return nil
}

func (s *Subscription) run() {
	defer s.hub.wg.Done()
	defer close(s.done)

	recv := s.inner.Receive()
	for {
		select {
		case <-s.stop:
			return
		case msg, ok := <-recv:
			if !ok {
				return
			}
			if !s.interests.matches(msg) {
				continue
			}
			if err := s.consumer.Handle(s.hub.ctx, msg); err != nil {
				s.hub.onError(msg, err)
			}
		}
	}
}

func newInterests(prefix AggregateID, eventTypes []EventType) *interests {
	i := &interests{
		prefix: normalizePrefix(prefix),
	}
	if len(eventTypes) > 0 {
		i.eventTypes = make(map[EventType]bool, len(eventTypes))
		for _, et := range eventTypes {
			i.eventTypes[et] = true
		}
	}
	return i
}

// matches checks if a Message matches the interests
func (i *interests) matches(msg *Message) bool {
	if i.prefix != nil && !msg.AggregateID().HasPrefix(i.prefix) {
		return false
	}
	if len(i.eventTypes) > 0 && !i.eventTypes[msg.EventType()] {
		return false
	}
	return true
}

// register adds a subscription to the registry
func (r *registry) register(i *interests) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i.prefix == nil && len(i.eventTypes) == 0 {
		r.allEventsCount++
		return
	}

	aggID := aggIDKey(i.prefix)
	if len(i.eventTypes) == 0 {
		r.increment("", aggID)
		return
	}
	for et := range i.eventTypes {
		r.increment(et, aggID)
	}
}

// unregister removes a subscription from the registry
func (r *registry) unregister(i *interests) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i.prefix == nil && len(i.eventTypes) == 0 {
		r.allEventsCount--
		return
	}

	aggID := aggIDKey(i.prefix)
	if len(i.eventTypes) == 0 {
		r.decrement("", aggID)
		return
	}
	for et := range i.eventTypes {
		r.decrement(et, aggID)
	}
}

func (r *registry) increment(et EventType, aggID string) {
	if r.subscriptions[et] == nil {
		r.subscriptions[et] = map[string]int64{}
	}
	r.subscriptions[et][aggID]++
}

func (r *registry) decrement(et EventType, aggID string) {
	r.subscriptions[et][aggID]--
	if r.subscriptions[et][aggID] == 0 {
		delete(r.subscriptions[et], aggID)
	}
	if len(r.subscriptions[et]) == 0 {
		delete(r.subscriptions, et)
	}
}

// hasSubscribers checks if there are subscriptions for a given Message
func (r *registry) hasSubscribers(
	eventType EventType, aggregateID AggregateID,
) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.allEventsCount > 0 {
		return true
	}

	aggIDStr := aggIDKey(aggregateID)
	if subs, ok := r.subscriptions[""]; ok {
		if hasPrefixSubscriber(subs, aggIDStr) {
			return true
		}
	}

	if subs, ok := r.subscriptions[eventType]; ok {
		if _, hasAll := subs[""]; hasAll {
			return true
		}
		if hasPrefixSubscriber(subs, aggIDStr) {
			return true
		}
	}
	return false
}

func normalizePrefix(prefix AggregateID) AggregateID {
	if len(prefix) == 0 {
		return nil
	}
	return prefix
}

func hasPrefixSubscriber(subs map[string]int64, aggregateID string) bool {
	for prefix := range subs {
		if prefix == "" {
			continue
		}
		if aggregateID == prefix ||
			strings.HasPrefix(aggregateID, prefix+aggIDSep) {
			return true
		}
	}
	return false
}

func aggIDKey(id AggregateID) string {
	return id.Join(aggIDSep)
}
