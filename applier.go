package msgbox

import (
	"context"
	"encoding/json"
	"sync"
)

type (
	// Applier folds a Message into a state value
	Applier[T any] func(T, *Message) T

	// Appliers map EventTypes to the Applier that folds them
	Appliers[T any] map[EventType]Applier[T]

	// Projector is a Consumer that folds the Messages it handles into a state
	// value. It is safe for concurrent use
	Projector[T any] struct {
		appliers Appliers[T]
		state    T
		version  int64
		mu       sync.RWMutex
	}
)

// MakeApplier builds an Applier with typed access to the wrapped event. If
// the event can't be decoded into Data, the state is returned unchanged
func MakeApplier[T, Data any](fn func(T, *Message, Data) T) Applier[T] {
	return func(val T, msg *Message) T {
		data, ok, err := decodeEvent[Data](msg.Event)
		if !ok || err != nil {
			return val
		}
		return fn(val, msg, data)
	}
}

// NewProjector creates a Projector starting from the initial state
func NewProjector[T any](init T, appliers Appliers[T]) *Projector[T] {
	return &Projector[T]{
		appliers: appliers,
		state:    init,
	}
}

// Handle applies the Message to the projected state. Messages without a
// registered Applier only advance the tracked aggregate version
func (p *Projector[T]) Handle(_ context.Context, msg *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if apply, ok := p.appliers[msg.EventType()]; ok {
		p.state = apply(p.state, msg)
	}
	if v := msg.AggregateVersion(); v > p.version {
		p.version = v
	}
	return nil
}

// State returns the current projected state
func (p *Projector[T]) State() T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Version returns the highest aggregate version the Projector has handled
func (p *Projector[_]) Version() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

func decodeEvent[T any](event any) (T, bool, error) {
	var data T
	switch ev := event.(type) {
	case T:
		return ev, true, nil
	case *T:
		if ev == nil {
			return data, false, nil
		}
		return *ev, true, nil
	case json.RawMessage:
		if err := json.Unmarshal(ev, &data); err != nil {
			return data, false, err
		}
		return data, true, nil
	}
	return data, false, nil
}
