package msgbox

import "context"

type (
	// Consumer processes a Message and may fail with a domain-specific error
	Consumer interface {
		Handle(context.Context, *Message) error
	}

	// ConsumerFunc adapts a function to the Consumer interface
	ConsumerFunc func(context.Context, *Message) error
)

// Handle calls fn
func (fn ConsumerFunc) Handle(ctx context.Context, msg *Message) error {
	return fn(ctx, msg)
}

// MakeConsumer builds a Consumer with typed access to the wrapped event. The
// event may be a T, a *T, or raw JSON that decodes into a T. Messages carrying
// anything else are ignored
func MakeConsumer[T any](
	fn func(context.Context, *Message, T) error,
) Consumer {
	return ConsumerFunc(func(ctx context.Context, msg *Message) error {
		data, ok, err := decodeEvent[T](msg.Event)
		if err != nil || !ok {
			return err
		}
		return fn(ctx, msg, data)
	})
}

// MakeDispatcher routes each Message to the Consumer registered for its
// EventType. Unmapped types are ignored
func MakeDispatcher(consumers map[EventType]Consumer) Consumer {
	return ConsumerFunc(func(ctx context.Context, msg *Message) error {
		if c, ok := consumers[msg.EventType()]; ok {
			return c.Handle(ctx, msg)
		}
		return nil
	})
}

// Chain hands each Message to the consumers in order, stopping at the first
// error
func Chain(consumers ...Consumer) Consumer {
	return ConsumerFunc(func(ctx context.Context, msg *Message) error {
		for _, c := range consumers {
			if err := c.Handle(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	})
}
