package msgbox

import (
	"time"

	"github.com/google/uuid"
)

type (
	// MessageDecorator enriches a Message before it is dispatched or
	// persisted. Decorators return a new Message rather than mutating theirs
	MessageDecorator interface {
		Decorate(*Message) *Message
	}

	// DecoratorFunc adapts a function to the MessageDecorator interface
	DecoratorFunc func(*Message) *Message

	// DecoratorChain applies its decorators in order
	DecoratorChain []MessageDecorator

	// DefaultHeadersDecorator fills in a missing event id, event type, and
	// time of recording
	DefaultHeadersDecorator struct {
		Clock func() time.Time
		NewID func() string
	}
)

func (fn DecoratorFunc) Decorate(msg *Message) *Message {
	return fn(msg)
}

func (c DecoratorChain) Decorate(msg *Message) *Message {
	for _, d := range c {
		msg = d.Decorate(msg)
	}
	return msg
}

// NewDefaultHeadersDecorator creates a DefaultHeadersDecorator that uses the
// UTC wall clock and random UUIDs
func NewDefaultHeadersDecorator() *DefaultHeadersDecorator {
	return &DefaultHeadersDecorator{
		Clock: func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

// Decorate fills in the missing headers. A nil Clock or NewID falls back to
// the UTC wall clock or random UUIDs
func (d *DefaultHeadersDecorator) Decorate(msg *Message) *Message {
	h := Headers{}
	if msg.Header(HeaderEventID) == "" {
		h[HeaderEventID] = d.newID()
	}
	if msg.Header(HeaderEventType) == "" {
		h[HeaderEventType] = string(TypeOf(msg.Event))
	}
	if msg.Header(HeaderTimeOfRecording) == "" {
		h[HeaderTimeOfRecording] = d.now().Format(TimeOfRecordingFormat)
	}
	if len(h) == 0 {
		return msg
	}
	return msg.WithHeaders(h)
}

func (d *DefaultHeadersDecorator) now() time.Time {
	if d.Clock == nil {
		return time.Now().UTC()
	}
	return d.Clock()
}

func (d *DefaultHeadersDecorator) newID() string {
	if d.NewID == nil {
		return uuid.NewString()
	}
	return d.NewID()
}

// DecorateAll applies the decorator to each Message in turn
func DecorateAll(d MessageDecorator, msgs ...*Message) []*Message {
	res := make([]*Message, len(msgs))
	for i, msg := range msgs {
		res[i] = d.Decorate(msg)
	}
	return res
}
