package msgbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

type (
	// Serializer converts Messages to and from JSON documents of the form
	// {"headers": {...}, "payload": {...}}. The event type header selects the
	// Go type that a payload is decoded into
	Serializer struct {
		types map[EventType]reflect.Type
		names map[reflect.Type]EventType

		// KeepUnknown decodes payloads of unregistered event types as
		// json.RawMessage instead of failing
		KeepUnknown bool
		mu          sync.RWMutex
	}

	serializedMessage struct {
		Headers Headers         `json:"headers"`
		Payload json.RawMessage `json:"payload"`
	}
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrUnknownEventType indicates a payload whose event type isn't
	// registered with the Serializer
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrMissingEventType indicates a document without an event type header
	ErrMissingEventType = errors.New("missing event type header")
)

func NewSerializer() *Serializer {
	return &Serializer{
		types: map[EventType]reflect.Type{},
		names: map[reflect.Type]EventType{},
	}
}

// Register associates T with an EventType. An empty EventType registers T
// under the name TypeOf derives for it
func Register[T any](s *Serializer, typ EventType) {
	rt := reflect.TypeFor[T]()
	if typ == "" {
		if rt.Kind() == reflect.Pointer {
			typ = TypeOf(reflect.New(rt.Elem()).Interface())
		} else {
			var zero T
			typ = TypeOf(zero)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[typ] = rt
	s.names[rt] = typ
}

// Serialize encodes the Message. If it has no event type header, one is
// added from the registered name of its event, or from TypeOf. A Message
// whose type can't be named fails with ErrMissingEventType
func (s *Serializer) Serialize(msg *Message) ([]byte, error) {
	headers := maps.Clone(msg.Headers)
	if headers == nil {
		headers = Headers{}
	}
	if headers[HeaderEventType] == "" {
		headers[HeaderEventType] = string(s.typeName(msg.Event))
	}
	if headers[HeaderEventType] == "" {
		return nil, ErrMissingEventType
	}

	payload, err := jsonAPI.Marshal(msg.Event)
	if err != nil {
		return nil, err
	}
	return jsonAPI.Marshal(serializedMessage{
		Headers: headers,
		Payload: payload,
	})
}

// Unserialize decodes a document produced by Serialize
func (s *Serializer) Unserialize(data []byte) (*Message, error) {
	var sm serializedMessage
	if err := jsonAPI.Unmarshal(data, &sm); err != nil {
		return nil, err
	}
	if sm.Headers == nil {
		sm.Headers = Headers{}
	}

	typ := EventType(sm.Headers[HeaderEventType])
	if typ == "" {
		return nil, ErrMissingEventType
	}

	s.mu.RLock()
	rt, ok := s.types[typ]
	s.mu.RUnlock()

	if !ok {
		if s.KeepUnknown {
			return &Message{
				Event:   json.RawMessage(append([]byte(nil), sm.Payload...)),
				Headers: sm.Headers,
			}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, typ)
	}

	ptr := reflect.New(rt)
	if err := jsonAPI.Unmarshal(sm.Payload, ptr.Interface()); err != nil {
		return nil, err
	}
	return &Message{
		Event:   ptr.Elem().Interface(),
		Headers: sm.Headers,
	}, nil
}

func (s *Serializer) typeName(event any) EventType {
	if event != nil {
		s.mu.RLock()
		typ, ok := s.names[reflect.TypeOf(event)]
		s.mu.RUnlock()
		if ok {
			return typ
		}
	}
	return TypeOf(event)
}
