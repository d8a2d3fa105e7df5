package msgbox

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"time"
)

type (
	// Message is an envelope that wraps a domain event with headers
	Message struct {
		Event   any
		Headers Headers
	}

	// Headers carry message metadata. Well-known keys are prefixed with "__"
	Headers map[string]string
)

// Well-known header keys
const (
	HeaderEventID          = "__event_id"
	HeaderEventType        = "__event_type"
	HeaderAggregateID      = "__aggregate_root_id"
	HeaderAggregateVersion = "__aggregate_root_version"
	HeaderTimeOfRecording  = "__time_of_recording"
)

// TimeOfRecordingFormat is the layout used for the time of recording header
const TimeOfRecordingFormat = time.RFC3339Nano

// ErrMalformedHeader indicates that a well-known header could not be parsed
var ErrMalformedHeader = errors.New("malformed header")

// NewMessage wraps an event in a Message, merging the provided headers in
// order
func NewMessage(event any, headers ...Headers) *Message {
	h := Headers{}
	for _, hs := range headers {
		maps.Copy(h, hs)
	}
	return &Message{
		Event:   event,
		Headers: h,
	}
}

// WithHeader returns a copy of the Message with the header set
func (m *Message) WithHeader(key, value string) *Message {
	return m.WithHeaders(Headers{key: value})
}

// WithHeaders returns a copy of the Message with the headers merged in
func (m *Message) WithHeaders(h Headers) *Message {
	res := &Message{
		Event:   m.Event,
		Headers: maps.Clone(m.Headers),
	}
	if res.Headers == nil {
		res.Headers = Headers{}
	}
	maps.Copy(res.Headers, h)
	return res
}

// WithAggregate returns a copy of the Message positioned in an aggregate's
// stream
func (m *Message) WithAggregate(id AggregateID, version int64) *Message {
	return m.WithHeaders(Headers{
		HeaderAggregateID:      id.String(),
		HeaderAggregateVersion: strconv.FormatInt(version, 10),
	})
}

// Header returns the value of a header, or an empty string
func (m *Message) Header(key string) string {
	return m.Headers[key]
}

func (m *Message) EventID() string {
	return m.Headers[HeaderEventID]
}

// EventType returns the event type header, falling back to the type derived
// from the wrapped event
func (m *Message) EventType() EventType {
	if typ, ok := m.Headers[HeaderEventType]; ok && typ != "" {
		return EventType(typ)
	}
	return TypeOf(m.Event)
}

func (m *Message) AggregateID() AggregateID {
	return ParseAggregateID(m.Headers[HeaderAggregateID], aggregateIDSep)
}

// AggregateVersion returns the aggregate version header, or zero if it is
// absent or malformed
func (m *Message) AggregateVersion() int64 {
	v, _ := m.AggregateVersionE()
	return v
}

// AggregateVersionE returns the aggregate version header. An absent header
// yields zero without an error
func (m *Message) AggregateVersionE() (int64, error) {
	str, ok := m.Headers[HeaderAggregateVersion]
	if !ok || str == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w",
			ErrMalformedHeader, HeaderAggregateVersion, err,
		)
	}
	return v, nil
}

// TimeOfRecording returns the time of recording header, or the zero time if
// it is absent or malformed
func (m *Message) TimeOfRecording() time.Time {
	t, _ := m.TimeOfRecordingE()
	return t
}

// TimeOfRecordingE returns the time of recording header. An absent header
// yields the zero time without an error
func (m *Message) TimeOfRecordingE() (time.Time, error) {
	str, ok := m.Headers[HeaderTimeOfRecording]
	if !ok || str == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(TimeOfRecordingFormat, str)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %w",
			ErrMalformedHeader, HeaderTimeOfRecording, err,
		)
	}
	return t, nil
}
