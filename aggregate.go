package msgbox

import (
	"slices"
	"strings"
	"unsafe"
)

type (
	// AggregateID identifies an aggregate as a set of parts ("order", "123")
	AggregateID []ID

	// ID is a single component of an AggregateID
	ID string
)

// aggregateIDSep separates AggregateID parts in headers and storage keys
const aggregateIDSep = ":"

func NewAggregateID(parts ...ID) AggregateID {
	return parts
}

// ParseAggregateID splits a string by the separator into an AggregateID. An
// empty string yields a nil AggregateID
func ParseAggregateID(str, sep string) AggregateID {
	if str == "" {
		return nil
	}
	s := strings.Split(str, sep)
	return *(*AggregateID)(unsafe.Pointer(&s))
}

// Join combines the AggregateID parts into a single string using a separator
func (id AggregateID) Join(sep string) string {
	s := *(*[]string)(unsafe.Pointer(&id))
	return strings.Join(s, sep)
}

// String joins the AggregateID parts with ":"
func (id AggregateID) String() string {
	return id.Join(aggregateIDSep)
}

// Equal compares two AggregateIDs for equality
func (id AggregateID) Equal(other AggregateID) bool {
	return slices.Equal(id, other)
}

// HasPrefix checks if the AggregateID starts with the provided prefix
func (id AggregateID) HasPrefix(prefix AggregateID) bool {
	return len(prefix) <= len(id) && slices.Equal(id[:len(prefix)], prefix)
}

// hashSlotted joins the AggregateID with ":", wrapping its first n parts in
// Redis hash tag braces so that aggregates sharing them map to the same
// cluster slot
func (id AggregateID) hashSlotted(n int) string {
	if n <= 0 || len(id) == 0 {
		return id.String()
	}
	n = min(n, len(id))
	res := "{" + id[:n].Join(aggregateIDSep) + "}"
	if n < len(id) {
		res += aggregateIDSep + id[n:].Join(aggregateIDSep)
	}
	return res
}
