package msgbox

import (
	"path"
	"reflect"
	"strings"
	"unicode"
)

type (
	// EventType names a kind of event, e.g. "orders.order_placed"
	EventType string

	// Typed events report their own EventType instead of having one derived
	// from their Go type
	Typed interface {
		EventType() EventType
	}
)

// TypeOf returns the EventType of an event. Typed events name themselves;
// everything else is named after its Go package and type in dot-separated
// snake case. Pointers are dereferenced first
func TypeOf(event any) EventType {
	if v := reflect.ValueOf(event); v.Kind() == reflect.Pointer && v.IsNil() {
		event = reflect.New(v.Type().Elem()).Interface()
	}
	if t, ok := event.(Typed); ok {
		return t.EventType()
	}
	typ := reflect.TypeOf(event)
	if typ == nil {
		return ""
	}
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Name() == "" {
		return EventType(typ.String())
	}
	name := snakeCase(typ.Name())
	if pkg := typ.PkgPath(); pkg != "" {
		name = snakeCase(path.Base(pkg)) + "." + name
	}
	return EventType(name)
}

func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if !unicode.IsUpper(r) {
			b.WriteRune(r)
			continue
		}
		if i > 0 && runes[i-1] != '_' && (!unicode.IsUpper(runes[i-1]) ||
			i+1 < len(runes) && unicode.IsLower(runes[i+1])) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
