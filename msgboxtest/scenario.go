package msgboxtest

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/msgbox"
)

type (
	// Scenario runs a Given/When/Then check against a single Consumer. The
	// outcome is asserted automatically when the test finishes, or earlier
	// by calling Assert. It is not safe for concurrent use
	Scenario[C msgbox.Consumer] struct {
		t         testing.TB
		consumer  C
		caught    error
		expected  error
		assertion Assertion[C]
		asserted  bool
	}

	// Assertion checks the state of a Consumer after the scenario has run
	Assertion[C msgbox.Consumer] func(testing.TB, C)
)

// NewScenario builds a fresh Consumer with the factory and registers the
// scenario's assertion as a cleanup of t
func NewScenario[C msgbox.Consumer](
	t testing.TB, factory func() C,
) *Scenario[C] {
	t.Helper()
	s := &Scenario[C]{
		t:        t,
		consumer: factory(),
	}
	t.Cleanup(s.Assert)
	return s
}

// Consumer returns the Consumer under test
func (s *Scenario[C]) Consumer() C {
	return s.consumer
}

// Given hands prior events or Messages to the Consumer. These establish
// state, so any failure ends the test immediately
func (s *Scenario[C]) Given(eventsOrMessages ...any) *Scenario[C] {
	s.t.Helper()
	if err := s.process(eventsOrMessages); err != nil {
		s.t.Fatalf("given: consumer failed: %v", err)
	}
	return s
}

// When hands the events or Messages under test to the Consumer. The first
// failure stops processing and is kept for Assert rather than raised
func (s *Scenario[C]) When(eventsOrMessages ...any) *Scenario[C] {
	if err := s.process(eventsOrMessages); err != nil {
		s.caught = err
	}
	return s
}

// ExpectToFail records the error the scenario is expected to produce
func (s *Scenario[C]) ExpectToFail(err error) *Scenario[C] {
	s.expected = err
	return s
}

// Then records an Assertion that is handed the Consumer once the scenario's
// failure expectations have been met
func (s *Scenario[C]) Then(fn Assertion[C]) *Scenario[C] {
	s.assertion = fn
	return s
}

// Assert checks the scenario's outcome. It only runs once; later calls,
// including the one registered with t.Cleanup, do nothing
func (s *Scenario[C]) Assert() {
	if s.asserted {
		return
	}
	s.asserted = true
	s.t.Helper()

	if s.caught != nil && !sameKind(s.expected, s.caught) {
		s.t.Fatalf("unexpected error: %v", s.caught)
		return
	}

	if !equalErrors(s.expected, s.caught) {
		assert.Equal(s.t, s.expected, s.caught, ">> Errors are not equal.")
		s.t.FailNow()
		return
	}

	if s.assertion != nil {
		s.assertion(s.t, s.consumer)
	}
}

func (s *Scenario[C]) process(eventsOrMessages []any) error {
	ctx := s.t.Context()
	for _, msg := range Messages(eventsOrMessages...) {
		if err := s.consumer.Handle(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Messages wraps each value that isn't already a Message in one
func Messages(eventsOrMessages ...any) []*msgbox.Message {
	res := make([]*msgbox.Message, len(eventsOrMessages))
	for i, e := range eventsOrMessages {
		switch m := e.(type) {
		case *msgbox.Message:
			res[i] = m
		case msgbox.Message:
			res[i] = &m
		default:
			res[i] = msgbox.NewMessage(e)
		}
	}
	return res
}

// sameKind reports whether caught is the kind of error that was expected:
// either it wraps expected, or it has the same concrete type
func sameKind(expected, caught error) bool {
	if expected == nil {
		return false
	}
	return errors.Is(caught, expected) ||
		reflect.TypeOf(expected) == reflect.TypeOf(caught)
}

func equalErrors(expected, caught error) bool {
	if expected == nil || caught == nil {
		return expected == caught
	}
	return errors.Is(caught, expected) ||
		assert.ObjectsAreEqual(expected, caught)
}
