package msgbox

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

type (
	// Repository persists the Message streams of aggregates. Versions within
	// a stream start at 1 and have no gaps
	Repository interface {
		Persist(context.Context, ...*Message) error
		RetrieveAll(context.Context, AggregateID) ([]*Message, error)
		RetrieveAllAfterVersion(
			context.Context, AggregateID, int64,
		) ([]*Message, error)
	}

	// VersionConflictError reports a Message whose aggregate version doesn't
	// continue its stream
	VersionConflictError struct {
		AggregateID     AggregateID
		ExpectedVersion int64
		ActualVersion   int64
	}

	// MemoryRepository keeps Message streams in process memory
	MemoryRepository struct {
		streams map[string][]*Message
		mu      sync.RWMutex
	}

	aggregateBatch struct {
		id    AggregateID
		first int64
		msgs  []*Message
	}
)

// ErrMissingAggregateID indicates a Message without an aggregate id header
var ErrMissingAggregateID = errors.New("message has no aggregate id")

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf(
		"version conflict on %s: expected version %d, but got %d",
		e.AggregateID, e.ExpectedVersion, e.ActualVersion,
	)
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		streams: map[string][]*Message{},
	}
}

// Persist appends the Messages to their streams. Either every stream is
// extended or nothing is written
func (r *MemoryRepository) Persist(_ context.Context, msgs ...*Message) error {
	batches, err := groupByAggregate(msgs)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range batches {
		current := int64(len(r.streams[b.id.String()]))
		if err := b.checkContinues(current); err != nil {
			return err
		}
	}
	for _, b := range batches {
		key := b.id.String()
		r.streams[key] = append(r.streams[key], b.msgs...)
	}
	return nil
}

func (r *MemoryRepository) RetrieveAll(
	ctx context.Context, id AggregateID,
) ([]*Message, error) {
	return r.RetrieveAllAfterVersion(ctx, id, 0)
}

func (r *MemoryRepository) RetrieveAllAfterVersion(
	_ context.Context, id AggregateID, version int64,
) ([]*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stream := r.streams[id.String()]
	if version >= int64(len(stream)) {
		return []*Message{}, nil
	}
	return slices.Clone(stream[max(version, 0):]), nil
}

// Replay hands every Message of an aggregate's stream to the Consumer in
// version order and returns how many were handled
func Replay(
	ctx context.Context, repo Repository, id AggregateID, c Consumer,
) (int, error) {
	return ReplayAfter(ctx, repo, id, 0, c)
}

// ReplayAfter is Replay for the Messages after the given version
func ReplayAfter(
	ctx context.Context, repo Repository, id AggregateID, version int64,
	c Consumer,
) (int, error) {
	msgs, err := repo.RetrieveAllAfterVersion(ctx, id, version)
	if err != nil {
		return 0, err
	}
	for i, msg := range msgs {
		if err := c.Handle(ctx, msg); err != nil {
			return i, fmt.Errorf("replaying %s version %d: %w",
				id, msg.AggregateVersion(), err,
			)
		}
	}
	return len(msgs), nil
}

// groupByAggregate splits Messages into per-aggregate batches, in order of
// first appearance, and checks that each batch has consecutive versions
func groupByAggregate(msgs []*Message) ([]*aggregateBatch, error) {
	var batches []*aggregateBatch
	byKey := map[string]*aggregateBatch{}

	for _, msg := range msgs {
		id := msg.AggregateID()
		if len(id) == 0 {
			return nil, ErrMissingAggregateID
		}
		v, err := msg.AggregateVersionE()
		if err != nil {
			return nil, err
		}

		key := id.String()
		b, ok := byKey[key]
		if !ok {
			b = &aggregateBatch{id: id, first: v}
			byKey[key] = b
			batches = append(batches, b)
		} else if want := b.next(); v != want {
			return nil, &VersionConflictError{
				AggregateID:     id,
				ExpectedVersion: want,
				ActualVersion:   v,
			}
		}
		b.msgs = append(b.msgs, msg)
	}
	return batches, nil
}

func (b *aggregateBatch) next() int64 {
	return b.first + int64(len(b.msgs))
}

// checkContinues verifies that the batch starts right after the stored
// version
func (b *aggregateBatch) checkContinues(current int64) error {
	if b.first != current+1 {
		return &VersionConflictError{
			AggregateID:     b.id,
			ExpectedVersion: current + 1,
			ActualVersion:   b.first,
		}
	}
	return nil
}
