package msgbox_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/msgbox"
)

func orderMessage(id msgbox.AggregateID, version int64) *msgbox.Message {
	return msgbox.NewMessage(OrderPlaced{
		OrderID: id.String(),
		Amount:  int(version),
	}).WithAggregate(id, version).
		WithHeader(msgbox.HeaderEventType, "order.placed")
}

func versions(msgs []*msgbox.Message) []int64 {
	res := make([]int64, len(msgs))
	for i, msg := range msgs {
		res[i] = msg.AggregateVersion()
	}
	return res
}

func assertConflict(t *testing.T, err error, expected, actual int64) {
	t.Helper()
	var conflict *msgbox.VersionConflictError
	if assert.ErrorAs(t, err, &conflict) {
		assert.Equal(t, expected, conflict.ExpectedVersion)
		assert.Equal(t, actual, conflict.ActualVersion)
	}
}

// testRepository exercises the behavior every Repository shares
func testRepository(t *testing.T, repo msgbox.Repository) {
	ctx := context.Background()
	id := msgbox.NewAggregateID("order", "1")
	other := msgbox.NewAggregateID("order", "2")

	t.Run("empty stream", func(t *testing.T) {
		msgs, err := repo.RetrieveAll(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("persists and retrieves in order", func(t *testing.T) {
		require.NoError(t, repo.Persist(ctx,
			orderMessage(id, 1), orderMessage(id, 2),
		))
		require.NoError(t, repo.Persist(ctx, orderMessage(id, 3)))

		msgs, err := repo.RetrieveAll(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, versions(msgs))
		assert.Equal(t, OrderPlaced{OrderID: "order:1", Amount: 2}, msgs[1].Event)
		assert.True(t, id.Equal(msgs[0].AggregateID()))
	})

	t.Run("retrieves after version", func(t *testing.T) {
		msgs, err := repo.RetrieveAllAfterVersion(ctx, id, 1)
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3}, versions(msgs))

		msgs, err = repo.RetrieveAllAfterVersion(ctx, id, 3)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("rejects gaps", func(t *testing.T) {
		err := repo.Persist(ctx, orderMessage(id, 5))
		assertConflict(t, err, 4, 5)
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		err := repo.Persist(ctx, orderMessage(id, 3))
		assertConflict(t, err, 4, 3)
	})

	t.Run("rejects non-consecutive batches", func(t *testing.T) {
		err := repo.Persist(ctx, orderMessage(id, 4), orderMessage(id, 6))
		assertConflict(t, err, 5, 6)

		msgs, err := repo.RetrieveAll(ctx, id)
		require.NoError(t, err)
		assert.Len(t, msgs, 3)
	})

	t.Run("writes all aggregates or none", func(t *testing.T) {
		err := repo.Persist(ctx, orderMessage(other, 1), orderMessage(id, 9))
		assertConflict(t, err, 4, 9)

		msgs, err := repo.RetrieveAll(ctx, other)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		require.NoError(t, repo.Persist(ctx,
			orderMessage(other, 1), orderMessage(id, 4),
		))
		msgs, err = repo.RetrieveAll(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, versions(msgs))
	})

	t.Run("requires aggregate ids", func(t *testing.T) {
		err := repo.Persist(ctx, msgbox.NewMessage(OrderPlaced{}))
		assert.ErrorIs(t, err, msgbox.ErrMissingAggregateID)
	})
}

// testRejectsUntypedMessages checks that a Repository backed by a
// Serializer refuses Messages it could never read back
func testRejectsUntypedMessages(t *testing.T, repo msgbox.Repository) {
	t.Run("rejects untyped messages", func(t *testing.T) {
		ctx := context.Background()
		id := msgbox.NewAggregateID("untyped", "1")

		err := repo.Persist(ctx,
			orderMessage(id, 1),
			msgbox.NewMessage(nil).WithAggregate(id, 2),
		)
		assert.ErrorIs(t, err, msgbox.ErrMissingEventType)

		msgs, err := repo.RetrieveAll(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		n, err := msgbox.Replay(ctx, repo, id, msgbox.ConsumerFunc(
			func(context.Context, *msgbox.Message) error { return nil },
		))
		assert.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestMemoryRepository(t *testing.T) {
	testRepository(t, msgbox.NewMemoryRepository())
}

func TestVersionConflictError(t *testing.T) {
	err := &msgbox.VersionConflictError{
		AggregateID:     msgbox.NewAggregateID("order", "1"),
		ExpectedVersion: 4,
		ActualVersion:   9,
	}

	assert.Contains(t, err.Error(), "version conflict on order:1")
	assert.Contains(t, err.Error(), "expected version 4")
	assert.Contains(t, err.Error(), "but got 9")
}

func TestReplay(t *testing.T) {
	ctx := context.Background()
	repo := msgbox.NewMemoryRepository()
	id := msgbox.NewAggregateID("counter", "1")

	require.NoError(t, repo.Persist(ctx,
		msgbox.NewMessage(Incremented{By: 2}).WithAggregate(id, 1),
		msgbox.NewMessage(Incremented{By: 3}).WithAggregate(id, 2),
		msgbox.NewMessage(Reset{}).WithAggregate(id, 3),
		msgbox.NewMessage(Incremented{By: 4}).WithAggregate(id, 4),
	))

	t.Run("replays whole streams", func(t *testing.T) {
		p := msgbox.NewProjector(CounterState{}, counterAppliers)
		n, err := msgbox.Replay(ctx, repo, id, p)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.Equal(t, 4, p.State().Value)
		assert.Equal(t, int64(4), p.Version())
	})

	t.Run("replays after a version", func(t *testing.T) {
		p := msgbox.NewProjector(CounterState{Value: 100}, counterAppliers)
		n, err := msgbox.ReplayAfter(ctx, repo, id, 3, p)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 104, p.State().Value)
	})

	t.Run("stops at consumer failures", func(t *testing.T) {
		boom := errors.New("boom")
		var seen int
		n, err := msgbox.Replay(ctx, repo, id, msgbox.ConsumerFunc(
			func(context.Context, *msgbox.Message) error {
				seen++
				if seen == 2 {
					return boom
				}
				return nil
			},
		))
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "version 2")
		assert.Equal(t, 1, n)
	})
}
