package msgbox_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kode4food/msgbox"
)

func TestSynchronousDispatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers every message to every consumer", func(t *testing.T) {
		var seen []string
		record := func(name string) msgbox.Consumer {
			return msgbox.ConsumerFunc(
				func(_ context.Context, msg *msgbox.Message) error {
					seen = append(seen, name+":"+msg.EventID())
					return nil
				},
			)
		}

		d := msgbox.NewSynchronousDispatcher(nil, record("a"), record("b"))
		err := d.Dispatch(ctx,
			msgbox.NewMessage(OrderPlaced{}).WithHeader(msgbox.HeaderEventID, "1"),
			msgbox.NewMessage(OrderPlaced{}).WithHeader(msgbox.HeaderEventID, "2"),
		)

		assert.NoError(t, err)
		assert.Equal(t, []string{"a:1", "b:1", "a:2", "b:2"}, seen)
	})

	t.Run("stops and logs on failure", func(t *testing.T) {
		core, logs := observer.New(zap.ErrorLevel)
		boom := errors.New("boom")
		var calls int

		d := msgbox.NewSynchronousDispatcher(zap.New(core),
			msgbox.ConsumerFunc(func(context.Context, *msgbox.Message) error {
				calls++
				return nil
			}),
			msgbox.ConsumerFunc(func(context.Context, *msgbox.Message) error {
				return boom
			}),
		)

		err := d.Dispatch(ctx,
			msgbox.NewMessage(OrderPlaced{}).WithHeader(msgbox.HeaderEventID, "1"),
			msgbox.NewMessage(OrderPlaced{}).WithHeader(msgbox.HeaderEventID, "2"),
		)

		assert.ErrorIs(t, err, boom)
		var de *msgbox.DispatchError
		if assert.ErrorAs(t, err, &de) {
			assert.Equal(t, 1, de.Consumer)
			assert.Equal(t, "1", de.EventID)
			assert.Equal(t, msgbox.TypeOf(OrderPlaced{}), de.EventType)
		}
		assert.Contains(t, err.Error(), "consumer 1 failed")
		assert.Equal(t, 1, calls)
		assert.Equal(t, 1, logs.FilterMessage("consumer failed").Len())
	})

	t.Run("honors cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		d := msgbox.NewSynchronousDispatcher(nil,
			msgbox.ConsumerFunc(func(context.Context, *msgbox.Message) error {
				t.Fatal("consumer should not be called")
				return nil
			}),
		)
		err := d.Dispatch(cctx, msgbox.NewMessage(OrderPlaced{}))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
