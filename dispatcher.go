package msgbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type (
	// Dispatcher delivers Messages to Consumers
	Dispatcher interface {
		Dispatch(context.Context, ...*Message) error
	}

	// SynchronousDispatcher hands every Message to every Consumer in
	// registration order on the calling goroutine
	SynchronousDispatcher struct {
		logger    *zap.Logger
		consumers []Consumer
	}

	// DispatchError reports which Consumer failed on which Message
	DispatchError struct {
		Err       error
		EventID   string
		EventType EventType
		Consumer  int
	}
)

// NewSynchronousDispatcher creates a SynchronousDispatcher. A nil logger
// disables logging
func NewSynchronousDispatcher(
	logger *zap.Logger, consumers ...Consumer,
) *SynchronousDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SynchronousDispatcher{
		logger:    logger,
		consumers: consumers,
	}
}

// Dispatch stops at the first Consumer failure, leaving the remaining
// deliveries unattempted
func (d *SynchronousDispatcher) Dispatch(
	ctx context.Context, msgs ...*Message,
) error {
	for _, msg := range msgs {
		for i, c := range d.consumers {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.Handle(ctx, msg); err != nil {
				d.logger.Error("consumer failed",
					zap.String("event_id", msg.EventID()),
					zap.String("event_type", string(msg.EventType())),
					zap.Int("consumer", i),
					zap.Error(err),
				)
				return &DispatchError{
					Err:       err,
					EventID:   msg.EventID(),
					EventType: msg.EventType(),
					Consumer:  i,
				}
			}
			d.logger.Debug("message handled",
				zap.String("event_id", msg.EventID()),
				zap.String("event_type", string(msg.EventType())),
				zap.Int("consumer", i),
			)
		}
	}
	return nil
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("consumer %d failed on %s message %q: %v",
		e.Consumer, e.EventType, e.EventID, e.Err,
	)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
