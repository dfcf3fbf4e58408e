package messagepipeline

import (
	"context"
)

// MessageConsumer is a message source feeding the pipeline.
type MessageConsumer interface {
	// Messages returns a read-only channel from which pipeline workers will receive messages.
	Messages() <-chan Message
	// Start begins consumption, e.g. by subscribing to the broker.
	Start(ctx context.Context) error
	// Stop ceases consumption and closes the Messages channel.
	Stop(ctx context.Context) error
	// Done returns a channel that is closed when the consumer has completely shut down.
	Done() <-chan struct{}
}

// MessageTransformer turns a raw Message into a typed payload.
//
// Returning skip=true drops the message without calling the processor or the
// error handler. Returning an error routes the message to the ErrorHandler.
type MessageTransformer[T any] func(ctx context.Context, msg *Message) (payload *T, skip bool, err error)

// StreamProcessor handles one transformed payload.
type StreamProcessor[T any] func(ctx context.Context, original Message, payload *T) error

// ErrorHandler is told about every message that failed to transform or
// process. The pipeline keeps running afterwards.
type ErrorHandler func(msg Message, err error)
