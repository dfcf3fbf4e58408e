package messagepipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrPayloadSize is returned for payloads outside the configured bounds.
var ErrPayloadSize = errors.New("payload size out of bounds")

// WithPayloadValidation wraps a transformer so payloads shorter than minSize
// or longer than maxSize are rejected before the inner transformer runs. A
// maxSize of zero or less disables the upper bound.
func WithPayloadValidation[T any](
	innerTransformer MessageTransformer[T],
	minSize int,
	maxSize int,
	logger zerolog.Logger,
) MessageTransformer[T] {
	return func(ctx context.Context, msg *Message) (*T, bool, error) {
		payloadLen := len(msg.Payload)
		if payloadLen < minSize || (maxSize > 0 && payloadLen > maxSize) {
			logger.Warn().Uint64("seq", msg.Seq).Int("payload_size", payloadLen).Msg("Rejecting message due to invalid payload size.")
			return nil, false, fmt.Errorf("%w: %d bytes, want %d..%d", ErrPayloadSize, payloadLen, minSize, maxSize)
		}
		return innerTransformer(ctx, msg)
	}
}
