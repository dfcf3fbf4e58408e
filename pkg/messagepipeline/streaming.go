package messagepipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// StreamingService orchestrates a pipeline that consumes messages, transforms
// them individually, and hands each result to a processor.
//
// With the default single worker, transform and process calls never overlap,
// so processors may keep unsynchronised per-run state.
type StreamingService[T any] struct {
	numWorkers  int
	consumer    MessageConsumer
	transformer MessageTransformer[T]
	processor   StreamProcessor[T]
	onError     ErrorHandler
	logger      zerolog.Logger
	wg          sync.WaitGroup
}

// StreamingServiceConfig holds configuration for a StreamingService.
type StreamingServiceConfig struct {
	// NumWorkers defaults to 1.
	NumWorkers int
	// OnError is called for transform and process failures. Optional.
	OnError ErrorHandler
}

// NewStreamingService creates a new StreamingService.
func NewStreamingService[T any](
	cfg StreamingServiceConfig,
	consumer MessageConsumer,
	transformer MessageTransformer[T],
	processor StreamProcessor[T],
	logger zerolog.Logger,
) (*StreamingService[T], error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if transformer == nil {
		return nil, fmt.Errorf("transformer cannot be nil")
	}
	if processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	onError := cfg.OnError
	if onError == nil {
		onError = func(Message, error) {}
	}

	return &StreamingService[T]{
		numWorkers:  cfg.NumWorkers,
		consumer:    consumer,
		transformer: transformer,
		processor:   processor,
		onError:     onError,
		logger:      logger.With().Str("service", "StreamingService").Logger(),
	}, nil
}

// Start starts the consumer and then the worker pool.
func (s *StreamingService[T]) Start(ctx context.Context) error {
	s.logger.Debug().Msg("Starting streaming service...")

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message consumer: %w", err)
	}

	s.wg.Add(s.numWorkers)
	for i := 0; i < s.numWorkers; i++ {
		go s.worker(ctx, i)
	}

	s.logger.Debug().Int("worker_count", s.numWorkers).Msg("Streaming service started.")
	return nil
}

// Stop stops the consumer, then waits for workers to drain what was
// already delivered.
func (s *StreamingService[T]) Stop(ctx context.Context) error {
	s.logger.Debug().Msg("Stopping streaming service...")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	workerDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workerDone)
	}()

	select {
	case <-workerDone:
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for processing workers to finish.")
		return ctx.Err()
	}

	s.logger.Debug().Msg("Streaming service stopped.")
	return nil
}

// worker drains the consumer channel until it is closed. Cancelling ctx does
// not stop the worker: already-delivered messages are still accounted for,
// and Stop closes the channel.
func (s *StreamingService[T]) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for msg := range s.consumer.Messages() {
		s.processConsumedMessage(ctx, msg, workerID)
	}
	s.logger.Debug().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
}

// processConsumedMessage contains the core logic for transforming and processing a single message.
func (s *StreamingService[T]) processConsumedMessage(ctx context.Context, msg Message, workerID int) {
	transformedPayload, skip, err := s.transformer(ctx, &msg)
	if err != nil {
		s.logger.Debug().Err(err).Uint64("seq", msg.Seq).Int("worker_id", workerID).Msg("Failed to transform message.")
		s.onError(msg, err)
		return
	}
	if skip {
		s.logger.Debug().Uint64("seq", msg.Seq).Msg("Transformer signaled to skip message.")
		return
	}

	if err := s.processor(ctx, msg, transformedPayload); err != nil {
		s.logger.Debug().Err(err).Uint64("seq", msg.Seq).Msg("Processor failed to handle message.")
		s.onError(msg, err)
	}
}
