package mqtttransport

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/illmade-knight/go-mqttbench/pkg/messagepipeline"
	"github.com/rs/zerolog"
)

// Consumer implements messagepipeline.MessageConsumer for one MQTT topic
// filter. It numbers messages in arrival order.
type Consumer struct {
	transport  Transport
	topic      string
	qos        byte
	logger     zerolog.Logger
	outputChan chan messagepipeline.Message
	doneChan   chan struct{}
	stopping   chan struct{}
	seq        atomic.Uint64

	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

// NewConsumer creates a Consumer on an already connected transport. It does
// not subscribe until Start is called.
func NewConsumer(transport Transport, topic string, qos byte, bufferSize int, logger zerolog.Logger) (*Consumer, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Consumer{
		transport:  transport,
		topic:      topic,
		qos:        qos,
		logger:     logger.With().Str("component", "MqttConsumer").Str("topic", topic).Logger(),
		outputChan: make(chan messagepipeline.Message, bufferSize),
		doneChan:   make(chan struct{}),
		stopping:   make(chan struct{}),
	}, nil
}

// Messages returns the channel of received messages.
func (c *Consumer) Messages() <-chan messagepipeline.Message {
	return c.outputChan
}

// Start subscribes to the topic filter.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.transport.Subscribe(ctx, c.topic, c.qos, c.handleIncomingMessage(ctx)); err != nil {
		return err
	}
	c.logger.Debug().Msg("MqttConsumer started.")
	return nil
}

// Stop closes the output channel. Messages arriving afterwards are dropped.
// It does not disconnect the transport, which belongs to the caller.
func (c *Consumer) Stop(_ context.Context) error {
	c.stopOnce.Do(func() {
		close(c.stopping)
		c.mu.Lock()
		c.closed = true
		close(c.outputChan)
		c.mu.Unlock()
		close(c.doneChan)
		c.logger.Debug().Uint64("received", c.seq.Load()).Msg("MqttConsumer stopped.")
	})
	return nil
}

// Done returns a channel that is closed when the consumer has fully stopped.
func (c *Consumer) Done() <-chan struct{} {
	return c.doneChan
}

// Received returns how many messages have arrived so far.
func (c *Consumer) Received() uint64 {
	return c.seq.Load()
}

// handleIncomingMessage returns the transport callback that forwards
// messages into the pipeline.
func (c *Consumer) handleIncomingMessage(ctx context.Context) MessageHandler {
	return func(in InMessage) {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.closed {
			c.logger.Warn().Str("msg_topic", in.Topic).Msg("Consumer is stopped, dropping MQTT message.")
			return
		}

		msg := messagepipeline.Message{
			ID:         strconv.Itoa(int(in.MessageID)),
			Seq:        c.seq.Add(1),
			Topic:      in.Topic,
			Payload:    in.Payload,
			ReceivedAt: in.ReceivedAt,
			Attributes: map[string]string{
				"qos":       strconv.Itoa(int(in.QoS)),
				"duplicate": strconv.FormatBool(in.Duplicate),
				"retained":  strconv.FormatBool(in.Retained),
			},
		}
		c.logger.Debug().Uint64("seq", msg.Seq).Str("msg_topic", in.Topic).Msg("Received MQTT message")

		select {
		case c.outputChan <- msg:
		case <-c.stopping:
			c.logger.Warn().Uint64("seq", msg.Seq).Msg("Consumer is shutting down, dropping MQTT message.")
		case <-ctx.Done():
			c.logger.Warn().Uint64("seq", msg.Seq).Msg("Context done, dropping MQTT message.")
		}
	}
}
