// Package subscriber receives encoded sensor records over MQTT, decodes them
// and measures how long each took to arrive.
//
// Receive latency is the local receive time minus the record's embedded
// timestamp. It is only meaningful when publisher and subscriber share a
// clock, and may come out negative when they do not.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/illmade-knight/go-mqttbench/pkg/codec"
	"github.com/illmade-knight/go-mqttbench/pkg/latency"
	"github.com/illmade-knight/go-mqttbench/pkg/messagepipeline"
	"github.com/illmade-knight/go-mqttbench/pkg/metrics"
	"github.com/illmade-knight/go-mqttbench/pkg/mqtttransport"
	"github.com/illmade-knight/go-mqttbench/pkg/sensordata"
	"github.com/rs/zerolog"
)

// DefaultClientID is the MQTT client identifier used unless overridden.
const DefaultClientID = "go-subscriber"

// ErrNotConnected is returned by Subscribe before Connect.
var ErrNotConnected = errors.New("subscriber is not connected")

// State is the subscriber's lifecycle state.
type State int

const (
	Disconnected State = iota
	Connected
	Subscribed
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Subscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// Config controls a subscription.
type Config struct {
	Topic    string
	QoS      byte
	Encoding string
	// MaxMessages ends Run once this many messages were handled. Zero means
	// run until cancelled.
	MaxMessages int
	// BufferSize is the consumer channel capacity. Defaults to 100.
	BufferSize int
	// MaxPayloadBytes rejects larger payloads before decoding. Zero means no
	// limit.
	MaxPayloadBytes int
	// StopTimeout bounds how long finalising waits for queued messages.
	// Defaults to 5s.
	StopTimeout time.Duration
}

// Validate checks the values that do not depend on a registry.
func (c Config) Validate() error {
	if c.Topic == "" {
		return errors.New("topic is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("invalid qos %d: must be 0, 1 or 2", c.QoS)
	}
	if c.MaxMessages < 0 {
		return fmt.Errorf("max messages cannot be negative, got %d", c.MaxMessages)
	}
	if c.MaxPayloadBytes < 0 {
		return fmt.Errorf("max payload bytes cannot be negative, got %d", c.MaxPayloadBytes)
	}
	return nil
}

// Summary describes what was received so far.
type Summary struct {
	Encoding string          `json:"encoding"`
	Topic    string          `json:"topic"`
	Received int             `json:"received"`
	Decoded  int             `json:"decoded"`
	Failed   int             `json:"failed"`
	Latency  latency.Summary `json:"receiveLatency"`
}

// Option customises a Subscriber.
type Option func(*Subscriber)

// WithRegistry replaces the default codec registry.
func WithRegistry(r *codec.Registry) Option {
	return func(s *Subscriber) { s.registry = r }
}

// WithRecorder sends measurements to rec.
func WithRecorder(rec metrics.Recorder) Option {
	return func(s *Subscriber) { s.recorder = rec }
}

// WithOutput sets where per-message lines and the summary are written.
func WithOutput(w io.Writer) Option {
	return func(s *Subscriber) { s.out = w }
}

// Subscriber is one MQTT client decoding records from a topic filter.
type Subscriber struct {
	cfg       Config
	transport mqtttransport.Transport
	registry  *codec.Registry
	recorder  metrics.Recorder
	out       io.Writer
	base      zerolog.Logger
	logger    zerolog.Logger

	mu      sync.Mutex
	state   State
	decoded int
	failed  int
	samples latency.Stats
	service *messagepipeline.StreamingService[sensordata.Record]

	limitReached chan struct{}
	limitOnce    sync.Once
	finalOnce    sync.Once
	final        Summary
}

// New validates cfg and the encoding before anything touches the network.
func New(cfg Config, transport mqtttransport.Transport, logger zerolog.Logger, opts ...Option) (*Subscriber, error) {
	if transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}

	s := &Subscriber{
		cfg:          cfg,
		transport:    transport,
		registry:     codec.Default(),
		recorder:     metrics.Nop{},
		out:          io.Discard,
		base:         logger,
		logger:       logger.With().Str("component", "Subscriber").Str("encoding", cfg.Encoding).Logger(),
		limitReached: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := s.registry.Lookup(cfg.Encoding); err != nil {
		return nil, err
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the MQTT session. There is no retry.
func (s *Subscriber) Connect(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = Connected
	s.mu.Unlock()
	return nil
}

// Subscribe starts the decode pipeline and subscribes to the topic filter.
// It must follow Connect.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	if s.State() != Connected {
		return ErrNotConnected
	}

	consumer, err := mqtttransport.NewConsumer(s.transport, s.cfg.Topic, s.cfg.QoS, s.cfg.BufferSize, s.base)
	if err != nil {
		return err
	}
	service, err := messagepipeline.NewStreamingService[sensordata.Record](
		messagepipeline.StreamingServiceConfig{NumWorkers: 1, OnError: s.handleFailure},
		consumer,
		messagepipeline.WithPayloadValidation[sensordata.Record](s.decode, 1, s.cfg.MaxPayloadBytes, s.logger),
		s.process,
		s.base,
	)
	if err != nil {
		return err
	}
	if err := service.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.service = service
	s.state = Subscribed
	s.mu.Unlock()

	s.logger.Info().Str("topic", s.cfg.Topic).Uint8("qos", s.cfg.QoS).Msg("Subscribed.")
	fmt.Fprintf(s.out, "✓ Subscribed to topic: %s (QoS: %d)\n", s.cfg.Topic, s.cfg.QoS)
	return nil
}

// decode is the pipeline transformer.
func (s *Subscriber) decode(_ context.Context, msg *messagepipeline.Message) (*sensordata.Record, bool, error) {
	rec, err := s.registry.Decode(s.cfg.Encoding, msg.Payload)
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

// process records the receive latency of a decoded record.
func (s *Subscriber) process(_ context.Context, msg messagepipeline.Message, rec *sensordata.Record) error {
	lat := sensordata.EpochSeconds(msg.ReceivedAt) - rec.Timestamp
	s.samples.Add(lat)
	s.recorder.ObserveReceive(s.cfg.Encoding, lat, len(msg.Payload))

	s.mu.Lock()
	s.decoded++
	fmt.Fprintf(s.out, "\n[Message %d] Topic: %s\n", msg.Seq, msg.Topic)
	fmt.Fprintf(s.out, "  Sensor ID: %s\n", rec.SensorID)
	fmt.Fprintf(s.out, "  Temperature: %v°C\n", rec.Temperature)
	fmt.Fprintf(s.out, "  Humidity: %v%%\n", rec.Humidity)
	fmt.Fprintf(s.out, "  Pressure: %v hPa\n", rec.Pressure)
	fmt.Fprintf(s.out, "  Timestamp: %v\n", rec.Timestamp)
	fmt.Fprintf(s.out, "  Receive latency: %.2fms\n", lat*1000)
	handled := s.decoded + s.failed
	s.mu.Unlock()

	s.checkLimit(handled)
	return nil
}

// handleFailure reports a message that was rejected or could not be
// decoded. Processing continues with the next one.
func (s *Subscriber) handleFailure(msg messagepipeline.Message, err error) {
	s.recorder.IncDecodeFailure(s.cfg.Encoding)
	s.logger.Warn().Err(err).Uint64("seq", msg.Seq).Str("msg_topic", msg.Topic).Msg("Failed to decode message.")

	s.mu.Lock()
	s.failed++
	fmt.Fprintf(s.out, "\n[Message %d] Error decoding message: %v\n", msg.Seq, err)
	handled := s.decoded + s.failed
	s.mu.Unlock()

	s.checkLimit(handled)
}

func (s *Subscriber) checkLimit(handled int) {
	if s.cfg.MaxMessages > 0 && handled >= s.cfg.MaxMessages {
		s.limitOnce.Do(func() { close(s.limitReached) })
	}
}

// Summary reports the counters and latency statistics collected so far.
// Every handled message is either decoded or failed.
func (s *Subscriber) Summary() Summary {
	s.mu.Lock()
	sum := Summary{
		Encoding: s.cfg.Encoding,
		Topic:    s.cfg.Topic,
		Received: s.decoded + s.failed,
		Decoded:  s.decoded,
		Failed:   s.failed,
	}
	s.mu.Unlock()
	sum.Latency = s.samples.Summary()
	return sum
}

// Disconnect stops the pipeline, letting queued messages finish, then closes
// the session. It is safe to call more than once.
func (s *Subscriber) Disconnect() {
	s.mu.Lock()
	service := s.service
	s.service = nil
	wasOpen := s.state != Disconnected
	s.state = Disconnected
	s.mu.Unlock()

	if service != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StopTimeout)
		if err := service.Stop(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Pipeline did not drain before the stop timeout.")
		}
		cancel()
	}
	if wasOpen {
		s.transport.Disconnect()
	}
}

// Close finalises the run exactly once: it disconnects and prints the
// summary. Later calls return the same summary without printing again.
func (s *Subscriber) Close() Summary {
	s.finalOnce.Do(func() {
		s.Disconnect()
		s.final = s.Summary()
		PrintSummary(s.out, s.final)
		s.logger.Info().
			Int("received", s.final.Received).
			Int("failed", s.final.Failed).
			Float64("mean_latency_ms", s.final.Latency.Mean*1000).
			Msg("Subscriber finished.")
	})
	return s.final
}

// Run connects, subscribes and receives until ctx is cancelled or the
// message limit is hit, then finalises. Cancellation while connecting or
// subscribing is a normal end of the run, not an error.
func (s *Subscriber) Run(ctx context.Context) (Summary, error) {
	if err := s.Connect(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return s.Close(), nil
		}
		return s.Summary(), err
	}
	if err := s.Subscribe(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return s.Close(), nil
		}
		s.Disconnect()
		return s.Summary(), err
	}
	fmt.Fprintf(s.out, "\nWaiting for messages (Ctrl+C to exit)...\n")

	select {
	case <-ctx.Done():
	case <-s.limitReached:
	}
	return s.Close(), nil
}

// PrintSummary writes the human-readable summary. The mean latency is
// omitted when no record was decoded.
func PrintSummary(w io.Writer, s Summary) {
	fmt.Fprintf(w, "\n✓ Received %d messages", s.Received)
	if s.Failed > 0 {
		fmt.Fprintf(w, " (%d failed to decode)", s.Failed)
	}
	fmt.Fprintln(w)
	if s.Latency.Count > 0 {
		fmt.Fprintf(w, "✓ Average receive latency: %.2fms\n", s.Latency.Mean*1000)
	}
	fmt.Fprintln(w, "✓ Disconnected")
}
