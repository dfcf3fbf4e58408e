// Package publisher builds synthetic sensor records, encodes them with a
// chosen codec and publishes them over MQTT, timing every publish.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/illmade-knight/go-mqttbench/pkg/codec"
	"github.com/illmade-knight/go-mqttbench/pkg/latency"
	"github.com/illmade-knight/go-mqttbench/pkg/metrics"
	"github.com/illmade-knight/go-mqttbench/pkg/mqtttransport"
	"github.com/illmade-knight/go-mqttbench/pkg/sensordata"
	"github.com/rs/zerolog"
)

// DefaultClientID is the MQTT client identifier used unless overridden.
const DefaultClientID = "go-publisher"

// ErrNotConnected is returned when publishing before Connect.
var ErrNotConnected = errors.New("publisher is not connected")

// State is the publisher's connection state.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Config controls a publishing run.
type Config struct {
	Topic    string
	QoS      byte
	Encoding string
	SensorID string
	Tier     sensordata.Tier
	Count    int
	// Interval is the pause between publishes. Nothing is slept after the
	// last one.
	Interval time.Duration
	// ContinueOnError keeps the run going after a failed publish, which is
	// then counted and logged.
	ContinueOnError bool
}

// Validate checks the values that do not depend on a registry.
func (c Config) Validate() error {
	if c.Topic == "" {
		return errors.New("topic is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("invalid qos %d: must be 0, 1 or 2", c.QoS)
	}
	if c.Count < 1 {
		return fmt.Errorf("count must be at least 1, got %d", c.Count)
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval cannot be negative, got %s", c.Interval)
	}
	return nil
}

// Summary describes a finished (or interrupted) run.
type Summary struct {
	Encoding    string          `json:"encoding"`
	Tier        sensordata.Tier `json:"tier"`
	Attempted   int             `json:"attempted"`
	Published   int             `json:"published"`
	Failed      int             `json:"failed"`
	BytesSent   int64           `json:"bytesSent"`
	PublishTime latency.Summary `json:"publishTime"`
}

// Option customises a Publisher.
type Option func(*Publisher)

// WithRegistry replaces the default codec registry.
func WithRegistry(r *codec.Registry) Option {
	return func(p *Publisher) { p.registry = r }
}

// WithRecorder sends measurements to rec.
func WithRecorder(rec metrics.Recorder) Option {
	return func(p *Publisher) { p.recorder = rec }
}

// WithOutput sets where per-message lines and the summary are written.
func WithOutput(w io.Writer) Option {
	return func(p *Publisher) { p.out = w }
}

// WithGenerator replaces the record generator.
func WithGenerator(g *sensordata.Generator) Option {
	return func(p *Publisher) { p.generator = g }
}

// Publisher is one MQTT client publishing encoded sensor records.
type Publisher struct {
	cfg       Config
	transport mqtttransport.Transport
	registry  *codec.Registry
	recorder  metrics.Recorder
	generator *sensordata.Generator
	out       io.Writer
	logger    zerolog.Logger

	mu        sync.Mutex
	state     State
	attempted int
	failed    int
	bytesSent int64
	times     latency.Stats
}

// New validates cfg and the encoding before anything touches the network.
func New(cfg Config, transport mqtttransport.Transport, logger zerolog.Logger, opts ...Option) (*Publisher, error) {
	if transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Publisher{
		cfg:       cfg,
		transport: transport,
		registry:  codec.Default(),
		recorder:  metrics.Nop{},
		generator: sensordata.NewGenerator(),
		out:       io.Discard,
		logger:    logger.With().Str("component", "Publisher").Str("encoding", cfg.Encoding).Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if _, err := p.registry.Lookup(cfg.Encoding); err != nil {
		return nil, err
	}
	if _, ok := sensordata.ParseTier(string(cfg.Tier)); !ok {
		p.logger.Warn().Str("payload", string(cfg.Tier)).Msg("Unknown payload tier, publishing the small shape.")
	}
	return p, nil
}

// State returns the current connection state.
func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Connect opens the MQTT session. There is no retry.
func (p *Publisher) Connect(ctx context.Context) error {
	if err := p.transport.Connect(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.state = Connected
	p.mu.Unlock()
	return nil
}

// Disconnect closes the session. It is safe to call more than once.
func (p *Publisher) Disconnect() {
	p.mu.Lock()
	wasConnected := p.state == Connected
	p.state = Disconnected
	p.mu.Unlock()

	if wasConnected {
		p.transport.Disconnect()
	}
}

// PublishOnce encodes rec and publishes it, returning the time spent on both
// as measured by the monotonic clock. The record's timestamp is not touched.
func (p *Publisher) PublishOnce(ctx context.Context, rec *sensordata.Record) (time.Duration, error) {
	if p.State() != Connected {
		return 0, ErrNotConnected
	}

	p.mu.Lock()
	p.attempted++
	p.mu.Unlock()

	start := time.Now()
	payload, err := p.registry.Encode(p.cfg.Encoding, rec)
	if err == nil {
		err = p.transport.Publish(ctx, p.cfg.Topic, p.cfg.QoS, payload)
	}
	elapsed := time.Since(start)

	if err != nil {
		p.mu.Lock()
		p.failed++
		p.mu.Unlock()
		p.recorder.IncPublishFailure(p.cfg.Encoding)
		return elapsed, err
	}

	p.times.AddDuration(elapsed)
	p.mu.Lock()
	p.bytesSent += int64(len(payload))
	p.mu.Unlock()
	p.recorder.ObservePublish(p.cfg.Encoding, elapsed.Seconds(), len(payload))
	return elapsed, nil
}

// Run publishes Count fresh records, pausing Interval between them. It stops
// early when ctx is cancelled and still returns what was measured. With
// ContinueOnError unset the first failed publish ends the run with an error.
func (p *Publisher) Run(ctx context.Context) (Summary, error) {
	if p.State() != Connected {
		return p.Summary(), ErrNotConnected
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

loop:
	for i := 0; i < p.cfg.Count; i++ {
		if ctx.Err() != nil {
			break
		}

		fmt.Fprintf(p.out, "Publishing message %d/%d...\n", i+1, p.cfg.Count)
		rec := p.generator.Record(p.cfg.SensorID, p.cfg.Tier)
		elapsed, err := p.PublishOnce(ctx, rec)
		switch {
		case err != nil && ctx.Err() != nil:
			break loop
		case err != nil:
			p.logger.Error().Err(err).Int("message", i+1).Msg("Failed to publish message.")
			fmt.Fprintf(p.out, "  Error publishing message: %v\n", err)
			if !p.cfg.ContinueOnError {
				return p.Summary(), fmt.Errorf("publish %d/%d: %w", i+1, p.cfg.Count, err)
			}
		default:
			fmt.Fprintf(p.out, "  Publish time: %.2fms\n", milliseconds(elapsed.Seconds()))
		}

		if i == p.cfg.Count-1 || p.cfg.Interval <= 0 {
			continue
		}
		if timer == nil {
			timer = time.NewTimer(p.cfg.Interval)
		} else {
			timer.Reset(p.cfg.Interval)
		}
		select {
		case <-ctx.Done():
			break loop
		case <-timer.C:
		}
	}

	s := p.Summary()
	p.logger.Info().
		Int("published", s.Published).
		Int("failed", s.Failed).
		Float64("mean_publish_ms", milliseconds(s.PublishTime.Mean)).
		Msg("Publish run finished.")
	return s, nil
}

// Summary reports the measurements collected so far.
func (p *Publisher) Summary() Summary {
	p.mu.Lock()
	s := Summary{
		Encoding:  p.cfg.Encoding,
		Tier:      p.cfg.Tier,
		Attempted: p.attempted,
		Failed:    p.failed,
		BytesSent: p.bytesSent,
	}
	p.mu.Unlock()
	s.PublishTime = p.times.Summary()
	s.Published = s.PublishTime.Count
	return s
}

// PrintSummary writes the human-readable run summary. The mean is omitted
// when nothing was published.
func PrintSummary(w io.Writer, s Summary) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "✓ Published %d messages", s.Published)
	if s.Failed > 0 {
		fmt.Fprintf(w, " (%d failed)", s.Failed)
	}
	fmt.Fprintln(w)
	if s.PublishTime.Count > 0 {
		fmt.Fprintf(w, "✓ Average publish time: %.2fms\n", milliseconds(s.PublishTime.Mean))
	}
}

func milliseconds(seconds float64) float64 {
	return seconds * 1000
}
