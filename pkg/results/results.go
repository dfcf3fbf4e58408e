// Package results persists run summaries so runs with different encodings
// can be compared afterwards.
package results

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-mqttbench/pkg/latency"
	"github.com/illmade-knight/go-mqttbench/pkg/publisher"
	"github.com/illmade-knight/go-mqttbench/pkg/subscriber"
	"github.com/rs/zerolog"
)

// Latency kinds.
const (
	KindPublish = "publish"
	KindReceive = "receive"
)

// RunResult is one command run.
type RunResult struct {
	RunID       string          `json:"runId"`
	Tool        string          `json:"tool"`
	Broker      string          `json:"broker"`
	Topic       string          `json:"topic"`
	QoS         int             `json:"qos"`
	Encoding    string          `json:"encoding"`
	Tier        string          `json:"tier,omitempty"`
	Count       int             `json:"count"`
	Failed      int             `json:"failed"`
	BytesSent   int64           `json:"bytesSent,omitempty"`
	LatencyKind string          `json:"latencyKind"`
	Latency     latency.Summary `json:"latency"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  time.Time       `json:"finishedAt"`
}

// Run identifies a run while it is in progress.
type Run struct {
	ID        string
	Tool      string
	Broker    string
	Topic     string
	QoS       int
	StartedAt time.Time
}

// NewRun starts a run with a fresh random id.
func NewRun(tool, broker, topic string, qos int) Run {
	return Run{
		ID:        uuid.NewString(),
		Tool:      tool,
		Broker:    broker,
		Topic:     topic,
		QoS:       qos,
		StartedAt: time.Now().UTC(),
	}
}

func (r Run) result() RunResult {
	return RunResult{
		RunID:      r.ID,
		Tool:       r.Tool,
		Broker:     r.Broker,
		Topic:      r.Topic,
		QoS:        r.QoS,
		StartedAt:  r.StartedAt,
		FinishedAt: time.Now().UTC(),
	}
}

// FromPublisher completes the run with a publisher summary.
func (r Run) FromPublisher(s publisher.Summary) RunResult {
	res := r.result()
	res.Encoding = s.Encoding
	res.Tier = string(s.Tier)
	res.Count = s.Published
	res.Failed = s.Failed
	res.BytesSent = s.BytesSent
	res.LatencyKind = KindPublish
	res.Latency = s.PublishTime
	return res
}

// FromSubscriber completes the run with a subscriber summary.
func (r Run) FromSubscriber(s subscriber.Summary) RunResult {
	res := r.result()
	res.Encoding = s.Encoding
	res.Count = s.Received
	res.Failed = s.Failed
	res.LatencyKind = KindReceive
	res.Latency = s.Latency
	return res
}

// Sink stores run results.
type Sink interface {
	Write(ctx context.Context, res RunResult) error
	Close() error
}

// MultiSink writes to every sink, attempting all of them even when one fails.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, res RunResult) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open builds the sinks selected by the command flags. Either argument may
// be empty; with both empty the returned sink does nothing.
func Open(ctx context.Context, file, redisAddr string, logger zerolog.Logger) (MultiSink, error) {
	var sinks MultiSink
	if file != "" {
		fs, err := NewFileSink(file, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fs)
	}
	if redisAddr != "" {
		rs, err := NewRedisSink(ctx, &RedisConfig{Addr: redisAddr}, logger)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, rs)
	}
	return sinks, nil
}
