package publisher_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-mqttbench/pkg/codec"
	"github.com/illmade-knight/go-mqttbench/pkg/mqtttransport"
	"github.com/illmade-knight/go-mqttbench/pkg/publisher"
	"github.com/illmade-knight/go-mqttbench/pkg/sensordata"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() publisher.Config {
	return publisher.Config{
		Topic:           "mqtt-demo/all",
		QoS:             1,
		Encoding:        codec.JSON,
		SensorID:        "sensor_001",
		Tier:            sensordata.TierSmall,
		Count:           3,
		ContinueOnError: true,
	}
}

type captured struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *captured) handler(msg mqtttransport.InMessage) {
	c.mu.Lock()
	c.payloads = append(c.payloads, msg.Payload)
	c.mu.Unlock()
}

func (c *captured) all() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.payloads...)
}

// setup returns a connected publisher and the payloads a listener on the
// same topic sees.
func setup(t *testing.T, cfg publisher.Config, opts ...publisher.Option) (*publisher.Publisher, *mqtttransport.MemoryTransport, *captured) {
	t.Helper()
	ctx := context.Background()
	broker := mqtttransport.NewMemoryBroker()

	listener := broker.NewTransport("listener")
	require.NoError(t, listener.Connect(ctx))
	c := &captured{}
	require.NoError(t, listener.Subscribe(ctx, cfg.Topic, 2, c.handler))

	tr := broker.NewTransport(publisher.DefaultClientID)
	p, err := publisher.New(cfg, tr, zerolog.Nop(), opts...)
	require.NoError(t, err)
	require.NoError(t, p.Connect(ctx))
	t.Cleanup(p.Disconnect)
	return p, tr, c
}

func TestNew_Validation(t *testing.T) {
	broker := mqtttransport.NewMemoryBroker()
	tr := broker.NewTransport("p")

	testCases := []struct {
		name   string
		mutate func(*publisher.Config)
	}{
		{"unknown encoding", func(c *publisher.Config) { c.Encoding = "xml" }},
		{"qos out of range", func(c *publisher.Config) { c.QoS = 3 }},
		{"zero count", func(c *publisher.Config) { c.Count = 0 }},
		{"negative interval", func(c *publisher.Config) { c.Interval = -time.Second }},
		{"missing topic", func(c *publisher.Config) { c.Topic = "" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(&cfg)
			_, err := publisher.New(cfg, tr, zerolog.Nop())
			assert.Error(t, err)
		})
	}

	t.Run("unknown encoding is typed", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Encoding = "xml"
		_, err := publisher.New(cfg, tr, zerolog.Nop())
		assert.ErrorIs(t, err, codec.ErrUnsupportedEncoding)
	})

	t.Run("unknown tier is accepted", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Tier = "Medium"
		_, err := publisher.New(cfg, tr, zerolog.Nop())
		assert.NoError(t, err)
	})
}

func TestPublishOnce_RequiresConnection(t *testing.T) {
	broker := mqtttransport.NewMemoryBroker()
	p, err := publisher.New(baseConfig(), broker.NewTransport("p"), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, publisher.Disconnected, p.State())

	_, err = p.PublishOnce(context.Background(), sensordata.NewRecord("s", sensordata.TierSmall))
	assert.ErrorIs(t, err, publisher.ErrNotConnected)

	_, err = p.Run(context.Background())
	assert.ErrorIs(t, err, publisher.ErrNotConnected)
}

func TestPublishOnce_EncodesWithConfiguredCodec(t *testing.T) {
	for _, enc := range []string{codec.JSON, codec.MsgPack, codec.CBOR, codec.Protobuf} {
		t.Run(enc, func(t *testing.T) {
			cfg := baseConfig()
			cfg.Encoding = enc
			p, _, c := setup(t, cfg)

			rec := sensordata.NewRecord("sensor_042", sensordata.TierMedium)
			d, err := p.PublishOnce(context.Background(), rec)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, d, time.Duration(0))

			got := c.all()
			require.Len(t, got, 1)
			decoded, err := codec.Decode(enc, got[0])
			require.NoError(t, err)
			assert.Equal(t, rec, decoded)
		})
	}
}

func TestRun_PublishesCountRecords(t *testing.T) {
	var out bytes.Buffer
	p, tr, c := setup(t, baseConfig(), publisher.WithOutput(&out))

	s, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, s.Published)
	assert.Equal(t, 3, s.Attempted)
	assert.Equal(t, 0, s.Failed)
	assert.Equal(t, 3, s.PublishTime.Count)
	assert.Greater(t, s.BytesSent, int64(0))
	assert.Equal(t, 3, tr.Published())

	got := c.all()
	require.Len(t, got, 3)
	for _, payload := range got {
		rec, err := codec.Decode(codec.JSON, payload)
		require.NoError(t, err)
		assert.Equal(t, "sensor_001", rec.SensorID)
		tier, err := rec.Tier()
		require.NoError(t, err)
		assert.Equal(t, sensordata.TierSmall, tier)
	}

	assert.Equal(t, 3, strings.Count(out.String(), "Publish time:"))
	assert.Contains(t, out.String(), "Publishing message 3/3...")
}

func TestRun_NoSleepAfterLastPublish(t *testing.T) {
	cfg := baseConfig()
	cfg.Count = 1
	cfg.Interval = 5 * time.Second
	p, _, _ := setup(t, cfg)

	start := time.Now()
	s, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Published)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRun_CancelDuringSleep(t *testing.T) {
	cfg := baseConfig()
	cfg.Count = 10
	cfg.Interval = time.Hour
	p, _, c := setup(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		assert.Eventually(t, func() bool { return len(c.all()) == 1 }, time.Second, 5*time.Millisecond)
	}()

	s, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Published)
}

func TestRun_PublishFailures(t *testing.T) {
	brokerDown := errors.New("broker went away")

	t.Run("continue on error counts failures", func(t *testing.T) {
		p, tr, c := setup(t, baseConfig())
		tr.FailPublish(brokerDown)

		s, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, s.Published)
		assert.Equal(t, 3, s.Failed)
		assert.Empty(t, c.all())

		var out bytes.Buffer
		publisher.PrintSummary(&out, s)
		assert.Contains(t, out.String(), "Published 0 messages (3 failed)")
		assert.NotContains(t, out.String(), "Average publish time")
	})

	t.Run("abort on error", func(t *testing.T) {
		cfg := baseConfig()
		cfg.ContinueOnError = false
		p, tr, _ := setup(t, cfg)
		tr.FailPublish(brokerDown)

		s, err := p.Run(context.Background())
		assert.ErrorIs(t, err, brokerDown)
		var transportErr *mqtttransport.TransportError
		assert.True(t, errors.As(err, &transportErr))
		assert.Equal(t, 1, s.Failed)
	})
}

func TestConnectFailure(t *testing.T) {
	broker := mqtttransport.NewMemoryBroker()
	tr := broker.NewTransport("p")
	tr.FailConnect(errors.New("connection refused"))

	p, err := publisher.New(baseConfig(), tr, zerolog.Nop())
	require.NoError(t, err)

	err = p.Connect(context.Background())
	var transportErr *mqtttransport.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, publisher.Disconnected, p.State())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	p, tr, _ := setup(t, baseConfig())
	p.Disconnect()
	p.Disconnect()
	assert.Equal(t, publisher.Disconnected, p.State())
	assert.False(t, tr.IsConnected())
}

func TestPrintSummary(t *testing.T) {
	p, _, _ := setup(t, baseConfig())
	s, err := p.Run(context.Background())
	require.NoError(t, err)

	var out bytes.Buffer
	publisher.PrintSummary(&out, s)
	assert.Contains(t, out.String(), "✓ Published 3 messages\n")
	assert.Contains(t, out.String(), "✓ Average publish time:")
}
