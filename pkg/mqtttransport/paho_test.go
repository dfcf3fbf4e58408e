package mqtttransport_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/illmade-knight/go-mqttbench/pkg/mqtttransport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mocks for Paho MQTT Client ---

type mockToken struct{ err error }

func (m *mockToken) Wait() bool                       { return true }
func (m *mockToken) WaitTimeout(_ time.Duration) bool { return true }
func (m *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (m *mockToken) Error() error { return m.err }

// pendingToken never completes.
type pendingToken struct{}

func (pendingToken) Wait() bool                       { return false }
func (pendingToken) WaitTimeout(_ time.Duration) bool { return false }
func (pendingToken) Done() <-chan struct{}            { return make(chan struct{}) }
func (pendingToken) Error() error                     { return nil }

type mockMqttMessage struct {
	topic     string
	payload   []byte
	messageID uint16
}

func (m *mockMqttMessage) Topic() string     { return m.topic }
func (m *mockMqttMessage) Payload() []byte   { return m.payload }
func (m *mockMqttMessage) MessageID() uint16 { return m.messageID }
func (m *mockMqttMessage) Duplicate() bool   { return false }
func (m *mockMqttMessage) Qos() byte         { return 1 }
func (m *mockMqttMessage) Retained() bool    { return false }
func (m *mockMqttMessage) Ack()              {}

type mockMqttClient struct {
	mu               sync.Mutex
	isConnected      bool
	connectErr       error
	publishErr       error
	publishPending   bool
	disconnectCalls  int
	subscribedTopic  string
	subscribedQoS    byte
	messageHandler   mqtt.MessageHandler
	publishedTopic   string
	publishedQoS     byte
	publishedPayload []byte
}

func (m *mockMqttClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isConnected
}
func (m *mockMqttClient) IsConnectionOpen() bool { return m.IsConnected() }
func (m *mockMqttClient) Connect() mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return &mockToken{err: m.connectErr}
	}
	m.isConnected = true
	return &mockToken{}
}
func (m *mockMqttClient) Disconnect(quiesce uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isConnected = false
	m.disconnectCalls++
}
func (m *mockMqttClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribedTopic = topic
	m.subscribedQoS = qos
	m.messageHandler = callback
	return &mockToken{}
}
func (m *mockMqttClient) Unsubscribe(topics ...string) mqtt.Token { return &mockToken{} }
func (m *mockMqttClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishPending {
		return pendingToken{}
	}
	m.publishedTopic = topic
	m.publishedQoS = qos
	m.publishedPayload, _ = payload.([]byte)
	return &mockToken{err: m.publishErr}
}
func (m *mockMqttClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return &mockToken{}
}
func (m *mockMqttClient) AddRoute(topic string, callback mqtt.MessageHandler) {}
func (m *mockMqttClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

func newTestConfig() *mqtttransport.ClientConfig {
	cfg := mqtttransport.LoadClientConfigWithEnv()
	cfg.BrokerURL = "tcp://localhost:1883"
	cfg.ClientID = "go-test"
	cfg.PublishTimeout = 50 * time.Millisecond
	return cfg
}

// --- Test Cases ---

func TestNewPahoTransport_Validation(t *testing.T) {
	_, err := mqtttransport.NewPahoTransport(&mqtttransport.ClientConfig{ClientID: "x"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = mqtttransport.NewPahoTransport(&mqtttransport.ClientConfig{BrokerURL: "tcp://localhost:1883"}, zerolog.Nop())
	assert.Error(t, err)

	tr, err := mqtttransport.NewPahoTransport(newTestConfig(), zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, tr.IsConnected())
}

func TestPahoTransport_ConnectFailure(t *testing.T) {
	mockClient := &mockMqttClient{connectErr: errors.New("connection refused")}
	tr := mqtttransport.NewPahoTransportWithClient(mockClient, newTestConfig(), zerolog.Nop())

	err := tr.Connect(context.Background())
	require.Error(t, err)

	var transportErr *mqtttransport.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, "connect", transportErr.Op)
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, tr.IsConnected())
}

func TestPahoTransport_ConnectCancelled(t *testing.T) {
	mockClient := &mockMqttClient{}
	tr := mqtttransport.NewPahoTransportWithClient(mockClient, newTestConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tr.Connect(ctx)
	var transportErr *mqtttransport.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, "connect", transportErr.Op)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, tr.IsConnected(), "a cancelled connect never reaches the client")
}

func TestPahoTransport_PublishAndSubscribe(t *testing.T) {
	mockClient := &mockMqttClient{}
	tr := mqtttransport.NewPahoTransportWithClient(mockClient, newTestConfig(), zerolog.Nop())
	ctx := context.Background()

	err := tr.Publish(ctx, "t", 1, []byte("early"))
	assert.ErrorIs(t, err, mqtttransport.ErrNotConnected)
	err = tr.Subscribe(ctx, "t", 1, func(mqtttransport.InMessage) {})
	assert.ErrorIs(t, err, mqtttransport.ErrNotConnected)

	require.NoError(t, tr.Connect(ctx))
	require.True(t, tr.IsConnected())

	require.NoError(t, tr.Publish(ctx, "sensors/1", 2, []byte("payload")))
	assert.Equal(t, "sensors/1", mockClient.publishedTopic)
	assert.Equal(t, byte(2), mockClient.publishedQoS)
	assert.Equal(t, []byte("payload"), mockClient.publishedPayload)

	var got mqtttransport.InMessage
	require.NoError(t, tr.Subscribe(ctx, "sensors/#", 1, func(msg mqtttransport.InMessage) {
		got = msg
	}))
	assert.Equal(t, "sensors/#", mockClient.subscribedTopic)
	require.NotNil(t, mockClient.messageHandler)

	before := time.Now()
	original := []byte("hello world")
	mockClient.messageHandler(mockClient, &mockMqttMessage{topic: "sensors/1", payload: original, messageID: 123})

	assert.Equal(t, "sensors/1", got.Topic)
	assert.Equal(t, []byte("hello world"), got.Payload)
	assert.Equal(t, uint16(123), got.MessageID)
	assert.Equal(t, byte(1), got.QoS)
	assert.False(t, got.ReceivedAt.Before(before))

	original[0] = 'H'
	assert.Equal(t, byte('h'), got.Payload[0], "payload must be copied")
}

func TestPahoTransport_PublishErrors(t *testing.T) {
	mockClient := &mockMqttClient{}
	tr := mqtttransport.NewPahoTransportWithClient(mockClient, newTestConfig(), zerolog.Nop())
	require.NoError(t, tr.Connect(context.Background()))

	t.Run("broker error", func(t *testing.T) {
		mockClient.publishErr = errors.New("not authorised")
		defer func() { mockClient.publishErr = nil }()

		err := tr.Publish(context.Background(), "t", 1, []byte("x"))
		var transportErr *mqtttransport.TransportError
		require.True(t, errors.As(err, &transportErr))
		assert.Equal(t, "publish", transportErr.Op)
	})

	t.Run("token timeout", func(t *testing.T) {
		mockClient.publishPending = true
		defer func() { mockClient.publishPending = false }()

		err := tr.Publish(context.Background(), "t", 1, []byte("x"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out")
	})

	t.Run("context cancelled", func(t *testing.T) {
		mockClient.publishPending = true
		defer func() { mockClient.publishPending = false }()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := tr.Publish(ctx, "t", 1, []byte("x"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPahoTransport_DisconnectIsIdempotent(t *testing.T) {
	mockClient := &mockMqttClient{}
	tr := mqtttransport.NewPahoTransportWithClient(mockClient, newTestConfig(), zerolog.Nop())

	tr.Disconnect()
	assert.Equal(t, 0, mockClient.disconnectCalls, "disconnect before connect should be a no-op")

	require.NoError(t, tr.Connect(context.Background()))
	tr.Disconnect()
	tr.Disconnect()
	assert.Equal(t, 1, mockClient.disconnectCalls)
	assert.False(t, tr.IsConnected())
}
