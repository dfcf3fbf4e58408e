package mqtttransport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

var errTokenTimeout = errors.New("timed out waiting for broker")

type subscription struct {
	qos     byte
	handler MessageHandler
}

// PahoTransport implements Transport on top of the Eclipse Paho client.
type PahoTransport struct {
	client mqtt.Client
	cfg    *ClientConfig
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[string]subscription
}

// NewPahoTransport builds a transport from cfg. It does not connect until
// Connect is called.
func NewPahoTransport(cfg *ClientConfig, logger zerolog.Logger) (*PahoTransport, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("MQTT client id is required")
	}
	t := newPahoTransport(cfg, logger)
	opts, err := t.createMqttOptions()
	if err != nil {
		return nil, err
	}
	t.client = mqtt.NewClient(opts)
	return t, nil
}

// NewPahoTransportWithClient wraps an existing Paho client, which lets tests
// substitute a mock.
func NewPahoTransportWithClient(client mqtt.Client, cfg *ClientConfig, logger zerolog.Logger) *PahoTransport {
	t := newPahoTransport(cfg, logger)
	t.client = client
	return t
}

func newPahoTransport(cfg *ClientConfig, logger zerolog.Logger) *PahoTransport {
	return &PahoTransport{
		cfg: cfg,
		logger: logger.With().
			Str("component", "PahoTransport").
			Str("client_id", cfg.ClientID).
			Logger(),
		subs: make(map[string]subscription),
	}
}

// Connect opens the session. There is no retry: an unreachable broker or a
// rejected CONNECT is returned as a *TransportError.
func (t *PahoTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "connect", Broker: t.cfg.BrokerURL, Err: err}
	}
	t.logger.Info().Str("broker", t.cfg.BrokerURL).Msg("Connecting to MQTT broker...")
	if err := waitToken(ctx, t.client.Connect(), t.cfg.ConnectTimeout); err != nil {
		return &TransportError{Op: "connect", Broker: t.cfg.BrokerURL, Err: err}
	}
	t.logger.Info().Str("broker", t.cfg.BrokerURL).Msg("Connected to MQTT broker.")
	return nil
}

// Disconnect closes the session if it is open.
func (t *PahoTransport) Disconnect() {
	if t.client == nil || !t.client.IsConnected() {
		return
	}
	t.client.Disconnect(uint(t.cfg.DisconnectQuiesce / time.Millisecond))
	t.logger.Info().Msg("Paho MQTT client disconnected.")
}

// IsConnected reports whether Paho currently considers the session usable.
func (t *PahoTransport) IsConnected() bool {
	return t.client != nil && t.client.IsConnected()
}

// Publish sends payload with retain unset and waits for the token, which
// Paho completes once the QoS hand-shake is done.
func (t *PahoTransport) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if !t.IsConnected() {
		return &TransportError{Op: "publish", Broker: t.cfg.BrokerURL, Err: ErrNotConnected}
	}
	if err := waitToken(ctx, t.client.Publish(topic, qos, false, payload), t.cfg.PublishTimeout); err != nil {
		return &TransportError{Op: "publish", Broker: t.cfg.BrokerURL, Err: err}
	}
	return nil
}

// Subscribe registers handler and waits for SUBACK. The subscription is
// remembered and re-issued if Paho reconnects a clean session.
func (t *PahoTransport) Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error {
	if !t.IsConnected() {
		return &TransportError{Op: "subscribe", Broker: t.cfg.BrokerURL, Err: ErrNotConnected}
	}
	if err := waitToken(ctx, t.client.Subscribe(topic, qos, t.wrap(handler)), t.cfg.SubscribeTimeout); err != nil {
		return &TransportError{Op: "subscribe", Broker: t.cfg.BrokerURL, Err: err}
	}

	t.mu.Lock()
	t.subs[topic] = subscription{qos: qos, handler: handler}
	t.mu.Unlock()

	t.logger.Info().Str("topic", topic).Uint8("qos", qos).Msg("Subscribed to MQTT topic.")
	return nil
}

// wrap converts a Paho callback into a MessageHandler call, stamping the
// receive time first.
func (t *PahoTransport) wrap(handler MessageHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		receivedAt := time.Now()
		payloadCopy := make([]byte, len(msg.Payload()))
		copy(payloadCopy, msg.Payload())
		handler(InMessage{
			Topic:      msg.Topic(),
			Payload:    payloadCopy,
			MessageID:  msg.MessageID(),
			QoS:        msg.Qos(),
			Duplicate:  msg.Duplicate(),
			Retained:   msg.Retained(),
			ReceivedAt: receivedAt,
		})
	}
}

// resubscribe restores subscriptions after an automatic reconnect.
func (t *PahoTransport) resubscribe(client mqtt.Client) {
	t.mu.Lock()
	subs := make(map[string]subscription, len(t.subs))
	for topic, s := range t.subs {
		subs[topic] = s
	}
	t.mu.Unlock()

	for topic, s := range subs {
		token := client.Subscribe(topic, s.qos, t.wrap(s.handler))
		go func(topic string) {
			if token.WaitTimeout(t.cfg.SubscribeTimeout) && token.Error() != nil {
				t.logger.Error().Err(token.Error()).Str("topic", topic).Msg("Failed to resubscribe to MQTT topic.")
			} else {
				t.logger.Info().Str("topic", topic).Msg("Resubscribed to MQTT topic.")
			}
		}(topic)
	}
}

// createMqttOptions assembles the Paho client options from the config.
func (t *PahoTransport) createMqttOptions() (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.cfg.BrokerURL)
	opts.SetClientID(t.cfg.ClientID)
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
		opts.SetPassword(t.cfg.Password)
	}
	opts.SetKeepAlive(t.cfg.KeepAlive)
	opts.SetConnectTimeout(t.cfg.ConnectTimeout)
	opts.SetCleanSession(t.cfg.CleanSession)
	opts.SetAutoReconnect(t.cfg.AutoReconnect)
	opts.SetConnectRetry(false)
	if t.cfg.MaxReconnectInterval > 0 {
		opts.SetMaxReconnectInterval(t.cfg.MaxReconnectInterval)
	}
	opts.SetOrderMatters(t.cfg.OrderMatters)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		t.logger.Debug().Str("broker", t.cfg.BrokerURL).Msg("Paho client connected to MQTT broker.")
		t.resubscribe(client)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.logger.Error().Err(err).Msg("Paho client lost MQTT connection.")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		t.logger.Warn().Msg("Paho client reconnecting to MQTT broker.")
	})

	if isTLSBroker(t.cfg.BrokerURL) {
		tlsConfig, err := newTLSConfig(t.cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
		t.logger.Info().Msg("TLS configured for MQTT client.")
	}
	return opts, nil
}

// waitToken blocks until the token completes, ctx ends, or timeout elapses.
// A zero timeout waits for ctx only.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer:
		return errTokenTimeout
	}
}

// newTLSConfig is a helper to create a tls.Config.
func newTLSConfig(cfg *ClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
