// Package config binds command-line flags and MQTTBENCH_* environment
// variables into validated settings for the benchmark commands.
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/illmade-knight/go-mqttbench/pkg/codec"
	"github.com/illmade-knight/go-mqttbench/pkg/mqtttransport"
	"github.com/illmade-knight/go-mqttbench/pkg/publisher"
	"github.com/illmade-knight/go-mqttbench/pkg/sensordata"
	"github.com/illmade-knight/go-mqttbench/pkg/subscriber"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MQTTBENCH_BROKER or
// MQTTBENCH_SENSOR_ID.
const EnvPrefix = "MQTTBENCH"

// Common holds the settings shared by the publisher and subscriber.
type Common struct {
	Broker      string `mapstructure:"broker"`
	Port        int    `mapstructure:"port"`
	Topic       string `mapstructure:"topic"`
	QoS         int    `mapstructure:"qos"`
	Encoding    string `mapstructure:"encoding"`
	ClientID    string `mapstructure:"client-id"`
	LogLevel    string `mapstructure:"log-level"`
	MetricsAddr string `mapstructure:"metrics-addr"`
	ResultsFile string `mapstructure:"results-file"`
	RedisAddr   string `mapstructure:"redis-addr"`
}

// Publisher holds the mqtt-publisher settings.
type Publisher struct {
	Common   `mapstructure:",squash"`
	SensorID string  `mapstructure:"sensor-id"`
	Count    int     `mapstructure:"count"`
	Interval float64 `mapstructure:"interval"`
	Payload  string  `mapstructure:"payload"`
}

// Subscriber holds the mqtt-subscriber settings.
type Subscriber struct {
	Common      `mapstructure:",squash"`
	MaxMessages int `mapstructure:"max-messages"`
}

// CodecBench holds the codec-bench settings.
type CodecBench struct {
	Encodings  []string `mapstructure:"encodings"`
	Payloads   []string `mapstructure:"payloads"`
	Iterations int      `mapstructure:"iterations"`
	Output     string   `mapstructure:"output"`
	LogLevel   string   `mapstructure:"log-level"`
}

// NewViper returns a viper instance reading MQTTBENCH_* variables, with
// dashes in keys mapped to underscores.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func bindCommonFlags(cmd *cobra.Command, v *viper.Viper, clientID string) error {
	f := cmd.Flags()
	f.String("broker", "localhost", "MQTT broker host, or a full URL such as tls://host:8883")
	f.Int("port", 1883, "MQTT broker port")
	f.String("topic", "mqtt-demo/all", "MQTT topic")
	f.Int("qos", 1, "QoS level (0, 1 or 2)")
	f.String("encoding", codec.JSON, "payload encoding: "+strings.Join(codec.Names(), ", "))
	f.String("client-id", clientID, "MQTT client identifier")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.String("metrics-addr", "", "serve /metrics and /healthz on this address; empty disables")
	f.String("results-file", "", "append the run summary to this JSON file")
	f.String("redis-addr", "", "push the run summary to this Redis server")
	return v.BindPFlags(f)
}

// BindPublisherFlags registers the publisher flags on cmd and binds them.
func BindPublisherFlags(cmd *cobra.Command, v *viper.Viper) error {
	f := cmd.Flags()
	f.String("sensor-id", "sensor_001", "sensor identifier")
	f.Int("count", 10, "number of messages to publish")
	f.Float64("interval", 1.0, "seconds between messages")
	f.String("payload", string(sensordata.TierSmall), "payload size: small, medium or large")
	return bindCommonFlags(cmd, v, publisher.DefaultClientID)
}

// BindSubscriberFlags registers the subscriber flags on cmd and binds them.
func BindSubscriberFlags(cmd *cobra.Command, v *viper.Viper) error {
	cmd.Flags().Int("max-messages", 0, "exit after this many messages; 0 waits for Ctrl+C")
	return bindCommonFlags(cmd, v, subscriber.DefaultClientID)
}

// BindCodecBenchFlags registers the codec-bench flags on cmd and binds them.
func BindCodecBenchFlags(cmd *cobra.Command, v *viper.Viper) error {
	f := cmd.Flags()
	f.StringSlice("encodings", codec.Names(), "encodings to compare")
	f.StringSlice("payloads", []string{"small", "medium", "large"}, "payload sizes to compare")
	f.Int("iterations", 1000, "encode/decode iterations per combination")
	f.String("output", "", "also save the results to this JSON file")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	return v.BindPFlags(f)
}

// LoadPublisher reads and validates the publisher settings.
func LoadPublisher(v *viper.Viper) (Publisher, error) {
	var c Publisher
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("error unmarshaling configuration: %w", err)
	}
	return c, c.Validate()
}

// LoadSubscriber reads and validates the subscriber settings.
func LoadSubscriber(v *viper.Viper) (Subscriber, error) {
	var c Subscriber
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("error unmarshaling configuration: %w", err)
	}
	return c, c.Validate()
}

// LoadCodecBench reads and validates the codec-bench settings.
func LoadCodecBench(v *viper.Viper) (CodecBench, error) {
	var c CodecBench
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("error unmarshaling configuration: %w", err)
	}
	return c, c.Validate()
}

// Validate rejects values that would fail later at the broker.
func (c Common) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("broker is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if err := mqtttransport.ValidateQoS(c.QoS); err != nil {
		return err
	}
	if _, err := codec.Default().Lookup(c.Encoding); err != nil {
		return err
	}
	if c.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// Validate checks the publisher settings. An unknown payload tier is not an
// error; the publisher warns and sends the small shape.
func (c Publisher) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if c.Count < 1 {
		return fmt.Errorf("count must be at least 1, got %d", c.Count)
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval cannot be negative, got %v", c.Interval)
	}
	return nil
}

// Validate checks the subscriber settings.
func (c Subscriber) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if c.MaxMessages < 0 {
		return fmt.Errorf("max-messages cannot be negative, got %d", c.MaxMessages)
	}
	return nil
}

// Validate checks the codec-bench settings.
func (c CodecBench) Validate() error {
	if c.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", c.Iterations)
	}
	for _, enc := range c.Encodings {
		if _, err := codec.Default().Lookup(enc); err != nil {
			return err
		}
	}
	for _, p := range c.Payloads {
		if _, ok := sensordata.ParseTier(p); !ok {
			return fmt.Errorf("unknown payload size %q", p)
		}
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// BrokerURL returns the URL the MQTT client connects to.
func (c Common) BrokerURL() string {
	return mqtttransport.BrokerURL(c.Broker, c.Port)
}

// ClientConfig builds the transport config, starting from the MQTT_*
// environment tuning.
func (c Common) ClientConfig() *mqtttransport.ClientConfig {
	cfg := mqtttransport.LoadClientConfigWithEnv()
	cfg.BrokerURL = c.BrokerURL()
	cfg.ClientID = c.ClientID
	return cfg
}

// PublisherConfig converts the settings for publisher.New.
func (c Publisher) PublisherConfig() publisher.Config {
	return publisher.Config{
		Topic:           c.Topic,
		QoS:             byte(c.QoS),
		Encoding:        c.Encoding,
		SensorID:        c.SensorID,
		Tier:            sensordata.Tier(c.Payload),
		Count:           c.Count,
		Interval:        time.Duration(c.Interval * float64(time.Second)),
		ContinueOnError: true,
	}
}

// SubscriberConfig converts the settings for subscriber.New.
func (c Subscriber) SubscriberConfig() subscriber.Config {
	return subscriber.Config{
		Topic:       c.Topic,
		QoS:         byte(c.QoS),
		Encoding:    c.Encoding,
		MaxMessages: c.MaxMessages,
	}
}

// Tiers converts the payload names.
func (c CodecBench) Tiers() []sensordata.Tier {
	out := make([]sensordata.Tier, 0, len(c.Payloads))
	for _, p := range c.Payloads {
		out = append(out, sensordata.Tier(p))
	}
	return out
}

// NewLogger returns a console logger on w at the given level.
func NewLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}
