package mqtttransport

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ClientConfig holds everything needed to open a Paho MQTT session.
type ClientConfig struct {
	// BrokerURL is the full broker URL, e.g. "tcp://localhost:1883" or
	// "tls://mqtt.example.com:8883".
	BrokerURL string
	// ClientID is sent as-is. The benchmark tools use fixed identities so a
	// second instance with the same id takes over the session.
	ClientID string
	Username string
	Password string
	// KeepAlive is the ping interval negotiated with the broker.
	KeepAlive time.Duration
	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration
	// PublishTimeout bounds the wait for a publish token, which for QoS 1 and 2
	// includes the broker acknowledgement.
	PublishTimeout time.Duration
	// SubscribeTimeout bounds the wait for SUBACK.
	SubscribeTimeout time.Duration
	// CleanSession asks the broker not to keep session state.
	CleanSession bool
	// AutoReconnect lets Paho re-establish a dropped session. It never applies
	// to the initial connect, which fails immediately.
	AutoReconnect        bool
	MaxReconnectInterval time.Duration
	// OrderMatters makes Paho invoke message callbacks one at a time from its
	// router goroutine.
	OrderMatters bool
	// DisconnectQuiesce is how long Disconnect waits for in-flight work.
	DisconnectQuiesce time.Duration

	CACertFile     string
	ClientCertFile string
	ClientKeyFile  string
	// InsecureSkipVerify skips broker certificate verification. Test use only.
	InsecureSkipVerify bool
}

// Env constants for MQTT transport settings.
const (
	MqttSkipVerify            = "MQTT_INSECURE_SKIP_VERIFY"
	MqttKeepAliveSeconds      = "MQTT_KEEP_ALIVE_SECONDS"
	MqttConnectTimeoutSeconds = "MQTT_CONNECT_TIMEOUT_SECONDS"
	MqttUsername              = "MQTT_USERNAME"
	MqttPassword              = "MQTT_PASSWORD"
	MqttCACertFile            = "MQTT_CA_CERT_FILE"
)

// LoadClientConfigWithEnv returns a config with the benchmark defaults
// (60s keep-alive, clean session, ordered callbacks) and applies any
// overrides found in the environment. BrokerURL and ClientID are left for
// the caller.
func LoadClientConfigWithEnv() *ClientConfig {
	cfg := &ClientConfig{
		KeepAlive:            60 * time.Second,
		ConnectTimeout:       10 * time.Second,
		PublishTimeout:       30 * time.Second,
		SubscribeTimeout:     10 * time.Second,
		CleanSession:         true,
		AutoReconnect:        true,
		MaxReconnectInterval: 30 * time.Second,
		OrderMatters:         true,
		DisconnectQuiesce:    250 * time.Millisecond,
	}
	if skipVerify := os.Getenv(MqttSkipVerify); skipVerify == "true" {
		cfg.InsecureSkipVerify = true
	}
	cfg.Username = os.Getenv(MqttUsername)
	cfg.Password = os.Getenv(MqttPassword)
	cfg.CACertFile = os.Getenv(MqttCACertFile)

	if ka := os.Getenv(MqttKeepAliveSeconds); ka != "" {
		s, err := time.ParseDuration(ka + "s")
		if err == nil {
			cfg.KeepAlive = s
		} else {
			log.Printf("mqtttransport: error parsing keepAlive seconds: %s, using default", err)
		}
	}
	if ct := os.Getenv(MqttConnectTimeoutSeconds); ct != "" {
		s, err := time.ParseDuration(ct + "s")
		if err == nil {
			cfg.ConnectTimeout = s
		} else {
			log.Printf("mqtttransport: error parsing connect timeout seconds: %s, using default", err)
		}
	}

	return cfg
}

// BrokerURL builds a tcp:// URL from a host and port. A host that already
// carries a scheme is returned unchanged.
func BrokerURL(host string, port int) string {
	if strings.Contains(host, "://") {
		return host
	}
	return fmt.Sprintf("tcp://%s:%d", host, port)
}

func isTLSBroker(url string) bool {
	lower := strings.ToLower(url)
	for _, scheme := range []string{"tls://", "ssl://", "mqtts://"} {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}
