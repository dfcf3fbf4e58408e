// Package mqtttransport is the narrow MQTT contract used by the publisher and
// subscriber, with a Paho-backed implementation and an in-memory one for
// tests.
//
// Delivery guarantees are whatever the broker provides for the chosen QoS:
// at QoS 0 messages may be lost, at QoS 1 they may be duplicated, at QoS 2 they
// arrive once and in order per sender. Nothing here adds to that.
package mqtttransport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotConnected is returned by operations that need an open session.
var ErrNotConnected = errors.New("mqtt transport is not connected")

// InMessage is a message delivered to a subscription handler.
type InMessage struct {
	Topic     string
	Payload   []byte
	MessageID uint16
	QoS       byte
	Duplicate bool
	Retained  bool
	// ReceivedAt is taken as soon as the transport hands the message over,
	// before any decoding.
	ReceivedAt time.Time
}

// MessageHandler is invoked for each inbound message.
type MessageHandler func(msg InMessage)

// Transport is the subset of an MQTT client the benchmark relies on.
type Transport interface {
	// Connect opens the session, blocking until the broker accepts it.
	Connect(ctx context.Context) error
	// Disconnect closes the session. Calling it on a closed session is a no-op.
	Disconnect()
	// Publish sends payload and waits for the hand-shake required by qos.
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
	// Subscribe registers handler for topic and waits for the acknowledgement.
	Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error
	IsConnected() bool
}

// TransportError reports a failure at the broker boundary.
type TransportError struct {
	Op     string
	Broker string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Broker == "" {
		return fmt.Sprintf("mqtt %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("mqtt %s to %s failed: %v", e.Op, e.Broker, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidateQoS rejects anything but 0, 1 or 2.
func ValidateQoS(qos int) error {
	if qos < 0 || qos > 2 {
		return fmt.Errorf("invalid qos %d: must be 0, 1 or 2", qos)
	}
	return nil
}
