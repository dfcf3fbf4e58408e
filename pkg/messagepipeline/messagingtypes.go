package messagepipeline

import (
	"time"
)

// Message is the internal representation of one inbound MQTT message as it
// moves from the consumer to the processing worker.
type Message struct {
	// ID is the broker packet identifier. It is "0" for QoS 0 deliveries.
	ID string
	// Seq is the 1-based arrival order assigned by the consumer. Every
	// delivered message gets one, whether or not it later decodes.
	Seq uint64
	// Topic is the concrete topic the message was published on.
	Topic string
	// Payload is the raw encoded record.
	Payload []byte
	// ReceivedAt is when the transport handed the message over.
	ReceivedAt time.Time
	// Attributes carries transport metadata such as qos and the duplicate flag.
	Attributes map[string]string
}
