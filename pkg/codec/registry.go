// Package codec converts sensordata.Records to and from wire bytes.
//
// Codecs are looked up by a case-insensitive identifier in a Registry. The
// default registry knows json, msgpack, cbor and protobuf. The protobuf entry
// is a placeholder: it writes and reads JSON, so its bytes interoperate with
// the json codec but not with a real protobuf schema.
package codec

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/illmade-knight/go-mqttbench/pkg/sensordata"
)

// Encoding identifiers understood by the default registry.
const (
	JSON     = "json"
	MsgPack  = "msgpack"
	CBOR     = "cbor"
	Protobuf = "protobuf"
)

// EncodeFunc serialises a record.
type EncodeFunc func(r *sensordata.Record) ([]byte, error)

// DecodeFunc fills r from data.
type DecodeFunc func(data []byte, r *sensordata.Record) error

// Codec is a stateless pair of transforms registered under one name.
type Codec struct {
	Name   string
	Encode EncodeFunc
	Decode DecodeFunc
}

// Registry maps encoding identifiers to codecs.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

// NewDefaultRegistry returns a registry holding the built-in codecs.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, c := range []Codec{jsonCodec(), msgpackCodec(), cborCodec(), protobufCodec()} {
		// Built-in codecs are well formed, Register cannot fail here.
		_ = r.Register(c)
	}
	return r
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds c under its name, replacing any codec already registered
// under the same identifier.
func (r *Registry) Register(c Codec) error {
	name := normalize(c.Name)
	if name == "" {
		return fmt.Errorf("codec name cannot be empty")
	}
	if c.Encode == nil || c.Decode == nil {
		return fmt.Errorf("codec %s must provide both encode and decode", name)
	}
	c.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[name] = c
	return nil
}

// Lookup finds the codec registered for name.
func (r *Registry) Lookup(name string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[normalize(name)]
	if !ok {
		return Codec{}, &UnsupportedEncodingError{Encoding: name}
	}
	return c, nil
}

// Names returns the registered identifiers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.codecs))
	for name := range r.codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Encode serialises rec with the codec registered for name.
func (r *Registry) Encode(name string, rec *sensordata.Record) ([]byte, error) {
	c, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("encode %s: %w", c.Name, errNilRecord)
	}
	data, err := c.Encode(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Name, err)
	}
	return data, nil
}

// Decode parses data with the codec registered for name. Any failure after
// the codec has been found is reported as a *DecodeError, including a record
// that parses but fails sensordata validation.
func (r *Registry) Decode(name string, data []byte) (*sensordata.Record, error) {
	c, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &DecodeError{Encoding: c.Name, Err: errEmptyPayload}
	}

	var rec sensordata.Record
	if err := c.Decode(data, &rec); err != nil {
		return nil, &DecodeError{Encoding: c.Name, Err: err}
	}
	if err := rec.Validate(); err != nil {
		return nil, &DecodeError{Encoding: c.Name, Err: err}
	}
	return &rec, nil
}

var defaultRegistry = NewDefaultRegistry()

// Default returns the process-wide registry used by the package functions.
func Default() *Registry { return defaultRegistry }

// Register adds c to the default registry.
func Register(c Codec) error { return defaultRegistry.Register(c) }

// Encode serialises rec using the default registry.
func Encode(name string, rec *sensordata.Record) ([]byte, error) {
	return defaultRegistry.Encode(name, rec)
}

// Decode parses data using the default registry.
func Decode(name string, data []byte) (*sensordata.Record, error) {
	return defaultRegistry.Decode(name, data)
}

// Names lists the identifiers of the default registry.
func Names() []string { return defaultRegistry.Names() }
