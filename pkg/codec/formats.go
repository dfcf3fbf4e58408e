package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/illmade-knight/go-mqttbench/pkg/sensordata"
	"github.com/vmihailenco/msgpack/v5"
)

// All three formats carry float64 natively, so round trips are exact.

// wireRecord mirrors sensordata.Record with the required fields as pointers,
// so a key absent from the payload can be told apart from a zero value.
type wireRecord struct {
	Timestamp   *float64 `json:"timestamp" msgpack:"timestamp" cbor:"timestamp"`
	SensorID    *string  `json:"sensorId" msgpack:"sensorId" cbor:"sensorId"`
	Temperature *float64 `json:"temperature" msgpack:"temperature" cbor:"temperature"`
	Humidity    *float64 `json:"humidity" msgpack:"humidity" cbor:"humidity"`
	Pressure    *float64 `json:"pressure" msgpack:"pressure" cbor:"pressure"`

	Location       *sensordata.Location `json:"location" msgpack:"location" cbor:"location"`
	Status         *string              `json:"status" msgpack:"status" cbor:"status"`
	BatteryLevel   *float64             `json:"batteryLevel" msgpack:"batteryLevel" cbor:"batteryLevel"`
	SignalStrength *int                 `json:"signalStrength" msgpack:"signalStrength" cbor:"signalStrength"`
	SensorReadings []float64            `json:"sensorReadings" msgpack:"sensorReadings" cbor:"sensorReadings"`
	Metadata       *sensordata.Metadata `json:"metadata" msgpack:"metadata" cbor:"metadata"`
	AdditionalData *string              `json:"additionalData" msgpack:"additionalData" cbor:"additionalData"`
}

func (w *wireRecord) fill(r *sensordata.Record) error {
	switch {
	case w.Timestamp == nil:
		return &MissingFieldError{Field: "timestamp"}
	case w.SensorID == nil:
		return &MissingFieldError{Field: "sensorId"}
	case w.Temperature == nil:
		return &MissingFieldError{Field: "temperature"}
	case w.Humidity == nil:
		return &MissingFieldError{Field: "humidity"}
	case w.Pressure == nil:
		return &MissingFieldError{Field: "pressure"}
	}

	*r = sensordata.Record{
		Timestamp:      *w.Timestamp,
		SensorID:       *w.SensorID,
		Temperature:    *w.Temperature,
		Humidity:       *w.Humidity,
		Pressure:       *w.Pressure,
		Location:       w.Location,
		Status:         w.Status,
		BatteryLevel:   w.BatteryLevel,
		SignalStrength: w.SignalStrength,
		SensorReadings: w.SensorReadings,
		Metadata:       w.Metadata,
		AdditionalData: w.AdditionalData,
	}
	return nil
}

// decodeVia builds a DecodeFunc from a format's unmarshal function.
func decodeVia(unmarshal func([]byte, any) error) DecodeFunc {
	return func(data []byte, r *sensordata.Record) error {
		var w wireRecord
		if err := unmarshal(data, &w); err != nil {
			return err
		}
		return w.fill(r)
	}
}

func jsonCodec() Codec {
	return Codec{
		Name: JSON,
		Encode: func(r *sensordata.Record) ([]byte, error) {
			return json.Marshal(r)
		},
		Decode: decodeVia(json.Unmarshal),
	}
}

// unmarshalMsgpack decodes exactly one value; msgpack.Unmarshal alone
// ignores whatever follows it.
func unmarshalMsgpack(data []byte, v any) error {
	rd := bytes.NewReader(data)
	if err := msgpack.NewDecoder(rd).Decode(v); err != nil {
		return err
	}
	if rd.Len() > 0 {
		return fmt.Errorf("msgpack: %d bytes of trailing data", rd.Len())
	}
	return nil
}

func msgpackCodec() Codec {
	return Codec{
		Name: MsgPack,
		Encode: func(r *sensordata.Record) ([]byte, error) {
			return msgpack.Marshal(r)
		},
		Decode: decodeVia(unmarshalMsgpack),
	}
}

var cborEnc = mustEncMode(cbor.EncOptions{ShortestFloat: cbor.ShortestFloatNone})

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: invalid cbor encoding options: %v", err))
	}
	return em
}

func cborCodec() Codec {
	return Codec{
		Name: CBOR,
		Encode: func(r *sensordata.Record) ([]byte, error) {
			return cborEnc.Marshal(r)
		},
		Decode: decodeVia(cbor.Unmarshal),
	}
}

// protobufCodec is a stand-in until a schema for the record exists. It uses
// the JSON transform, so "protobuf" payloads are JSON on the wire.
// TODO: replace with a generated message once a .proto for Record is agreed.
func protobufCodec() Codec {
	c := jsonCodec()
	c.Name = Protobuf
	return c
}
