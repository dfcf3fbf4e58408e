// Package sensordata defines the synthetic sensor reading exchanged by the
// publisher and subscriber, and the size tiers used to vary its payload.
package sensordata

import (
	"errors"
	"fmt"
	"time"
)

// Tier selects which optional fields a Record carries.
type Tier string

const (
	TierSmall  Tier = "small"
	TierMedium Tier = "medium"
	TierLarge  Tier = "large"
)

// Tiers lists every known tier, smallest first.
var Tiers = []Tier{TierSmall, TierMedium, TierLarge}

// ParseTier reports whether s names a known tier. Matching is case-sensitive:
// "Large" is not a tier.
func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierSmall, TierMedium, TierLarge:
		return Tier(s), true
	default:
		return TierSmall, false
	}
}

var (
	ErrMissingSensorID  = errors.New("record has no sensorId")
	ErrMissingTimestamp = errors.New("record has no timestamp")
	ErrPartialRecord    = errors.New("record optional fields match no size tier")
)

// Location is the fixed installation point of a sensor.
type Location struct {
	Latitude  float64 `json:"latitude" msgpack:"latitude" cbor:"latitude"`
	Longitude float64 `json:"longitude" msgpack:"longitude" cbor:"longitude"`
	Altitude  float64 `json:"altitude" msgpack:"altitude" cbor:"altitude"`
}

// Metadata describes the device hardware and its service history.
type Metadata struct {
	FirmwareVersion string `json:"firmwareVersion" msgpack:"firmwareVersion" cbor:"firmwareVersion"`
	HardwareID      string `json:"hardwareId" msgpack:"hardwareId" cbor:"hardwareId"`
	CalibrationDate string `json:"calibrationDate" msgpack:"calibrationDate" cbor:"calibrationDate"`
	LastMaintenance string `json:"lastMaintenance" msgpack:"lastMaintenance" cbor:"lastMaintenance"`
}

// Record is a single sensor reading.
//
// The five leading fields are always present. The remaining fields are nil
// for the small tier and are populated together for medium and large, so a
// sparse encoder can drop them entirely. Field names on the wire are
// lowerCamelCase in every format.
type Record struct {
	// Timestamp is seconds since the Unix epoch, taken when the record is built.
	Timestamp   float64 `json:"timestamp" msgpack:"timestamp" cbor:"timestamp"`
	SensorID    string  `json:"sensorId" msgpack:"sensorId" cbor:"sensorId"`
	Temperature float64 `json:"temperature" msgpack:"temperature" cbor:"temperature"`
	Humidity    float64 `json:"humidity" msgpack:"humidity" cbor:"humidity"`
	Pressure    float64 `json:"pressure" msgpack:"pressure" cbor:"pressure"`

	Location       *Location `json:"location,omitempty" msgpack:"location,omitempty" cbor:"location,omitempty"`
	Status         *string   `json:"status,omitempty" msgpack:"status,omitempty" cbor:"status,omitempty"`
	BatteryLevel   *float64  `json:"batteryLevel,omitempty" msgpack:"batteryLevel,omitempty" cbor:"batteryLevel,omitempty"`
	SignalStrength *int      `json:"signalStrength,omitempty" msgpack:"signalStrength,omitempty" cbor:"signalStrength,omitempty"`
	SensorReadings []float64 `json:"sensorReadings,omitempty" msgpack:"sensorReadings,omitempty" cbor:"sensorReadings,omitempty"`
	Metadata       *Metadata `json:"metadata,omitempty" msgpack:"metadata,omitempty" cbor:"metadata,omitempty"`
	AdditionalData *string   `json:"additionalData,omitempty" msgpack:"additionalData,omitempty" cbor:"additionalData,omitempty"`
}

// OptionalFieldNames are the wire names of every optional field.
var OptionalFieldNames = []string{
	"location", "status", "batteryLevel", "signalStrength",
	"sensorReadings", "metadata", "additionalData",
}

// Tier infers the size tier from which optional fields are set. A record
// carrying some but not all of a tier's fields returns ErrPartialRecord.
func (r *Record) Tier() (Tier, error) {
	medium := []bool{
		r.Location != nil,
		r.Status != nil,
		r.BatteryLevel != nil,
		r.SignalStrength != nil,
		r.AdditionalData != nil,
	}
	large := []bool{r.SensorReadings != nil, r.Metadata != nil}

	set := 0
	for _, ok := range medium {
		if ok {
			set++
		}
	}
	extra := 0
	for _, ok := range large {
		if ok {
			extra++
		}
	}

	switch {
	case set == 0 && extra == 0:
		return TierSmall, nil
	case set == len(medium) && extra == 0:
		return TierMedium, nil
	case set == len(medium) && extra == len(large):
		return TierLarge, nil
	default:
		return "", ErrPartialRecord
	}
}

// Validate checks that the required fields are set and that the optional
// fields form one of the tier shapes.
func (r *Record) Validate() error {
	if r.SensorID == "" {
		return ErrMissingSensorID
	}
	if r.Timestamp <= 0 {
		return ErrMissingTimestamp
	}
	if _, err := r.Tier(); err != nil {
		return fmt.Errorf("sensor %s: %w", r.SensorID, err)
	}
	return nil
}

// EpochSeconds converts t to fractional seconds since the Unix epoch.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
