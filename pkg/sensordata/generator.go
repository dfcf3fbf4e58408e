package sensordata

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

const (
	mediumFillerLen = 1500
	largeFillerLen  = 60000
	largeReadings   = 100
)

// Generator builds Records with randomised measurements. It is safe for
// concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

// GeneratorOption customises a Generator.
type GeneratorOption func(*Generator)

// WithClock replaces the wall clock used for record timestamps.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// WithSeed makes the measurement sequence reproducible.
func WithSeed(seed int64) GeneratorOption {
	return func(g *Generator) { g.rnd = rand.New(rand.NewSource(seed)) }
}

// NewGenerator creates a Generator seeded from the current time.
func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var defaultGenerator = NewGenerator()

// NewRecord builds a Record for sensorID using the package generator.
// See Generator.Record for how tier is interpreted.
func NewRecord(sensorID string, tier Tier) *Record {
	return defaultGenerator.Record(sensorID, tier)
}

// Record builds a fresh Record stamped with the current time.
//
// Measurements are drawn from temperature [15, 35], humidity [30, 70] and
// pressure [950, 1050]. The tier decides the optional fields: medium adds
// location, status, battery, signal and 1500 bytes of filler; large adds all
// of those plus 100 readings, metadata and 60000 bytes of filler. An
// unrecognised tier, including a differently cased one, yields the small
// shape with no optional fields.
func (g *Generator) Record(sensorID string, tier Tier) *Record {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := &Record{
		Timestamp:   EpochSeconds(g.now()),
		SensorID:    sensorID,
		Temperature: round(15+g.rnd.Float64()*20, 2),
		Humidity:    round(30+g.rnd.Float64()*40, 2),
		Pressure:    round(950+g.rnd.Float64()*100, 2),
	}

	switch tier {
	case TierMedium:
		g.fillMedium(r, mediumFillerLen)
	case TierLarge:
		g.fillMedium(r, largeFillerLen)
		readings := make([]float64, largeReadings)
		for i := range readings {
			readings[i] = round(g.rnd.Float64()*100, 2)
		}
		r.SensorReadings = readings
		r.Metadata = &Metadata{
			FirmwareVersion: "1.2.3",
			HardwareID:      "HW-001",
			CalibrationDate: "2024-01-01",
			LastMaintenance: "2024-06-01",
		}
	}
	return r
}

func (g *Generator) fillMedium(r *Record, fillerLen int) {
	status := "active"
	battery := round(20+g.rnd.Float64()*80, 1)
	signal := -100 + g.rnd.Intn(70)
	filler := strings.Repeat("x", fillerLen)

	r.Location = &Location{Latitude: 40.7128, Longitude: -74.0060, Altitude: 10.5}
	r.Status = &status
	r.BatteryLevel = &battery
	r.SignalStrength = &signal
	r.AdditionalData = &filler
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
