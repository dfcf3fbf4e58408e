// Package codecbench compares codecs offline: encoded size and encode/decode
// time for every encoding and size tier, without a broker.
package codecbench

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/illmade-knight/go-mqttbench/pkg/codec"
	"github.com/illmade-knight/go-mqttbench/pkg/latency"
	"github.com/illmade-knight/go-mqttbench/pkg/sensordata"
	"github.com/rs/zerolog"
)

// Config selects what to measure.
type Config struct {
	Encodings  []string
	Tiers      []sensordata.Tier
	Iterations int
	SensorID   string
}

// Result is the measurement for one encoding and tier.
type Result struct {
	Encoding   string          `json:"encoding"`
	Tier       sensordata.Tier `json:"tier"`
	Bytes      int             `json:"bytes"`
	Iterations int             `json:"iterations"`
	EncodeMean float64         `json:"encodeMeanSeconds"`
	DecodeMean float64         `json:"decodeMeanSeconds"`
	// SizeVsJSON is Bytes divided by the JSON size for the same tier, or
	// zero when JSON was not measured.
	SizeVsJSON float64 `json:"sizeVsJson,omitempty"`
}

// Runner measures codecs from a registry.
type Runner struct {
	registry  *codec.Registry
	generator *sensordata.Generator
	logger    zerolog.Logger
}

// NewRunner creates a Runner. A nil registry uses the default one.
func NewRunner(registry *codec.Registry, logger zerolog.Logger) *Runner {
	if registry == nil {
		registry = codec.Default()
	}
	return &Runner{
		registry:  registry,
		generator: sensordata.NewGenerator(),
		logger:    logger.With().Str("component", "CodecBench").Logger(),
	}
}

// Run measures every combination in cfg. Each iteration encodes and decodes
// the same record; the decoded record must validate or the run fails.
func (r *Runner) Run(cfg Config) ([]Result, error) {
	if cfg.Iterations < 1 {
		return nil, fmt.Errorf("iterations must be at least 1, got %d", cfg.Iterations)
	}
	encodings := cfg.Encodings
	if len(encodings) == 0 {
		encodings = r.registry.Names()
	}
	tiers := cfg.Tiers
	if len(tiers) == 0 {
		tiers = sensordata.Tiers
	}
	sensorID := cfg.SensorID
	if sensorID == "" {
		sensorID = "sensor_001"
	}
	for _, enc := range encodings {
		if _, err := r.registry.Lookup(enc); err != nil {
			return nil, err
		}
	}

	var out []Result
	jsonSize := make(map[sensordata.Tier]int)
	for _, tier := range tiers {
		rec := r.generator.Record(sensorID, tier)
		for _, enc := range encodings {
			res, err := r.measure(enc, tier, rec, cfg.Iterations)
			if err != nil {
				return nil, err
			}
			if enc == codec.JSON {
				jsonSize[tier] = res.Bytes
			}
			out = append(out, res)
			r.logger.Debug().Str("encoding", enc).Str("tier", string(tier)).Int("bytes", res.Bytes).Msg("Measured codec.")
		}
	}

	for i := range out {
		if base := jsonSize[out[i].Tier]; base > 0 {
			out[i].SizeVsJSON = float64(out[i].Bytes) / float64(base)
		}
	}
	return out, nil
}

func (r *Runner) measure(enc string, tier sensordata.Tier, rec *sensordata.Record, iterations int) (Result, error) {
	var encTimes, decTimes latency.Stats
	var size int
	for i := 0; i < iterations; i++ {
		start := time.Now()
		data, err := r.registry.Encode(enc, rec)
		encTimes.AddDuration(time.Since(start))
		if err != nil {
			return Result{}, fmt.Errorf("encode %s/%s: %w", enc, tier, err)
		}
		size = len(data)

		start = time.Now()
		_, err = r.registry.Decode(enc, data)
		decTimes.AddDuration(time.Since(start))
		if err != nil {
			return Result{}, fmt.Errorf("decode %s/%s: %w", enc, tier, err)
		}
	}
	encMean, _ := encTimes.Mean()
	decMean, _ := decTimes.Mean()
	return Result{
		Encoding:   enc,
		Tier:       tier,
		Bytes:      size,
		Iterations: iterations,
		EncodeMean: encMean,
		DecodeMean: decMean,
	}, nil
}

// PrintTable writes results as an aligned table.
func PrintTable(w io.Writer, results []Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "TIER\tENCODING\tBYTES\tVS JSON\tENCODE (µs)\tDECODE (µs)\t")
	for _, r := range results {
		ratio := "-"
		if r.SizeVsJSON > 0 {
			ratio = fmt.Sprintf("%.2fx", r.SizeVsJSON)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%.1f\t%.1f\t\n",
			r.Tier, r.Encoding, r.Bytes, ratio, r.EncodeMean*1e6, r.DecodeMean*1e6)
	}
	return tw.Flush()
}

// Save writes results to path as indented JSON.
func Save(path string, results []Result) error {
	if path == "" {
		return errors.New("output path is required")
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal codec results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write codec results: %w", err)
	}
	return nil
}
