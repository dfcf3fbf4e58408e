package results_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-mqttbench/pkg/latency"
	"github.com/illmade-knight/go-mqttbench/pkg/publisher"
	"github.com/illmade-knight/go-mqttbench/pkg/results"
	"github.com/illmade-knight/go-mqttbench/pkg/sensordata"
	"github.com/illmade-knight/go-mqttbench/pkg/subscriber"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_FromSummaries(t *testing.T) {
	run := results.NewRun("mqtt-publisher", "tcp://localhost:1883", "mqtt-demo/all", 1)
	_, err := uuid.Parse(run.ID)
	require.NoError(t, err)

	pub := run.FromPublisher(publisher.Summary{
		Encoding:    "cbor",
		Tier:        sensordata.TierLarge,
		Published:   9,
		Failed:      1,
		BytesSent:   1234,
		PublishTime: latency.Summary{Count: 9, Mean: 0.002},
	})
	assert.Equal(t, run.ID, pub.RunID)
	assert.Equal(t, results.KindPublish, pub.LatencyKind)
	assert.Equal(t, "large", pub.Tier)
	assert.Equal(t, 9, pub.Count)
	assert.Equal(t, 0.002, pub.Latency.Mean)
	assert.False(t, pub.FinishedAt.Before(pub.StartedAt))

	sub := results.NewRun("mqtt-subscriber", "tcp://localhost:1883", "mqtt-demo/all", 1).FromSubscriber(subscriber.Summary{
		Encoding: "json",
		Received: 3,
		Decoded:  3,
		Latency:  latency.Summary{Count: 3, Mean: 0.01},
	})
	assert.Equal(t, results.KindReceive, sub.LatencyKind)
	assert.Equal(t, 3, sub.Count)
	assert.NotEqual(t, run.ID, sub.RunID)
}

func TestFileSink_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	sink, err := results.NewFileSink(path, zerolog.Nop())
	require.NoError(t, err)

	existing, err := results.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, existing)

	ctx := context.Background()
	first := results.RunResult{RunID: "a", Encoding: "json"}
	second := results.RunResult{RunID: "b", Encoding: "msgpack"}
	require.NoError(t, sink.Write(ctx, first))
	require.NoError(t, sink.Write(ctx, second))
	require.NoError(t, sink.Close())

	all, err := results.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].RunID)
	assert.Equal(t, "msgpack", all[1].Encoding)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestFileSink_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	sink, err := results.NewFileSink(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Error(t, sink.Write(context.Background(), results.RunResult{RunID: "x"}))

	_, err = results.NewFileSink("", zerolog.Nop())
	assert.Error(t, err)
}

type failingSink struct {
	err    error
	writes int
}

func (f *failingSink) Write(context.Context, results.RunResult) error {
	f.writes++
	return f.err
}
func (f *failingSink) Close() error { return f.err }

func TestMultiSink_WritesToAll(t *testing.T) {
	boom := errors.New("boom")
	bad := &failingSink{err: boom}
	good := &failingSink{}

	multi := results.MultiSink{bad, good}
	err := multi.Write(context.Background(), results.RunResult{RunID: "x"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, bad.writes)
	assert.Equal(t, 1, good.writes)
	assert.ErrorIs(t, multi.Close(), boom)

	assert.NoError(t, results.MultiSink{}.Write(context.Background(), results.RunResult{}))
}

func TestOpen(t *testing.T) {
	sinks, err := results.Open(context.Background(), "", "", zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, sinks)
	assert.NoError(t, sinks.Write(context.Background(), results.RunResult{}))

	path := filepath.Join(t.TempDir(), "out.json")
	sinks, err = results.Open(context.Background(), path, "", zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	require.NoError(t, sinks.Write(context.Background(), results.RunResult{RunID: "r"}))
	all, err := results.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
