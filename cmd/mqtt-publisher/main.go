package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-mqttbench/pkg/config"
	"github.com/illmade-knight/go-mqttbench/pkg/metrics"
	"github.com/illmade-knight/go-mqttbench/pkg/microservice"
	"github.com/illmade-knight/go-mqttbench/pkg/mqtttransport"
	"github.com/illmade-knight/go-mqttbench/pkg/publisher"
	"github.com/illmade-knight/go-mqttbench/pkg/results"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "✗ Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	cmd := &cobra.Command{
		Use:           "mqtt-publisher",
		Short:         "Publish synthetic sensor readings over MQTT and time each publish",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadPublisher(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	if err := config.BindPublisherFlags(cmd, v); err != nil {
		panic(err)
	}
	return cmd
}

func run(ctx context.Context, cfg config.Publisher, out, errOut io.Writer) error {
	logger := config.NewLogger(errOut, cfg.LogLevel)

	fmt.Fprintln(out, "=== MQTT Publisher (Go) ===")
	fmt.Fprintf(out, "Encoding: %s\n", cfg.Encoding)
	fmt.Fprintf(out, "Topic: %s\n", cfg.Topic)
	fmt.Fprintf(out, "Payload: %s\n", cfg.Payload)
	fmt.Fprintf(out, "QoS: %d\n\n", cfg.QoS)

	transport, err := mqtttransport.NewPahoTransport(cfg.ClientConfig(), logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	recorder, err := metrics.NewProm(reg)
	if err != nil {
		return err
	}

	pub, err := publisher.New(cfg.PublisherConfig(), transport, logger,
		publisher.WithRecorder(recorder),
		publisher.WithOutput(out),
	)
	if err != nil {
		return err
	}

	sinks, err := results.Open(ctx, cfg.ResultsFile, cfg.RedisAddr, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sinks.Close() }()

	if cfg.MetricsAddr != "" {
		server := microservice.NewBaseServer(logger, cfg.MetricsAddr, transport.IsConnected, reg)
		if err := server.Start(); err != nil {
			return err
		}
		defer shutdown(server, logger)
	}

	runInfo := results.NewRun("mqtt-publisher", cfg.BrokerURL(), cfg.Topic, cfg.QoS)
	fmt.Fprintf(out, "Connecting to MQTT broker at %s...\n", cfg.BrokerURL())
	if err := pub.Connect(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(out, "✗ Interrupted before connecting")
			return nil
		}
		return err
	}
	fmt.Fprintf(out, "✓ Connected\n\n")

	summary, runErr := pub.Run(ctx)
	pub.Disconnect()
	publisher.PrintSummary(out, summary)
	fmt.Fprintln(out, "✓ Disconnected")
	if runErr != nil {
		return runErr
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return sinks.Write(saveCtx, runInfo.FromPublisher(summary))
}

func shutdown(server *microservice.BaseServer, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Metrics server did not shut down cleanly.")
	}
}
