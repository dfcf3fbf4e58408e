package main

import (
	"context"
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
	"github.com/illmade-knight/go-mqttbench/pkg/results"
	"github.com/illmade-knight/go-mqttbench/pkg/subscriber"
	"github.com/prometheus/client_golang/prometheus"
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
		Use:           "mqtt-subscriber",
		Short:         "Receive sensor readings over MQTT and measure receive latency",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadSubscriber(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	if err := config.BindSubscriberFlags(cmd, v); err != nil {
		panic(err)
	}
	return cmd
}

func run(ctx context.Context, cfg config.Subscriber, out, errOut io.Writer) error {
	logger := config.NewLogger(errOut, cfg.LogLevel)

	fmt.Fprintln(out, "=== MQTT Subscriber (Go) ===")
	fmt.Fprintf(out, "Encoding: %s\n", cfg.Encoding)
	fmt.Fprintf(out, "Topic: %s\n", cfg.Topic)
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

	sub, err := subscriber.New(cfg.SubscriberConfig(), transport, logger,
		subscriber.WithRecorder(recorder),
		subscriber.WithOutput(out),
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
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	runInfo := results.NewRun("mqtt-subscriber", cfg.BrokerURL(), cfg.Topic, cfg.QoS)
	fmt.Fprintf(out, "Connecting to MQTT broker at %s...\n", cfg.BrokerURL())
	summary, err := sub.Run(ctx)
	if err != nil {
		return err
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return sinks.Write(saveCtx, runInfo.FromSubscriber(summary))
}
