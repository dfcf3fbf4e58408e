package main

import (
	"fmt"
	"os"

	"github.com/illmade-knight/go-mqttbench/pkg/codecbench"
	"github.com/illmade-knight/go-mqttbench/pkg/config"
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
		Use:           "codec-bench",
		Short:         "Compare encoded size and encode/decode time of every payload encoding",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadCodecBench(v)
			if err != nil {
				return err
			}
			logger := config.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			out := cmd.OutOrStdout()

			runner := codecbench.NewRunner(nil, logger)
			res, err := runner.Run(codecbench.Config{
				Encodings:  cfg.Encodings,
				Tiers:      cfg.Tiers(),
				Iterations: cfg.Iterations,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "=== Codec comparison (%d iterations) ===\n\n", cfg.Iterations)
			if err := codecbench.PrintTable(out, res); err != nil {
				return err
			}
			if cfg.Output != "" {
				if err := codecbench.Save(cfg.Output, res); err != nil {
					return err
				}
				fmt.Fprintf(out, "\n✓ Results saved to %s\n", cfg.Output)
			}
			return nil
		},
	}
	if err := config.BindCodecBenchFlags(cmd, v); err != nil {
		panic(err)
	}
	return cmd
}
