// listen.go implements the 'llcov listen' command.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kolkov/llcov/internal/collector"
	"github.com/kolkov/llcov/internal/config"
)

// newListenCmd creates the 'llcov listen' command: the collector for
// programs started with LLCOV_HOST.
func newListenCmd() *cobra.Command {
	var (
		addr   string
		output string
		dedup  bool
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Collect coverage events streamed by instrumented programs",
		Long: `Listen accepts connections from instrumented programs running with
LLCOV_HOST and writes every received block to the output in the
file:<f> line:<l> relblock:<k> format, which can be used as a blacklist.

Example:
  llcov listen
  llcov listen --addr :7777 --output seen.txt --dedup`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			var out io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.OpenFile(output, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
				if err != nil {
					return fmt.Errorf("failed to open output: %w", err)
				}
				defer func() { _ = f.Close() }()
				out = f
			}

			// Create context with signal handling.
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case sig := <-sigCh:
					logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
					cancel()
				case <-ctx.Done():
				}
			}()

			c := collector.New(collector.Config{Addr: addr, Dedup: dedup}, out, logger)
			return c.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", collector.DefaultAddr, "TCP listen address")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Append events to this file instead of stdout")
	cmd.Flags().BoolVar(&dedup, "dedup", false, "Write each block at most once")

	return cmd
}
