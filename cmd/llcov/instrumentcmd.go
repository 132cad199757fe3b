// instrumentcmd.go implements the 'llcov instrument' command.
package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kolkov/llcov/cmd/llcov/instrument"
	"github.com/kolkov/llcov/internal/config"
)

// newInstrumentCmd creates the 'llcov instrument' command, which prints
// the instrumented source of a single file. Useful for checking what a
// filter list selects.
func newInstrumentCmd() *cobra.Command {
	var (
		packagePath string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "instrument <file.go>",
		Short: "Print instrumented source of a Go file",
		Long: `Instrument applies the configured filter lists to a single Go file
and prints the instrumented source to stdout.

Example:
  llcov instrument main.go
  LLCOV_WHITELIST=wl.txt llcov instrument -v main.go
  llcov instrument --package example.com/app/server server.go`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			opts, closeLog, err := instrumentOptions(cfg, log)
			if err != nil {
				return err
			}
			defer closeLog()
			if packagePath != "" {
				opts = append(opts, instrument.WithPackagePath(packagePath))
			}

			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", args[0], err)
			}

			result, err := instrument.InstrumentFile(path, nil, opts...)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprint(cmd.OutOrStdout(), result.Code)
			if verbose {
				printStats(cmd.ErrOrStderr(), result.Stats)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&packagePath, "package", "", "Import path used to qualify function names (default: package name)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print instrumentation statistics to stderr")

	return cmd
}
