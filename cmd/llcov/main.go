// Package main implements the llcov CLI tool.
//
// llcov records which basic blocks of a Go program execute while it runs.
// It works by:
//
//  1. Parsing Go source files using go/ast
//  2. Splitting every function into basic blocks and filtering them through
//     the blacklist and whitelist
//  3. Inserting a call to the llcov runtime at the start of each selected
//     block
//  4. Building/running/testing the instrumented code
//
// Usage:
//
//	llcov build main.go          # Build with coverage calls
//	llcov run main.go            # Run with coverage calls
//	llcov test ./...             # Test with coverage calls
//	llcov instrument main.go     # Print instrumented source
//	llcov listen --addr :7777    # Collect events from LLCOV_HOST programs
//
// Filter lists and the runtime backend are configured through LLCOV_*
// environment variables or a YAML file passed with --config.
package main

import (
	"errors"
	"fmt"
	"os"
	goruntime "runtime"

	"github.com/spf13/cobra"

	"github.com/kolkov/llcov/cover"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "llcov",
	Short: "llcov - live basic-block coverage for Go programs",
	Long: `llcov instruments Go programs at the basic-block level and reports
every executed block while the program runs.

Which blocks are instrumented is controlled by two list files:
  LLCOV_BLACKLIST   blocks that are never instrumented
  LLCOV_WHITELIST   when set, only these blocks are instrumented

Each line holds tokens file:<path> func:<name> line:<n> relblock:<k>.
The file written by LLCOV_FILE uses the same format, so a log of blocks
already seen can be fed back as a blacklist to find new blocks only.

Executed blocks go to one runtime backend:
  LLCOV_ABORT=1     abort on the first executed block
  LLCOV_HOST=host   stream to a collector (llcov listen) on port 7777
  LLCOV_STDERR=1    print to stderr
  LLCOV_FILE=path   append to a file (LLCOV_DEDUP=1 to suppress repeats)`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")

	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newTestCmd())
	rootCmd.AddCommand(newInstrumentCmd())
	rootCmd.AddCommand(newListenCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("llcov version %s\n", cover.Version)
			cmd.Printf("Go version: %s\n", goruntime.Version())
		},
	}
}

// exitCodeError carries the exit status of a program started by run.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func main() {
	if err := Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
