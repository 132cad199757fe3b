// run.go implements the 'llcov run' command.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kolkov/llcov/internal/config"
)

// newRunCmd creates the 'llcov run' command.
//
// This command instruments Go source files, builds them temporarily,
// and immediately executes the resulting binary. It acts as a drop-in
// replacement for 'go run'. Runtime sink settings from the --config file
// are exported to the program as LLCOV_* variables.
//
// Flow:
//  1. Parse arguments (source files + program arguments)
//  2. Build instrumented binary to temp location
//  3. Execute binary with program arguments and sink environment
//  4. Forward stdin/stdout/stderr
//  5. Return program's exit code
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [build flags] files.go [arguments...]",
		Short: "Run Go program with coverage calls",
		Long: `Run instruments and builds the given files, then executes the
program with the remaining arguments. The program's exit code is returned.

Example:
  llcov run main.go
  llcov run main.go arg1 arg2
  LLCOV_STDERR=1 llcov run main.go
  llcov run --config llcov.yaml main.go --program-flag=value`,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && (args[0] == "-h" || args[0] == "--help") {
				return cmd.Help()
			}

			bc, programArgs, err := parseRunArgs(args)
			if err != nil {
				return err
			}

			tempBinary, cfg, err := buildTemporary(cmd.ErrOrStderr(), bc)
			if err != nil {
				return err
			}
			defer func() { _ = os.Remove(tempBinary) }()

			if code := executeBinary(tempBinary, programArgs, runEnv(cfg)); code != 0 {
				return &exitCodeError{code: code}
			}
			return nil
		},
	}
}

// parseRunArgs separates source files from program arguments.
//
// The 'go run' command format is:
//
//	go run [build flags] [-exec xprog] package [arguments...]
//
// We support:
//
//	llcov run file.go [arguments...]
//	llcov run file1.go file2.go [arguments...]
//
// Build flags (if any) come before source files.
// Everything after source files are program arguments.
//
// Returns:
//   - buildConfig for compilation
//   - programArgs to pass to executable
//   - error if parsing fails
func parseRunArgs(args []string) (*buildConfig, []string, error) {
	if len(args) == 0 {
		return nil, nil, fmt.Errorf("no source files specified")
	}

	var sourceFiles []string
	var programArgs []string
	var buildFlags []string
	cfgPath := configPath

	sawGoFile := false
	inProgramArgs := false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if inProgramArgs {
			programArgs = append(programArgs, arg)
			continue
		}

		if !sawGoFile && (arg == "--config" || arg == "-config") {
			if i+1 >= len(args) {
				return nil, nil, fmt.Errorf("%s flag requires an argument", arg)
			}
			i++
			cfgPath = args[i]
			continue
		}
		if !sawGoFile && strings.HasPrefix(arg, "--config=") {
			cfgPath = strings.TrimPrefix(arg, "--config=")
			continue
		}

		// Build flags come before source files
		if !sawGoFile && (arg == "-o" || needsValue(arg)) {
			if arg == "-o" {
				// run always builds to a temporary binary
				i++
				continue
			}
			buildFlags = append(buildFlags, arg)
			if i+1 < len(args) {
				i++
				buildFlags = append(buildFlags, args[i])
			}
			continue
		}

		if filepath.Ext(arg) == ".go" {
			sourceFiles = append(sourceFiles, arg)
			sawGoFile = true
			continue
		}

		// Not a .go file and we've seen .go files → program args start here
		if sawGoFile {
			inProgramArgs = true
			programArgs = append(programArgs, arg)
			continue
		}

		// Not a .go file and haven't seen .go files → could be build flag
		buildFlags = append(buildFlags, arg)
	}

	if len(sourceFiles) == 0 {
		return nil, nil, fmt.Errorf("no Go source files specified")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	bc := &buildConfig{
		sourceFiles: sourceFiles,
		buildFlags:  buildFlags,
		workDir:     cwd,
		configPath:  cfgPath,
	}

	return bc, programArgs, nil
}

// buildTemporary builds the instrumented code to a temporary binary.
//
// Instrumentation progress goes to out so that the program's stdout stays
// clean.
//
// Returns:
//   - Path to temporary binary
//   - Configuration the binary was built with
//   - Error if build fails
func buildTemporary(out io.Writer, bc *buildConfig) (string, config.Config, error) {
	tempBinary, err := os.CreateTemp("", "llcov-run-*.exe")
	if err != nil {
		return "", config.Config{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempBinary.Name()
	_ = tempBinary.Close()

	bc.outputFile = tempPath

	cfg, err := buildProgram(out, bc)
	if err != nil {
		_ = os.Remove(tempPath)
		return "", config.Config{}, err
	}

	return tempPath, cfg, nil
}

// runEnv returns the environment of the instrumented program: ours plus
// the sink settings from the configuration. Later entries win, so
// configured values override inherited ones.
func runEnv(cfg config.Config) []string {
	return append(os.Environ(), cfg.Environ()...)
}

// executeBinary runs the instrumented binary with given arguments.
//
// This forwards stdin/stdout/stderr to the child process and
// returns the process exit code.
//
// Returns:
//   - Exit code of the process (0 = success)
func executeBinary(binaryPath string, args, env []string) int {
	cmd := exec.Command(binaryPath, args...)
	cmd.Env = env

	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if code < 0 {
				// killed by a signal
				code = 1
			}
			return code
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error executing binary: %v\n", err)
		return 1
	}

	return 0
}
