// run_test.go tests the 'llcov run' command.
package main

import (
	"os"
	"os/exec"
	"slices"
	"strings"
	"testing"

	"github.com/kolkov/llcov/internal/config"
)

// TestParseRunArgs_SimpleFile tests parsing a single source file.
func TestParseRunArgs_SimpleFile(t *testing.T) {
	bc, programArgs, err := parseRunArgs([]string{"main.go"})
	if err != nil {
		t.Fatalf("parseRunArgs() error: %v", err)
	}

	if len(bc.sourceFiles) != 1 || bc.sourceFiles[0] != "main.go" {
		t.Errorf("Expected [main.go], got %v", bc.sourceFiles)
	}
	if len(programArgs) != 0 {
		t.Errorf("Expected no program args, got %v", programArgs)
	}
}

// TestParseRunArgs_FileWithArgs tests source file + program arguments.
func TestParseRunArgs_FileWithArgs(t *testing.T) {
	args := []string{"main.go", "arg1", "arg2", "--flag=value"}

	bc, programArgs, err := parseRunArgs(args)
	if err != nil {
		t.Fatalf("parseRunArgs() error: %v", err)
	}

	if len(bc.sourceFiles) != 1 || bc.sourceFiles[0] != "main.go" {
		t.Errorf("Expected [main.go], got %v", bc.sourceFiles)
	}

	expectedArgs := []string{"arg1", "arg2", "--flag=value"}
	if !slices.Equal(programArgs, expectedArgs) {
		t.Errorf("Expected program args %v, got %v", expectedArgs, programArgs)
	}
}

// TestParseRunArgs_MultipleFilesWithArgs tests multiple files + args.
func TestParseRunArgs_MultipleFilesWithArgs(t *testing.T) {
	args := []string{"main.go", "helper.go", "arg1", "--flag", "other.go"}

	bc, programArgs, err := parseRunArgs(args)
	if err != nil {
		t.Fatalf("parseRunArgs() error: %v", err)
	}

	if len(bc.sourceFiles) != 2 {
		t.Errorf("Expected 2 source files, got %v", bc.sourceFiles)
	}

	// A .go name after the first program argument is a program argument.
	expectedArgs := []string{"arg1", "--flag", "other.go"}
	if !slices.Equal(programArgs, expectedArgs) {
		t.Errorf("Expected program args %v, got %v", expectedArgs, programArgs)
	}
}

// TestParseRunArgs_BuildFlags tests build flags before source files.
func TestParseRunArgs_BuildFlags(t *testing.T) {
	args := []string{"-tags", "integration", "-race", "-o", "ignored", "main.go", "x"}

	bc, programArgs, err := parseRunArgs(args)
	if err != nil {
		t.Fatalf("parseRunArgs() error: %v", err)
	}

	expectedFlags := []string{"-tags", "integration", "-race"}
	if !slices.Equal(bc.buildFlags, expectedFlags) {
		t.Errorf("Expected build flags %v, got %v", expectedFlags, bc.buildFlags)
	}
	if bc.outputFile != "" {
		t.Errorf("run must not take -o, got %q", bc.outputFile)
	}
	if !slices.Equal(programArgs, []string{"x"}) {
		t.Errorf("Expected program args [x], got %v", programArgs)
	}
}

// TestParseRunArgs_ConfigFlag tests --config before the sources.
func TestParseRunArgs_ConfigFlag(t *testing.T) {
	tests := [][]string{
		{"--config", "llcov.yaml", "main.go", "--config", "prog.yaml"},
		{"--config=llcov.yaml", "main.go", "--config", "prog.yaml"},
	}

	for _, args := range tests {
		bc, programArgs, err := parseRunArgs(args)
		if err != nil {
			t.Fatalf("parseRunArgs(%v) error: %v", args, err)
		}
		if bc.configPath != "llcov.yaml" {
			t.Errorf("configPath = %q, want llcov.yaml", bc.configPath)
		}
		// After the sources, --config belongs to the program.
		if !slices.Equal(programArgs, []string{"--config", "prog.yaml"}) {
			t.Errorf("program args = %v", programArgs)
		}
	}
}

// TestParseRunArgs_Errors tests missing sources.
func TestParseRunArgs_Errors(t *testing.T) {
	tests := [][]string{
		nil,
		{"-tags", "x"},
		{"--config"},
	}

	for _, args := range tests {
		if _, _, err := parseRunArgs(args); err == nil {
			t.Errorf("parseRunArgs(%v) expected error", args)
		}
	}
}

// TestRunEnv tests that configured sink settings reach the program.
func TestRunEnv(t *testing.T) {
	cfg := config.Default()
	cfg.Sink.File = "/tmp/cov.log"
	cfg.Sink.Dedup = true

	env := runEnv(cfg)

	if len(env) < 2 {
		t.Fatalf("env too short: %v", env)
	}
	tail := env[len(env)-2:]
	if !slices.Equal(tail, []string{"LLCOV_FILE=/tmp/cov.log", "LLCOV_DEDUP=1"}) {
		t.Errorf("env tail = %v", tail)
	}
	if len(env) != len(os.Environ())+2 {
		t.Errorf("inherited environment not kept")
	}
}

// TestExecuteBinary tests exit code propagation and the environment.
func TestExecuteBinary(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	if code := executeBinary(sh, []string{"-c", "exit 3"}, nil); code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}

	env := []string{"LLCOV_STDERR=1"}
	if code := executeBinary(sh, []string{"-c", `test "$LLCOV_STDERR" = 1`}, env); code != 0 {
		t.Errorf("environment not passed, exit code %d", code)
	}
}

// TestExecuteBinary_Missing tests a binary that cannot start.
func TestExecuteBinary_Missing(t *testing.T) {
	if code := executeBinary("/nonexistent/llcov-test-binary", nil, nil); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

// TestExitCodeError tests the error carrying the program's status.
func TestExitCodeError(t *testing.T) {
	err := &exitCodeError{code: 134}
	if !strings.Contains(err.Error(), "134") {
		t.Errorf("Error() = %q", err.Error())
	}
}
