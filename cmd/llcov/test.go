// test.go implements the 'llcov test' command.
package main

import (
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kolkov/llcov/cmd/llcov/instrument"
	"github.com/kolkov/llcov/cmd/llcov/runtime"
	"github.com/kolkov/llcov/internal/config"
)

// testConfig holds configuration for the test command.
type testConfig struct {
	// Package patterns to test (e.g., "./...", "./internal/...")
	packages []string

	// Test flags to pass to go test (-v, -run, -bench, etc.)
	testFlags []string

	// Working directory
	workDir string

	// YAML configuration file (from --config flag)
	configPath string

	// Verbose output flag (-v)
	verbose bool

	// Help requested (-h, --help)
	help bool
}

// newTestCmd creates the 'llcov test' command.
//
// This command instruments the tested packages (including test files) and
// runs 'go test' on them with the sink configuration exported. It acts as
// a drop-in replacement for 'go test'.
//
// Flow:
//  1. Parse arguments (test flags + package patterns)
//  2. Mirror the project module into a temporary workspace, instrumenting
//     the .go files of the tested packages
//  3. Require the llcov runtime from the mirrored go.mod
//  4. Call 'go test' with instrumented code
//  5. Forward test output and exit code
func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test [test flags] [packages]",
		Short: "Test Go packages with coverage calls",
		Long: `Test instruments the given packages (default ".") including their
_test.go files and runs 'go test' on them. Function names are qualified
with the package import path, as the Go runtime reports them.

Example:
  llcov test ./...
  llcov test -v -run TestParse ./internal/...
  LLCOV_FILE=cov.txt LLCOV_DEDUP=1 llcov test ./pkg/server`,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := parseTestArgs(args)
			if err != nil {
				return err
			}
			if tc.help {
				return cmd.Help()
			}

			code, err := testPackages(cmd.OutOrStdout(), tc)
			if err != nil {
				return err
			}
			if code != 0 {
				return &exitCodeError{code: code}
			}
			return nil
		},
	}
}

// parseTestArgs parses command-line arguments for 'llcov test'.
//
// We support:
//
//	llcov test ./...
//	llcov test -v ./internal/...
//	llcov test -run=TestFoo -v ./pkg/...
//	llcov test --config llcov.yaml -count 1 ./...
//
// Returns testConfig with parsed arguments.
func parseTestArgs(args []string) (*testConfig, error) {
	tc := &testConfig{
		packages:   []string{},
		testFlags:  []string{},
		configPath: configPath,
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	tc.workDir = cwd

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch {
		case arg == "-v":
			// We use it too
			tc.verbose = true
			tc.testFlags = append(tc.testFlags, arg)

		case arg == "--config" || arg == "-config":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s flag requires an argument", arg)
			}
			i++
			tc.configPath = args[i]

		case strings.HasPrefix(arg, "--config="):
			tc.configPath = strings.TrimPrefix(arg, "--config=")

		case arg == "-h" || arg == "--help":
			tc.help = true

		case strings.HasPrefix(arg, "-"):
			tc.testFlags = append(tc.testFlags, arg)

			// Check if this flag expects a value (next arg will be consumed)
			if testFlagNeedsValue(arg) && i+1 < len(args) {
				i++
				tc.testFlags = append(tc.testFlags, args[i])
			}

		default:
			tc.packages = append(tc.packages, arg)
		}
	}

	// Default: test current directory if no packages specified
	if len(tc.packages) == 0 {
		tc.packages = []string{"."}
	}

	return tc, nil
}

// testFlagNeedsValue returns true if the test flag expects a following value.
func testFlagNeedsValue(flag string) bool {
	// Already has = format (e.g., -run=TestFoo)
	if strings.Contains(flag, "=") {
		return false
	}

	valueFlags := []string{
		"-run", "-skip", "-bench", "-benchtime", "-blockprofile", "-blockprofilerate",
		"-coverprofile", "-covermode", "-count", "-cpu", "-cpuprofile",
		"-memprofile", "-memprofilerate", "-mutexprofile", "-mutexprofilefraction",
		"-outputdir", "-parallel", "-timeout", "-trace",
	}

	for _, vf := range valueFlags {
		if flag == vf {
			return true
		}
	}

	// Build flags that may appear
	return needsValue(flag)
}

// testPackages runs the whole test pipeline and returns the exit code of
// 'go test'.
func testPackages(out io.Writer, tc *testConfig) (int, error) {
	cfg, err := config.Load(tc.configPath)
	if err != nil {
		return 0, err
	}
	log := newLogger(cfg)

	goMod := runtime.FindProjectGoMod(tc.workDir)
	if goMod == "" {
		return 0, errors.New("no go.mod found; llcov test requires a module")
	}
	moduleRoot := filepath.Dir(goMod)
	modulePath := runtime.ModulePathOf(goMod)

	dirs, err := resolvePackagePatterns(tc.packages, tc.workDir)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve packages: %w", err)
	}
	if len(dirs) == 0 {
		return 0, fmt.Errorf("no packages found matching patterns: %v", tc.packages)
	}

	var pkgs []string
	for _, dir := range dirs {
		rel, err := filepath.Rel(moduleRoot, dir)
		if err != nil || strings.HasPrefix(rel, "..") {
			return 0, fmt.Errorf("package %s is outside module %s", dir, modulePath)
		}
		if rel == "." {
			pkgs = append(pkgs, ".")
			continue
		}
		pkgs = append(pkgs, "./"+filepath.ToSlash(rel))
	}

	opts, closeLog, err := instrumentOptions(cfg, log)
	if err != nil {
		return 0, err
	}
	defer closeLog()

	workspace, err := createWorkspace()
	if err != nil {
		return 0, fmt.Errorf("failed to create workspace: %w", err)
	}
	defer workspace.cleanup()

	m := &mirror{
		root:       moduleRoot,
		goMod:      goMod,
		modulePath: modulePath,
		dst:        workspace.srcDir,
		selected:   make(map[string]bool, len(dirs)),
		opts:       opts,
		out:        out,
		verbose:    tc.verbose,
	}
	for _, dir := range dirs {
		m.selected[dir] = true
	}
	if err := m.copy(); err != nil {
		return 0, fmt.Errorf("failed to instrument sources: %w", err)
	}
	if m.instrumented == 0 {
		return 0, errors.New("no Go source files found")
	}

	llcovRoot, err := runtime.FindModuleRoot()
	if err != nil {
		log.Debug().Err(err).Msg("Using published llcov runtime")
		llcovRoot = ""
	}
	if _, err := runtime.ModFileMirror(workspace.srcDir, goMod, llcovRoot); err != nil {
		return 0, fmt.Errorf("failed to setup runtime: %w", err)
	}

	tidyCmd := exec.Command("go", "mod", "tidy")
	tidyCmd.Dir = workspace.srcDir
	tidyCmd.Stdout = os.Stdout
	tidyCmd.Stderr = os.Stderr
	if err := tidyCmd.Run(); err != nil {
		return 0, fmt.Errorf("failed to tidy go.mod: %w", err)
	}

	return runTests(workspace.srcDir, tc.testFlags, pkgs, runEnv(cfg)), nil
}

// mirror copies a module tree, instrumenting the .go files of the
// selected package directories.
type mirror struct {
	root       string
	goMod      string
	modulePath string
	dst        string
	selected   map[string]bool
	opts       []instrument.Option
	out        io.Writer
	verbose    bool

	instrumented int
}

func (m *mirror) copy() error {
	return filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(m.root, path)
		if err != nil {
			return err
		}
		target := filepath.Join(m.dst, rel)

		if d.IsDir() {
			if path != m.root {
				name := d.Name()
				if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" {
					return filepath.SkipDir
				}
				// nested module
				if _, err := os.Stat(filepath.Join(path, "go.mod")); err == nil {
					return filepath.SkipDir
				}
			}
			return os.MkdirAll(target, 0o755)
		}

		if path == m.goMod || !d.Type().IsRegular() {
			return nil
		}
		if strings.HasSuffix(path, ".go") && m.selected[filepath.Dir(path)] {
			return m.instrument(path, rel, target)
		}
		return copyFile(path, target)
	})
}

func (m *mirror) instrument(path, rel, target string) error {
	qualifier, err := m.qualifier(path, filepath.Dir(rel))
	if err != nil {
		return err
	}

	opts := append(m.opts[:len(m.opts):len(m.opts)], instrument.WithPackagePath(qualifier))
	result, err := instrument.InstrumentFile(path, nil, opts...)
	if err != nil {
		return fmt.Errorf("failed to instrument %s: %w", path, err)
	}
	if err := os.WriteFile(target, []byte(result.Code), 0o644); err != nil {
		return fmt.Errorf("failed to write instrumented file %s: %w", target, err)
	}
	m.instrumented++

	if m.verbose {
		_, _ = fmt.Fprintf(m.out, "Instrumented: %s\n", rel)
		printStats(m.out, result.Stats)
	}
	return nil
}

// qualifier returns the function name prefix the Go runtime uses for the
// package of file, located in relDir of the module.
func (m *mirror) qualifier(file, relDir string) (string, error) {
	f, err := parser.ParseFile(token.NewFileSet(), file, nil, parser.PackageClauseOnly)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", file, err)
	}

	importPath := m.modulePath
	if relDir != "." {
		importPath = path.Join(m.modulePath, filepath.ToSlash(relDir))
	}
	return packageQualifier(importPath, f.Name.Name), nil
}

// packageQualifier maps an import path and package clause name to the
// runtime's qualifier: "main" for commands, the import path with a _test
// suffix for external test packages, the import path otherwise.
func packageQualifier(importPath, pkgName string) string {
	switch {
	case pkgName == "main":
		return "main"
	case strings.HasSuffix(pkgName, "_test"):
		return importPath + "_test"
	default:
		return importPath
	}
}

// copyFile copies a regular file, keeping its permissions.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}

// resolvePackagePatterns resolves package patterns like "./..." to directories.
func resolvePackagePatterns(patterns []string, workDir string) ([]string, error) {
	var dirs []string
	seen := make(map[string]bool)

	for _, pattern := range patterns {
		if !strings.HasSuffix(pattern, "/...") && !strings.HasSuffix(pattern, "\\...") {
			dir := pattern
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(workDir, pattern)
			}
			if !seen[dir] {
				dirs = append(dirs, dir)
				seen[dir] = true
			}
			continue
		}

		baseDir := strings.TrimSuffix(strings.TrimSuffix(pattern, "/..."), "\\...")
		if baseDir == "." || baseDir == "" {
			baseDir = workDir
		} else if !filepath.IsAbs(baseDir) {
			baseDir = filepath.Join(workDir, baseDir)
		}

		err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			// Skip hidden directories, vendor and testdata
			name := d.Name()
			if path != baseDir && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") ||
				name == "vendor" || name == "testdata") {
				return filepath.SkipDir
			}
			if path != baseDir {
				// nested module
				if _, err := os.Stat(filepath.Join(path, "go.mod")); err == nil {
					return filepath.SkipDir
				}
			}
			hasGo, _ := hasGoFiles(path)
			if hasGo && !seen[path] {
				dirs = append(dirs, path)
				seen[path] = true
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", baseDir, err)
		}
	}

	return dirs, nil
}

// hasGoFiles checks if a directory contains any .go files.
func hasGoFiles(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".go") {
			return true, nil
		}
	}

	return false, nil
}

// runTests executes 'go test' on pkgs in dir and returns its exit code.
func runTests(dir string, testFlags, pkgs, env []string) int {
	args := []string{"test"}
	args = append(args, testFlags...)
	args = append(args, pkgs...)

	cmd := exec.Command("go", args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error executing tests: %v\n", err)
		return 1
	}

	return 0
}
