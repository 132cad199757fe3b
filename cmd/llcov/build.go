// build.go implements the 'llcov build' command.
package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kolkov/llcov/cmd/llcov/instrument"
	"github.com/kolkov/llcov/cmd/llcov/runtime"
	"github.com/kolkov/llcov/internal/config"
	"github.com/kolkov/llcov/internal/listconfig"
	"github.com/kolkov/llcov/internal/logging"
	"github.com/kolkov/llcov/internal/match"
	"github.com/kolkov/llcov/internal/policy"
)

// newBuildCmd creates the 'llcov build' command.
//
// This command instruments Go source files and builds them with coverage
// calls. It acts as a drop-in replacement for 'go build', supporting all
// standard flags, so flag parsing is left to parseBuildArgs.
//
// Flow:
//  1. Parse arguments (source files + go build flags)
//  2. Load configuration and filter lists
//  3. Create temporary workspace
//  4. Instrument source files (insert coverage calls)
//  5. Setup runtime linking (go.mod overlay)
//  6. Call 'go build' with instrumented code
//  7. Cleanup temporary files
func newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build [-o output] [-v] [build flags] [files|dirs]",
		Short: "Build Go program with coverage calls",
		Long: `Build instruments the given files (or the .go files of the given
directories, default ".") and builds them with 'go build'.

All flags other than -o, -v and --config are passed to 'go build'.

Example:
  llcov build main.go
  llcov build -o myapp main.go helper.go
  llcov build --config llcov.yaml -ldflags="-s -w" .`,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			bc, err := parseBuildArgs(args)
			if err != nil {
				return err
			}
			if bc.help {
				return cmd.Help()
			}

			out := cmd.OutOrStdout()
			if _, err := buildProgram(out, bc); err != nil {
				return err
			}
			if bc.outputFile != "" {
				_, _ = fmt.Fprintf(out, "Built successfully: %s\n", bc.outputFile)
			}
			return nil
		},
	}
}

// buildConfig holds configuration for the build command.
type buildConfig struct {
	// Source files to instrument and build
	sourceFiles []string

	// Output binary name (from -o flag)
	outputFile string

	// Additional go build flags
	buildFlags []string

	// Working directory for build
	workDir string

	// YAML configuration file (from --config flag)
	configPath string

	// Verbose output flag (-v)
	verbose bool

	// Help requested (-h, --help)
	help bool
}

// parseBuildArgs parses command-line arguments for 'llcov build'.
//
// It separates:
//   - Source files (.go files or directories)
//   - Output file (-o flag)
//   - Configuration file (--config flag)
//   - Go build flags (everything else)
//
// Returns buildConfig with parsed arguments.
func parseBuildArgs(args []string) (*buildConfig, error) {
	bc := &buildConfig{
		sourceFiles: []string{},
		buildFlags:  []string{},
		configPath:  configPath,
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	bc.workDir = cwd

	expectingValue := false
	for i := 0; i < len(args); i++ {
		arg := args[i]

		// If previous flag expects a value, this is it (even if it starts with -)
		// Example: -ldflags "-s -w"
		if expectingValue {
			bc.buildFlags = append(bc.buildFlags, arg)
			expectingValue = false
			continue
		}

		switch {
		case arg == "-o":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("-o flag requires an argument")
			}
			i++
			bc.outputFile = args[i]

		case strings.HasPrefix(arg, "-o="):
			bc.outputFile = strings.TrimPrefix(arg, "-o=")

		case arg == "--config" || arg == "-config":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s flag requires an argument", arg)
			}
			i++
			bc.configPath = args[i]

		case strings.HasPrefix(arg, "--config="):
			bc.configPath = strings.TrimPrefix(arg, "--config=")

		case arg == "-v":
			bc.verbose = true

		case arg == "-h" || arg == "--help":
			bc.help = true

		case strings.HasPrefix(arg, "-"):
			// It's a build flag - pass through to go build
			bc.buildFlags = append(bc.buildFlags, arg)
			expectingValue = needsValue(arg)

		default:
			// .go file, directory or "."
			bc.sourceFiles = append(bc.sourceFiles, arg)
		}
	}

	// Default: build current directory if no sources specified
	if len(bc.sourceFiles) == 0 {
		bc.sourceFiles = []string{"."}
	}

	return bc, nil
}

// needsValue returns true if the flag expects a following value.
func needsValue(flag string) bool {
	valueFlags := []string{
		"-ldflags", "-gcflags", "-asmflags", "-gccgoflags",
		"-tags", "-installsuffix", "-buildmode", "-mod",
		"-modfile", "-overlay", "-pkgdir", "-toolexec",
	}

	for _, vf := range valueFlags {
		// Already has = format (e.g., -ldflags=-s)
		if strings.HasPrefix(flag, vf+"=") {
			return false
		}
		if flag == vf {
			return true
		}
	}

	return false
}

// buildProgram runs the whole build pipeline for bc and returns the
// configuration it was built with.
func buildProgram(out io.Writer, bc *buildConfig) (config.Config, error) {
	cfg, err := config.Load(bc.configPath)
	if err != nil {
		return config.Config{}, err
	}
	log := newLogger(cfg)

	opts, closeLog, err := instrumentOptions(cfg, log)
	if err != nil {
		return config.Config{}, err
	}
	defer closeLog()

	workspace, err := createWorkspace()
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to create workspace: %w", err)
	}
	defer workspace.cleanup()

	files, err := instrumentSources(out, bc, workspace, opts...)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to instrument sources: %w", err)
	}

	if err := workspace.setupRuntimeLinking(filepath.Dir(files[0]), log); err != nil {
		return config.Config{}, fmt.Errorf("failed to setup runtime: %w", err)
	}

	if err := workspace.build(bc); err != nil {
		return config.Config{}, fmt.Errorf("build failed: %w", err)
	}
	return cfg, nil
}

// newLogger creates the CLI diagnostics logger.
func newLogger(cfg config.Config) zerolog.Logger {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	if cfg.LogInstrumentationDebug && logging.ParseLevel(cfg.LogLevel) > zerolog.DebugLevel {
		logCfg.Level = "debug"
	}
	return logging.NewWithComponent(logCfg, "llcov")
}

// instrumentOptions loads the filter lists and opens the instrumentation
// log named by cfg. The returned function closes the log.
func instrumentOptions(cfg config.Config, log zerolog.Logger) ([]instrument.Option, func(), error) {
	noop := func() {}

	whitelist, err := loadEngine(cfg.Whitelist)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to load whitelist: %w", err)
	}
	blacklist, err := loadEngine(cfg.Blacklist)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to load blacklist: %w", err)
	}

	var policyOpts []policy.Option
	if cfg.LogInstrumentationDebug {
		policyOpts = append(policyOpts, policy.WithLogger(log))
	}

	opts := []instrument.Option{
		instrument.WithPolicy(policy.New(whitelist, blacklist, policyOpts...)),
		instrument.WithLogger(log),
	}

	if cfg.LogInstrumentation == "" {
		return opts, noop, nil
	}
	f, err := os.OpenFile(cfg.LogInstrumentation, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to open instrumentation log: %w", err)
	}
	opts = append(opts, instrument.WithInstrumentationLog(f))
	return opts, func() { _ = f.Close() }, nil
}

// loadEngine loads the list file at path. An empty path yields a nil
// engine, which matches nothing.
func loadEngine(path string) (*match.Engine, error) {
	if path == "" {
		return nil, nil
	}
	set, err := listconfig.Load(path)
	if err != nil {
		return nil, err
	}
	return match.New(set), nil
}

// workspace represents a temporary workspace for instrumented code.
type workspace struct {
	// Root directory of workspace
	dir string

	// Source directory (where instrumented .go files go)
	srcDir string
}

// createWorkspace creates a temporary workspace for building instrumented code.
func createWorkspace() (*workspace, error) {
	dir, err := os.MkdirTemp("", "llcov-build-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to create src directory: %w", err)
	}

	return &workspace{
		dir:    dir,
		srcDir: srcDir,
	}, nil
}

// cleanup removes the temporary workspace.
func (w *workspace) cleanup() {
	if w.dir != "" {
		_ = os.RemoveAll(w.dir)
	}
}

// setupRuntimeLinking writes the workspace go.mod and tidies it.
//
// sourceDir locates the instrumented project's go.mod. A local llcov
// checkout is used for the runtime when one is found.
func (w *workspace) setupRuntimeLinking(sourceDir string, log zerolog.Logger) error {
	root, err := runtime.FindModuleRoot()
	if err != nil {
		log.Debug().Err(err).Msg("Using published llcov runtime")
		root = ""
	}

	if _, err := runtime.ModFileOverlay(w.dir, sourceDir, root); err != nil {
		return fmt.Errorf("failed to create go.mod overlay: %w", err)
	}

	tidyCmd := exec.Command("go", "mod", "tidy")
	tidyCmd.Dir = w.dir // go.mod is in workspace root, not src/
	tidyCmd.Stdout = os.Stdout
	tidyCmd.Stderr = os.Stderr
	if err := tidyCmd.Run(); err != nil {
		return fmt.Errorf("failed to tidy go.mod: %w", err)
	}
	return nil
}

// build runs 'go build' on the instrumented code in the workspace.
func (w *workspace) build(bc *buildConfig) error {
	args := []string{"build"}

	if bc.outputFile != "" {
		outputPath := bc.outputFile
		if !filepath.IsAbs(outputPath) {
			outputPath = filepath.Join(bc.workDir, outputPath)
		}
		args = append(args, "-o", outputPath)
	}

	args = append(args, bc.buildFlags...)
	args = append(args, ".")

	cmd := exec.Command("go", args...)
	cmd.Dir = w.srcDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}

// instrumentSources instruments all source files and writes them to the
// workspace. It returns the instrumented source paths.
func instrumentSources(out io.Writer, bc *buildConfig, workspace *workspace, opts ...instrument.Option) ([]string, error) {
	goFiles, err := collectGoFiles(bc.sourceFiles, bc.workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to collect source files: %w", err)
	}

	if len(goFiles) == 0 {
		return nil, fmt.Errorf("no Go source files found")
	}

	// The workspace is flat; two sources with the same base name would
	// overwrite each other.
	written := make(map[string]string, len(goFiles))

	for _, srcPath := range goFiles {
		base := filepath.Base(srcPath)
		if prev, ok := written[base]; ok {
			return nil, fmt.Errorf("%s and %s have the same file name", prev, srcPath)
		}
		written[base] = srcPath

		result, err := instrument.InstrumentFile(srcPath, nil, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to instrument %s: %w", srcPath, err)
		}

		outPath := filepath.Join(workspace.srcDir, base)
		if err := os.WriteFile(outPath, []byte(result.Code), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write instrumented file %s: %w", outPath, err)
		}

		_, _ = fmt.Fprintf(out, "Instrumented: %s -> %s\n", srcPath, outPath)

		if bc.verbose {
			printStats(out, result.Stats)
		}
	}

	return goFiles, nil
}

// printStats prints per-file statistics for -v.
func printStats(out io.Writer, stats instrument.Stats) {
	_, _ = fmt.Fprintf(out, "  - %d functions, %d blocks\n", stats.Functions, stats.Blocks)
	_, _ = fmt.Fprintf(out, "  - %d blocks instrumented, %d filtered\n", stats.Instrumented, stats.Filtered)
	if stats.Unlocated > 0 {
		_, _ = fmt.Fprintf(out, "  - %d blocks without source position\n", stats.Unlocated)
	}
}

// collectGoFiles finds all .go files from the given sources.
//
// Sources can be:
//   - .go files directly
//   - directories (scans for .go files)
//   - "." for current directory
func collectGoFiles(sources []string, workDir string) ([]string, error) {
	var goFiles []string

	for _, src := range sources {
		srcPath := src
		if !filepath.IsAbs(srcPath) {
			srcPath = filepath.Join(workDir, src)
		}

		info, err := os.Stat(srcPath)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", src, err)
		}

		if !info.IsDir() {
			if strings.HasSuffix(srcPath, ".go") {
				goFiles = append(goFiles, srcPath)
			}
			continue
		}

		entries, err := os.ReadDir(srcPath)
		if err != nil {
			return nil, fmt.Errorf("cannot read directory %s: %w", srcPath, err)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}

			name := entry.Name()
			// Include only .go files (exclude _test.go for build)
			if strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go") {
				goFiles = append(goFiles, filepath.Join(srcPath, name))
			}
		}
	}

	return goFiles, nil
}
