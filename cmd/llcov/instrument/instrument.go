// Package instrument implements AST-level insertion of basic-block
// coverage calls.
//
// This package is the compile-time half of llcov. It parses a Go source
// file, splits every function body into basic blocks, asks the filter
// policy which blocks to instrument and prepends a call to the coverage
// runtime to each selected block.
//
// Algorithm:
//  1. Parse Go source file using go/parser
//  2. For each function (declarations and literals), split the body into
//     basic blocks in program order
//  3. Resolve each block to a (file, line), preferring //line-adjusted
//     positions, and evaluate it against the policy
//  4. Insert llcovrt.BlockCall(...) at the start of selected blocks
//  5. Import the runtime and print the result with go/printer
//
// Example Transformation:
//
//	// INPUT (original code):
//	func abs(x int) int {
//		if x < 0 {
//			return -x
//		}
//		return x
//	}
//
//	// OUTPUT (instrumented code):
//	import llcovrt "github.com/kolkov/llcov/cover"
//
//	func abs(x int) int {
//		llcovrt.BlockCall("main.abs", "/src/main.go", 2, 0)
//		if x < 0 {
//			llcovrt.BlockCall("main.abs", "/src/main.go", 3, 0)
//			return -x
//		}
//		llcovrt.BlockCall("main.abs", "/src/main.go", 5, 0)
//		return x
//	}
//
// Thread Safety: This package is NOT thread-safe. Callers must ensure
// single-threaded access or use external synchronization.
package instrument

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"io"
	"slices"

	"github.com/rs/zerolog"

	"github.com/kolkov/llcov/internal/policy"
)

const (
	// CoverPackageImportPath is the import path of the coverage runtime.
	CoverPackageImportPath = "github.com/kolkov/llcov/cover"

	// CoverPackageAlias is the local package name used in instrumented code.
	CoverPackageAlias = "llcovrt"
)

// Stats tracks instrumentation statistics.
//
// Use Case:
// Enable with -v flag to see per-file statistics:
//
//	llcov build -v main.go
//	Instrumented: main.go
//	  - 12 functions, 48 blocks
//	  - 40 blocks instrumented, 8 filtered
//
// Thread Safety: NOT thread-safe (single-threaded instrumentation).
type Stats struct {
	Functions    int // Functions and function literals visited
	Blocks       int // Basic blocks evaluated
	Instrumented int // Blocks that received a coverage call
	Filtered     int // Blocks rejected by the filter policy
	Unlocated    int // Blocks without a source position
}

// Result holds the result of instrumentation.
type Result struct {
	Code  string // Instrumented source code
	Stats Stats  // Instrumentation statistics
}

// Option configures InstrumentFile.
type Option func(*instrumenter)

// WithPolicy sets the filter policy. Without it every block is
// instrumented.
func WithPolicy(p *policy.Policy) Option {
	return func(in *instrumenter) {
		in.policy = p
	}
}

// WithPackagePath sets the qualifier of function names. Defaults to the
// package clause name, which is what the runtime reports for main
// packages.
func WithPackagePath(path string) Option {
	return func(in *instrumenter) {
		in.pkg = path
	}
}

// WithInstrumentationLog appends "file:<f> func:<fn> line:<l>" to w for
// every instrumented block.
func WithInstrumentationLog(w io.Writer) Option {
	return func(in *instrumenter) {
		in.instrLog = w
	}
}

// WithLogger sets the logger for per-file diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(in *instrumenter) {
		in.log = log
	}
}

// instrumenter holds the state of one InstrumentFile call.
type instrumenter struct {
	fset     *token.FileSet
	file     *ast.File
	pkg      string
	policy   *policy.Policy
	instrLog io.Writer
	log      zerolog.Logger

	// instrumentation log lines, written once the file succeeds
	logLines bytes.Buffer

	// pending insertions, applied in reverse program order
	inserts []func()
	stats   Stats
}

// InstrumentFile instruments a single Go source file with coverage calls.
//
// Parameters:
//   - filename: Path to the Go source file. It is recorded verbatim in the
//     coverage calls (unless a //line directive overrides it), so pass an
//     absolute path for filters to match by suffix.
//   - src: Source code to instrument. Can be:
//   - nil: Read from filename
//   - []byte: Use provided bytes
//   - string: Use provided string
//   - io.Reader: Read from reader
//
// Returns:
//   - *Result: Result containing code and statistics
//   - error: *InstrumentationError for syntax errors and name clashes
//
// A file in which no block is selected is returned unchanged apart from
// formatting, without the runtime import.
//
// Thread Safety: NOT thread-safe. Do not call concurrently on the same file.
func InstrumentFile(filename string, src any, opts ...Option) (*Result, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, parseError(filename, err)
	}

	in := &instrumenter{
		fset:   fset,
		file:   file,
		pkg:    file.Name.Name,
		policy: policy.New(nil, nil),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(in)
	}

	if err := in.run(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	cfg := &printer.Config{
		Mode:     printer.UseSpaces | printer.TabIndent,
		Tabwidth: 8,
	}
	if err := cfg.Fprint(&buf, fset, file); err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	if in.instrLog != nil && in.logLines.Len() > 0 {
		if _, err := in.instrLog.Write(in.logLines.Bytes()); err != nil {
			return nil, fmt.Errorf("failed to write instrumentation log: %w", err)
		}
	}

	in.log.Debug().
		Str("file", filename).
		Int("functions", in.stats.Functions).
		Int("blocks", in.stats.Blocks).
		Int("instrumented", in.stats.Instrumented).
		Msg("file instrumented")

	return &Result{
		Code:  buf.String(),
		Stats: in.stats,
	}, nil
}

// run visits every function of the file, then applies the insertions and
// the import.
func (in *instrumenter) run() error {
	globals := 0
	for _, decl := range in.file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Body == nil {
				continue
			}
			if err := in.function(funcName(in.pkg, d), d.Pos(), d.Body, false); err != nil {
				return err
			}
		case *ast.GenDecl:
			for _, lit := range funcLits(d) {
				globals++
				name := closureName(globName(in.pkg), false, globals)
				if err := in.function(name, lit.Pos(), lit.Body, true); err != nil {
					return err
				}
			}
		}
	}

	if in.stats.Instrumented == 0 {
		return nil
	}
	if err := injectImport(in.fset, in.file); err != nil {
		return err
	}

	// Later blocks of a statement list sit at higher indices; inserting
	// them first keeps the indices of earlier blocks valid.
	for _, insert := range slices.Backward(in.inserts) {
		insert()
	}
	return nil
}

// function evaluates the blocks of one function body and recurses into
// the function literals it contains. closure is true for literals.
func (in *instrumenter) function(name string, declPos token.Pos, body *ast.BlockStmt, closure bool) error {
	in.stats.Functions++

	lits := funcLits(body)
	blocks := splitBlocks(body)

	declFile := in.fset.PositionFor(declPos, true).Filename
	fs := in.policy.Function(name, declFile)
	for _, b := range blocks {
		d := fs.Next(in.policyBlock(b))
		in.stats.Blocks++
		switch {
		case !d.Located:
			in.stats.Unlocated++
		case d.Instrument:
			in.stats.Instrumented++
			in.schedule(b, d.Site)
		default:
			in.stats.Filtered++
		}
	}

	for i, lit := range lits {
		if err := in.function(closureName(name, closure, i+1), lit.Pos(), lit.Body, true); err != nil {
			return err
		}
	}
	return nil
}

func (in *instrumenter) schedule(b *basicBlock, site policy.Site) {
	call := blockCall(site)
	in.inserts = append(in.inserts, func() { b.insert(call) })

	if in.instrLog != nil {
		fmt.Fprintf(&in.logLines, "file:%s func:%s line:%d\n", site.File, site.Function, site.Line)
	}
}

// policyBlock converts a block to its policy form. The original position
// is only set when a //line directive moves it away from the immediate
// one.
func (in *instrumenter) policyBlock(b *basicBlock) policy.Block {
	positions := b.positions()
	out := policy.Block{Instrs: make([]policy.Instr, 0, len(positions))}
	for _, pos := range positions {
		if !pos.IsValid() {
			out.Instrs = append(out.Instrs, policy.Instr{})
			continue
		}
		imm := in.fset.PositionFor(pos, false)
		orig := in.fset.PositionFor(pos, true)

		instr := policy.Instr{
			Immediate: policy.Position{File: imm.Filename, Line: uint32(imm.Line)},
		}
		if orig.Filename != imm.Filename || orig.Line != imm.Line {
			instr.Original = policy.Position{File: orig.Filename, Line: uint32(orig.Line)}
		}
		out.Instrs = append(out.Instrs, instr)
	}
	return out
}

// funcLits returns the function literals directly inside n, in source
// order, without descending into the literals themselves.
func funcLits(n ast.Node) []*ast.FuncLit {
	var lits []*ast.FuncLit
	ast.Inspect(n, func(node ast.Node) bool {
		if lit, ok := node.(*ast.FuncLit); ok {
			lits = append(lits, lit)
			return false
		}
		return true
	})
	return lits
}
