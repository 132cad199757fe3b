// Package policy decides, per basic block, whether to emit a coverage call.
//
// The decision combines a whitelist and a blacklist (see package match)
// and is driven once per basic block, in program order, for each function:
//
//	p := policy.New(whitelist, blacklist)
//	fs := p.Function("main.run", "/src/main.go")
//	for _, b := range blocks {
//		d := fs.Next(b)
//		if d.Instrument {
//			inject(d.Site)
//		}
//	}
//
// Rules, in order:
//
//  1. A function is open when the whitelist is empty or names it (or its
//     file) exactly. An open function that the blacklist does not mention
//     at all is instrumented wholesale ("instrument all").
//  2. A blacklist entry naming the function or its file exactly skips the
//     whole function.
//  3. Each block resolves to the first located instruction, preferring the
//     original (pre-generation) position over the immediate one. Blocks
//     without any location are never instrumented.
//  4. The relblock ordinal restarts at 0 whenever the resolved line
//     changes and counts up while consecutive blocks share a line.
//  5. Blocks whose file differs from the function's file are re-checked
//     against that file: a blacklisted file vetoes the block, and so does
//     a non-empty whitelist that does not select the file.
//  6. Exact whitelist line/relblock entries select a block; exact blacklist
//     line/relblock entries reject it and always win.
//
// The policy is pure: decisions depend only on the two filter sets and the
// block location sequence.
//
// Thread Safety: Policy is safe for concurrent use. FuncState is not.
package policy

import (
	"github.com/rs/zerolog"

	"github.com/kolkov/llcov/internal/match"
)

// Position is a resolved source location. Line 0 means unresolved.
type Position struct {
	File string
	Line uint32
}

// Valid reports whether the position carries a line.
func (p Position) Valid() bool {
	return p.Line > 0
}

// Instr is one instruction (statement) of a block with its locations.
//
// Original is the location before code generation or inlining (for Go
// source, the //line-adjusted position); Immediate is where the
// instruction physically sits.
type Instr struct {
	Immediate Position
	Original  Position
}

// Block is a basic block: instructions in program order.
type Block struct {
	Instrs []Instr
}

// Resolve returns the block's location: the first instruction carrying a
// location, preferring its original position.
func (b Block) Resolve() (Position, bool) {
	for _, in := range b.Instrs {
		if in.Original.Valid() {
			return in.Original, true
		}
		if in.Immediate.Valid() {
			return in.Immediate, true
		}
	}
	return Position{}, false
}

// Site identifies an instrumented block at run time.
type Site struct {
	Function string
	File     string
	Line     uint32
	Relblock uint32
}

// Reason explains a decision. Used for tracing.
type Reason string

// Decision reasons.
const (
	ReasonInstrumentAll        Reason = "instrument all"
	ReasonSelected             Reason = "selected"
	ReasonWhitelistedLine      Reason = "whitelisted line"
	ReasonNotSelected          Reason = "not selected"
	ReasonNoLocation           Reason = "no location"
	ReasonFunctionBlacklisted  Reason = "function blacklisted"
	ReasonBlacklistedLine      Reason = "blacklisted line"
	ReasonCrossFileBlacklisted Reason = "cross-file blacklisted"
	ReasonCrossFileNotSelected Reason = "cross-file not whitelisted"
)

// Decision is the outcome for one block.
type Decision struct {
	Instrument bool
	// Located is false when the block had no resolvable position; Site
	// then only carries the function name.
	Located bool
	Site    Site
	Reason  Reason
}

// Policy holds the two filter engines.
type Policy struct {
	whitelist *match.Engine
	blacklist *match.Engine
	log       zerolog.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithLogger traces every block evaluation at debug level.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Policy) {
		p.log = log
	}
}

// New returns a policy. Nil engines behave as empty lists.
func New(whitelist, blacklist *match.Engine, opts ...Option) *Policy {
	p := &Policy{
		whitelist: whitelist,
		blacklist: blacklist,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FuncState evaluates the blocks of a single function.
type FuncState struct {
	p    *Policy
	name string
	file string

	whitelistOpenOrExact bool
	instrumentAll        bool
	skipped              bool

	started  bool
	prevLine uint32
	relblock uint32
}

// Function starts evaluation of the function name declared in file.
func (p *Policy) Function(name, file string) *FuncState {
	open := p.whitelist.Empty() || p.whitelist.ExactFuncOrFileMatch(file, name)
	fs := &FuncState{
		p:                    p,
		name:                 name,
		file:                 file,
		whitelistOpenOrExact: open,
		instrumentAll:        open && !p.blacklist.CoarseMatch(file, name),
		skipped:              p.blacklist.ExactFuncOrFileMatch(file, name),
	}

	p.log.Debug().
		Str("func", name).
		Str("file", file).
		Bool("whitelisted", open).
		Bool("instrument_all", fs.instrumentAll).
		Bool("skipped", fs.skipped).
		Msg("function evaluated")

	return fs
}

// Skipped reports whether the blacklist excludes the whole function.
func (fs *FuncState) Skipped() bool {
	return fs.skipped
}

// InstrumentAll reports whether blocks in the function's own file are
// instrumented without per-block selection.
func (fs *FuncState) InstrumentAll() bool {
	return fs.instrumentAll && !fs.skipped
}

// Next evaluates the next block in program order.
func (fs *FuncState) Next(b Block) Decision {
	d := fs.next(b)

	fs.p.log.Debug().
		Str("func", fs.name).
		Str("file", d.Site.File).
		Uint32("line", d.Site.Line).
		Uint32("relblock", d.Site.Relblock).
		Bool("instrument", d.Instrument).
		Str("reason", string(d.Reason)).
		Msg("block evaluated")

	return d
}

func (fs *FuncState) next(b Block) Decision {
	pos, ok := b.Resolve()
	if !ok {
		return Decision{Site: Site{Function: fs.name}, Reason: ReasonNoLocation}
	}

	if fs.started && pos.Line == fs.prevLine {
		fs.relblock++
	} else {
		fs.relblock = 0
	}
	fs.started = true
	fs.prevLine = pos.Line

	d := Decision{
		Located: true,
		Site: Site{
			Function: fs.name,
			File:     pos.File,
			Line:     pos.Line,
			Relblock: fs.relblock,
		},
	}

	if fs.skipped {
		d.Reason = ReasonFunctionBlacklisted
		return d
	}

	wl, bl := fs.p.whitelist, fs.p.blacklist
	crossFile := pos.File != fs.file

	selected := fs.whitelistOpenOrExact
	d.Reason = ReasonSelected
	if crossFile {
		if bl.CoarseMatch(pos.File, "") {
			d.Reason = ReasonCrossFileBlacklisted
			return d
		}
		if !wl.Empty() && !wl.ExactFuncOrFileMatch(pos.File, fs.name) {
			d.Reason = ReasonCrossFileNotSelected
			return d
		}
	}
	if !selected {
		d.Reason = ReasonNotSelected
	}

	if matchesLine(wl, fs.name, d.Site) {
		selected = true
		d.Reason = ReasonWhitelistedLine
	}
	if matchesLine(bl, fs.name, d.Site) {
		d.Reason = ReasonBlacklistedLine
		return d
	}

	switch {
	case fs.instrumentAll && !crossFile:
		d.Instrument = true
		if d.Reason == ReasonSelected {
			d.Reason = ReasonInstrumentAll
		}
	case selected:
		d.Instrument = true
	}
	return d
}

// matchesLine reports an exact line or relblock match, with or without a
// function constraint.
func matchesLine(m *match.Engine, fn string, s Site) bool {
	if m.Empty() {
		return false
	}
	return m.ExactLineMatch(s.File, fn, s.Line) ||
		m.ExactFileLineMatch(s.File, s.Line) ||
		m.ExactRelblockMatch(s.File, fn, s.Line, s.Relblock) ||
		m.ExactFileRelblockMatch(s.File, s.Line, s.Relblock)
}

// Function is a function with its blocks, for whole-function evaluation.
type Function struct {
	Name   string
	File   string
	Blocks []Block
}

// Evaluate runs every block of fn through p and returns the decisions in
// block order.
func Evaluate(p *Policy, fn Function) []Decision {
	fs := p.Function(fn.Name, fn.File)
	out := make([]Decision, 0, len(fn.Blocks))
	for _, b := range fn.Blocks {
		out = append(out, fs.Next(b))
	}
	return out
}
