// Package match answers membership queries against a filter set.
//
// Queries come in two strengths:
//
//   - Coarse: does the file or function appear anywhere in the list, at
//     any granularity? Used as a fast over-approximation.
//   - Exact: does an entry match at a specific granularity (function or
//     file, plus line, plus line-relative block)?
//
// Filenames are always compared by suffix: list files typically carry
// relative paths while the instrumenter sees absolute ones. Every query is
// a linear scan over the entries; a suffix-aware index (for example a trie
// over reversed path components) would make lookups logarithmic without
// changing results.
//
// Thread Safety: Engine is read-only and safe for concurrent use.
package match

import "github.com/kolkov/llcov/internal/listconfig"

// Engine evaluates queries against one filter set.
type Engine struct {
	set *listconfig.FilterSet
}

// New returns an engine over set. A nil set behaves as empty.
func New(set *listconfig.FilterSet) *Engine {
	return &Engine{set: set}
}

// Empty reports whether the underlying set has no entries.
func (m *Engine) Empty() bool {
	return m == nil || m.set.Empty()
}

// Len returns the number of entries.
func (m *Engine) Len() int {
	if m == nil {
		return 0
	}
	return m.set.Len()
}

// any reports whether pred holds for at least one entry.
func (m *Engine) any(pred func(listconfig.FilterEntry) bool) bool {
	if m.Empty() {
		return false
	}
	found := false
	m.set.Each(func(e listconfig.FilterEntry) bool {
		if pred(e) {
			found = true
			return false
		}
		return true
	})
	return found
}

// CoarseMatch reports whether any entry names a suffix of file or exactly
// fn, regardless of its line and relblock constraints.
//
// An empty fn never matches a function entry.
func (m *Engine) CoarseMatch(file, fn string) bool {
	return m.any(func(e listconfig.FilterEntry) bool {
		if e.HasFilename() && e.FileMatches(file) {
			return true
		}
		return e.HasFunction() && fn != "" && e.Function == fn
	})
}

// ExactFuncOrFileMatch reports whether a whole-function or whole-file entry
// covers (file, fn).
//
// Entries carrying line or relblock never qualify. A file entry with a
// function also requires the function to match; a function-only entry
// matches that function in any file.
func (m *Engine) ExactFuncOrFileMatch(file, fn string) bool {
	return m.any(func(e listconfig.FilterEntry) bool {
		if e.HasLine || e.HasRelblock {
			return false
		}
		if e.HasFilename() {
			if !e.FileMatches(file) {
				return false
			}
			return !e.HasFunction() || e.Function == fn
		}
		return e.Function == fn
	})
}

// ExactLineMatch reports whether a function+line entry (no relblock)
// covers (file, fn, line). The entry's file constraint, when present, is
// suffix-matched.
func (m *Engine) ExactLineMatch(file, fn string, line uint32) bool {
	return m.any(func(e listconfig.FilterEntry) bool {
		if !e.HasFunction() || !e.HasLine || e.HasRelblock {
			return false
		}
		return e.Function == fn && e.Line == line && (!e.HasFilename() || e.FileMatches(file))
	})
}

// ExactFileLineMatch reports whether a file+line entry without function or
// relblock covers (file, line).
func (m *Engine) ExactFileLineMatch(file string, line uint32) bool {
	return m.any(func(e listconfig.FilterEntry) bool {
		if !e.HasFilename() || e.HasFunction() || !e.HasLine || e.HasRelblock {
			return false
		}
		return e.Line == line && e.FileMatches(file)
	})
}

// ExactRelblockMatch is ExactLineMatch for entries that also pin the
// line-relative block.
func (m *Engine) ExactRelblockMatch(file, fn string, line, relblock uint32) bool {
	return m.any(func(e listconfig.FilterEntry) bool {
		if !e.HasFunction() || !e.HasRelblock {
			return false
		}
		return e.Function == fn && e.Line == line && e.Relblock == relblock &&
			(!e.HasFilename() || e.FileMatches(file))
	})
}

// ExactFileRelblockMatch is ExactFileLineMatch for entries that also pin
// the line-relative block.
func (m *Engine) ExactFileRelblockMatch(file string, line, relblock uint32) bool {
	return m.any(func(e listconfig.FilterEntry) bool {
		if !e.HasFilename() || e.HasFunction() || !e.HasRelblock {
			return false
		}
		return e.Line == line && e.Relblock == relblock && e.FileMatches(file)
	})
}
