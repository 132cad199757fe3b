// Package listconfig parses blacklist and whitelist files into filter sets.
//
// A list file holds one filter per line. Each line is a whitespace-separated
// sequence of type:value tokens:
//
//	file:foo.go func:main.run line:42 relblock:1
//
// Supported types:
//   - file: suffix-matched against the (absolute or relative) source path
//   - func: exact-matched against the qualified function name
//   - line: source line, requires file or func on the same line
//   - relblock: line-relative block ordinal, requires line
//
// Blank lines and lines starting with '#' are ignored.
//
// Thread Safety: A FilterSet is immutable after parsing and safe for
// concurrent readers.
package listconfig

import (
	"strconv"
	"strings"
)

// FilterEntry is one normalized list-file line.
//
// Empty Filename or Function means "no constraint". Line and Relblock are
// only meaningful when HasLine / HasRelblock are set.
type FilterEntry struct {
	Filename string
	Function string

	Line    uint32
	HasLine bool

	Relblock    uint32
	HasRelblock bool
}

// HasFilename reports whether the entry constrains the file.
func (e FilterEntry) HasFilename() bool {
	return e.Filename != ""
}

// HasFunction reports whether the entry constrains the function.
func (e FilterEntry) HasFunction() bool {
	return e.Function != ""
}

// FileMatches reports whether path ends with the entry's filename.
//
// Suffix comparison lets list files use relative paths while the
// instrumenter sees absolute ones.
func (e FilterEntry) FileMatches(path string) bool {
	return strings.HasSuffix(path, e.Filename)
}

// validate enforces the entry invariants.
func (e FilterEntry) validate() string {
	switch {
	case !e.HasFilename() && !e.HasFunction():
		return "entry needs a file or func constraint"
	case e.HasRelblock && !e.HasLine:
		return "relblock requires line"
	}
	return ""
}

// String renders the entry in canonical token order. The result parses
// back into an identical entry.
func (e FilterEntry) String() string {
	var parts []string
	if e.HasFilename() {
		parts = append(parts, tokenFile+":"+e.Filename)
	}
	if e.HasFunction() {
		parts = append(parts, tokenFunc+":"+e.Function)
	}
	if e.HasLine {
		parts = append(parts, tokenLine+":"+strconv.FormatUint(uint64(e.Line), 10))
	}
	if e.HasRelblock {
		parts = append(parts, tokenRelblock+":"+strconv.FormatUint(uint64(e.Relblock), 10))
	}
	return strings.Join(parts, " ")
}

// FilterSet is a collection of filter entries keyed by filename.
//
// Function-only entries live under the empty key. Order is irrelevant:
// any matching entry triggers membership.
type FilterSet struct {
	byFile map[string][]FilterEntry
	count  int
}

// NewFilterSet builds a set from entries. Entries are not validated; use
// Parse for untrusted input.
func NewFilterSet(entries ...FilterEntry) *FilterSet {
	s := &FilterSet{byFile: make(map[string][]FilterEntry)}
	for _, e := range entries {
		s.add(e)
	}
	return s
}

func (s *FilterSet) add(e FilterEntry) {
	s.byFile[e.Filename] = append(s.byFile[e.Filename], e)
	s.count++
}

// Len returns the number of entries.
func (s *FilterSet) Len() int {
	if s == nil {
		return 0
	}
	return s.count
}

// Empty reports whether the set holds no entries. A nil set is empty.
func (s *FilterSet) Empty() bool {
	return s.Len() == 0
}

// Each calls fn for every entry until fn returns false.
func (s *FilterSet) Each(fn func(FilterEntry) bool) {
	if s == nil {
		return
	}
	for _, entries := range s.byFile {
		for _, e := range entries {
			if !fn(e) {
				return
			}
		}
	}
}

// Entries returns a copy of all entries, grouped by filename.
func (s *FilterSet) Entries() []FilterEntry {
	out := make([]FilterEntry, 0, s.Len())
	s.Each(func(e FilterEntry) bool {
		out = append(out, e)
		return true
	})
	return out
}
