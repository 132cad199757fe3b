package listconfig

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Token types accepted in list files.
const (
	tokenFile     = "file"
	tokenFunc     = "func"
	tokenLine     = "line"
	tokenRelblock = "relblock"
)

// ParseError describes a list file that cannot be used.
//
// Format: path:line: message (token "file:x")
//
// Thread Safety: Immutable after creation.
type ParseError struct {
	Path  string // List file path (may be empty for in-memory input)
	Line  int    // 1-indexed line number, 0 when not line specific
	Token string // Offending token, empty if none
	Msg   string
	Err   error // Underlying error, if any
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString(e.Path)
	if e.Line > 0 {
		fmt.Fprintf(&b, ":%d", e.Line)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Token != "" {
		fmt.Fprintf(&b, " (token %q)", e.Token)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load reads and parses the list file at path.
//
// An empty path yields an empty set and no error: an unset blacklist or
// whitelist simply means "no filter".
func Load(path string) (*FilterSet, error) {
	if path == "" {
		return NewFilterSet(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Msg: "cannot read list file", Err: err}
	}
	defer func() { _ = f.Close() }()

	return Parse(f, path)
}

// Parse reads list entries from r. path is only used in error messages.
//
// Any malformed line aborts parsing; a partially parsed set is never
// returned.
func Parse(r io.Reader, path string) (*FilterSet, error) {
	set := NewFilterSet()

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++

		entry, ok, err := ParseEntry(scanner.Text())
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Path = path
				pe.Line = lineNo
				return nil, pe
			}
			return nil, err
		}
		if !ok {
			continue
		}
		set.add(entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Path: path, Line: lineNo, Msg: "read failed", Err: err}
	}

	return set, nil
}

// ParseEntry parses a single list line.
//
// ok is false for blank and comment lines. Returned errors are
// *ParseError without path and line information.
func ParseEntry(line string) (entry FilterEntry, ok bool, err error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return FilterEntry{}, false, nil
	}

	seen := make(map[string]bool, 4)
	for _, tok := range strings.Fields(trimmed) {
		typ, value, found := strings.Cut(tok, ":")
		if !found || typ == "" || value == "" {
			return FilterEntry{}, false, &ParseError{Token: tok, Msg: "malformed token, expected type:value"}
		}
		if seen[typ] {
			return FilterEntry{}, false, &ParseError{Token: tok, Msg: "duplicate token type"}
		}
		seen[typ] = true

		switch typ {
		case tokenFile:
			entry.Filename = value
		case tokenFunc:
			entry.Function = value
		case tokenLine:
			n, err := parseUint32(value)
			if err != nil {
				return FilterEntry{}, false, &ParseError{Token: tok, Msg: "invalid line number", Err: err}
			}
			entry.Line, entry.HasLine = n, true
		case tokenRelblock:
			n, err := parseUint32(value)
			if err != nil {
				return FilterEntry{}, false, &ParseError{Token: tok, Msg: "invalid relblock", Err: err}
			}
			entry.Relblock, entry.HasRelblock = n, true
		default:
			return FilterEntry{}, false, &ParseError{Token: tok, Msg: "unknown token type " + strconv.Quote(typ)}
		}
	}

	if msg := entry.validate(); msg != "" {
		return FilterEntry{}, false, &ParseError{Msg: msg}
	}
	return entry, true, nil
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}
