// Package instrument - Custom error types for instrumentation.
//
// Errors carry the file position (file:line:column) and, when one is
// known, a suggestion for resolving the problem.
//
// Example output:
//
//	main.go:3:2: identifier llcovrt already declared in this file
//
//	Suggestion: Rename the conflicting identifier; llcov imports its runtime under that name
package instrument

import (
	"errors"
	"fmt"
	"go/scanner"
	"go/token"
)

// InstrumentationError represents an error during instrumentation with context.
//
// Fields:
//   - File: Source file path where error occurred
//   - Line: Line number (1-indexed)
//   - Column: Column number (1-indexed)
//   - Message: Human-readable error description
//   - Suggestion: Optional hint for fixing the error
//
// Thread Safety: Immutable after creation, safe for concurrent use.
type InstrumentationError struct {
	File       string // Source file path
	Line       int    // Line number (1-indexed)
	Column     int    // Column number (1-indexed)
	Message    string // Error message
	Suggestion string // Optional suggestion for fixing (empty if none)
}

// Error implements the error interface.
//
// Format: file:line:column: message
//
// If Suggestion is non-empty, it's appended on a new line with "Suggestion: " prefix.
func (e *InstrumentationError) Error() string {
	result := fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	if e.Suggestion != "" {
		result += fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion)
	}
	return result
}

// NewInstrumentationError creates an error with file position from AST node.
//
// Positions are reported as they appear in the file being instrumented,
// ignoring //line directives, so the error points at text the user can
// open.
func NewInstrumentationError(fset *token.FileSet, pos token.Pos, msg string) *InstrumentationError {
	position := fset.PositionFor(pos, false)
	return &InstrumentationError{
		File:    position.Filename,
		Line:    position.Line,
		Column:  position.Column,
		Message: msg,
	}
}

// NewInstrumentationErrorWithSuggestion creates an error with suggestion.
func NewInstrumentationErrorWithSuggestion(fset *token.FileSet, pos token.Pos, msg, suggestion string) *InstrumentationError {
	err := NewInstrumentationError(fset, pos, msg)
	err.Suggestion = suggestion
	return err
}

// parseError converts the first go/parser error into an
// InstrumentationError. Other errors are returned wrapped.
func parseError(filename string, err error) error {
	var list scanner.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		first := list[0]
		ie := &InstrumentationError{
			File:    first.Pos.Filename,
			Line:    first.Pos.Line,
			Column:  first.Pos.Column,
			Message: first.Msg,
		}
		if ie.File == "" {
			ie.File = filename
		}
		if len(list) > 1 {
			ie.Message = fmt.Sprintf("%s (and %d more errors)", first.Msg, len(list)-1)
		}
		return ie
	}
	return fmt.Errorf("failed to parse file %s: %w", filename, err)
}
