package sink

import (
	"errors"
	"strconv"

	"github.com/kolkov/llcov/internal/listconfig"
)

// Event is one executed basic block.
type Event struct {
	Function string
	File     string
	Line     uint32
	Relblock uint32
}

// Key returns the deduplication key of the event.
func (e Event) Key() DedupKey {
	return DedupKey{Line: e.Line, Relblock: e.Relblock, File: e.File}
}

// DedupKey identifies a block independently of the function name.
type DedupKey struct {
	Line     uint32
	Relblock uint32
	File     string
}

// Encoder appends the wire representation of an event to dst.
type Encoder interface {
	Encode(dst []byte, ev Event) []byte
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc func(dst []byte, ev Event) []byte

// Encode implements Encoder.
func (f EncoderFunc) Encode(dst []byte, ev Event) []byte {
	return f(dst, ev)
}

// FileEncoder writes "file:<f> line:<l> relblock:<r>\n".
//
// Every line is a valid list-file entry, so a coverage log can be fed
// back as a blacklist to stop instrumenting blocks already reached.
var FileEncoder Encoder = EncoderFunc(appendFileLine)

// LineEncoder writes "file:<f> line:<l> func:<fn> relblock:<r>\n". Used
// for stderr and, by default, for network streams.
var LineEncoder Encoder = EncoderFunc(appendEventLine)

func appendFileLine(dst []byte, ev Event) []byte {
	dst = append(dst, "file:"...)
	dst = append(dst, ev.File...)
	dst = append(dst, " line:"...)
	dst = strconv.AppendUint(dst, uint64(ev.Line), 10)
	dst = append(dst, " relblock:"...)
	dst = strconv.AppendUint(dst, uint64(ev.Relblock), 10)
	return append(dst, '\n')
}

func appendEventLine(dst []byte, ev Event) []byte {
	dst = append(dst, "file:"...)
	dst = append(dst, ev.File...)
	dst = append(dst, " line:"...)
	dst = strconv.AppendUint(dst, uint64(ev.Line), 10)
	dst = append(dst, " func:"...)
	dst = append(dst, ev.Function...)
	dst = append(dst, " relblock:"...)
	dst = strconv.AppendUint(dst, uint64(ev.Relblock), 10)
	return append(dst, '\n')
}

// ErrIncompleteEvent is returned by ParseEvent for lines lacking a file or
// line token.
var ErrIncompleteEvent = errors.New("event needs file and line")

// ParseEvent decodes a line produced by FileEncoder or LineEncoder.
//
// ok is false for blank lines. A missing relblock decodes as 0.
func ParseEvent(line string) (ev Event, ok bool, err error) {
	entry, ok, err := listconfig.ParseEntry(line)
	if err != nil || !ok {
		return Event{}, ok, err
	}
	if !entry.HasFilename() || !entry.HasLine {
		return Event{}, false, ErrIncompleteEvent
	}
	return Event{
		Function: entry.Function,
		File:     entry.Filename,
		Line:     entry.Line,
		Relblock: entry.Relblock,
	}, true, nil
}
