// Package sink records executed basic blocks at run time.
//
// A Sink is created once per process and fed one Event per executed
// instrumented block. The backend is chosen lazily on the first event
// from the Config, in priority order:
//
//  1. Abort: print an assertion message to stderr and exit.
//  2. Network: stream events to a collector over TCP. The connection is
//     attempted once; if it fails the sink stays inert for the rest of
//     the process.
//  3. Stderr: print one line per event.
//  4. File: append one line per event to a log file, optionally
//     deduplicated.
//  5. None: record nothing.
//
// Every write is flushed before Record returns, so a crash right after a
// block still leaves that block in the log.
//
// Thread Safety: All methods are safe for concurrent use. Writes are
// serialized so lines from concurrent goroutines never interleave.
package sink

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kolkov/llcov/internal/logging"
)

// Backend is the resolved output of a Sink.
type Backend int32

// Backends. The zero value means no event has been recorded yet.
const (
	BackendUnresolved Backend = iota
	BackendNone
	BackendAbort
	BackendNetwork
	BackendStderr
	BackendFile
)

func (b Backend) String() string {
	switch b {
	case BackendUnresolved:
		return "unresolved"
	case BackendNone:
		return "none"
	case BackendAbort:
		return "abort"
	case BackendNetwork:
		return "network"
	case BackendStderr:
		return "stderr"
	case BackendFile:
		return "file"
	default:
		return fmt.Sprintf("Backend(%d)", int32(b))
	}
}

// DialFunc opens the collector connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Stats counts recorded events.
type Stats struct {
	// Recorded is the number of Record calls.
	Recorded uint64
	// Written is the number of events that reached the backend.
	Written uint64
	// Suppressed is the number of events dropped as duplicates.
	Suppressed uint64
}

// Sink writes coverage events to the configured backend.
type Sink struct {
	cfg    Config
	log    zerolog.Logger
	stderr io.Writer
	exit   func(code int)
	dial   DialFunc
	enc    Encoder

	// backend is read without the lock on the hot path; it only moves
	// from BackendUnresolved to a final value, or to BackendNone.
	backend atomic.Int32

	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	conn   net.Conn
	buf    []byte

	seen *DedupSet

	recorded   atomic.Uint64
	written    atomic.Uint64
	suppressed atomic.Uint64
}

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets the diagnostics logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Sink) {
		s.log = log
	}
}

// WithStderr replaces standard error for the stderr and abort backends.
func WithStderr(w io.Writer) Option {
	return func(s *Sink) {
		s.stderr = w
	}
}

// WithExit replaces os.Exit for the abort backend.
func WithExit(exit func(code int)) Option {
	return func(s *Sink) {
		s.exit = exit
	}
}

// WithDialer replaces the TCP dialer for the network backend.
func WithDialer(dial DialFunc) Option {
	return func(s *Sink) {
		s.dial = dial
	}
}

// WithEncoder sets the network wire format. Defaults to LineEncoder.
func WithEncoder(enc Encoder) Option {
	return func(s *Sink) {
		s.enc = enc
	}
}

// New returns a sink for cfg. No file or connection is opened until the
// first event.
func New(cfg Config, opts ...Option) *Sink {
	s := &Sink{
		cfg:    cfg,
		log:    logging.NewWithComponent(logging.Config{Level: "warn", Output: os.Stderr}, "llcov-sink"),
		stderr: os.Stderr,
		exit:   os.Exit,
		dial:   (&net.Dialer{}).DialContext,
		enc:    LineEncoder,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.Dedup && cfg.choose() == BackendFile {
		s.seen = NewDedupSet()
	}
	return s
}

// Config returns the sink configuration.
func (s *Sink) Config() Config {
	return s.cfg
}

// Backend returns the resolved backend, or BackendUnresolved before the
// first event.
func (s *Sink) Backend() Backend {
	return Backend(s.backend.Load())
}

// Stats returns a snapshot of the event counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Recorded:   s.recorded.Load(),
		Written:    s.written.Load(),
		Suppressed: s.suppressed.Load(),
	}
}

// Record reports one executed block.
func (s *Sink) Record(ev Event) {
	s.recorded.Add(1)

	b := Backend(s.backend.Load())
	if b == BackendUnresolved {
		b = s.resolve()
	}

	switch b {
	case BackendFile:
		if s.seen != nil && !s.seen.Insert(ev.Key()) {
			s.suppressed.Add(1)
			return
		}
		s.write(FileEncoder, ev)
	case BackendNetwork:
		s.write(s.enc, ev)
	case BackendStderr:
		s.write(LineEncoder, ev)
	case BackendAbort:
		s.abort(ev)
	}
}

// resolve picks and opens the backend once.
func (s *Sink) resolve() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b := Backend(s.backend.Load()); b != BackendUnresolved {
		return b
	}

	b := s.cfg.choose()
	switch b {
	case BackendNetwork:
		if err := s.connectLocked(); err != nil {
			s.log.Warn().Err(err).Str("addr", s.cfg.Address()).Msg("coverage collector unreachable, recording disabled")
			b = BackendNone
		}
	case BackendStderr:
		s.out = s.stderr
	case BackendFile:
		if err := s.openLocked(); err != nil {
			s.log.Warn().Err(err).Str("file", s.cfg.File).Msg("coverage log unavailable, recording disabled")
			b = BackendNone
		}
	}

	s.backend.Store(int32(b))
	return b
}

func (s *Sink) connectLocked() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.dialTimeout())
	defer cancel()

	conn, err := s.dial(ctx, "tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("dial collector: %w", err)
	}
	s.conn = conn
	s.out = conn
	s.closer = conn
	return nil
}

func (s *Sink) openLocked() error {
	f, err := os.OpenFile(s.cfg.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open coverage log: %w", err)
	}
	s.out = f
	s.closer = f
	return nil
}

// write encodes ev and writes it with a single Write call.
func (s *Sink) write(enc Encoder, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.out == nil {
		return
	}

	s.buf = enc.Encode(s.buf[:0], ev)
	if s.conn != nil {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.dialTimeout()))
	}
	if _, err := s.out.Write(s.buf); err != nil {
		s.log.Warn().Err(err).Str("backend", s.Backend().String()).Msg("coverage write failed, recording disabled")
		s.disableLocked()
		return
	}
	s.written.Add(1)
}

func (s *Sink) abort(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintf(s.stderr,
		"Assertion failure: LLCov: Block executed in file %s, line %d (function %s, line-relative block %d)\n",
		ev.File, ev.Line, ev.Function, ev.Relblock)
	s.written.Add(1)
	s.exit(AbortExitCode)
}

// disableLocked closes the backend and makes the sink inert.
func (s *Sink) disableLocked() {
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			s.log.Debug().Err(err).Msg("close coverage output")
		}
	}
	s.out = nil
	s.closer = nil
	s.conn = nil
	s.backend.Store(int32(BackendNone))
}

// Close releases the file or connection. Later events are discarded.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.closer != nil {
		err = s.closer.Close()
	}
	s.out = nil
	s.closer = nil
	s.conn = nil
	s.backend.Store(int32(BackendNone))
	return err
}
