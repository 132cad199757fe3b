package cover

import (
	"sync"
	"sync/atomic"

	"github.com/kolkov/llcov/internal/config"
	"github.com/kolkov/llcov/internal/logging"
	"github.com/kolkov/llcov/internal/sink"
)

// Event is one executed basic block.
type Event = sink.Event

// Config selects the sink backend. See the package documentation for the
// matching environment variables.
type Config = sink.Config

// Recorder receives executed blocks. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ev Event)
}

type holder struct {
	r Recorder
}

var (
	current  atomic.Pointer[holder]
	initOnce sync.Once
)

// recorder returns the active recorder, building the environment-configured
// sink on first use.
func recorder() Recorder {
	if h := current.Load(); h != nil {
		return h.r
	}
	initOnce.Do(func() {
		current.CompareAndSwap(nil, &holder{r: newEnvSink()})
	})
	return current.Load().r
}

func newEnvSink() *sink.Sink {
	cfg, err := config.FromEnv()
	log := logging.NewWithComponent(logging.Config{Level: cfg.LogLevel}, "llcov-sink")
	if err != nil {
		// Never take the host program down over a bad variable.
		log.Warn().Err(err).Msg("invalid LLCOV_* environment, recording disabled")
		return sink.New(sink.Config{}, sink.WithLogger(log))
	}
	return sink.New(cfg.Sink, sink.WithLogger(log))
}

// BlockCall records one execution of an instrumented block.
//
// This function is inserted by the llcov tool at the start of every
// selected basic block. Manual calls are typically not needed.
//
// Parameters:
//   - function: qualified name of the enclosing function
//   - filename: source file of the block
//   - line: source line of the block
//   - relblock: ordinal of the block among consecutive blocks on line
//
// BlockCall never panics: a failing recorder is ignored.
func BlockCall(function, filename string, line, relblock uint32) {
	defer func() {
		_ = recover()
	}()

	recorder().Record(Event{
		Function: function,
		File:     filename,
		Line:     line,
		Relblock: relblock,
	})
}

// SetSink installs r as the process-wide recorder and returns the previous
// one, or nil if BlockCall was never called. A nil r discards events.
func SetSink(r Recorder) Recorder {
	if r == nil {
		r = discard{}
	}
	prev := current.Swap(&holder{r: r})
	if prev == nil {
		return nil
	}
	return prev.r
}

type discard struct{}

func (discard) Record(Event) {}

// Configure replaces the process-wide recorder with a sink built from cfg.
func Configure(cfg Config) {
	SetSink(sink.New(cfg))
}

// Close flushes and closes the process-wide sink if it owns a file or
// connection. Later events are discarded.
func Close() error {
	h := current.Load()
	if h == nil {
		return nil
	}
	if s, ok := h.r.(interface{ Close() error }); ok {
		return s.Close()
	}
	return nil
}
