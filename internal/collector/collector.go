// Package collector receives coverage events streamed by instrumented
// programs (LLCOV_HOST) and writes them to a single coverage log.
//
// Each accepted connection is one session and carries newline-terminated
// events in the sink's line format. Events from all sessions are merged
// into one output, optionally deduplicated by (file, line, relblock).
package collector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/llcov/internal/sink"
)

// DefaultAddr is the collector listen address.
var DefaultAddr = fmt.Sprintf(":%d", sink.DefaultPort)

// Config configures a Collector.
type Config struct {
	// Addr is the TCP listen address for ListenAndServe.
	Addr string
	// Dedup writes each distinct block at most once across all sessions.
	Dedup bool
	// Encoder formats written events. Defaults to sink.FileEncoder.
	Encoder sink.Encoder
}

// Stats counts collector activity.
type Stats struct {
	Sessions  uint64
	Events    uint64
	Written   uint64
	Malformed uint64
}

// Collector merges event streams into one writer.
type Collector struct {
	cfg  Config
	log  zerolog.Logger
	seen *sink.DedupSet

	mu  sync.Mutex
	out io.Writer
	buf []byte

	sessions  atomic.Uint64
	events    atomic.Uint64
	written   atomic.Uint64
	malformed atomic.Uint64
}

// New returns a collector writing to out.
func New(cfg Config, out io.Writer, log zerolog.Logger) *Collector {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Encoder == nil {
		cfg.Encoder = sink.FileEncoder
	}
	c := &Collector{
		cfg: cfg,
		log: log.With().Str("component", "collector").Logger(),
		out: out,
	}
	if cfg.Dedup {
		c.seen = sink.NewDedupSet()
	}
	return c
}

// Stats returns a snapshot of the counters.
func (c *Collector) Stats() Stats {
	return Stats{
		Sessions:  c.sessions.Load(),
		Events:    c.events.Load(),
		Written:   c.written.Load(),
		Malformed: c.malformed.Load(),
	}
}

// ListenAndServe listens on the configured address and serves until ctx
// is cancelled.
func (c *Collector) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.cfg.Addr, err)
	}
	return c.Serve(ctx, ln)
}

// Serve accepts sessions on ln until ctx is cancelled, then closes ln and
// every open session and waits for them to drain. It takes ownership of
// ln.
func (c *Collector) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	c.log.Info().Str("address", ln.Addr().String()).Bool("dedup", c.cfg.Dedup).Msg("collector listening")

	g.Go(func() error {
		<-ctx.Done()
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		defer cancel()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			g.Go(func() error {
				c.serveConn(ctx, conn)
				return nil
			})
		}
	})

	err := g.Wait()
	c.log.Info().
		Uint64("sessions", c.sessions.Load()).
		Uint64("events", c.events.Load()).
		Uint64("written", c.written.Load()).
		Msg("collector stopped")
	return err
}

func (c *Collector) serveConn(ctx context.Context, conn net.Conn) {
	c.sessions.Add(1)
	log := c.log.With().
		Str("session", uuid.New().String()).
		Str("remote", conn.RemoteAddr().String()).
		Logger()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Debug().Err(err).Msg("close session")
		}
	}()

	log.Info().Msg("session opened")

	n := 0
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		ev, ok, err := sink.ParseEvent(scanner.Text())
		if err != nil {
			c.malformed.Add(1)
			log.Warn().Err(err).Str("line", scanner.Text()).Msg("malformed event")
			continue
		}
		if !ok {
			continue
		}
		n++
		c.Record(ev)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		log.Warn().Err(err).Msg("session read failed")
	}

	log.Info().Int("events", n).Msg("session closed")
}

// Record writes one event, honoring deduplication.
func (c *Collector) Record(ev sink.Event) {
	c.events.Add(1)
	if c.seen != nil && !c.seen.Insert(ev.Key()) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf = c.cfg.Encoder.Encode(c.buf[:0], ev)
	if _, err := c.out.Write(c.buf); err != nil {
		c.log.Error().Err(err).Msg("failed to write event")
		return
	}
	c.written.Add(1)
}
