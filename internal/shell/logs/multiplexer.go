// Package logs fans container log streams out to any number of subscribers.
//
// Subscribers of the same key share one runtime stream. Each subscriber owns
// a bounded buffer; a slow reader loses its oldest lines and never stalls
// ingestion or other readers.
package logs

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/artpar/lnlab/internal/shell/docker"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("subscription closed")

// Source opens a runtime log stream. docker.Client satisfies it.
type Source interface {
	ContainerLogs(ctx context.Context, containerID string, opts docker.LogOptions) (io.ReadCloser, error)
}

// Config holds multiplexer settings.
type Config struct {
	Tail       string // lines of history requested from the runtime
	BufferSize int    // per-subscriber ring size
}

// DefaultConfig returns the default multiplexer settings.
func DefaultConfig() Config {
	return Config{Tail: "100", BufferSize: 256}
}

// =============================================================================
// Multiplexer
// =============================================================================

// Multiplexer shares one runtime log stream per key.
type Multiplexer struct {
	source Source
	cfg    Config
	logger *slog.Logger

	group   singleflight.Group
	mu      sync.Mutex
	streams map[string]*stream
}

// New creates a multiplexer reading from source.
func New(source Source, cfg Config, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tail == "" {
		cfg.Tail = DefaultConfig().Tail
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &Multiplexer{
		source:  source,
		cfg:     cfg,
		logger:  logger.With("component", "logs"),
		streams: make(map[string]*stream),
	}
}

// Subscribe attaches to the stream for key, opening it on containerID if no
// live stream exists. The new subscriber first receives the recent history
// of a shared stream.
func (m *Multiplexer) Subscribe(ctx context.Context, key, containerID string) (*Subscription, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		st, err := m.open(ctx, key, containerID)
		if err != nil {
			return nil, err
		}

		if sub := m.attach(st); sub != nil {
			return sub, nil
		}
		// The stream was cancelled by its last subscriber before we
		// attached; open a fresh one.
	}
}

// Terminate ends the stream for key. Subscribers drain what they have
// buffered and then receive io.EOF.
func (m *Multiplexer) Terminate(key string) {
	m.mu.Lock()
	st, ok := m.streams[key]
	if ok {
		delete(m.streams, key)
	}
	m.mu.Unlock()

	if ok {
		st.stop()
		st.finish()
	}
}

// Active returns the number of live streams.
func (m *Multiplexer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

func (m *Multiplexer) open(ctx context.Context, key, containerID string) (*stream, error) {
	v, err, _ := m.group.Do(key, func() (any, error) {
		m.mu.Lock()
		if st, ok := m.streams[key]; ok {
			m.mu.Unlock()
			return st, nil
		}
		m.mu.Unlock()

		streamCtx, cancel := context.WithCancel(context.Background())
		rc, err := m.source.ContainerLogs(streamCtx, containerID, docker.LogOptions{
			Follow: true,
			Tail:   m.cfg.Tail,
		})
		if err != nil {
			cancel()
			return nil, err
		}

		st := &stream{
			key:     key,
			rc:      rc,
			cancel:  cancel,
			history: newRing(m.cfg.BufferSize),
			subs:    make(map[*Subscription]struct{}),
		}

		m.mu.Lock()
		m.streams[key] = st
		m.mu.Unlock()

		m.logger.Debug("opened log stream", "key", key, "container_id", containerID)
		go m.pump(st)
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*stream), nil
}

// attach registers a subscriber, or returns nil if st was cancelled.
func (m *Multiplexer) attach(st *stream) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.cancelled {
		return nil
	}

	sub := &Subscription{
		mux:    m,
		stream: st,
		buf:    newRing(m.cfg.BufferSize),
		notify: make(chan struct{}, 1),
	}
	for _, line := range st.history.snapshot() {
		sub.buf.push(line)
	}
	if st.done {
		sub.ended = true
	} else {
		st.subs[sub] = struct{}{}
	}
	return sub
}

func (m *Multiplexer) detach(sub *Subscription) {
	st := sub.stream

	m.mu.Lock()
	st.mu.Lock()
	delete(st.subs, sub)
	last := len(st.subs) == 0 && !st.done
	if last {
		st.cancelled = true
		if m.streams[st.key] == st {
			delete(m.streams, st.key)
		}
	}
	st.mu.Unlock()
	m.mu.Unlock()

	if last {
		m.logger.Debug("closing idle log stream", "key", st.key)
		st.stop()
	}
}

func (m *Multiplexer) pump(st *stream) {
	scanner := bufio.NewScanner(st.rc)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		st.publish(strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.ErrClosedPipe) {
		m.logger.Debug("log stream ended with error", "key", st.key, "error", err)
	}

	st.stop()
	st.finish()

	m.mu.Lock()
	if m.streams[st.key] == st {
		delete(m.streams, st.key)
	}
	m.mu.Unlock()
}

// =============================================================================
// Stream
// =============================================================================

type stream struct {
	key    string
	rc     io.ReadCloser
	cancel context.CancelFunc

	stopOnce sync.Once

	mu        sync.Mutex
	history   *ring
	subs      map[*Subscription]struct{}
	done      bool
	cancelled bool
}

func (st *stream) publish(line string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.history.push(line)
	for sub := range st.subs {
		sub.push(line)
	}
}

// finish marks the stream ended and wakes every subscriber.
func (st *stream) finish() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return
	}
	st.done = true
	for sub := range st.subs {
		sub.end()
	}
	st.subs = make(map[*Subscription]struct{})
}

func (st *stream) stop() {
	st.stopOnce.Do(func() {
		st.cancel()
		_ = st.rc.Close()
	})
}

// =============================================================================
// Subscription
// =============================================================================

// Subscription is one reader of a shared stream.
type Subscription struct {
	mux    *Multiplexer
	stream *stream
	notify chan struct{}

	mu      sync.Mutex
	buf     *ring
	dropped int
	ended   bool
	closed  bool
}

// Next returns the next line in order. It returns io.EOF once the stream has
// terminated and the buffer is drained, ErrClosed after Close, or ctx.Err().
func (s *Subscription) Next(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return "", ErrClosed
		}
		if line, ok := s.buf.pop(); ok {
			s.mu.Unlock()
			return line, nil
		}
		if s.ended {
			s.mu.Unlock()
			return "", io.EOF
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.notify:
		}
	}
}

// Dropped returns how many lines were discarded because the buffer was full.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the subscriber. Closing the last subscriber cancels the
// runtime stream.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.mux.detach(s)
	s.wake()
	return nil
}

func (s *Subscription) push(line string) {
	s.mu.Lock()
	if s.buf.push(line) {
		s.dropped++
	}
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) end() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
