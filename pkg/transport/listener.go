package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Chunk is one read from a link. Link numbers each connection from 1 so a
// consumer can tell bytes of a dropped link from those of its successor.
// Chunk boundaries carry no meaning.
type Chunk struct {
	Link uint64
	Data []byte
}

// Listener keeps a Link open and forwards everything read from it as Chunks.
type Listener struct {
	dial         Dialer
	out          chan<- Chunk
	reconnect    time.Duration
	reconnectMax time.Duration
	bufSize      int
	readTimeout  time.Duration
	errorHandler func(error)
	onConnect    func()
	log          zerolog.Logger

	mu   sync.Mutex
	link Link
	gen  uint64
}

type Option func(*Listener)

func WithReconnectInterval(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.reconnect = d
		}
	}
}

func WithReconnectMax(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.reconnectMax = d
		}
	}
}

func WithBufferSize(n int) Option {
	return func(l *Listener) {
		if n > 0 {
			l.bufSize = n
		}
	}
}

// WithReadTimeout sets a per-read deadline on links that support one.
func WithReadTimeout(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.readTimeout = d
		}
	}
}

func WithErrorHandler(fn func(error)) Option {
	return func(l *Listener) {
		if fn != nil {
			l.errorHandler = fn
		}
	}
}

// WithConnectHandler is called each time a new link is established.
func WithConnectHandler(fn func()) Option {
	return func(l *Listener) {
		if fn != nil {
			l.onConnect = fn
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(l *Listener) {
		l.log = log
	}
}

func StartListener(ctx context.Context, dial Dialer, out chan<- Chunk, opts ...Option) *Listener {
	l := &Listener{
		dial:         dial,
		out:          out,
		reconnect:    1 * time.Second,
		reconnectMax: 30 * time.Second,
		bufSize:      4 * 1024,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.run(ctx)
	return l
}

// Write sends b on the current link.
func (l *Listener) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.link == nil {
		return 0, ErrNotConnected
	}
	return l.link.Write(b)
}

func (l *Listener) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.link != nil
}

func (l *Listener) run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		link, err := l.dial(ctx)
		if err != nil {
			l.handleError(err)
			attempt++
			l.sleepBackoff(ctx, attempt)
			continue
		}

		attempt = 0
		gen := l.setLink(link)
		l.log.Info().Uint64("link", gen).Msg("link connected")
		if l.onConnect != nil {
			l.onConnect()
		}

		stop := context.AfterFunc(ctx, func() { _ = link.Close() })
		err = l.handleLink(ctx, gen, link)
		stop()
		l.setLink(nil)
		_ = link.Close()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.handleError(err)
		}
		l.log.Warn().Err(err).Msg("link lost")
		l.sleepBackoff(ctx, 1)
	}
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

func (l *Listener) handleLink(ctx context.Context, gen uint64, link Link) error {
	buf := make([]byte, l.bufSize)
	deadliner, _ := link.(readDeadliner)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if deadliner != nil && l.readTimeout > 0 {
			_ = deadliner.SetReadDeadline(time.Now().Add(l.readTimeout))
		}
		n, err := link.Read(buf)
		if n > 0 {
			chunk := Chunk{Link: gen, Data: append([]byte(nil), buf[:n]...)}
			select {
			case l.out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return err
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// setLink installs link and returns its number. A nil link keeps the count.
func (l *Listener) setLink(link Link) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.link = link
	if link != nil {
		l.gen++
	}
	return l.gen
}

func (l *Listener) sleepBackoff(ctx context.Context, attempt int) {
	wait := min(l.reconnect*time.Duration(attempt), l.reconnectMax)
	timer := time.NewTimer(wait)
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	timer.Stop()
}

func (l *Listener) handleError(err error) {
	if l.errorHandler != nil {
		l.errorHandler(err)
	}
}
