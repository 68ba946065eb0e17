// Package stream adapts any io.ReadWriteCloser, such as a serial port opened by the
// caller, to visa.Transport and visa.Session.
//
// Streams that support read and write deadlines (net.Conn, os.File for many devices)
// get per-operation timeouts and context interruption. Plain streams block until the
// underlying Read or Write returns; the context is only checked before each call.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-visa/logger"
	"github.com/arloliu/go-visa/visa"
)

// ReopenFunc opens a replacement stream. It is called by Reconnect after the
// current stream has been closed.
type ReopenFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// Option configures a Transport.
type Option func(t *Transport)

// WithReopen enables Reconnect with f.
func WithReopen(f ReopenFunc) Option {
	return func(t *Transport) { t.reopen = f }
}

// WithTimeout bounds each read and write of a stream that supports deadlines.
// Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) { t.timeout = d }
}

// WithLogger sets the transport logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Transport is a visa.Transport and visa.Session over an io.ReadWriteCloser.
//
// A write that is interrupted by its context or fails after sending part of a message
// leaves the instrument holding an unknown fragment. The transport is then suspect:
// reads and writes return visa.ErrSuspectConnection until Reconnect succeeds.
type Transport struct {
	mu      sync.RWMutex
	rwc     io.ReadWriteCloser
	reopen  ReopenFunc
	timeout time.Duration
	logger  logger.Logger
	closed  atomic.Bool
	suspect atomic.Bool
}

var (
	_ visa.Transport = (*Transport)(nil)
	_ visa.Session   = (*Transport)(nil)
)

// New wraps rwc.
func New(rwc io.ReadWriteCloser, opts ...Option) (*Transport, error) {
	if rwc == nil {
		return nil, visa.ErrTransportNil
	}

	t := &Transport{
		rwc:    rwc,
		logger: logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

// Open wraps rwc as a visa.Instrument.
func Open(rwc io.ReadWriteCloser, opts []Option, instOpts ...visa.InstrumentOption) (*visa.Instrument, error) {
	t, err := New(rwc, opts...)
	if err != nil {
		return nil, err
	}

	instOpts = append([]visa.InstrumentOption{visa.WithLogger(t.logger)}, instOpts...)

	return visa.NewInstrument(t, t, instOpts...)
}

func (t *Transport) current() (io.ReadWriteCloser, error) {
	if t.closed.Load() {
		return nil, visa.ErrSessionClosed
	}
	if t.suspect.Load() {
		return nil, fmt.Errorf("%w: reconnect required", visa.ErrSuspectConnection)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.rwc, nil
}

func (t *Transport) deadline() time.Time {
	if t.timeout <= 0 {
		return time.Time{}
	}

	return time.Now().Add(t.timeout)
}

// ReadChunk implements visa.Transport.
func (t *Transport) ReadChunk(ctx context.Context, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("%w: got %d", visa.ErrInvalidChunkSize, maxBytes)
	}

	rwc, err := t.current()
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if d, ok := rwc.(readDeadliner); ok {
		if err := d.SetReadDeadline(t.deadline()); err != nil {
			return nil, fmt.Errorf("%w: set read deadline: %w", visa.ErrTransportIO, err)
		}

		stop := context.AfterFunc(ctx, func() { _ = d.SetReadDeadline(time.Now()) })
		defer stop()
	}

	buf := make([]byte, maxBytes)
	n, err := rwc.Read(buf)
	if n > 0 {
		t.logger.Debug("stream: chunk received", "bytes", n)
		return buf[:n], nil
	}

	if err == nil {
		err = io.ErrNoProgress
	}

	return nil, t.ioError(ctx, "read", err)
}

// WriteAll implements visa.Transport.
func (t *Transport) WriteAll(ctx context.Context, p []byte) (int, error) {
	rwc, err := t.current()
	if err != nil {
		return 0, err
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	stop := func() bool { return true }
	if d, ok := rwc.(writeDeadliner); ok {
		if err := d.SetWriteDeadline(t.deadline()); err != nil {
			return 0, fmt.Errorf("%w: set write deadline: %w", visa.ErrTransportIO, err)
		}

		stop = context.AfterFunc(ctx, func() { _ = d.SetWriteDeadline(time.Now()) })
	}

	written := 0
	for written < len(p) {
		n, err := rwc.Write(p[written:])
		written += n
		if err == nil && n == 0 {
			err = io.ErrShortWrite
		}
		if err != nil {
			interrupted := !stop()
			if interrupted || written > 0 {
				return written, t.markSuspect(ctx, written, len(p), err)
			}

			return written, t.ioError(ctx, "write", err)
		}
	}
	stop()

	t.logger.Debug("stream: chunk sent", "bytes", written)

	return written, nil
}

func (t *Transport) markSuspect(ctx context.Context, written, size int, err error) error {
	if t.suspect.CompareAndSwap(false, true) {
		t.logger.Warn("stream: write interrupted, stream marked suspect", "written", written, "size", size)
	}

	return fmt.Errorf("%w: wrote %d of %d bytes: %w", visa.ErrSuspectConnection, written, size, t.ioError(ctx, "write", err))
}

func (t *Transport) ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("stream: %s interrupted: %w", op, errors.Join(ctxErr, err))
	}
	if t.closed.Load() {
		return visa.ErrSessionClosed
	}

	return fmt.Errorf("%w: %s: %w", visa.ErrTransportIO, op, err)
}

// Close closes the stream. Only the first call has an effect.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.rwc.Close()
}

// Reconnect closes the current stream and opens a new one with the reopen function.
// Without one it returns visa.ErrReconnectUnsupported.
func (t *Transport) Reconnect(ctx context.Context, timeout time.Duration) error {
	if t.closed.Load() {
		return visa.ErrSessionClosed
	}
	if t.reopen == nil {
		return visa.ErrReconnectUnsupported
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	_ = t.rwc.Close()

	rwc, err := t.reopen(ctx)
	if err != nil {
		return fmt.Errorf("%w: reopen: %w", visa.ErrConnection, err)
	}
	if rwc == nil {
		return fmt.Errorf("%w: reopen returned no stream", visa.ErrConnection)
	}

	t.rwc = rwc
	t.suspect.Store(false)
	t.logger.Info("stream: reopened")

	return nil
}
