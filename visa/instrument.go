package visa

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-visa/internal/pool"
	"github.com/arloliu/go-visa/logger"
)

// Transport is the raw byte channel an Instrument frames messages over.
// Implementations include tcpip.Communicator and stream.Transport.
type Transport interface {
	// ReadChunk blocks until at least one byte is available and returns at most maxBytes bytes.
	// It fails once the transport's own read timeout elapses.
	ReadChunk(ctx context.Context, maxBytes int) ([]byte, error)

	// WriteAll writes p in full and returns the number of bytes written.
	WriteAll(ctx context.Context, p []byte) (int, error)

	// Close releases the underlying connection.
	Close() error
}

// Session controls the lifecycle of an instrument's connection.
type Session interface {
	// Close closes the session. The owning instrument can no longer read or write.
	Close() error

	// Reconnect tries to re-establish the session's connection within timeout.
	Reconnect(ctx context.Context, timeout time.Duration) error
}

// MessageBased is the capability set of an instrument that is driven with text or byte messages.
//
// Every parameter is explicit at this level. The package functions Read, ReadBytes,
// ReadBytesUntil, Write, WriteBytes and the Query family fill omitted parameters from
// Attributes and work with any implementation.
type MessageBased interface {
	// Session returns the session owning the connection.
	Session() Session

	// Attributes returns the instrument's mutable attribute set.
	Attributes() *Attributes

	// ReadString reads until terminator, encoded under enc, and returns the decoded message
	// with or without the terminator.
	ReadString(ctx context.Context, terminator string, strip bool, enc Encoding, chunkSize int) (string, error)

	// ReadBytes reads exactly length bytes.
	ReadBytes(ctx context.Context, length int, chunkSize int) ([]byte, error)

	// ReadBytesUntil reads until the byte sequence terminator. When maxLength is positive the
	// terminator must end within the first maxLength bytes, otherwise ErrMaxLengthExceeded is returned.
	ReadBytesUntil(ctx context.Context, maxLength int, terminator []byte, strip bool, chunkSize int) ([]byte, error)

	// WriteString writes s followed by terminator (none if nil), encoded under enc.
	WriteString(ctx context.Context, s string, terminator *string, enc Encoding) (int, error)

	// WriteBytes writes data followed by terminator (none if nil).
	WriteBytes(ctx context.Context, data []byte, terminator []byte) (int, error)
}

// Instrument frames messages over a Transport.
//
// Responses larger than one chunk are assembled from repeated chunk reads; a terminator
// split across two chunks is still found. Bytes received after the end of a message are
// kept and served first by the next read.
//
// Instrument does not serialize calls. A query is a write followed by a read, and two
// queries issued concurrently on the same Instrument may interleave so that one consumes
// the other's response. Callers must keep at most one operation in flight per Instrument.
// Concurrent misuse corrupts framing but is memory safe.
type Instrument struct {
	transport Transport
	session   Session
	attrs     Attributes
	logger    logger.Logger

	mu      sync.Mutex
	pending []byte

	epoch  time.Time
	lastOp atomic.Int64 // nanoseconds since epoch when the previous operation finished, 0 if none
	closed atomic.Bool
}

var (
	_ MessageBased = (*Instrument)(nil)
	_ Session      = (*Instrument)(nil)
)

// InstrumentOption configures an Instrument.
type InstrumentOption func(inst *Instrument)

// WithAttributes sets the initial attributes. The default is DefaultAttributes().
func WithAttributes(attrs Attributes) InstrumentOption {
	return func(inst *Instrument) { inst.attrs = attrs }
}

// WithLogger sets the instrument logger. The default is logger.GetLogger().
func WithLogger(l logger.Logger) InstrumentOption {
	return func(inst *Instrument) {
		if l != nil {
			inst.logger = l
		}
	}
}

// NewInstrument creates an Instrument over t.
//
// If s is nil and t also implements Session, t is used as the session.
func NewInstrument(t Transport, s Session, opts ...InstrumentOption) (*Instrument, error) {
	if t == nil {
		return nil, ErrTransportNil
	}

	if s == nil {
		if ts, ok := t.(Session); ok {
			s = ts
		} else {
			s = transportSession{t: t}
		}
	}

	inst := &Instrument{
		transport: t,
		session:   s,
		attrs:     DefaultAttributes(),
		logger:    logger.GetLogger(),
		epoch:     time.Now(),
	}

	for _, opt := range opts {
		opt(inst)
	}

	if err := inst.attrs.Validate(); err != nil {
		return nil, err
	}

	return inst, nil
}

// Session returns the session owning the connection.
func (inst *Instrument) Session() Session { return inst.session }

// Attributes returns the instrument's attributes. Changes apply to operations issued afterwards.
func (inst *Instrument) Attributes() *Attributes { return &inst.attrs }

// Close closes the session and fails all later operations with ErrSessionClosed.
func (inst *Instrument) Close() error {
	if !inst.closed.CompareAndSwap(false, true) {
		return nil
	}

	inst.logger.Debug("visa: closing instrument session")

	return inst.session.Close()
}

// Reconnect re-establishes the session's connection and discards any buffered bytes
// received on the previous connection.
func (inst *Instrument) Reconnect(ctx context.Context, timeout time.Duration) error {
	if inst.closed.Load() {
		return ErrSessionClosed
	}

	if err := inst.session.Reconnect(ctx, timeout); err != nil {
		return err
	}

	if n := inst.DiscardPending(); n > 0 {
		inst.logger.Debug("visa: discarded buffered bytes after reconnect", "bytes", n)
	}

	return nil
}

// DiscardPending drops bytes buffered from earlier reads and returns how many were dropped.
// It is useful to resynchronize after a timeout or ErrMaxLengthExceeded.
func (inst *Instrument) DiscardPending() int {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	n := len(inst.pending)
	inst.pending = nil

	return n
}

// Pending returns the number of buffered bytes not yet consumed by a read.
func (inst *Instrument) Pending() int {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	return len(inst.pending)
}

// --- Reading ---

// ReadString implements MessageBased.
func (inst *Instrument) ReadString(ctx context.Context, terminator string, strip bool, enc Encoding, chunkSize int) (string, error) {
	if terminator == "" {
		return "", ErrInvalidTerminator
	}

	term, err := enc.Encode(terminator)
	if err != nil {
		return "", err
	}

	msg, err := inst.readUntil(ctx, term, enc.frameAccept(terminator), strip, chunkSize, 0)
	if err != nil {
		return "", err
	}

	return enc.Decode(msg)
}

// ReadBytes implements MessageBased. A zero length returns an empty slice without
// touching the transport.
func (inst *Instrument) ReadBytes(ctx context.Context, length int, chunkSize int) ([]byte, error) {
	switch {
	case length < 0:
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLength, length)
	case length == 0:
		return []byte{}, nil
	case chunkSize <= 0:
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, chunkSize)
	}

	if err := inst.begin(ctx); err != nil {
		return nil, err
	}
	defer inst.finish()

	for {
		inst.mu.Lock()
		have := len(inst.pending)
		if have >= length {
			msg := inst.take(length)
			inst.mu.Unlock()

			inst.logger.Debug("visa: read bytes", "bytes", length)

			return msg, nil
		}
		inst.mu.Unlock()

		if err := inst.fill(ctx, min(chunkSize, length-have)); err != nil {
			return nil, err
		}
	}
}

// ReadBytesUntil implements MessageBased.
func (inst *Instrument) ReadBytesUntil(ctx context.Context, maxLength int, terminator []byte, strip bool, chunkSize int) ([]byte, error) {
	if len(terminator) == 0 {
		return nil, ErrInvalidTerminator
	}

	return inst.readUntil(ctx, terminator, nil, strip, chunkSize, maxLength)
}

// readUntil is the framing loop shared by string and byte reads. It scans the buffered
// bytes for term, resuming len(term)-1 bytes before the previous scan limit so a
// terminator split over two chunks is found, and reads one more chunk when absent.
// A non-nil accept vets every byte match; rejected matches are skipped.
func (inst *Instrument) readUntil(ctx context.Context, term []byte, accept func(msg []byte, start int) bool,
	strip bool, chunkSize, maxLength int,
) ([]byte, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, chunkSize)
	}

	if err := inst.begin(ctx); err != nil {
		return nil, err
	}
	defer inst.finish()

	scanFrom := 0
	for {
		inst.mu.Lock()

		limit := len(inst.pending)
		if maxLength > 0 && limit > maxLength {
			limit = maxLength
		}
		if scanFrom > limit {
			// Another goroutine consumed the buffer; only possible under concurrent misuse.
			scanFrom = 0
		}

		if start := findTerminator(inst.pending[:limit], scanFrom, term, accept); start >= 0 {
			end := start + len(term)
			msg := inst.take(end)
			inst.mu.Unlock()

			if strip {
				msg = msg[:len(msg)-len(term)]
			}

			inst.logger.Debug("visa: read message", "bytes", end, "terminator", fmt.Sprintf("%q", term))

			return msg, nil
		}

		request := chunkSize
		if maxLength > 0 {
			remaining := maxLength - len(inst.pending)
			if remaining <= 0 {
				inst.mu.Unlock()

				return nil, fmt.Errorf("%w: terminator %q not found in %d bytes", ErrMaxLengthExceeded, term, maxLength)
			}
			request = min(request, remaining)
		}

		scanFrom = max(0, limit-len(term)+1)
		inst.mu.Unlock()

		if err := inst.fill(ctx, request); err != nil {
			if IsTimeout(err) && ctx.Err() == nil {
				return nil, fmt.Errorf("%w: waiting for %q: %w", ErrProtocolTimeout, term, err)
			}

			return nil, err
		}
	}
}

// findTerminator returns the offset of the first accepted term in buf at or after from, or -1.
func findTerminator(buf []byte, from int, term []byte, accept func(msg []byte, start int) bool) int {
	for from+len(term) <= len(buf) {
		idx := bytes.Index(buf[from:], term)
		if idx < 0 {
			return -1
		}

		start := from + idx
		if accept == nil || accept(buf[:start+len(term)], start) {
			return start
		}
		from = start + 1
	}

	return -1
}

// fill reads one chunk from the transport into the pending buffer.
func (inst *Instrument) fill(ctx context.Context, maxBytes int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("visa: read interrupted: %w", err)
	}

	chunk, err := inst.transport.ReadChunk(ctx, maxBytes)
	if err != nil {
		return transportError(ctx, "read", err)
	}

	inst.mu.Lock()
	inst.pending = append(inst.pending, chunk...)
	inst.mu.Unlock()

	return nil
}

// take removes and returns the first n pending bytes. The caller must hold mu.
func (inst *Instrument) take(n int) []byte {
	msg := bytes.Clone(inst.pending[:n])
	if n == len(inst.pending) {
		inst.pending = nil
	} else {
		inst.pending = inst.pending[n:]
	}

	return msg
}

// --- Writing ---

// WriteString implements MessageBased.
func (inst *Instrument) WriteString(ctx context.Context, s string, terminator *string, enc Encoding) (int, error) {
	if terminator != nil {
		s += *terminator
	}

	data, err := enc.Encode(s)
	if err != nil {
		return 0, err
	}

	return inst.write(ctx, data)
}

// WriteBytes implements MessageBased.
func (inst *Instrument) WriteBytes(ctx context.Context, data []byte, terminator []byte) (int, error) {
	if terminator != nil {
		data = append(bytes.Clone(data), terminator...)
	}

	return inst.write(ctx, data)
}

func (inst *Instrument) write(ctx context.Context, data []byte) (int, error) {
	if err := inst.begin(ctx); err != nil {
		return 0, err
	}
	defer inst.finish()

	n, err := inst.transport.WriteAll(ctx, data)
	if err != nil {
		return n, transportError(ctx, "write", err)
	}

	inst.logger.Debug("visa: wrote message", "bytes", n)

	return n, nil
}

// --- Pacing ---

// begin fails fast on a closed session and waits out the operation delay.
func (inst *Instrument) begin(ctx context.Context) error {
	if inst.closed.Load() {
		return ErrSessionClosed
	}

	last := inst.lastOp.Load()
	if last == 0 {
		return nil
	}

	elapsed := time.Since(inst.epoch) - time.Duration(last)
	if err := pool.Wait(ctx, inst.attrs.OperationDelay-elapsed); err != nil {
		return fmt.Errorf("visa: operation delay interrupted: %w", err)
	}

	return nil
}

func (inst *Instrument) finish() {
	inst.lastOp.Store(int64(max(time.Since(inst.epoch), 1)))
}

// transportSession adapts a bare Transport to Session. Reconnect is not supported.
type transportSession struct {
	t Transport
}

func (s transportSession) Close() error { return s.t.Close() }

func (s transportSession) Reconnect(context.Context, time.Duration) error {
	return ErrReconnectUnsupported
}
