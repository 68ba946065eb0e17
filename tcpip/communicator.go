package tcpip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/arloliu/go-visa/logger"
	"github.com/arloliu/go-visa/visa"
)

// Communicator is a TCP socket connection to an instrument. It implements
// visa.Transport and visa.Session.
//
// Reads and writes are each bounded by the configured timeout. Cancelling the
// context of a read interrupts it and leaves the connection usable. Cancelling
// the context of a write may leave a partial command on the wire, so the
// connection is marked suspect and fails further I/O with visa.ErrSuspectConnection
// until Reconnect succeeds.
type Communicator struct {
	cfg     *ConnectionConfig
	logger  logger.Logger
	state   atomicConnState
	metrics ConnectionMetrics

	connMu sync.RWMutex
	conn   net.Conn

	lineMu  sync.Mutex
	lineBuf []byte // bytes after the last line returned by Read
}

var (
	_ visa.Transport = (*Communicator)(nil)
	_ visa.Session   = (*Communicator)(nil)
)

// Dial connects to the instrument described by cfg within cfg.Timeout().
// Failures are reported as visa.ErrConnection.
func Dial(ctx context.Context, cfg *ConnectionConfig) (*Communicator, error) {
	if cfg == nil {
		return nil, ErrConnConfigNil
	}

	c := newCommunicator(cfg, nil)

	conn, err := c.dial(ctx, cfg.Timeout())
	if err != nil {
		return nil, err
	}
	c.conn = conn

	c.logger.Info("tcpip: connected", "local", conn.LocalAddr().String())

	return c, nil
}

func newCommunicator(cfg *ConnectionConfig, conn net.Conn) *Communicator {
	return &Communicator{
		cfg:    cfg,
		logger: cfg.Logger().With("address", cfg.Address()),
		conn:   conn,
	}
}

func (c *Communicator) dial(ctx context.Context, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = c.cfg.Timeout()
	}

	dialer := net.Dialer{
		Timeout:   timeout,
		KeepAlive: c.cfg.KeepAlive(),
	}

	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", visa.ErrConnection, c.cfg.Address(), err)
	}

	return conn, nil
}

// Config returns the connection configuration.
func (c *Communicator) Config() *ConnectionConfig { return c.cfg }

// State returns the current connection state.
func (c *Communicator) State() ConnState { return c.state.Get() }

// Metrics returns the connection metrics.
func (c *Communicator) Metrics() *ConnectionMetrics { return &c.metrics }

// RemoteAddr returns the address of the instrument.
func (c *Communicator) RemoteAddr() net.Addr {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	return c.conn.RemoteAddr()
}

func (c *Communicator) usableConn() (net.Conn, error) {
	switch c.state.Get() {
	case OpenedState:
	case ClosedState:
		return nil, visa.ErrSessionClosed
	default:
		return nil, visa.ErrSuspectConnection
	}

	c.connMu.RLock()
	defer c.connMu.RUnlock()

	return c.conn, nil
}

// ReadChunk implements visa.Transport. It returns at most maxBytes bytes once at
// least one byte has arrived.
func (c *Communicator) ReadChunk(ctx context.Context, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("%w: got %d", visa.ErrInvalidChunkSize, maxBytes)
	}

	conn, err := c.usableConn()
	if err != nil {
		return nil, err
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.Timeout())); err != nil {
		return nil, fmt.Errorf("%w: set read deadline: %w", visa.ErrTransportIO, err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})

	buf := make([]byte, maxBytes)
	n, err := conn.Read(buf)
	stop()

	if n > 0 {
		c.metrics.addReceived(n)
		c.logger.Debug("tcpip: chunk received", "bytes", n)

		return buf[:n], nil
	}

	return nil, c.ioError(ctx, "read", err)
}

// WriteAll implements visa.Transport.
func (c *Communicator) WriteAll(ctx context.Context, p []byte) (int, error) {
	conn, err := c.usableConn()
	if err != nil {
		return 0, err
	}

	// Not started yet, so the connection is not suspect.
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("tcpip: write interrupted: %w", err)
	}

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout())); err != nil {
		return 0, fmt.Errorf("%w: set write deadline: %w", visa.ErrTransportIO, err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetWriteDeadline(time.Now())
	})

	n, err := conn.Write(p)
	interrupted := !stop()

	if err == nil {
		c.metrics.addSent(n)
		c.logger.Debug("tcpip: chunk sent", "bytes", n)

		return n, nil
	}

	if interrupted || (n > 0 && n < len(p)) {
		if c.state.ToSuspect() {
			c.logger.Warn("tcpip: write interrupted, connection marked suspect", "written", n, "size", len(p))
		}

		return n, fmt.Errorf("%w: wrote %d of %d bytes: %w", visa.ErrSuspectConnection, n, len(p), c.ioError(ctx, "write", err))
	}

	return n, c.ioError(ctx, "write", err)
}

func (c *Communicator) ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("tcpip: %s interrupted: %w", op, errors.Join(ctxErr, err))
	}

	if visa.IsTimeout(err) {
		c.metrics.incTimeoutCount()
		return fmt.Errorf("%w: %s timed out after %v: %w", visa.ErrTransportIO, op, c.cfg.Timeout(), err)
	}

	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s: connection closed by instrument: %w", visa.ErrTransportIO, op, err)
	}

	if c.state.IsClosed() {
		return visa.ErrSessionClosed
	}

	return fmt.Errorf("%w: %s: %w", visa.ErrTransportIO, op, err)
}

// Read reads one line and returns it without the line terminator.
//
// Bytes following the line are kept for the next Read. The buffer is separate from
// that of a visa.Instrument built over the same Communicator; do not mix both.
func (c *Communicator) Read(ctx context.Context) (string, error) {
	term := []byte(c.cfg.LineTerminator())

	c.lineMu.Lock()
	defer c.lineMu.Unlock()

	scanFrom := 0
	for {
		if idx := bytes.Index(c.lineBuf[scanFrom:], term); idx >= 0 {
			end := scanFrom + idx
			line := string(c.lineBuf[:end])
			c.lineBuf = c.lineBuf[end+len(term):]

			return line, nil
		}
		scanFrom = max(0, len(c.lineBuf)-len(term)+1)

		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("tcpip: read interrupted: %w", err)
		}

		chunk, err := c.ReadChunk(ctx, c.cfg.ReadBufferSize())
		if err != nil {
			return "", err
		}
		c.lineBuf = append(c.lineBuf, chunk...)
	}
}

// Write writes s as is, without appending a terminator.
func (c *Communicator) Write(ctx context.Context, s string) (int, error) {
	return c.WriteAll(ctx, []byte(s))
}

// Close closes the connection. Only the first call has an effect.
func (c *Communicator) Close() error {
	if !c.state.ToClosed() {
		return nil
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.logger.Info("tcpip: closing connection")

	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: close: %w", visa.ErrTransportIO, err)
	}

	return nil
}

// Reconnect replaces the connection with a new one dialed within timeout, or within
// the configured timeout when timeout is not positive. It clears the suspect state.
//
// On failure the Communicator stays suspect and Reconnect may be retried.
func (c *Communicator) Reconnect(ctx context.Context, timeout time.Duration) error {
	if !c.state.ToReconnecting() {
		if c.state.IsClosed() {
			return visa.ErrSessionClosed
		}

		return fmt.Errorf("%w: reconnect already in progress", visa.ErrConnection)
	}

	c.logger.Info("tcpip: reconnecting")

	c.connMu.Lock()
	_ = c.conn.Close()
	c.connMu.Unlock()

	conn, err := c.dial(ctx, timeout)
	if err != nil {
		c.state.FinishReconnect(false)
		c.logger.Warn("tcpip: reconnect failed", "error", err)

		return err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.lineMu.Lock()
	c.lineBuf = nil
	c.lineMu.Unlock()

	if !c.state.FinishReconnect(true) {
		// closed while dialing
		_ = conn.Close()
		return visa.ErrSessionClosed
	}

	c.metrics.incReconnectCount()
	c.logger.Info("tcpip: reconnected", "local", conn.LocalAddr().String())

	return nil
}
