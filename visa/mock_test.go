package visa

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// echoInstrument returns the last written message on every read, like a loopback
// instrument that answers a query with the query itself.
type echoInstrument struct {
	mu          sync.Mutex
	attrs       Attributes
	lastMessage string
	lastTerm    *string
}

var _ MessageBased = (*echoInstrument)(nil)

func newEchoInstrument() *echoInstrument {
	return &echoInstrument{attrs: DefaultAttributes()}
}

func (m *echoInstrument) Session() Session        { return nopSession{} }
func (m *echoInstrument) Attributes() *Attributes { return &m.attrs }

func (m *echoInstrument) ReadString(context.Context, string, bool, Encoding, int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastMessage, nil
}

func (m *echoInstrument) ReadBytes(_ context.Context, length int, _ int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return []byte(m.lastMessage)[:length], nil
}

func (m *echoInstrument) ReadBytesUntil(context.Context, int, []byte, bool, int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return []byte(m.lastMessage), nil
}

func (m *echoInstrument) WriteString(_ context.Context, s string, terminator *string, _ Encoding) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastMessage = s
	m.lastTerm = terminator

	return len(s), nil
}

func (m *echoInstrument) WriteBytes(_ context.Context, data []byte, _ []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastMessage = string(data)

	return len(data), nil
}

type nopSession struct{}

func (nopSession) Close() error                                   { return nil }
func (nopSession) Reconnect(context.Context, time.Duration) error { return nil }

// memTransport is an in-memory Transport. Queued chunks are delivered in order, each
// split to the requested size; with echo set every write becomes readable. An empty
// queue reports a deadline error, as a socket with a read timeout would.
type memTransport struct {
	mu         sync.Mutex
	chunks     [][]byte
	echo       bool
	written    bytes.Buffer
	writes     [][]byte
	readCalls  int
	closeCalls int
	readErr    error
	writeErr   error
}

func newMemTransport(chunks ...string) *memTransport {
	t := &memTransport{}
	for _, c := range chunks {
		t.chunks = append(t.chunks, []byte(c))
	}

	return t
}

func (t *memTransport) ReadChunk(ctx context.Context, maxBytes int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.readCalls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.readErr != nil {
		return nil, t.readErr
	}
	if len(t.chunks) == 0 {
		return nil, os.ErrDeadlineExceeded
	}

	chunk := t.chunks[0]
	if len(chunk) > maxBytes {
		t.chunks[0] = chunk[maxBytes:]
		return bytes.Clone(chunk[:maxBytes]), nil
	}
	t.chunks = t.chunks[1:]

	return chunk, nil
}

func (t *memTransport) WriteAll(ctx context.Context, p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if t.writeErr != nil {
		return 0, t.writeErr
	}

	t.written.Write(p)
	t.writes = append(t.writes, bytes.Clone(p))
	if t.echo {
		t.chunks = append(t.chunks, bytes.Clone(p))
	}

	return len(p), nil
}

func (t *memTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closeCalls++

	return nil
}

func (t *memTransport) lastWrite() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.writes) == 0 {
		return ""
	}

	return string(t.writes[len(t.writes)-1])
}

func (t *memTransport) reads() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.readCalls
}

// newTestInstrument creates an Instrument over tr with no operation delay.
func newTestInstrument(t *testing.T, tr Transport, opts ...InstrumentOption) *Instrument {
	t.Helper()

	attrs := DefaultAttributes()
	attrs.OperationDelay = 0

	inst, err := NewInstrument(tr, nil, append([]InstrumentOption{WithAttributes(attrs)}, opts...)...)
	require.NoError(t, err)

	return inst
}
