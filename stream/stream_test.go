package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-visa/visa"
)

// bufferStream is a plain stream without deadlines. Writes go to out; reads drain in.
type bufferStream struct {
	in       *bytes.Reader
	out      bytes.Buffer
	maxWrite int
	closed   int
}

func newBufferStream(in string) *bufferStream {
	return &bufferStream{in: bytes.NewReader([]byte(in))}
}

func (s *bufferStream) Read(p []byte) (int, error) { return s.in.Read(p) }

func (s *bufferStream) Write(p []byte) (int, error) {
	if s.maxWrite > 0 && len(p) > s.maxWrite {
		p = p[:s.maxWrite]
	}

	return s.out.Write(p)
}

func (s *bufferStream) Close() error {
	s.closed++
	return nil
}

// serveLines answers every line read from conn with "ACK <line>".
func serveLines(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		if _, err := conn.Write([]byte("ACK " + line)); err != nil {
			return
		}
	}
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, visa.ErrTransportNil)
}

func TestTransport_PlainStream(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	s := newBufferStream("abcdef")
	s.maxWrite = 2

	tr, err := New(s)
	require.NoError(err)

	chunk, err := tr.ReadChunk(ctx, 4)
	require.NoError(err)
	require.Equal([]byte("abcd"), chunk)

	chunk, err = tr.ReadChunk(ctx, 4)
	require.NoError(err)
	require.Equal([]byte("ef"), chunk)

	_, err = tr.ReadChunk(ctx, 4)
	require.ErrorIs(err, visa.ErrTransportIO)
	require.ErrorIs(err, io.EOF)

	n, err := tr.WriteAll(ctx, []byte("*RST\n"))
	require.NoError(err)
	require.Equal(5, n)
	require.Equal("*RST\n", s.out.String())

	_, err = tr.ReadChunk(ctx, 0)
	require.ErrorIs(err, visa.ErrInvalidChunkSize)
}

func TestTransport_CanceledBeforeIO(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr, err := New(newBufferStream("data"))
	require.NoError(t, err)

	_, err = tr.ReadChunk(ctx, 4)
	require.ErrorIs(t, err, context.Canceled)
	_, err = tr.WriteAll(ctx, []byte("x"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestOpen_QueryOverPipe(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	client, peer := net.Pipe()
	go serveLines(peer)
	defer peer.Close()

	inst, err := Open(client, []Option{WithTimeout(time.Second)})
	require.NoError(err)
	defer inst.Close()

	resp, err := visa.Query(ctx, inst, "*IDN?")
	require.NoError(err)
	require.Equal("ACK *IDN?", resp)

	resp, err = visa.Query(ctx, inst, "SYST:ERR?")
	require.NoError(err)
	require.Equal("ACK SYST:ERR?", resp)
}

func TestTransport_DeadlineTimeout(t *testing.T) {
	client, peer := net.Pipe()
	defer peer.Close()

	tr, err := New(client, WithTimeout(30*time.Millisecond))
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.ReadChunk(context.Background(), 8)
	require.ErrorIs(t, err, visa.ErrTransportIO)
	require.True(t, visa.IsTimeout(err))
}

func TestTransport_ContextInterruptsRead(t *testing.T) {
	client, peer := net.Pipe()
	defer peer.Close()

	tr, err := New(client)
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = tr.ReadChunk(ctx, 8)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransport_InterruptedWriteMarksSuspect(t *testing.T) {
	require := require.New(t)

	// net.Pipe is unbuffered, so a write blocks until the peer reads.
	client, peer := net.Pipe()
	defer peer.Close()

	next, nextPeer := net.Pipe()
	go serveLines(nextPeer)
	defer nextPeer.Close()

	tr, err := New(client, WithReopen(func(context.Context) (io.ReadWriteCloser, error) {
		return next, nil
	}))
	require.NoError(err)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = tr.WriteAll(ctx, []byte("*RST\n"))
	require.ErrorIs(err, visa.ErrSuspectConnection)
	require.ErrorIs(err, context.DeadlineExceeded)

	bg := context.Background()
	_, err = tr.WriteAll(bg, []byte("*CLS\n"))
	require.ErrorIs(err, visa.ErrSuspectConnection)
	_, err = tr.ReadChunk(bg, 8)
	require.ErrorIs(err, visa.ErrSuspectConnection)

	require.NoError(tr.Reconnect(bg, time.Second))

	_, err = tr.WriteAll(bg, []byte("ping\n"))
	require.NoError(err)
	chunk, err := tr.ReadChunk(bg, 16)
	require.NoError(err)
	require.Equal([]byte("ACK ping\n"), chunk)
}

func TestTransport_FailedPartialWriteMarksSuspect(t *testing.T) {
	s := &failingStream{bufferStream: newBufferStream(""), limit: 2}

	tr, err := New(s)
	require.NoError(t, err)

	n, err := tr.WriteAll(context.Background(), []byte("*RST\n"))
	require.Equal(t, 2, n)
	require.ErrorIs(t, err, visa.ErrSuspectConnection)
	require.ErrorIs(t, err, visa.ErrTransportIO)

	_, err = tr.WriteAll(context.Background(), []byte("x"))
	require.ErrorIs(t, err, visa.ErrSuspectConnection)
}

// failingStream accepts limit bytes and fails every later write.
type failingStream struct {
	*bufferStream
	limit int
}

func (s *failingStream) Write(p []byte) (int, error) {
	room := s.limit - s.out.Len()
	if room <= 0 {
		return 0, errors.New("device unplugged")
	}

	return s.bufferStream.Write(p[:min(room, len(p))])
}

func TestTransport_Reconnect(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	tr, err := New(newBufferStream(""))
	require.NoError(err)
	require.ErrorIs(tr.Reconnect(ctx, time.Second), visa.ErrReconnectUnsupported)

	first := newBufferStream("")
	second := newBufferStream("fresh\n")
	tr, err = New(first, WithReopen(func(context.Context) (io.ReadWriteCloser, error) {
		return second, nil
	}))
	require.NoError(err)

	require.NoError(tr.Reconnect(ctx, time.Second))
	require.Equal(1, first.closed)

	chunk, err := tr.ReadChunk(ctx, 16)
	require.NoError(err)
	require.Equal([]byte("fresh\n"), chunk)

	failing, err := New(newBufferStream(""), WithReopen(func(context.Context) (io.ReadWriteCloser, error) {
		return nil, errors.New("device busy")
	}))
	require.NoError(err)
	require.ErrorIs(failing.Reconnect(ctx, 0), visa.ErrConnection)
}

func TestTransport_Close(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	s := newBufferStream("x")

	tr, err := New(s)
	require.NoError(err)

	require.NoError(tr.Close())
	require.NoError(tr.Close())
	require.Equal(1, s.closed)

	_, err = tr.ReadChunk(ctx, 1)
	require.ErrorIs(err, visa.ErrSessionClosed)
	_, err = tr.WriteAll(ctx, []byte("x"))
	require.ErrorIs(err, visa.ErrSessionClosed)
	require.ErrorIs(tr.Reconnect(ctx, time.Second), visa.ErrSessionClosed)
}
