package tcpip

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-visa/logger"
	"github.com/arloliu/go-visa/visa"
)

func TestDial_Failure(t *testing.T) {
	cfg := newTestConfig(t, unusedPort(t))

	_, err := Dial(context.Background(), cfg)
	require.ErrorIs(t, err, visa.ErrConnection)

	_, err = Dial(context.Background(), nil)
	require.ErrorIs(t, err, ErrConnConfigNil)
}

func TestCommunicator_ReadWrite(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	srv := newTestServer(t, echoHandler)

	comm, err := Dial(ctx, newTestConfig(t, srv.port()))
	require.NoError(err)
	defer comm.Close()

	require.Equal(OpenedState, comm.State())
	require.Equal(srv.port(), comm.RemoteAddr().(*net.TCPAddr).Port)

	n, err := comm.Write(ctx, "first\nsecond\n")
	require.NoError(err)
	require.Equal(13, n)

	line, err := comm.Read(ctx)
	require.NoError(err)
	require.Equal("first", line)

	line, err = comm.Read(ctx)
	require.NoError(err)
	require.Equal("second", line)

	m := comm.Metrics()
	require.Equal(uint64(13), m.BytesSent.Load())
	require.Equal(uint64(1), m.ChunksSent.Load())
	require.Equal(uint64(13), m.BytesReceived.Load())
	require.GreaterOrEqual(m.ChunksReceived.Load(), uint64(1))
}

func TestCommunicator_ReadCustomTerminator(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t, sendHandler("V=1.5\r\nI=0.2\r\n"))

	comm, err := Dial(ctx, newTestConfig(t, srv.port(), WithLineTerminator("\r\n"), WithReadBufferSize(4)))
	require.NoError(t, err)
	defer comm.Close()

	line, err := comm.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, "V=1.5", line)

	line, err = comm.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, "I=0.2", line)
}

func TestCommunicator_ReadChunkLimit(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t, sendHandler("0123456789"))

	comm, err := Dial(ctx, newTestConfig(t, srv.port()))
	require.NoError(t, err)
	defer comm.Close()

	total := 0
	for total < 10 {
		chunk, err := comm.ReadChunk(ctx, 3)
		require.NoError(t, err)
		require.LessOrEqual(t, len(chunk), 3)
		require.NotEmpty(t, chunk)
		total += len(chunk)
	}

	_, err = comm.ReadChunk(ctx, 0)
	require.ErrorIs(t, err, visa.ErrInvalidChunkSize)
}

func TestCommunicator_ReadTimeout(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t, silentHandler)

	comm, err := Dial(ctx, newTestConfig(t, srv.port(), WithTimeout(50*time.Millisecond)))
	require.NoError(t, err)
	defer comm.Close()

	_, err = comm.ReadChunk(ctx, 16)
	require.ErrorIs(t, err, visa.ErrTransportIO)
	require.True(t, visa.IsTimeout(err))
	require.Equal(t, uint64(1), comm.Metrics().TimeoutCount.Load())
	require.Equal(t, OpenedState, comm.State())
}

func TestCommunicator_ReadCancelKeepsConnection(t *testing.T) {
	require := require.New(t)
	srv := newTestServer(t, echoHandler)

	comm, err := Dial(context.Background(), newTestConfig(t, srv.port(), WithTimeout(5*time.Second)))
	require.NoError(err)
	defer comm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = comm.ReadChunk(ctx, 16)
	require.ErrorIs(err, context.DeadlineExceeded)
	require.Less(time.Since(start), 2*time.Second)
	require.Equal(OpenedState, comm.State())

	bg := context.Background()
	_, err = comm.Write(bg, "still here\n")
	require.NoError(err)

	line, err := comm.Read(bg)
	require.NoError(err)
	require.Equal("still here", line)
}

func TestCommunicator_PeerClosed(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t, func(conn net.Conn) { _ = conn.Close() })

	comm, err := Dial(ctx, newTestConfig(t, srv.port()))
	require.NoError(t, err)
	defer comm.Close()

	_, err = comm.ReadChunk(ctx, 16)
	require.ErrorIs(t, err, visa.ErrTransportIO)
	require.False(t, visa.IsTimeout(err))
}

const suspectWarning = "tcpip: write interrupted, connection marked suspect"

func newMockLogger() *logger.MockLogger {
	ml := logger.NewMockLogger()
	ml.On("With", mock.Anything, mock.Anything).Return(ml)
	ml.On("Debug", mock.Anything, mock.Anything).Return()
	ml.On("Info", mock.Anything, mock.Anything).Return()
	ml.On("Warn", suspectWarning, mock.Anything).Return()

	return ml
}

func TestCommunicator_InterruptedWriteMarksSuspect(t *testing.T) {
	require := require.New(t)
	srv := newTestServer(t, echoHandler)
	ml := newMockLogger()
	cfg := newTestConfig(t, srv.port(), WithTimeout(5*time.Second), WithLogger(ml))

	// net.Pipe is unbuffered, so a write blocks until the peer reads.
	client, peer := net.Pipe()
	defer peer.Close()
	comm := newCommunicator(cfg, client)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := comm.WriteAll(ctx, []byte("*RST\n"))
	require.ErrorIs(err, visa.ErrSuspectConnection)
	require.ErrorIs(err, context.DeadlineExceeded)
	require.Equal(SuspectState, comm.State())
	ml.AssertCalled(t, "With", "address", cfg.Address())
	ml.AssertCalled(t, "Warn", suspectWarning, []any{"written", 0, "size", len("*RST\n")})
	ml.AssertNumberOfCalls(t, "Warn", 1)

	bg := context.Background()
	_, err = comm.WriteAll(bg, []byte("*CLS\n"))
	require.ErrorIs(err, visa.ErrSuspectConnection)
	_, err = comm.ReadChunk(bg, 8)
	require.ErrorIs(err, visa.ErrSuspectConnection)

	require.NoError(comm.Reconnect(bg, time.Second))
	require.Equal(OpenedState, comm.State())
	require.Equal(uint32(1), comm.Metrics().ReconnectCount.Load())

	_, err = comm.Write(bg, "ping\n")
	require.NoError(err)
	line, err := comm.Read(bg)
	require.NoError(err)
	require.Equal("ping", line)

	require.NoError(comm.Close())
}

func TestCommunicator_CancelledBeforeWriteStaysOpen(t *testing.T) {
	require := require.New(t)
	srv := newTestServer(t, echoHandler)
	ml := newMockLogger()
	cfg := newTestConfig(t, srv.port(), WithLogger(ml))

	client, peer := net.Pipe()
	defer peer.Close()
	comm := newCommunicator(cfg, client)
	defer comm.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := comm.WriteAll(ctx, []byte("*RST\n"))
	require.Zero(n)
	require.ErrorIs(err, context.Canceled)
	require.NotErrorIs(err, visa.ErrSuspectConnection)
	require.Equal(OpenedState, comm.State())
	ml.AssertNotCalled(t, "Warn", suspectWarning, mock.Anything)

	go func() {
		buf := make([]byte, 16)
		n, _ := peer.Read(buf)
		_, _ = peer.Write(buf[:n])
	}()

	_, err = comm.Write(context.Background(), "ping\n")
	require.NoError(err)
	line, err := comm.Read(context.Background())
	require.NoError(err)
	require.Equal("ping", line)
}

func TestCommunicator_ReconnectFailureStaysSuspect(t *testing.T) {
	require := require.New(t)
	cfg := newTestConfig(t, unusedPort(t))

	client, peer := net.Pipe()
	defer peer.Close()
	comm := newCommunicator(cfg, client)
	defer comm.Close()

	err := comm.Reconnect(context.Background(), 200*time.Millisecond)
	require.ErrorIs(err, visa.ErrConnection)
	require.Equal(SuspectState, comm.State())
	require.Zero(comm.Metrics().ReconnectCount.Load())
}

func TestCommunicator_Reconnect(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	srv := newTestServer(t, echoHandler)

	comm, err := Dial(ctx, newTestConfig(t, srv.port()))
	require.NoError(err)
	defer comm.Close()
	<-srv.accepted

	srv.closeConns()
	_, err = comm.ReadChunk(ctx, 8)
	require.ErrorIs(err, visa.ErrTransportIO)

	require.NoError(comm.Reconnect(ctx, 0))
	<-srv.accepted

	_, err = comm.Write(ctx, "again\n")
	require.NoError(err)
	line, err := comm.Read(ctx)
	require.NoError(err)
	require.Equal("again", line)
}

func TestCommunicator_Close(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	srv := newTestServer(t, echoHandler)

	comm, err := Dial(ctx, newTestConfig(t, srv.port()))
	require.NoError(err)

	require.NoError(comm.Close())
	require.NoError(comm.Close())
	require.Equal(ClosedState, comm.State())

	_, err = comm.ReadChunk(ctx, 8)
	require.ErrorIs(err, visa.ErrSessionClosed)
	_, err = comm.WriteAll(ctx, []byte("x"))
	require.ErrorIs(err, visa.ErrSessionClosed)
	require.ErrorIs(comm.Reconnect(ctx, time.Second), visa.ErrSessionClosed)
}
