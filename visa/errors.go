package visa

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/arloliu/go-visa/decoder"
)

var (
	// ErrConnection indicates that a connection could not be created, connected or configured.
	ErrConnection = errors.New("visa: connection failed")

	// ErrTransportIO indicates that a chunk read or write failed at the transport.
	ErrTransportIO = errors.New("visa: transport I/O failed")

	// ErrEncoding indicates that a string could not be rendered under the configured encoding,
	// or that received bytes are not valid under it.
	ErrEncoding = errors.New("visa: encoding failed")

	// ErrDecode indicates that a decoder rejected the response content.
	ErrDecode = decoder.ErrDecode

	// ErrProtocolTimeout indicates that the terminator was not observed before the
	// transport's read timeout elapsed.
	ErrProtocolTimeout = errors.New("visa: terminator not received before timeout")
)

var (
	// ErrSessionClosed indicates an operation on an instrument whose session is closed.
	ErrSessionClosed = errors.New("visa: session closed")

	// ErrSuspectConnection indicates that a write was interrupted part way and the
	// connection must be re-established with Reconnect before further use.
	ErrSuspectConnection = errors.New("visa: connection suspect after interrupted write, reconnect required")

	// ErrReconnectUnsupported indicates that the session cannot re-establish its connection.
	ErrReconnectUnsupported = errors.New("visa: reconnect not supported")

	// ErrMaxLengthExceeded indicates that the terminator was not found within the maximum length.
	ErrMaxLengthExceeded = errors.New("visa: maximum message length exceeded")
)

var (
	// ErrInvalidChunkSize indicates a non-positive chunk size.
	ErrInvalidChunkSize = errors.New("visa: chunk size must be positive")

	// ErrInvalidLength indicates a negative read length.
	ErrInvalidLength = errors.New("visa: read length must not be negative")

	// ErrInvalidTerminator indicates an empty read terminator.
	ErrInvalidTerminator = errors.New("visa: read terminator must not be empty")

	// ErrTransportNil indicates that an instrument was created without a transport.
	ErrTransportNil = errors.New("visa: transport is nil")
)

// IsTimeout reports whether err was caused by an I/O deadline expiring.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// transportError classifies a failure returned by a Transport.
// Errors already carrying a visa classification pass through unchanged.
func transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ErrSuspectConnection) {
		return fmt.Errorf("visa: %s interrupted: %w", op, errors.Join(ctxErr, err))
	}

	switch {
	case errors.Is(err, ErrTransportIO),
		errors.Is(err, ErrSessionClosed),
		errors.Is(err, ErrSuspectConnection):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", ErrTransportIO, op, err)
	}
}
