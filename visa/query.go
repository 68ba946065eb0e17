package visa

import (
	"context"
	"fmt"

	"github.com/arloliu/go-visa/decoder"
)

// Stage identifies the step of a query that failed.
type Stage uint8

const (
	StageWrite Stage = iota + 1
	StageRead
	StageDecode
)

func (s Stage) String() string {
	switch s {
	case StageWrite:
		return "write"
	case StageRead:
		return "read"
	case StageDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// QueryError reports which stage of a query failed. A failed query never returns a
// partial value and is never retried.
type QueryError struct {
	Stage   Stage
	Command string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("visa: query %q failed at %s: %v", e.Command, e.Stage, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func queryErr(stage Stage, command string, err error) error {
	return &QueryError{Stage: stage, Command: command, Err: err}
}

// Query writes command followed by the write terminator, then reads the response up to
// the read terminator and returns it stripped.
//
// The write and the read are issued back to back. Query does not lock the instrument;
// see Instrument for the caller's serialization obligation.
func Query(ctx context.Context, inst MessageBased, command string) (string, error) {
	if _, err := Write(ctx, inst, command); err != nil {
		return "", queryErr(StageWrite, command, err)
	}

	resp, err := Read(ctx, inst)
	if err != nil {
		return "", queryErr(StageRead, command, err)
	}

	return resp, nil
}

// QueryWith runs Query and decodes the response with dec.
func QueryWith[T any](ctx context.Context, inst MessageBased, command string, dec decoder.MessageDecoder[T]) (T, error) {
	var zero T

	resp, err := Query(ctx, inst, command)
	if err != nil {
		return zero, err
	}

	v, err := dec.Decode(resp)
	if err != nil {
		return zero, queryErr(StageDecode, command, err)
	}

	return v, nil
}

// QueryAs runs Query and decodes the response with the default decoder of T.
// A type without a default decoder fails before anything is written.
func QueryAs[T any](ctx context.Context, inst MessageBased, command string) (T, error) {
	dec, err := decoder.DefaultMessageDecoder[T]()
	if err != nil {
		var zero T
		return zero, queryErr(StageDecode, command, err)
	}

	return QueryWith(ctx, inst, command, dec)
}

// QueryBytesWith writes data followed by the write terminator, reads exactly length bytes
// and decodes them with dec.
func QueryBytesWith[T any](ctx context.Context, inst MessageBased, data []byte, length int, dec decoder.ByteDecoder[T]) (T, error) {
	var zero T
	command := string(data)

	if _, err := WriteBytes(ctx, inst, data); err != nil {
		return zero, queryErr(StageWrite, command, err)
	}

	resp, err := ReadBytes(ctx, inst, length)
	if err != nil {
		return zero, queryErr(StageRead, command, err)
	}

	v, err := dec.Decode(resp)
	if err != nil {
		return zero, queryErr(StageDecode, command, err)
	}

	return v, nil
}

// QueryBytes is QueryBytesWith using the default byte decoder of T.
func QueryBytes[T any](ctx context.Context, inst MessageBased, data []byte, length int) (T, error) {
	dec, err := decoder.DefaultByteDecoder[T]()
	if err != nil {
		var zero T
		return zero, queryErr(StageDecode, string(data), err)
	}

	return QueryBytesWith(ctx, inst, data, length, dec)
}

// QueryBytesUntilWith writes data followed by the write terminator, reads bytes up to
// the read terminator (at most maxLength bytes when positive) and decodes them with dec.
func QueryBytesUntilWith[T any](ctx context.Context, inst MessageBased, data []byte, maxLength int, dec decoder.ByteDecoder[T]) (T, error) {
	var zero T
	command := string(data)

	if _, err := WriteBytes(ctx, inst, data); err != nil {
		return zero, queryErr(StageWrite, command, err)
	}

	resp, err := ReadBytesUntil(ctx, inst, WithMaxLength(maxLength))
	if err != nil {
		return zero, queryErr(StageRead, command, err)
	}

	v, err := dec.Decode(resp)
	if err != nil {
		return zero, queryErr(StageDecode, command, err)
	}

	return v, nil
}

// QueryBytesUntil is QueryBytesUntilWith using the default byte decoder of T.
func QueryBytesUntil[T any](ctx context.Context, inst MessageBased, data []byte, maxLength int) (T, error) {
	dec, err := decoder.DefaultByteDecoder[T]()
	if err != nil {
		var zero T
		return zero, queryErr(StageDecode, string(data), err)
	}

	return QueryBytesUntilWith(ctx, inst, data, maxLength, dec)
}
