package decoder

import (
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrDecode indicates that a decoder rejected the response content.
	ErrDecode = errors.New("decoder: could not decode")

	// ErrNoDefaultDecoder indicates that the requested type has no default decoder.
	ErrNoDefaultDecoder = errors.New("decoder: no default decoder")
)

// maxInputLen bounds the response excerpt kept in an Error.
const maxInputLen = 64

// MessageDecoder decodes a text response into a value of type T.
type MessageDecoder[T any] interface {
	// Decode decodes message, returning an *Error for malformed input.
	Decode(message string) (T, error)
}

// ByteDecoder decodes a binary response into a value of type T.
type ByteDecoder[T any] interface {
	// Decode decodes data, returning an *Error for malformed input.
	Decode(data []byte) (T, error)
}

// MessageDecoderFunc adapts an ordinary function to the MessageDecoder interface.
type MessageDecoderFunc[T any] func(message string) (T, error)

// Decode calls f(message).
func (f MessageDecoderFunc[T]) Decode(message string) (T, error) {
	return f(message)
}

// ByteDecoderFunc adapts an ordinary function to the ByteDecoder interface.
type ByteDecoderFunc[T any] func(data []byte) (T, error)

// Decode calls f(data).
func (f ByteDecoderFunc[T]) Decode(data []byte) (T, error) {
	return f(data)
}

// Error describes a rejected response.
type Error struct {
	// Input is the offending response, truncated. Binary input is hex encoded.
	Input string
	// Type is the Go type the response was decoded into.
	Type string
	// Err is the underlying cause, it may be nil.
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("decoder: cannot decode %q as %s", e.Input, e.Type)
	}

	return fmt.Sprintf("decoder: cannot decode %q as %s: %v", e.Input, e.Type, e.Err)
}

// Unwrap makes an *Error match both ErrDecode and its cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDecode}
	}

	return []error{ErrDecode, e.Err}
}

func newError[T any](input string, err error) error {
	if len(input) > maxInputLen {
		input = input[:maxInputLen] + "..."
	}

	return &Error{Input: input, Type: typeName[T](), Err: err}
}

func newByteError[T any](data []byte, err error) error {
	if len(data) > maxInputLen/2 {
		data = data[:maxInputLen/2+1]
	}

	return newError[T](hex.EncodeToString(data), err)
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}
