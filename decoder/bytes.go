package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

var (
	errShortData   = errors.New("data length does not match value size")
	errUnsupported = errors.New("type has no fixed binary size")
	errBlockHeader = errors.New("malformed IEEE 488.2 block header")
	errBlockLength = errors.New("IEEE 488.2 block length mismatch")
)

// BytesDecoder returns a copy of the response.
type BytesDecoder struct{}

func (BytesDecoder) Decode(data []byte) ([]byte, error) {
	return bytes.Clone(data), nil
}

// TextDecoder converts a binary response to a string under Encoding.
//
// A nil Encoding means UTF-8; invalid UTF-8 is rejected rather than replaced.
type TextDecoder struct {
	Encoding encoding.Encoding
}

func (d TextDecoder) Decode(data []byte) (string, error) {
	if d.Encoding == nil {
		out, _, err := transform.Bytes(encoding.UTF8Validator, data)
		if err != nil {
			return "", newByteError[string](data, err)
		}

		return string(out), nil
	}

	out, err := d.Encoding.NewDecoder().Bytes(data)
	if err != nil {
		return "", newByteError[string](data, err)
	}

	return string(out), nil
}

// BinaryDecoder decodes a fixed-size value (integers, floats, arrays and structs of them)
// with encoding/binary. Order defaults to big-endian, the IEEE 488.2 network order.
//
// The response length must equal the value's binary size exactly.
type BinaryDecoder[T any] struct {
	Order binary.ByteOrder
}

func (d BinaryDecoder[T]) Decode(data []byte) (T, error) {
	var v T

	size := binary.Size(v)
	if size <= 0 {
		return v, newByteError[T](data, errUnsupported)
	}

	if len(data) != size {
		return v, newByteError[T](data, fmt.Errorf("%w: got %d, want %d", errShortData, len(data), size))
	}

	if _, err := binary.Decode(data, byteOrder(d.Order), &v); err != nil {
		return v, newByteError[T](data, err)
	}

	return v, nil
}

// BinarySliceDecoder decodes a packed array of fixed-size elements, such as a waveform
// transferred as consecutive float32 samples. The response length must be a multiple
// of the element size.
type BinarySliceDecoder[E any] struct {
	Order binary.ByteOrder
}

func (d BinarySliceDecoder[E]) Decode(data []byte) ([]E, error) {
	var zero E

	size := binary.Size(zero)
	if size <= 0 {
		return nil, newByteError[[]E](data, errUnsupported)
	}

	if len(data)%size != 0 {
		return nil, newByteError[[]E](data, fmt.Errorf("%w: %d is not a multiple of %d", errShortData, len(data), size))
	}

	out := make([]E, len(data)/size)
	if _, err := binary.Decode(data, byteOrder(d.Order), out); err != nil {
		return nil, newByteError[[]E](data, err)
	}

	return out, nil
}

func byteOrder(order binary.ByteOrder) binary.ByteOrder {
	if order == nil {
		return binary.BigEndian
	}

	return order
}

// DefiniteBlockDecoder extracts the payload of an IEEE 488.2 arbitrary block.
//
// Definite form: '#', one digit n (1-9), n digits giving the payload length, the payload.
// Indefinite form: "#0" followed by the payload up to the end of the response.
//
// A single trailing "\n" or "\r\n" after a definite block is accepted; any other
// trailing byte is an error.
type DefiniteBlockDecoder struct{}

func (DefiniteBlockDecoder) Decode(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != '#' || data[1] < '0' || data[1] > '9' {
		return nil, newByteError[[]byte](data, errBlockHeader)
	}

	digits := int(data[1] - '0')
	if digits == 0 {
		payload := bytes.TrimSuffix(data[2:], []byte("\n"))

		return bytes.Clone(payload), nil
	}

	if len(data) < 2+digits {
		return nil, newByteError[[]byte](data, errBlockHeader)
	}

	length, err := strconv.Atoi(string(data[2 : 2+digits]))
	if err != nil || length < 0 {
		return nil, newByteError[[]byte](data, errBlockHeader)
	}

	start := 2 + digits
	rest := data[start:]
	if len(rest) < length {
		return nil, newByteError[[]byte](data, fmt.Errorf("%w: got %d, want %d", errBlockLength, len(rest), length))
	}

	switch tail := rest[length:]; {
	case len(tail) == 0, bytes.Equal(tail, []byte("\n")), bytes.Equal(tail, []byte("\r\n")):
	default:
		return nil, newByteError[[]byte](data, fmt.Errorf("%w: %d trailing bytes", errBlockLength, len(tail)))
	}

	return bytes.Clone(rest[:length]), nil
}

// BlockDecoder decodes the payload of an IEEE 488.2 block with Elem.
type BlockDecoder[T any] struct {
	Elem ByteDecoder[T]
}

func (d BlockDecoder[T]) Decode(data []byte) (T, error) {
	var zero T
	if d.Elem == nil {
		return zero, newByteError[T](data, errors.New("no payload decoder"))
	}

	payload, err := DefiniteBlockDecoder{}.Decode(data)
	if err != nil {
		return zero, err
	}

	return d.Elem.Decode(payload)
}
