package decoder

import (
	"errors"
	"strconv"
	"strings"
)

var (
	errEmpty    = errors.New("empty response")
	errOverflow = errors.New("value out of range")
	errBoolean  = errors.New("not a boolean token")
)

// Signed is the set of signed integer types handled by IntDecoder.
type Signed interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

// Unsigned is the set of unsigned integer types handled by UintDecoder.
type Unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// StringDecoder returns the response unchanged.
type StringDecoder struct{}

func (StringDecoder) Decode(message string) (string, error) {
	return message, nil
}

// Float64Decoder parses a decimal or scientific-notation number, e.g. "+3.14000E+00".
type Float64Decoder struct{}

func (Float64Decoder) Decode(message string) (float64, error) {
	s := strings.TrimSpace(message)
	if s == "" {
		return 0, newError[float64](message, errEmpty)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, newError[float64](message, err)
	}

	return v, nil
}

// Float32Decoder parses a number that must fit in a float32.
type Float32Decoder struct{}

func (Float32Decoder) Decode(message string) (float32, error) {
	s := strings.TrimSpace(message)
	if s == "" {
		return 0, newError[float32](message, errEmpty)
	}

	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, newError[float32](message, err)
	}

	return float32(v), nil
}

// IntDecoder parses a signed integer.
//
// Base is passed to strconv.ParseInt; zero means base 10. Use base 0 semantics
// (prefix detection such as "0x1F") by setting Base to -1.
type IntDecoder[T Signed] struct {
	Base int
}

func (d IntDecoder[T]) Decode(message string) (T, error) {
	s := strings.TrimSpace(message)
	if s == "" {
		return 0, newError[T](message, errEmpty)
	}

	n, err := strconv.ParseInt(s, parseBase(d.Base), 64)
	if err != nil {
		return 0, newError[T](message, err)
	}

	v := T(n)
	if int64(v) != n {
		return 0, newError[T](message, errOverflow)
	}

	return v, nil
}

// UintDecoder parses an unsigned integer. Base follows the IntDecoder rules.
type UintDecoder[T Unsigned] struct {
	Base int
}

func (d UintDecoder[T]) Decode(message string) (T, error) {
	s := strings.TrimSpace(message)
	if s == "" {
		return 0, newError[T](message, errEmpty)
	}

	n, err := strconv.ParseUint(strings.TrimPrefix(s, "+"), parseBase(d.Base), 64)
	if err != nil {
		return 0, newError[T](message, err)
	}

	v := T(n)
	if uint64(v) != n {
		return 0, newError[T](message, errOverflow)
	}

	return v, nil
}

func parseBase(base int) int {
	switch {
	case base == 0:
		return 10
	case base < 0:
		return 0
	default:
		return base
	}
}

// BoolDecoder parses the boolean tokens ON/OFF, 1/0 and TRUE/FALSE, case-insensitively.
type BoolDecoder struct{}

func (BoolDecoder) Decode(message string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(message)) {
	case "ON", "1", "TRUE":
		return true, nil
	case "OFF", "0", "FALSE":
		return false, nil
	default:
		return false, newError[bool](message, errBoolean)
	}
}

// ListDecoder splits a separated response and decodes each element with Elem.
//
// Separator defaults to ",". An empty or all-whitespace response decodes to an
// empty, non-nil slice. Elements are not trimmed; Elem decides about whitespace.
type ListDecoder[T any] struct {
	Elem      MessageDecoder[T]
	Separator string
}

func (d ListDecoder[T]) Decode(message string) ([]T, error) {
	if d.Elem == nil {
		return nil, newError[[]T](message, errors.New("no element decoder"))
	}

	if strings.TrimSpace(message) == "" {
		return []T{}, nil
	}

	sep := d.Separator
	if sep == "" {
		sep = ","
	}

	parts := strings.Split(message, sep)
	out := make([]T, 0, len(parts))

	for i, part := range parts {
		v, err := d.Elem.Decode(part)
		if err != nil {
			return nil, newError[[]T](message, fmtElemErr(i, err))
		}
		out = append(out, v)
	}

	return out, nil
}

type elemError struct {
	index int
	err   error
}

func (e *elemError) Error() string {
	return "element " + strconv.Itoa(e.index) + ": " + e.err.Error()
}

func (e *elemError) Unwrap() error { return e.err }

func fmtElemErr(index int, err error) error {
	return &elemError{index: index, err: err}
}
