package decoder

import "fmt"

// MessageDecodable is implemented by types that declare their own default text decoder.
type MessageDecodable[T any] interface {
	DefaultMessageDecoder() MessageDecoder[T]
}

// ByteDecodable is implemented by types that declare their own default binary decoder.
type ByteDecodable[T any] interface {
	DefaultByteDecoder() ByteDecoder[T]
}

// DefaultMessageDecoder returns the default text decoder of T.
//
// Built-in types are resolved first, then MessageDecodable[T] on T or *T.
// It returns ErrNoDefaultDecoder when T has no default.
func DefaultMessageDecoder[T any]() (MessageDecoder[T], error) {
	var zero T

	var dec any
	switch any(zero).(type) {
	case string:
		dec = StringDecoder{}
	case float64:
		dec = Float64Decoder{}
	case float32:
		dec = Float32Decoder{}
	case int:
		dec = IntDecoder[int]{}
	case int64:
		dec = IntDecoder[int64]{}
	case int32:
		dec = IntDecoder[int32]{}
	case uint64:
		dec = UintDecoder[uint64]{}
	case bool:
		dec = BoolDecoder{}
	case []string:
		dec = ListDecoder[string]{Elem: StringDecoder{}}
	case []float64:
		dec = ListDecoder[float64]{Elem: Float64Decoder{}}
	}

	if d, ok := dec.(MessageDecoder[T]); ok {
		return d, nil
	}

	if d, ok := any(zero).(MessageDecodable[T]); ok {
		return d.DefaultMessageDecoder(), nil
	}

	if d, ok := any(&zero).(MessageDecodable[T]); ok {
		return d.DefaultMessageDecoder(), nil
	}

	return nil, fmt.Errorf("%w for %s", ErrNoDefaultDecoder, typeName[T]())
}

// DefaultByteDecoder returns the default binary decoder of T.
//
// Numeric defaults decode big-endian values of exactly the type's size.
// It returns ErrNoDefaultDecoder when T has no default.
func DefaultByteDecoder[T any]() (ByteDecoder[T], error) {
	var zero T

	var dec any
	switch any(zero).(type) {
	case []byte:
		dec = BytesDecoder{}
	case string:
		dec = TextDecoder{}
	case int16:
		dec = BinaryDecoder[int16]{}
	case int32:
		dec = BinaryDecoder[int32]{}
	case int64:
		dec = BinaryDecoder[int64]{}
	case uint16:
		dec = BinaryDecoder[uint16]{}
	case uint32:
		dec = BinaryDecoder[uint32]{}
	case uint64:
		dec = BinaryDecoder[uint64]{}
	case float32:
		dec = BinaryDecoder[float32]{}
	case float64:
		dec = BinaryDecoder[float64]{}
	}

	if d, ok := dec.(ByteDecoder[T]); ok {
		return d, nil
	}

	if d, ok := any(zero).(ByteDecodable[T]); ok {
		return d.DefaultByteDecoder(), nil
	}

	if d, ok := any(&zero).(ByteDecodable[T]); ok {
		return d.DefaultByteDecoder(), nil
	}

	return nil, fmt.Errorf("%w for %s", ErrNoDefaultDecoder, typeName[T]())
}
