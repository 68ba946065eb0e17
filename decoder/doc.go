// Package decoder turns raw instrument responses into typed Go values.
//
// Two capability interfaces cover the two response shapes:
//   - MessageDecoder[T] decodes a text response (already framed and stripped of its terminator).
//   - ByteDecoder[T] decodes a binary response.
//
// Decoders are stateless values; one instance may be shared by any number of goroutines.
//
// # Default Decoders
//
// Every decodable type has exactly one default decoder, returned by DefaultMessageDecoder
// and DefaultByteDecoder. Built-in types have fixed defaults:
//
//   - Message: string, float64, float32, int, int64, int32, uint64, bool, []string, []float64
//   - Byte:    []byte, string, int16, int32, int64, uint16, uint32, uint64, float32, float64
//
// A user type declares its own default by implementing MessageDecodable[T] or ByteDecodable[T]
// on its zero value (value or pointer receiver).
//
// # Boolean Tokens
//
// BoolDecoder accepts, case-insensitively and after trimming surrounding whitespace,
// "ON", "1" and "TRUE" as true and "OFF", "0" and "FALSE" as false. Any other input is
// a decode error; no input silently maps to a default value.
//
// # Errors
//
// All decoders report failures as *Error, which matches ErrDecode with errors.Is.
package decoder
