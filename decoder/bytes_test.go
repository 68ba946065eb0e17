package decoder

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestBytesDecoder(t *testing.T) {
	in := []byte{1, 2, 3}
	got, err := BytesDecoder{}.Decode(in)
	require.NoError(t, err)
	assert.Equal(t, in, got)

	got[0] = 9
	assert.Equal(t, byte(1), in[0], "decoder must not alias its input")
}

func TestTextDecoder(t *testing.T) {
	got, err := TextDecoder{}.Decode([]byte("µV"))
	require.NoError(t, err)
	assert.Equal(t, "µV", got)

	_, err = TextDecoder{}.Decode([]byte{'o', 'k', 0xff})
	require.ErrorIs(t, err, ErrDecode)

	latin, err := TextDecoder{Encoding: charmap.ISO8859_1}.Decode([]byte{0xb5, 'V'})
	require.NoError(t, err)
	assert.Equal(t, "µV", latin)
}

func TestBinaryDecoder(t *testing.T) {
	buf := binary.BigEndian.AppendUint32(nil, math.Float32bits(1.25))

	f, err := BinaryDecoder[float32]{}.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, float32(1.25), f)

	le := binary.LittleEndian.AppendUint16(nil, 0x1234)
	u, err := BinaryDecoder[uint16]{Order: binary.LittleEndian}.Decode(le)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), u)

	_, err = BinaryDecoder[uint32]{}.Decode([]byte{1, 2})
	require.ErrorIs(t, err, ErrDecode)
	assert.ErrorIs(t, err, errShortData)

	_, err = BinaryDecoder[string]{}.Decode([]byte("abc"))
	require.ErrorIs(t, err, errUnsupported)
}

func TestBinarySliceDecoder(t *testing.T) {
	var buf []byte
	for _, v := range []int16{-1, 2, 300} {
		buf = binary.BigEndian.AppendUint16(buf, uint16(v))
	}

	got, err := BinarySliceDecoder[int16]{}.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, []int16{-1, 2, 300}, got)

	_, err = BinarySliceDecoder[int16]{}.Decode(buf[:5])
	require.ErrorIs(t, err, errShortData)
}

func TestDefiniteBlockDecoder(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"one digit", "#15hello", "hello"},
		{"two digits", "#210abcdefghij", "abcdefghij"},
		{"trailing newline", "#13abc\n", "abc"},
		{"trailing crlf", "#13abc\r\n", "abc"},
		{"empty payload", "#10", ""},
		{"indefinite", "#0raw data\n", "raw data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DefiniteBlockDecoder{}.Decode([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}

	for _, in := range []string{"", "#", "15hello", "#A5", "#3", "#1x", "#19abc", "#13abcdef"} {
		_, err := DefiniteBlockDecoder{}.Decode([]byte(in))
		require.ErrorIs(t, err, ErrDecode, "input %q", in)
	}
}

func TestBlockDecoder(t *testing.T) {
	payload := binary.BigEndian.AppendUint16(nil, 7)
	payload = binary.BigEndian.AppendUint16(payload, 9)
	block := append([]byte("#14"), payload...)

	got, err := BlockDecoder[[]uint16]{Elem: BinarySliceDecoder[uint16]{}}.Decode(block)
	require.NoError(t, err)
	assert.Equal(t, []uint16{7, 9}, got)

	_, err = BlockDecoder[[]uint16]{}.Decode(block)
	require.ErrorIs(t, err, ErrDecode)
}
